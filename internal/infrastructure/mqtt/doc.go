// Package mqtt provides the broker connection for the switch skill.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Subscriptions, restored after every reconnect
//   - Reply and device-command publishing
//   - Retained online/offline status with a Last Will and Testament
//
// # Topics
//
// The skill subscribes to one request topic and publishes replies to the
// directive's reply_to topic or the configured response topic. Device
// commands go to the device's own topic plus the command suffix, e.g.
// "kitchen/plug/coffee/set", so the skill works with any device that
// accepts plain MQTT payloads.
//
//	voice pipeline ──▶ request topic ──▶ switch skill ──▶ <device>/set
//	               ◀── reply topic   ◀──
//
// # Security Considerations
//
//   - Enable TLS outside development (cfg.Broker.TLS=true)
//   - Credentials are validated against the broker ACL
//   - Publish topics containing wildcards are rejected
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishCommand(ctx, "kitchen/plug/coffee/set", "ON")
package mqtt
