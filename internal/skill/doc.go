// Package skill wires the switch skill together.
//
// A Listener receives directive JSON on the request topic, drops those
// under the certainty threshold, and hands the rest to the Skill. The Skill
// resolves the device reference, dispatches the action, and renders a reply
// that the Listener publishes to the directive's reply_to topic (or the
// configured response topic).
//
//	MQTT request ──▶ Listener ──▶ Skill.Handle ──▶ device.Resolver
//	                    ▲                   │
//	                    │                   ├────▶ dispatch.Dispatcher ──▶ MQTT commands
//	                    │                   ▼
//	MQTT reply ◀────────┴────────── response.Composer
//
// A newer directive for the same reply topic supersedes the older one; the
// older reply is never sent.
package skill
