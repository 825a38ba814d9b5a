// Package config handles loading and validating switch skill configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (SWITCHSKILL_*) and an optional .env file
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Skill.RequestTopic)
package config
