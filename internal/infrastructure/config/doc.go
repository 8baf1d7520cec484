// Package config handles loading and validating the Storcube bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (historical names such as
//     MQTT_BROKER, LOGIN_NAME and DEVICE_ID are still honoured)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Vendor and broker passwords should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// The configuration is loaded once at startup and passed by value into every
// component constructor; nothing reads it as ambient state afterwards.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bridge.DeviceID)
package config
