// Package config handles loading and validating Mechabus gateway configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The JWT secret and uplink credential should be set via environment variables
//   - Subscriber passwords and peer credentials are stored only as argon2id hashes
//     (generate them with `mechabus hash <secret>`)
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Gateway.Name)
package config
