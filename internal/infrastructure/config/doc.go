// Package config handles loading and validating poolbridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default values and the upstream polling floors
//
// Security Considerations:
//   - The pool API code and JWT secret should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Polling intervals below the upstream floors (60s base, 5s active) are raised
// to the floor rather than rejected, so a config written for a faster poll
// still starts.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.GetBaseInterval())
package config
