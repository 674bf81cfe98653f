// Package config loads service configuration for pipekit drivers.
//
// LoadConfig reads config.yml from the first standard location that exists
// (./cmd/<service>/config.yml, ./config/config.yml, ./config.yml), overlays
// a .env file and the process environment, and unmarshals the result:
//
//	var cfg config.ServiceConfig
//	if err := config.LoadConfig("teepipe", &cfg); err != nil {
//	    return err
//	}
//	cfg.ApplyDefaults()
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//
// Environment variables map onto nested keys by underscores, so
// PIPE_FLUSH_POLICY=on_drain sets pipe.flush_policy.
package config
