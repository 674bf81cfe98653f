package config

import "github.com/kbukum/pipekit/validation"

// Environments accepted by BaseConfig.Validate.
var validEnvironments = []string{"development", "staging", "production"}

// BaseConfig contains essential fields that every service needs.
type BaseConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Environment string `yaml:"environment" mapstructure:"environment"`
	Version     string `yaml:"version" mapstructure:"version"`
	Debug       bool   `yaml:"debug" mapstructure:"debug"`
}

// ApplyDefaults applies default values to base configuration.
func (c *BaseConfig) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Environment == "development" {
		c.Debug = true
	}
}

// Validate validates base configuration.
func (c *BaseConfig) Validate() error {
	return validation.New().
		Required("name", c.Name).
		OneOf("environment", c.Environment, validEnvironments).
		Err()
}
