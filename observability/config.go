package observability

import (
	"fmt"
	"time"
)

// Config is the observability section of a service configuration.
type Config struct {
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string        `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure   bool          `yaml:"insecure" mapstructure:"insecure"`
	SampleRate float64       `yaml:"sample_rate" mapstructure:"sample_rate" validate:"gte=0,lte=1"`
	Interval   time.Duration `yaml:"interval" mapstructure:"interval"`
}

// ApplyDefaults applies default values to observability configuration.
func (c *Config) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4318"
	}
	if c.Interval == 0 {
		c.Interval = 15 * time.Second
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
}

// Validate validates observability configuration.
func (c *Config) Validate() error {
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("observability.sample_rate must be within [0, 1] (got: %v)", c.SampleRate)
	}
	if c.Enabled && c.Endpoint == "" {
		return fmt.Errorf("observability.endpoint is required when enabled")
	}
	return nil
}

// MeterConfig builds the meter configuration for a service.
func (c *Config) MeterConfig(serviceName, serviceVersion, environment string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    environment,
		Endpoint:       c.Endpoint,
		Insecure:       c.Insecure,
		Interval:       c.Interval,
	}
}

// TracerConfig builds the tracer configuration for a service.
func (c *Config) TracerConfig(serviceName, serviceVersion, environment string) TracerConfig {
	return TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    environment,
		Endpoint:       c.Endpoint,
		Insecure:       c.Insecure,
		SampleRate:     c.SampleRate,
	}
}
