package config

import (
	"github.com/kbukum/pipekit/logger"
	"github.com/kbukum/pipekit/observability"
	"github.com/kbukum/pipekit/validation"
)

// ServiceConfig is the configuration of a pipekit driver. Drivers with extra
// sections embed it:
//
//	type MergeConfig struct {
//	    config.ServiceConfig `yaml:",inline" mapstructure:",squash"`
//	    Inputs []string      `yaml:"inputs" mapstructure:"inputs"`
//	}
type ServiceConfig struct {
	BaseConfig    `yaml:",inline" mapstructure:",squash"`
	Logging       logger.Config        `yaml:"logging" mapstructure:"logging"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
	Pipe          PipeConfig           `yaml:"pipe" mapstructure:"pipe"`
}

// GetServiceConfig returns the base ServiceConfig. When embedded, the method
// is promoted to the embedding struct.
func (c *ServiceConfig) GetServiceConfig() *ServiceConfig {
	return c
}

// ApplyDefaults applies defaults to every section.
func (c *ServiceConfig) ApplyDefaults() {
	c.BaseConfig.ApplyDefaults()
	if c.Debug && c.Logging.Level == "" {
		c.Logging.Level = "debug"
	}
	c.Logging.ApplyDefaults()
	c.Observability.ApplyDefaults()
	c.Pipe.ApplyDefaults()
}

// Validate validates every section and reports all problems at once.
func (c *ServiceConfig) Validate() error {
	v := validation.New()
	v.Merge("base", c.BaseConfig.Validate())
	v.Merge("logging", c.Logging.Validate())
	v.Merge("observability", c.Observability.Validate())
	v.Merge("pipe", c.Pipe.Validate())
	return v.Err()
}
