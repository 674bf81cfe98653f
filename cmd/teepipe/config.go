package main

import (
	"strconv"

	"github.com/kbukum/pipekit/config"
	"github.com/kbukum/pipekit/validation"
)

const serviceName = "teepipe"

// Config is the teepipe configuration: the service sections plus the input
// files to merge.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`
	Inputs               []string `yaml:"inputs" mapstructure:"inputs"`
}

// ApplyDefaults applies defaults to every section.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = serviceName
	}
	c.ServiceConfig.ApplyDefaults()
}

// Validate validates the service sections, then the inputs.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	v := validation.New()
	v.Custom(len(c.Inputs) > 0, "inputs", "at least one input file is required")
	for i, in := range c.Inputs {
		v.Custom(in != "", "inputs", "entry "+strconv.Itoa(i)+" is empty")
	}
	return v.Err()
}
