package bootstrap

import "github.com/kbukum/pipekit/config"

// Config is the constraint for application configuration types. A struct
// embedding config.ServiceConfig satisfies it through promoted methods.
type Config interface {
	GetServiceConfig() *config.ServiceConfig
	ApplyDefaults()
	Validate() error
}
