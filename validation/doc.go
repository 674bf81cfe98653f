// Package validation checks configuration values before any goroutine is
// started.
//
// Struct tags cover simple bounds:
//
//	type RetryConfig struct {
//	    MaxAttempts int `mapstructure:"max_attempts" validate:"gte=0"`
//	}
//	err := validation.Validate(cfg)
//
// Rules that depend on more than one field use the collecting Validator:
//
//	v := validation.New()
//	v.Required("name", cfg.Name)
//	v.OneOf("environment", cfg.Environment, []string{"development", "production"})
//	if appErr := v.Validate(); appErr != nil {
//	    return appErr
//	}
//
// Both report errors with code INVALID_CONFIG and a "fields" detail.
package validation
