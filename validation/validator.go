package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/kbukum/pipekit/errors"
)

// Validator collects validation errors.
type Validator struct {
	errors []FieldError
}

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New creates a new Validator.
func New() *Validator {
	return &Validator{
		errors: make([]FieldError, 0),
	}
}

// AddError adds a field error.
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, FieldError{
		Field:   field,
		Message: message,
	})
}

// Merge nests the result of another section's validation under section. An
// AppError carrying field details contributes one entry per field as
// "<section>.<field>"; any other error becomes a single entry.
func (v *Validator) Merge(section string, err error) *Validator {
	if err == nil {
		return v
	}
	if ae, ok := errors.AsAppError(err); ok {
		if fields, ok := ae.Details["fields"].([]FieldError); ok {
			for _, fe := range fields {
				v.AddError(section+"."+fe.Field, fe.Message)
			}
			return v
		}
	}
	v.AddError(section, err.Error())
	return v
}

// HasErrors returns true if there are validation errors.
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors.
func (v *Validator) Errors() []FieldError {
	return v.errors
}

// Validate returns an INVALID_CONFIG AppError if there are validation
// errors, nil otherwise.
func (v *Validator) Validate() *errors.AppError {
	if !v.HasErrors() {
		return nil
	}

	messages := make([]string, len(v.errors))
	for i, e := range v.errors {
		messages[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}

	return errors.InvalidConfig(strings.Join(messages, "; ")).
		WithDetail("fields", v.errors)
}

// Err is Validate as a plain error, so a valid result compares equal to nil.
func (v *Validator) Err() error {
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// Required checks if a string is non-empty.
func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
	}
	return v
}

// Range checks if a number is within a range.
func (v *Validator) Range(field string, value, minVal, maxVal float64) *Validator {
	if value < minVal || value > maxVal {
		v.AddError(field, fmt.Sprintf("must be between %v and %v", minVal, maxVal))
	}
	return v
}

// Min checks if a number meets minimum value.
func (v *Validator) Min(field string, value, minVal int) *Validator {
	if value < minVal {
		v.AddError(field, fmt.Sprintf("must be at least %d", minVal))
	}
	return v
}

// NonNegative checks that a duration is zero or positive.
func (v *Validator) NonNegative(field string, d time.Duration) *Validator {
	if d < 0 {
		v.AddError(field, "must not be negative")
	}
	return v
}

// OneOf checks if a value is one of the allowed values.
func (v *Validator) OneOf(field, value string, allowed []string) *Validator {
	for _, a := range allowed {
		if value == a {
			return v
		}
	}
	v.AddError(field, fmt.Sprintf("must be one of [%s] (got: %s)", strings.Join(allowed, ", "), value))
	return v
}

// Custom applies a custom validation condition.
func (v *Validator) Custom(condition bool, field, message string) *Validator {
	if !condition {
		v.AddError(field, message)
	}
	return v
}
