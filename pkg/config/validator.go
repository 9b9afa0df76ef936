package config

import "fmt"

// Validator validates configuration comprehensively with clear error
// messages, fail-fast.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at the
// first error).
func (v *Validator) ValidateAll() error {
	if err := v.validateSource(); err != nil {
		return fmt.Errorf("source validation failed: %w", err)
	}
	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateSource() error {
	c := v.cfg
	if c.SourceProject == "" {
		return &ValidationError{Field: "SOURCE_PROJECT", Err: ErrMissingRequiredField}
	}
	if c.SourceDataset == "" {
		return &ValidationError{Field: "SOURCE_DATASET", Err: ErrMissingRequiredField}
	}
	if c.SourceAPIKey == "" {
		return &ValidationError{Field: "SOURCE_API_KEY", Err: ErrMissingRequiredField}
	}
	if c.SourceAPIToken == "" {
		return &ValidationError{Field: "SOURCE_API_TOKEN", Err: ErrMissingRequiredField}
	}
	return nil
}

func (v *Validator) validateDefaults() error {
	d := v.cfg.Defaults
	if d.WorkerConcurrency < 1 {
		return &ValidationError{Field: "WORKER_CONCURRENCY", Err: fmt.Errorf("must be at least 1")}
	}
	if d.RetryMaxAttempts < 1 {
		return &ValidationError{Field: "RETRY_MAX_ATTEMPTS", Err: fmt.Errorf("must be at least 1")}
	}
	if d.MaxInputLength < 1 {
		return &ValidationError{Field: "MAX_INPUT_LENGTH", Err: fmt.Errorf("must be at least 1")}
	}
	if d.IntakeChannelBuffer < 1 {
		return &ValidationError{Field: "INTAKE_CHANNEL_BUFFER", Err: fmt.Errorf("must be at least 1")}
	}
	return nil
}
