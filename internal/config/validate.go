package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.SchedulerToken == "" {
		errs = append(errs, ValidationError{
			Field:   "SCHEDULER_TOKEN",
			Message: "required",
		})
	}

	switch cfg.DBDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			errs = append(errs, ValidationError{
				Field:   "DATABASE_URL",
				Message: "required when DB_DRIVER is postgres",
			})
		}
	case "sqlite":
		if cfg.SQLitePath == "" {
			errs = append(errs, ValidationError{
				Field:   "SQLITE_PATH",
				Message: "required when DB_DRIVER is sqlite",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "DB_DRIVER",
			Message: fmt.Sprintf("must be 'postgres' or 'sqlite', got %q", cfg.DBDriver),
		})
	}

	errs = append(errs, validateDuration("SWEEP_INTERVAL", cfg.SweepIntervalStr, true)...)
	errs = append(errs, validateDuration("SWEEP_CLAIM_LEASE", cfg.SweepClaimLeaseStr, true)...)
	errs = append(errs, validateDuration("SWEEP_STALE_AFTER", cfg.SweepStaleAfterStr, true)...)
	errs = append(errs, validateDuration("DEDUP_WINDOW", cfg.DedupWindowStr, false)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDuration(field, value string, requirePositive bool) ValidationErrors {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return ValidationErrors{{Field: field, Message: fmt.Sprintf("invalid duration: %v", err)}}
	}
	if requirePositive && d <= 0 {
		return ValidationErrors{{Field: field, Message: "must be positive"}}
	}
	if !requirePositive && d < 0 {
		return ValidationErrors{{Field: field, Message: "must not be negative"}}
	}
	return nil
}
