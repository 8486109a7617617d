package config

import (
	"fmt"

	"pdf-audiobook/internal/domain"
)

// ValidationError reports one rejected settings field. Validation runs
// at startup and on every settings save; a failure at startup is fatal
// because the pipeline cannot run with inconsistent bounds.
type ValidationError struct {
	Field  string
	Reason string
}

// Error formats the rejected field for logs and UI.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid setting %s: %s", e.Field, e.Reason)
}

// Validate rejects settings that would break the conversion pipeline.
func Validate(cfg domain.Settings) error {
	if cfg.ChunkMinChars < 1 {
		return &ValidationError{Field: "chunkMinChars", Reason: "must be at least 1"}
	}
	if cfg.ChunkMaxChars <= cfg.ChunkMinChars {
		return &ValidationError{
			Field:  "chunkMaxChars",
			Reason: fmt.Sprintf("must be greater than chunkMinChars (%d)", cfg.ChunkMinChars),
		}
	}
	if cfg.CacheTTLSeconds <= 0 {
		return &ValidationError{Field: "cacheTtlSeconds", Reason: "must be positive"}
	}
	if cfg.CacheMaxBytes < 0 {
		return &ValidationError{Field: "cacheMaxBytes", Reason: "cannot be negative"}
	}
	if cfg.MaxFileSizeBytes <= 0 {
		return &ValidationError{Field: "maxFileSizeBytes", Reason: "must be positive"}
	}
	if cfg.MaxWorkers < 1 {
		return &ValidationError{Field: "maxWorkers", Reason: "must be at least 1"}
	}
	if cfg.OCRTextThreshold < 0 {
		return &ValidationError{Field: "ocrTextThreshold", Reason: "cannot be negative"}
	}
	if cfg.DefaultRateWPM != 0 {
		if err := validateRate(cfg.DefaultRateWPM, "defaultRateWpm"); err != nil {
			return err
		}
	}
	if cfg.DefaultVolume < 0 || cfg.DefaultVolume > 1 {
		return &ValidationError{Field: "defaultVolume", Reason: "must be between 0.0 and 1.0"}
	}

	return nil
}

// ValidateVoice rejects per-job voice parameters outside engine limits.
func ValidateVoice(v domain.VoiceSettings) error {
	if err := validateRate(v.RateWPM, "rateWpm"); err != nil {
		return err
	}
	if v.Volume < 0 || v.Volume > 1 {
		return &ValidationError{Field: "volume", Reason: "must be between 0.0 and 1.0"}
	}

	return nil
}

func validateRate(rate int, field string) error {
	if rate < MinRateWPM || rate > MaxRateWPM {
		return &ValidationError{
			Field:  field,
			Reason: fmt.Sprintf("must be between %d and %d words per minute", MinRateWPM, MaxRateWPM),
		}
	}
	return nil
}
