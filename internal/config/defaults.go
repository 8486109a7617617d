package config

import (
	"os"
	"path/filepath"

	"pdf-audiobook/internal/domain"
)

// First-launch values. Rate and volume match the common desktop TTS
// defaults; the cache lives under the system temp directory so the OS
// reclaims it eventually even if the app never runs again.
const (
	DefaultCacheTTLSeconds  = 3600
	DefaultCacheMaxBytes    = 500 << 20
	DefaultMaxFileSizeBytes = 50 << 20
	DefaultChunkMinChars    = 100
	DefaultChunkMaxChars    = 1000
	DefaultOCRTextThreshold = 16
	DefaultMaxWorkers       = 3
	DefaultRateWPM          = 175
	DefaultVolume           = 1.0

	// Engine limits enforced on every rate the user can submit.
	MinRateWPM = 50
	MaxRateWPM = 400
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		OutputDir:        filepath.Join(homeDir, "Documents", "Audiobooks"),
		CacheDir:         filepath.Join(os.TempDir(), "pdf-audiobook-cache"),
		CacheTTLSeconds:  DefaultCacheTTLSeconds,
		CacheMaxBytes:    DefaultCacheMaxBytes,
		MaxFileSizeBytes: DefaultMaxFileSizeBytes,
		ChunkMinChars:    DefaultChunkMinChars,
		ChunkMaxChars:    DefaultChunkMaxChars,
		OCRTextThreshold: DefaultOCRTextThreshold,
		MaxWorkers:       DefaultMaxWorkers,
		OCRLanguage:      "eng",
		DefaultRateWPM:   DefaultRateWPM,
		DefaultVolume:    DefaultVolume,
	}
}

// DefaultVoiceSettings derives the per-job voice defaults from settings.
// Unset rate and volume fall back to factory values so a zero settings
// field never produces an invalid voice.
func DefaultVoiceSettings(cfg domain.Settings) domain.VoiceSettings {
	rate := cfg.DefaultRateWPM
	if rate == 0 {
		rate = DefaultRateWPM
	}
	volume := cfg.DefaultVolume
	if volume == 0 {
		volume = DefaultVolume
	}

	return domain.VoiceSettings{
		VoiceID: cfg.DefaultVoice,
		RateWPM: rate,
		Volume:  volume,
	}
}
