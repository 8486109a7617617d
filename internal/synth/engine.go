package synth

import (
	"runtime"
	"strings"

	"pdf-audiobook/internal/domain"
)

// NewEngine selects the speech backend for the current platform. An
// explicit engine path from settings always wins and is driven with
// espeak-compatible flags, except the macOS `say` binary which speaks
// its own dialect.
func NewEngine(cfg domain.Settings) Synthesizer {
	path := strings.TrimSpace(cfg.TTSEnginePath)
	if path != "" {
		if isSayBinary(path) {
			engine := NewSayEngine()
			engine.binaryPath = path
			return engine
		}
		return NewEspeakEngine(path)
	}

	if runtime.GOOS == "darwin" {
		return NewSayEngine()
	}
	return NewEspeakEngine("")
}

// DefaultEngineBinary reports which binary NewEngine would launch, for
// diagnostics checks.
func DefaultEngineBinary(cfg domain.Settings) string {
	if path := strings.TrimSpace(cfg.TTSEnginePath); path != "" {
		return path
	}
	if runtime.GOOS == "darwin" {
		return defaultSayBinary
	}
	return defaultEspeakBinary
}

func isSayBinary(path string) bool {
	base := path
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		base = path[i+1:]
	}
	return base == "say"
}
