// Package synth turns text chunks into audio through external speech
// engines. Engines are processes driven over the execx runner, so the
// pipeline can kill in-flight synthesis by cancelling its context.
package synth

import (
	"context"
	"errors"
	"fmt"

	"pdf-audiobook/internal/domain"
)

// ErrEngineUnavailable marks a speech engine binary that cannot be
// launched at all. The worker pool treats it as fatal: no chunk can
// succeed without the engine, so the job fails instead of producing a
// book of skip markers.
var ErrEngineUnavailable = errors.New("speech engine unavailable")

// Synthesizer is the capability surface the pipeline needs from any
// speech backend.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string, voice domain.VoiceSettings) ([]byte, error)
	Voices(ctx context.Context) ([]domain.VoiceOption, error)
}

// CommandLog captures one engine invocation for error reporting.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// SynthesisError is a per-chunk failure with the engine transcript.
// It is recoverable: the owning chunk becomes a marker segment and the
// rest of the job continues.
type SynthesisError struct {
	Engine     string     `json:"engine"`
	Message    string     `json:"message"`
	CommandLog CommandLog `json:"commandLog"`
	Err        error      `json:"-"`
}

// Error formats synthesis failures for logs and UI.
func (e *SynthesisError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return fmt.Sprintf("%s: %s", e.Engine, e.Message)
	}

	return fmt.Sprintf(
		"%s: %s (cmd=%s exit=%d)",
		e.Engine,
		e.Message,
		e.CommandLog.Command,
		e.CommandLog.ExitCode,
	)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *SynthesisError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
