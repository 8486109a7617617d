package synth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"pdf-audiobook/internal/domain"
	"pdf-audiobook/internal/execx"
)

const defaultSayBinary = "say"

// SayEngine drives the macOS `say` command. It is the default backend
// on darwin, where speech voices ship with the OS.
type SayEngine struct {
	binaryPath string
	runner     execx.Runner
	mkdirTemp  func(dir, pattern string) (string, error)
	removeAll  func(path string) error
	writeFile  func(name string, data []byte, perm os.FileMode) error
	readFile   func(name string) ([]byte, error)
}

// NewSayEngine constructs the production engine around /usr/bin/say.
func NewSayEngine() *SayEngine {
	return &SayEngine{
		binaryPath: defaultSayBinary,
		runner:     &execx.ExecRunner{},
		mkdirTemp:  os.MkdirTemp,
		removeAll:  os.RemoveAll,
		writeFile:  os.WriteFile,
		readFile:   os.ReadFile,
	}
}

// NewSayEngineForTests constructs an engine with injectable process
// and filesystem dependencies.
func NewSayEngineForTests(
	binaryPath string,
	runner execx.Runner,
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
	writeFile func(name string, data []byte, perm os.FileMode) error,
	readFile func(name string) ([]byte, error),
) *SayEngine {
	return &SayEngine{
		binaryPath: binaryPath,
		runner:     runner,
		mkdirTemp:  mkdirTemp,
		removeAll:  removeAll,
		writeFile:  writeFile,
		readFile:   readFile,
	}
}

// Name reports the engine binary for logs and error messages.
func (e *SayEngine) Name() string { return filepath.Base(e.binaryPath) }

// Synthesize renders one text chunk to WAV bytes. `say` has no volume
// flag, so volume rides as an embedded [[volm]] speech command.
func (e *SayEngine) Synthesize(ctx context.Context, text string, voice domain.VoiceSettings) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := e.mkdirTemp("", "pdf-audiobook-tts-*")
	if err != nil {
		return nil, &SynthesisError{
			Engine:  e.Name(),
			Message: "failed to create temporary workspace",
			Err:     err,
		}
	}
	defer func() { _ = e.removeAll(dir) }()

	textPath := filepath.Join(dir, "chunk.txt")
	spoken := sayVolumePrefix(voice.Volume) + text
	if err := e.writeFile(textPath, []byte(spoken), 0o644); err != nil {
		return nil, &SynthesisError{
			Engine:  e.Name(),
			Message: "failed to write chunk text",
			Err:     err,
		}
	}

	wavPath := filepath.Join(dir, "chunk.wav")
	args := buildSayArgs(textPath, wavPath, voice)

	result, runErr := e.runner.Run(ctx, e.binaryPath, args...)
	log := CommandLog{
		Command:  e.binaryPath,
		Args:     args,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
	if runErr != nil {
		if errors.Is(runErr, exec.ErrNotFound) {
			return nil, &SynthesisError{
				Engine:  e.Name(),
				Message: fmt.Sprintf("%s is not installed or not on PATH", e.binaryPath),
				Err:     ErrEngineUnavailable,
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &SynthesisError{
			Engine:     e.Name(),
			Message:    "speech synthesis failed",
			CommandLog: log,
			Err:        runErr,
		}
	}

	audio, err := e.readFile(wavPath)
	if err != nil {
		return nil, &SynthesisError{
			Engine:     e.Name(),
			Message:    "engine completed but audio file is missing",
			CommandLog: log,
			Err:        err,
		}
	}
	if len(audio) == 0 {
		return nil, &SynthesisError{
			Engine:     e.Name(),
			Message:    "engine produced an empty audio file",
			CommandLog: log,
		}
	}

	return audio, nil
}

// Voices lists the voices `say -v ?` reports.
func (e *SayEngine) Voices(ctx context.Context) ([]domain.VoiceOption, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, runErr := e.runner.Run(ctx, e.binaryPath, "-v", "?")
	if runErr != nil {
		if errors.Is(runErr, exec.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", e.binaryPath, ErrEngineUnavailable)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("list voices (exit=%d): %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	return parseSayVoices(result.Stdout), nil
}

// buildSayArgs builds CLI args for one chunk render. The output format
// is inferred from the .wav extension.
func buildSayArgs(textPath, wavPath string, voice domain.VoiceSettings) []string {
	args := make([]string, 0, 8)
	if id := strings.TrimSpace(voice.VoiceID); id != "" {
		args = append(args, "-v", id)
	}
	if voice.RateWPM > 0 {
		args = append(args, "-r", strconv.Itoa(voice.RateWPM))
	}
	args = append(args,
		"-o", wavPath,
		"-f", textPath,
	)

	return args
}

// sayVolumePrefix renders the [[volm]] speech command, on the 0..1
// scale `say` expects.
func sayVolumePrefix(volume float64) string {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	return fmt.Sprintf("[[volm %.2f]] ", volume)
}

// parseSayVoices parses `say -v ?` output. Each line is a voice name
// (which may contain spaces), a locale, and a sample sentence after a
// "#" separator.
func parseSayVoices(output string) []domain.VoiceOption {
	voices := make([]domain.VoiceOption, 0, 32)
	for _, line := range strings.Split(output, "\n") {
		left, _, _ := strings.Cut(line, "#")
		fields := strings.Fields(left)
		if len(fields) < 2 {
			continue
		}

		name := strings.Join(fields[:len(fields)-1], " ")
		voices = append(voices, domain.VoiceOption{
			ID:        name,
			Name:      name,
			Language:  fields[len(fields)-1],
			Available: true,
		})
	}

	return voices
}
