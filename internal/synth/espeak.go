package synth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"pdf-audiobook/internal/domain"
	"pdf-audiobook/internal/execx"
)

const defaultEspeakBinary = "espeak-ng"

// EspeakEngine drives an espeak-ng compatible binary. Each chunk is
// written to a temp text file and rendered to WAV with one process
// invocation, so cancellation maps to killing the current process.
type EspeakEngine struct {
	binaryPath string
	runner     execx.Runner
	mkdirTemp  func(dir, pattern string) (string, error)
	removeAll  func(path string) error
	writeFile  func(name string, data []byte, perm os.FileMode) error
	readFile   func(name string) ([]byte, error)
}

// NewEspeakEngine constructs the production engine. An empty binary
// path selects espeak-ng from PATH.
func NewEspeakEngine(binaryPath string) *EspeakEngine {
	if strings.TrimSpace(binaryPath) == "" {
		binaryPath = defaultEspeakBinary
	}

	return &EspeakEngine{
		binaryPath: binaryPath,
		runner:     &execx.ExecRunner{},
		mkdirTemp:  os.MkdirTemp,
		removeAll:  os.RemoveAll,
		writeFile:  os.WriteFile,
		readFile:   os.ReadFile,
	}
}

// NewEspeakEngineForTests constructs an engine with injectable process
// and filesystem dependencies.
func NewEspeakEngineForTests(
	binaryPath string,
	runner execx.Runner,
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
	writeFile func(name string, data []byte, perm os.FileMode) error,
	readFile func(name string) ([]byte, error),
) *EspeakEngine {
	return &EspeakEngine{
		binaryPath: binaryPath,
		runner:     runner,
		mkdirTemp:  mkdirTemp,
		removeAll:  removeAll,
		writeFile:  writeFile,
		readFile:   readFile,
	}
}

// Name reports the engine binary for logs and error messages.
func (e *EspeakEngine) Name() string { return filepath.Base(e.binaryPath) }

// Synthesize renders one text chunk to WAV bytes.
func (e *EspeakEngine) Synthesize(ctx context.Context, text string, voice domain.VoiceSettings) ([]byte, error) {
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
	if err := e.writeFile(textPath, []byte(text), 0o644); err != nil {
		return nil, &SynthesisError{
			Engine:  e.Name(),
			Message: "failed to write chunk text",
			Err:     err,
		}
	}

	wavPath := filepath.Join(dir, "chunk.wav")
	args := buildEspeakArgs(textPath, wavPath, voice)

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

// Voices lists the voices the installed binary reports.
func (e *EspeakEngine) Voices(ctx context.Context) ([]domain.VoiceOption, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, runErr := e.runner.Run(ctx, e.binaryPath, "--voices")
	if runErr != nil {
		if errors.Is(runErr, exec.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", e.binaryPath, ErrEngineUnavailable)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("list voices (exit=%d): %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	return parseEspeakVoices(result.Stdout), nil
}

// buildEspeakArgs builds CLI args for one chunk render. Voice and rate
// are omitted when unset so the binary falls back to its defaults.
func buildEspeakArgs(textPath, wavPath string, voice domain.VoiceSettings) []string {
	args := make([]string, 0, 10)
	if id := strings.TrimSpace(voice.VoiceID); id != "" {
		args = append(args, "-v", id)
	}
	if voice.RateWPM > 0 {
		args = append(args, "-s", strconv.Itoa(voice.RateWPM))
	}
	args = append(args,
		"-a", strconv.Itoa(espeakAmplitude(voice.Volume)),
		"-w", wavPath,
		"-f", textPath,
	)

	return args
}

// espeakAmplitude maps volume 0..1 onto the espeak amplitude scale
// 0..200.
func espeakAmplitude(volume float64) int {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	return int(math.Round(volume * 200))
}

// parseEspeakVoices parses the `--voices` table. Columns are
// Pty, Language, Age/Gender, VoiceName, File; the voice is addressed
// by its language code when passed back through -v.
func parseEspeakVoices(output string) []domain.VoiceOption {
	voices := make([]domain.VoiceOption, 0, 64)
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[0] == "Pty" {
			continue
		}

		voices = append(voices, domain.VoiceOption{
			ID:        fields[1],
			Name:      strings.ReplaceAll(fields[3], "_", " "),
			Language:  fields[1],
			Gender:    parseEspeakGender(fields[2]),
			Available: true,
		})
	}

	return voices
}

// parseEspeakGender maps the Age/Gender column ("--/M") to a label.
func parseEspeakGender(column string) string {
	parts := strings.Split(column, "/")
	switch parts[len(parts)-1] {
	case "M":
		return "male"
	case "F":
		return "female"
	default:
		return ""
	}
}
