package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"pdf-audiobook/internal/execx"
)

// ErrEngineUnavailable marks a missing or unlaunchable OCR binary.
var ErrEngineUnavailable = errors.New("ocr engine unavailable")

// CommandEngine shells out to a tesseract binary. It is selected when
// the user points settings at a specific executable instead of the
// in-process bindings.
type CommandEngine struct {
	binaryPath string
	languages  []string
	runner     execx.Runner
	mkdirTemp  func(dir, pattern string) (string, error)
	removeAll  func(path string) error
	writeFile  func(name string, data []byte, perm os.FileMode) error
}

// NewCommandEngine constructs an engine around a tesseract executable.
func NewCommandEngine(binaryPath string, languages ...string) *CommandEngine {
	return &CommandEngine{
		binaryPath: binaryPath,
		languages:  languages,
		runner:     &execx.ExecRunner{},
		mkdirTemp:  os.MkdirTemp,
		removeAll:  os.RemoveAll,
		writeFile:  os.WriteFile,
	}
}

// NewCommandEngineForTests constructs an engine with injectable
// process and filesystem dependencies.
func NewCommandEngineForTests(
	binaryPath string,
	runner execx.Runner,
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
	writeFile func(name string, data []byte, perm os.FileMode) error,
	languages ...string,
) *CommandEngine {
	return &CommandEngine{
		binaryPath: binaryPath,
		languages:  languages,
		runner:     runner,
		mkdirTemp:  mkdirTemp,
		removeAll:  removeAll,
		writeFile:  writeFile,
	}
}

func (e *CommandEngine) Name() string { return filepath.Base(e.binaryPath) }

// Recognize writes the page image to a temp file and reads recognized
// text from the binary's stdout.
func (e *CommandEngine) Recognize(ctx context.Context, png []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir, err := e.mkdirTemp("", "pdf-audiobook-ocr-*")
	if err != nil {
		return "", fmt.Errorf("ocr temp dir: %w", err)
	}
	defer func() { _ = e.removeAll(dir) }()

	imagePath := filepath.Join(dir, "page.png")
	if err := e.writeFile(imagePath, png, 0o644); err != nil {
		return "", fmt.Errorf("write page image: %w", err)
	}

	args := []string{imagePath, "stdout", "--dpi", pageDPI}
	if len(e.languages) > 0 {
		args = append(args, "-l", strings.Join(e.languages, "+"))
	}

	result, runErr := e.runner.Run(ctx, e.binaryPath, args...)
	if runErr != nil {
		if errors.Is(runErr, exec.ErrNotFound) {
			return "", fmt.Errorf("%s: %w", e.binaryPath, ErrEngineUnavailable)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("ocr command failed (exit=%d): %s", result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	return strings.TrimSpace(result.Stdout), nil
}
