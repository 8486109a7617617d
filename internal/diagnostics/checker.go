package diagnostics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"pdf-audiobook/internal/domain"
	"pdf-audiobook/internal/synth"
)

// Checker validates external engines and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report. A
// missing OCR engine is a warning, not a failure: text-layer PDFs
// convert fine without it.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkSpeechEngine(settings),
		c.checkOCREngine(settings),
		c.checkWritableDir("cache_dir", "Cache directory", settings.CacheDir,
			"Audio segments are cached here between conversions."),
		c.checkWritableDir("output_dir", "Output directory", settings.OutputDir,
			"Assembled audiobooks are written here."),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkSpeechEngine verifies the speech binary the pipeline would use.
func (c *Checker) checkSpeechEngine(settings domain.Settings) domain.DiagnosticItem {
	binary := synth.DefaultEngineBinary(settings)
	item := domain.DiagnosticItem{
		ID:   "tool_tts",
		Name: "Speech engine",
	}

	path, err := c.lookPath(binary)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Speech engine not found: %s", binary)
		item.Hint = "Install espeak-ng or point settings at a speech engine binary."
		item.FixAvailable = true
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkOCREngine verifies the OCR binary used for scanned pages.
func (c *Checker) checkOCREngine(settings domain.Settings) domain.DiagnosticItem {
	binary := strings.TrimSpace(settings.OCREnginePath)
	if binary == "" {
		binary = "tesseract"
	}
	item := domain.DiagnosticItem{
		ID:   "tool_ocr",
		Name: "OCR engine",
	}

	path, err := c.lookPath(binary)
	if err != nil {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = fmt.Sprintf("OCR engine not found: %s", binary)
		item.Hint = "Scanned pages cannot be read without tesseract. PDFs with a text layer still convert."
		item.FixAvailable = true
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkWritableDir validates directory existence and write access.
func (c *Checker) checkWritableDir(id, name, dir, purpose string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   id,
		Name: name,
	}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("%s is not configured.", name)
		item.Hint = purpose
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		item.FixAvailable = true
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Directory is not writable: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		item.FixAvailable = true
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}

// IsNotExist reports whether error represents file-not-found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
