package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// pageDPI is the density hint for rendered pages; rasters from the PDF
// engine carry no DPI metadata and tesseract degrades without one.
const pageDPI = "300"

// TesseractEngine runs OCR through the in-process tesseract bindings.
// This is the default backend when no external binary is configured.
type TesseractEngine struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

// NewTesseractEngine constructs the bindings-backed engine. Languages
// are tesseract codes such as "eng" or "deu"; empty means the library
// default.
func NewTesseractEngine(languages ...string) *TesseractEngine {
	return &TesseractEngine{
		languages:     languages,
		clientFactory: gosseract.NewClient,
	}
}

func (e *TesseractEngine) Name() string { return "tesseract" }

// Recognize extracts text from one PNG-encoded page image.
func (e *TesseractEngine) Recognize(ctx context.Context, png []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := e.clientFactory()
	defer client.Close()

	if err := client.SetImageFromBytes(png); err != nil {
		return "", fmt.Errorf("set page image: %w", err)
	}
	if len(e.languages) > 0 {
		if err := client.SetLanguage(e.languages...); err != nil {
			return "", fmt.Errorf("set ocr languages: %w", err)
		}
	}
	if err := client.SetVariable(gosseract.SettableVariable("user_defined_dpi"), pageDPI); err != nil {
		return "", fmt.Errorf("set ocr dpi: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize page: %w", err)
	}
	return strings.TrimSpace(text), nil
}
