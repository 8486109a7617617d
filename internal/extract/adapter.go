// Package extract pulls per-page text out of PDF documents.
//
// Direct text-layer extraction is the fast path; pages that come back
// empty or nearly empty are rasterized and routed through OCR. A
// failing page never aborts the document: the failure is recorded on
// the page and extraction continues.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"unicode/utf8"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog"

	"pdf-audiobook/internal/domain"
	"pdf-audiobook/internal/ocr"
)

// ExtractionError describes a failed page, or a document that could
// not be opened when Page is zero. OCR marks failures in the fallback
// path, including an OCR engine that is needed but unavailable.
type ExtractionError struct {
	Page int
	OCR  bool
	Err  error
}

// Error formats the failure with its page context.
func (e *ExtractionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Page == 0 {
		return fmt.Sprintf("document extraction failed: %v", e.Err)
	}
	if e.OCR {
		return fmt.Sprintf("page %d: ocr fallback failed: %v", e.Page, e.Err)
	}
	return fmt.Sprintf("page %d: extraction failed: %v", e.Page, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *ExtractionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// document is what the adapter needs from the PDF engine. The go-fitz
// handle satisfies it through fitzDocument; tests substitute fakes.
type document interface {
	pageCount() int
	pageText(n int) (string, error)
	pageImage(n int) (image.Image, error)
	close() error
}

// fitzDocument adapts *fitz.Document. go-fitz pages are zero-based.
type fitzDocument struct {
	doc *fitz.Document
}

func (d fitzDocument) pageCount() int                       { return d.doc.NumPage() }
func (d fitzDocument) pageText(n int) (string, error)       { return d.doc.Text(n) }
func (d fitzDocument) pageImage(n int) (image.Image, error) { return d.doc.Image(n) }
func (d fitzDocument) close() error                         { return d.doc.Close() }

// Adapter opens PDF documents and extracts page text with OCR fallback.
type Adapter struct {
	engine        ocr.Engine
	textThreshold int
	log           zerolog.Logger

	validate  func(path string) error
	open      func(path string) (document, error)
	encodePNG func(img image.Image) ([]byte, error)
}

// NewAdapter builds the production adapter. engine may be nil when no
// OCR backend exists; scanned pages then fail individually instead of
// being silently skipped. textThreshold is the character count below
// which a page's direct text is considered unusable.
func NewAdapter(engine ocr.Engine, textThreshold int, log zerolog.Logger) *Adapter {
	return &Adapter{
		engine:        engine,
		textThreshold: textThreshold,
		log:           log,
		validate:      validatePDF,
		open:          openFitz,
		encodePNG:     encodePNG,
	}
}

// NewAdapterForTests builds an adapter with injectable document
// opening, validation, and image encoding.
func NewAdapterForTests(
	engine ocr.Engine,
	textThreshold int,
	validate func(path string) error,
	open func(path string) (document, error),
	encodePNG func(img image.Image) ([]byte, error),
) *Adapter {
	return &Adapter{
		engine:        engine,
		textThreshold: textThreshold,
		log:           zerolog.Nop(),
		validate:      validate,
		open:          open,
		encodePNG:     encodePNG,
	}
}

// Document is one open PDF positioned for sequential page extraction.
type Document struct {
	adapter *Adapter
	doc     document
	pages   int
}

// Open validates the PDF structure and opens it for extraction. An
// error here is unrecoverable for the whole conversion.
func (a *Adapter) Open(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := a.validate(path); err != nil {
		return nil, &ExtractionError{Err: fmt.Errorf("document failed validation: %w", err)}
	}

	doc, err := a.open(path)
	if err != nil {
		return nil, &ExtractionError{Err: fmt.Errorf("open document: %w", err)}
	}

	return &Document{adapter: a, doc: doc, pages: doc.pageCount()}, nil
}

// PageCount returns the number of pages in the open document.
func (d *Document) PageCount() int { return d.pages }

// Close releases the underlying PDF handle.
func (d *Document) Close() {
	if d.doc != nil {
		_ = d.doc.close()
		d.doc = nil
	}
}

// Page extracts one page by 1-based number. The returned page carries
// either text (possibly empty for a genuinely blank page) or an error;
// it never aborts the document.
func (d *Document) Page(ctx context.Context, number int) domain.Page {
	page := domain.Page{Number: number}
	if err := ctx.Err(); err != nil {
		page.Err = err
		return page
	}

	direct := ""
	text, textErr := d.doc.pageText(number - 1)
	if textErr == nil {
		direct = strings.TrimSpace(text)
	}
	if textErr == nil && utf8.RuneCountInString(direct) >= d.adapter.textThreshold {
		page.Text = direct
		return page
	}

	// Thin or missing text layer: likely a scanned page.
	ocrText, ocrErr := d.recognize(ctx, number)
	switch {
	case ocrErr == nil && ocrText != "":
		page.Text = ocrText
		page.OCRUsed = true
	case direct != "":
		// Short but real text, and OCR had nothing better.
		page.Text = direct
		if ocrErr != nil {
			d.adapter.log.Debug().Int("page", number).Err(ocrErr).
				Msg("ocr fallback failed, keeping direct text")
		}
	case textErr != nil:
		page.Err = &ExtractionError{Page: number, Err: fmt.Errorf("extract text layer: %w", textErr)}
	case ocrErr != nil:
		page.Err = &ExtractionError{Page: number, OCR: true, Err: ocrErr}
	default:
		// Both routes ran and found nothing: a blank page.
	}
	return page
}

// recognize rasterizes the page and runs it through the OCR engine.
func (d *Document) recognize(ctx context.Context, number int) (string, error) {
	if d.adapter.engine == nil {
		return "", errors.New("no ocr engine available")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	img, err := d.doc.pageImage(number - 1)
	if err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	data, err := d.adapter.encodePNG(img)
	if err != nil {
		return "", fmt.Errorf("encode page image: %w", err)
	}

	text, err := d.adapter.engine.Recognize(ctx, data)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// validatePDF runs pdfcpu's relaxed structural validation so malformed
// input fails before the renderer touches it.
func validatePDF(path string) error {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.ValidateFile(path, conf)
}

// openFitz opens the document with MuPDF.
func openFitz(path string) (document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return fitzDocument{doc: doc}, nil
}

// encodePNG serializes a rendered page for the OCR engine.
func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
