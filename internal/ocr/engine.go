// Package ocr recognizes text on rendered PDF pages. It backs the
// extraction fallback for scanned documents: when a page has no usable
// text layer, the page raster goes through an Engine instead.
package ocr

import "context"

// Engine converts one rendered page image (PNG bytes) into plain text.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, png []byte) (string, error)
}
