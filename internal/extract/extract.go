// Package extract turns uploaded files into ordered text blocks for
// indexing. The rest of the pipeline only sees the Extractor interface.
package extract

import (
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// ErrEncrypted marks password-protected input, which the service
// rejects as a client error.
var ErrEncrypted = errors.New("extract: encrypted document")

// Extractor converts a file on disk into ordered text blocks
// (pages or sections).
type Extractor interface {
	Extract(path string) ([]string, error)
}

// PDF extracts one text block per page of a PDF file.
type PDF struct{}

func NewPDF() PDF { return PDF{} }

func (PDF) Extract(path string) ([]string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) {
			return nil, ErrEncrypted
		}
		return nil, fmt.Errorf("extract: open pdf: %w", err)
	}
	defer f.Close()

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract: page %d: %w", i, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}
