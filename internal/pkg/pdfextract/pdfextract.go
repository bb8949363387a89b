package pdfextract

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// PageText is the plain text of one page. Err is set when that page alone could not be read.
type PageText struct {
	Index int
	Text  string
	Err   error
}

// Open parses the PDF held in data. The reader panics on some malformed inputs,
// those are converted to errors.
func Open(data []byte) (r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r = nil
			err = fmt.Errorf("open pdf failed: %v", rec)
		}
	}()

	if len(data) == 0 {
		return nil, fmt.Errorf("open pdf failed: empty input")
	}
	r, err = pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf failed: %w", err)
	}
	return r, nil
}

// CountPages returns the page count of a PDF, failing if it cannot be opened.
// A PDF with an empty page tree has zero pages.
func CountPages(data []byte) (int, error) {
	r, err := Open(data)
	if err != nil {
		return 0, err
	}
	return numPages(r)
}

// ExtractPages returns one PageText per page in document order, 1-based.
// A PDF without pages yields an empty slice.
// A page that fails to decode carries its error and empty text; the rest are still read.
// The callback, when non-nil, runs before each page and may abort by returning an error.
func ExtractPages(data []byte, before func(page int) error) ([]PageText, error) {
	r, err := Open(data)
	if err != nil {
		return nil, err
	}

	total, err := numPages(r)
	if err != nil {
		return nil, err
	}

	pages := make([]PageText, 0, total)
	for i := 1; i <= total; i++ {
		if before != nil {
			if err := before(i); err != nil {
				return nil, err
			}
		}
		text, err := pageText(r, i)
		pages = append(pages, PageText{Index: i, Text: text, Err: err})
	}
	return pages, nil
}

func numPages(r *pdf.Reader) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("count pdf pages failed: %v", rec)
		}
	}()
	return r.NumPage(), nil
}

func pageText(r *pdf.Reader, i int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
			err = fmt.Errorf("read page %d failed: %v", i, rec)
		}
	}()

	p := r.Page(i)
	if p.V.IsNull() {
		return "", fmt.Errorf("read page %d failed: missing page object", i)
	}
	text, err = p.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("read page %d failed: %w", i, err)
	}
	return text, nil
}
