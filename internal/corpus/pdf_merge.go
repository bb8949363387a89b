package corpus

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// MergePDF concatenates pdfs, in order, into a single PDF written to w.
func MergePDF(w io.Writer, pdfs [][]byte) error {
	if len(pdfs) == 0 {
		return ErrNoPDFs
	}
	if len(pdfs) == 1 {
		if _, err := w.Write(pdfs[0]); err != nil {
			return fmt.Errorf("write pdf failed: %w", err)
		}
		return nil
	}

	readers := make([]io.ReadSeeker, 0, len(pdfs))
	for _, p := range pdfs {
		readers = append(readers, bytes.NewReader(p))
	}
	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed
	if err := api.MergeRaw(readers, w, false, conf); err != nil {
		return fmt.Errorf("merge pdf failed: %w", err)
	}
	return nil
}
