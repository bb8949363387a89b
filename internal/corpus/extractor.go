package corpus

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"docchat/internal/errs"
	"docchat/internal/model"
	"docchat/internal/pkg/pdfextract"
)

const stageExtract = "extract"

var ErrNoReadablePages = errors.New("no page of the corpus could be read")

// Warning records a page that was skipped during extraction.
type Warning struct {
	DocumentID string
	PageIndex  int
	Err        error
}

func (w Warning) String() string {
	return fmt.Sprintf("document %s page %d skipped: %v", w.DocumentID, w.PageIndex, w.Err)
}

type Extraction struct {
	CorpusID string
	Pages    []model.Page
	Warnings []Warning
}

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// ExtractArtifact opens the artifact file and extracts its pages.
func (e *Extractor) ExtractArtifact(ctx context.Context, art *Artifact) (*Extraction, error) {
	f, err := os.Open(art.Path)
	if err != nil {
		return nil, errs.New(errs.ErrExtraction, stageExtract, false, fmt.Errorf("open corpus artifact failed: %w", err))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errs.New(errs.ErrExtraction, stageExtract, false, fmt.Errorf("stat corpus artifact failed: %w", err))
	}
	return e.Extract(ctx, f, info.Size())
}

// Extract reads every page of the corpus in document order then page order.
// Pages that fail to decode are skipped with a warning; their neighbours keep their numbers.
func (e *Extractor) Extract(ctx context.Context, r io.ReaderAt, size int64) (*Extraction, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errs.New(errs.ErrExtraction, stageExtract, false, fmt.Errorf("open corpus container failed: %w", err))
	}
	man, err := readManifest(zr)
	if err != nil {
		return nil, errs.New(errs.ErrExtraction, stageExtract, false, err)
	}

	files := indexEntries(zr)
	out := &Extraction{CorpusID: man.CorpusID}
	for _, doc := range man.Documents {
		if err := ctx.Err(); err != nil {
			return nil, errs.New(errs.ErrExtraction, stageExtract, false, err)
		}

		data, err := readEntry(files[doc.Entry])
		if err != nil {
			return nil, errs.New(errs.ErrExtraction, stageExtract, false, err)
		}

		switch {
		case doc.ContentType == model.ContentTypePDF:
			if err := e.extractPDF(ctx, out, doc, data); err != nil {
				return nil, err
			}
		case model.IsTextual(doc.ContentType):
			for i, text := range splitTextPages(string(data)) {
				if err := ctx.Err(); err != nil {
					return nil, errs.New(errs.ErrExtraction, stageExtract, false, err)
				}
				out.Pages = append(out.Pages, model.Page{
					SourceDocumentID: doc.ID,
					DocumentName:     doc.Name,
					PageIndex:        i + 1,
					RawText:          text,
				})
			}
		default:
			return nil, errs.New(errs.ErrExtraction, stageExtract, false,
				fmt.Errorf("%w: %q", ErrUnsupportedType, doc.ContentType))
		}
	}

	if len(out.Pages) == 0 && len(out.Warnings) > 0 {
		return nil, errs.New(errs.ErrExtraction, stageExtract, false, ErrNoReadablePages)
	}
	return out, nil
}

func (e *Extractor) extractPDF(ctx context.Context, out *Extraction, doc ManifestEntry, data []byte) error {
	pages, err := pdfextract.ExtractPages(data, func(int) error { return ctx.Err() })
	if err != nil {
		return errs.New(errs.ErrExtraction, stageExtract, false, fmt.Errorf("document %s: %w", doc.ID, err))
	}

	for _, p := range pages {
		if p.Err != nil {
			w := Warning{DocumentID: doc.ID, PageIndex: p.Index, Err: p.Err}
			log.Printf("extract: %s", w)
			out.Warnings = append(out.Warnings, w)
			continue
		}
		out.Pages = append(out.Pages, model.Page{
			SourceDocumentID: doc.ID,
			DocumentName:     doc.Name,
			PageIndex:        p.Index,
			RawText:          p.Text,
		})
	}
	return nil
}
