package corpus

import (
	"archive/zip"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"

	"docchat/internal/errs"
	"docchat/internal/model"
	"docchat/internal/pkg/pdfextract"
)

const stageMerge = "merge"

var (
	ErrNoDocuments         = errors.New("no documents to merge")
	ErrCorpusTooLarge      = errors.New("corpus exceeds size limit")
	ErrUnsupportedType     = errors.New("unsupported content type")
	ErrInvalidText         = errors.New("text document is not valid utf-8")
	ErrDuplicateDocumentID = errors.New("duplicate document id")
)

type Merger struct {
	workDir  string
	maxBytes int64
}

// NewMerger writes artifacts under workDir (the OS temp dir when empty).
// maxBytes <= 0 disables the size limit.
func NewMerger(workDir string, maxBytes int64) *Merger {
	return &Merger{workDir: workDir, maxBytes: maxBytes}
}

// Merge validates docs and writes them, in order, into one artifact.
// Nothing is left on disk when it fails.
func (m *Merger) Merge(ctx context.Context, docs []model.Document) (art *Artifact, err error) {
	if len(docs) == 0 {
		return nil, errs.New(errs.ErrMerge, stageMerge, false, ErrNoDocuments)
	}
	var total int64
	for _, d := range docs {
		total += int64(len(d.Data))
	}
	if m.maxBytes > 0 && total > m.maxBytes {
		return nil, errs.New(errs.ErrMerge, stageMerge, false,
			fmt.Errorf("%w: %d > %d bytes", ErrCorpusTooLarge, total, m.maxBytes))
	}

	f, err := os.CreateTemp(m.workDir, "corpus-*.zip")
	if err != nil {
		return nil, errs.New(errs.ErrMerge, stageMerge, false, fmt.Errorf("create corpus artifact failed: %w", err))
	}
	path := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(path)
		}
	}()

	zw := zip.NewWriter(f)
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, errs.New(errs.ErrMerge, stageMerge, false, err)
	}

	entries := make([]ManifestEntry, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))
	for i, d := range docs {
		if err := ctx.Err(); err != nil {
			return nil, errs.New(errs.ErrMerge, stageMerge, false, err)
		}

		id := d.ID
		if id == "" {
			id = fmt.Sprintf("doc-%d", i+1)
		}
		if _, dup := seen[id]; dup {
			return nil, errs.New(errs.ErrMerge, stageMerge, false, fmt.Errorf("%w: %s", ErrDuplicateDocumentID, id))
		}
		seen[id] = struct{}{}

		pages, err := validate(d)
		if err != nil {
			return nil, errs.New(errs.ErrMerge, stageMerge, false, fmt.Errorf("document %q: %w", d.Name, err))
		}

		entry := fmt.Sprintf("documents/%04d%s", i+1, extension(d.ContentType))
		w, err := zw.Create(entry)
		if err != nil {
			return nil, errs.New(errs.ErrMerge, stageMerge, false, fmt.Errorf("write corpus entry failed: %w", err))
		}
		if _, err := w.Write(d.Data); err != nil {
			return nil, errs.New(errs.ErrMerge, stageMerge, false, fmt.Errorf("write corpus entry failed: %w", err))
		}
		hashDocument(h, id, d)

		entries = append(entries, ManifestEntry{
			ID:          id,
			Name:        d.Name,
			ContentType: d.ContentType,
			Entry:       entry,
			PageCount:   pages,
			Size:        int64(len(d.Data)),
		})
	}

	corpusID := hex.EncodeToString(h.Sum(nil))
	mw, err := zw.Create(manifestName)
	if err != nil {
		return nil, errs.New(errs.ErrMerge, stageMerge, false, fmt.Errorf("write corpus manifest failed: %w", err))
	}
	if err := json.NewEncoder(mw).Encode(manifest{CorpusID: corpusID, Documents: entries}); err != nil {
		return nil, errs.New(errs.ErrMerge, stageMerge, false, fmt.Errorf("write corpus manifest failed: %w", err))
	}
	if err := zw.Close(); err != nil {
		return nil, errs.New(errs.ErrMerge, stageMerge, false, fmt.Errorf("finish corpus artifact failed: %w", err))
	}
	info, err := f.Stat()
	if err != nil {
		return nil, errs.New(errs.ErrMerge, stageMerge, false, fmt.Errorf("stat corpus artifact failed: %w", err))
	}
	if err := f.Close(); err != nil {
		return nil, errs.New(errs.ErrMerge, stageMerge, false, fmt.Errorf("close corpus artifact failed: %w", err))
	}

	return &Artifact{
		Path:      path,
		CorpusID:  corpusID,
		Documents: entries,
		Size:      info.Size(),
	}, nil
}

// validate checks d against its declared type and returns its page count.
func validate(d model.Document) (int, error) {
	switch {
	case d.ContentType == model.ContentTypePDF:
		return pdfextract.CountPages(d.Data)
	case model.IsTextual(d.ContentType):
		if !utf8.Valid(d.Data) {
			return 0, ErrInvalidText
		}
		return len(splitTextPages(string(d.Data))), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedType, d.ContentType)
	}
}

func hashDocument(h hash.Hash, id string, d model.Document) {
	var size [8]byte
	for _, field := range []string{id, d.Name, d.ContentType} {
		binary.BigEndian.PutUint64(size[:], uint64(len(field)))
		h.Write(size[:])
		h.Write([]byte(field))
	}
	binary.BigEndian.PutUint64(size[:], uint64(len(d.Data)))
	h.Write(size[:])
	h.Write(d.Data)
}

func extension(contentType string) string {
	switch contentType {
	case model.ContentTypePDF:
		return ".pdf"
	case model.ContentTypeMarkdown:
		return ".md"
	default:
		return ".txt"
	}
}

// splitTextPages splits plain text on form feeds. Text without form feeds is one page.
func splitTextPages(text string) []string {
	return strings.Split(text, "\f")
}
