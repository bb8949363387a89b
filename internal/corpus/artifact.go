// Package corpus turns an ordered set of uploaded documents into a single
// temporary corpus artifact and reads pages back out of it.
package corpus

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"docchat/internal/model"
)

const manifestName = "manifest.json"

var ErrNoPDFs = errors.New("corpus contains no pdf documents")

// ManifestEntry describes one document stored in the artifact, in upload order.
type ManifestEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Entry       string `json:"entry"`
	PageCount   int    `json:"page_count"`
	Size        int64  `json:"size"`
}

type manifest struct {
	CorpusID  string          `json:"corpus_id"`
	Documents []ManifestEntry `json:"documents"`
}

// Artifact is the merged corpus on disk. It is owned by whoever holds it and
// must be released exactly once; Release is safe to call repeatedly.
type Artifact struct {
	Path      string
	CorpusID  string
	Documents []ManifestEntry
	Size      int64

	once       sync.Once
	releaseErr error
}

// Release deletes the artifact file.
func (a *Artifact) Release() error {
	if a == nil {
		return nil
	}
	a.once.Do(func() {
		if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
			a.releaseErr = fmt.Errorf("remove corpus artifact failed: %w", err)
		}
	})
	return a.releaseErr
}

func (a *Artifact) PageCount() int {
	n := 0
	for _, d := range a.Documents {
		n += d.PageCount
	}
	return n
}

// WriteMergedPDF writes all PDF documents of the artifact, in upload order, as one PDF.
func (a *Artifact) WriteMergedPDF(w io.Writer) error {
	f, err := os.Open(a.Path)
	if err != nil {
		return fmt.Errorf("open corpus artifact failed: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat corpus artifact failed: %w", err)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return fmt.Errorf("open corpus container failed: %w", err)
	}
	man, err := readManifest(zr)
	if err != nil {
		return err
	}

	files := indexEntries(zr)
	pdfs := make([][]byte, 0, len(man.Documents))
	for _, doc := range man.Documents {
		if doc.ContentType != model.ContentTypePDF || doc.PageCount == 0 {
			continue
		}
		data, err := readEntry(files[doc.Entry])
		if err != nil {
			return err
		}
		pdfs = append(pdfs, data)
	}
	return MergePDF(w, pdfs)
}

func indexEntries(zr *zip.Reader) map[string]*zip.File {
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}
	return files
}

func readManifest(zr *zip.Reader) (*manifest, error) {
	for _, f := range zr.File {
		if f.Name != manifestName {
			continue
		}
		data, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		var man manifest
		if err := json.NewDecoder(bytes.NewReader(data)).Decode(&man); err != nil {
			return nil, fmt.Errorf("decode corpus manifest failed: %w", err)
		}
		return &man, nil
	}
	return nil, fmt.Errorf("corpus manifest not found")
}

func readEntry(f *zip.File) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("corpus entry not found")
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open corpus entry %s failed: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read corpus entry %s failed: %w", f.Name, err)
	}
	return data, nil
}
