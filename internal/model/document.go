package model

import (
	"path/filepath"
	"strings"
)

const (
	ContentTypePDF      = "application/pdf"
	ContentTypeText     = "text/plain"
	ContentTypeMarkdown = "text/markdown"
)

// Document is one uploaded input with its declared content type.
type Document struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// Page is the extracted text of one page of a source document.
// PageIndex is 1-based within its source document.
type Page struct {
	SourceDocumentID string `json:"source_document_id"`
	DocumentName     string `json:"document_name"`
	PageIndex        int    `json:"page_index"`
	RawText          string `json:"raw_text"`
}

// IsBlank reports whether the page has no extractable text.
func (p Page) IsBlank() bool {
	return strings.TrimSpace(p.RawText) == ""
}

// IsTextual reports whether the content type is one of the plain text types.
func IsTextual(contentType string) bool {
	return contentType == ContentTypeText || contentType == ContentTypeMarkdown
}

// ContentTypeForName maps a file name's extension to a supported content type, or "".
func ContentTypeForName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return ContentTypePDF
	case ".txt", ".text":
		return ContentTypeText
	case ".md", ".markdown":
		return ContentTypeMarkdown
	}
	return ""
}
