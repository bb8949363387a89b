// Package pdftest builds small uncompressed PDFs for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"strings"
)

// Page is one page of a generated PDF. A Corrupt page carries a content stream
// that claims FlateDecode but is not zlib data, so its text cannot be read.
type Page struct {
	Text    string
	Corrupt bool
}

func Text(pages ...string) []Page {
	out := make([]Page, 0, len(pages))
	for _, p := range pages {
		out = append(out, Page{Text: p})
	}
	return out
}

// Build returns a PDF with one page per entry, in order. No pages yields a valid
// document whose page tree is empty.
func Build(pages ...Page) []byte {
	// 1 catalog, 2 page tree, 3 font, then a page and its content stream per page.
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}
	kids := make([]string, 0, len(pages))
	for _, p := range pages {
		pageNum := len(objects) + 1
		contentNum := pageNum + 1
		kids = append(kids, fmt.Sprintf("%d 0 R", pageNum))

		objects = append(objects, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			contentNum))

		if p.Corrupt {
			body := "this is not zlib data"
			objects = append(objects, fmt.Sprintf("<< /Length %d /Filter /FlateDecode >>\nstream\n%s\nendstream", len(body), body))
			continue
		}
		body := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", escape(p.Text))
		objects = append(objects, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(body), body))
	}
	objects[1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
