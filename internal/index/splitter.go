package index

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"docchat/internal/model"
)

const (
	SplitSentence  = "sentence"
	SplitParagraph = "paragraph"
	SplitNone      = "none"
)

// pageSeparator joins consecutive non-blank pages in the corpus text.
const pageSeparator = "\n"

// ChunkConfig sizes are in runes.
type ChunkConfig struct {
	MaxChunkSize      int
	Overlap           int
	SplitOn           string
	BoundaryTolerance int
}

func (c ChunkConfig) Validate() error {
	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("max chunk size must be positive, got %d", c.MaxChunkSize)
	}
	if c.Overlap < 0 || c.Overlap >= c.MaxChunkSize {
		return fmt.Errorf("overlap must be in [0, %d), got %d", c.MaxChunkSize, c.Overlap)
	}
	if c.BoundaryTolerance < 0 {
		return fmt.Errorf("boundary tolerance must not be negative, got %d", c.BoundaryTolerance)
	}
	switch c.SplitOn {
	case "", SplitSentence, SplitParagraph, SplitNone:
	default:
		return fmt.Errorf("unknown split mode %q", c.SplitOn)
	}
	return nil
}

func (c ChunkConfig) tolerance() int {
	if c.BoundaryTolerance > 0 {
		return c.BoundaryTolerance
	}
	return c.MaxChunkSize / 4
}

func (c ChunkConfig) mode() string {
	if c.SplitOn == "" {
		return SplitSentence
	}
	return c.SplitOn
}

// pageRange is the rune range a page occupies in the joined text, separator included.
type pageRange struct {
	ref        model.PageRef
	start, end int
}

// Split joins the non-blank pages and cuts the text into overlapping chunks.
// It returns the chunks with ChunkID and Span set, and the joined text.
// cfg must already be valid.
func Split(pages []model.Page, cfg ChunkConfig) ([]model.Chunk, string) {
	var sb strings.Builder
	ranges := make([]pageRange, 0, len(pages))
	offset := 0
	for _, p := range pages {
		if p.IsBlank() {
			continue
		}
		if len(ranges) > 0 {
			sb.WriteString(pageSeparator)
			offset += len([]rune(pageSeparator))
			ranges[len(ranges)-1].end = offset
		}
		n := len([]rune(p.RawText))
		sb.WriteString(p.RawText)
		ranges = append(ranges, pageRange{
			ref:   model.PageRef{DocumentID: p.SourceDocumentID, PageIndex: p.PageIndex},
			start: offset,
			end:   offset + n,
		})
		offset += n
	}
	joined := sb.String()
	if len(ranges) == 0 {
		return nil, joined
	}

	runes := []rune(joined)
	total := len(runes)
	tol := cfg.tolerance()
	mode := cfg.mode()

	var chunks []model.Chunk
	start := 0
	for start < total {
		// ws is the first non-space rune of the window. A window that would hold
		// only whitespace is stretched so the chunk still reaches real text.
		ws := skipSpace(runes, start)
		if ws == total {
			if n := len(chunks); n > 0 {
				last := &chunks[n-1]
				last.Text += string(runes[last.Span.EndOffset:total])
				last.Span.EndOffset = total
				last.Span.End = locate(ranges, total-1)
			}
			break
		}

		end := start + cfg.MaxChunkSize
		if ws >= end {
			end = ws + cfg.MaxChunkSize
		}
		if end >= total {
			end = total
		} else {
			lo := end - tol
			floor := start + cfg.Overlap + 1
			if ws+1 > floor {
				floor = ws + 1
			}
			if lo < floor {
				lo = floor
			}
			if b := lastBoundary(runes, lo, end, mode); b > 0 {
				end = b
			}
		}

		chunks = append(chunks, model.Chunk{
			ChunkID: len(chunks),
			Text:    string(runes[start:end]),
			Span: model.Span{
				Start:       locate(ranges, start),
				End:         locate(ranges, end-1),
				StartOffset: start,
				EndOffset:   end,
			},
		})
		if end == total {
			break
		}
		start = end - cfg.Overlap
	}
	return chunks, joined
}

func skipSpace(runes []rune, i int) int {
	for i < len(runes) && unicode.IsSpace(runes[i]) {
		i++
	}
	return i
}

// lastBoundary returns the largest cut point in [lo, hi] that ends a sentence or
// paragraph, or 0 when there is none.
func lastBoundary(runes []rune, lo, hi int, mode string) int {
	if mode == SplitNone {
		return 0
	}
	for b := hi; b >= lo && b > 0; b-- {
		prev := runes[b-1]
		if prev == '\n' {
			return b
		}
		if mode != SplitSentence {
			continue
		}
		if prev == '.' || prev == '!' || prev == '?' {
			if b == len(runes) || unicode.IsSpace(runes[b]) {
				return b
			}
		}
	}
	return 0
}

func locate(ranges []pageRange, offset int) model.PageRef {
	i := sort.Search(len(ranges), func(i int) bool { return ranges[i].end > offset })
	if i == len(ranges) {
		i = len(ranges) - 1
	}
	return ranges[i].ref
}
