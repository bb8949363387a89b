package model

// PageRef points at one page of one source document.
type PageRef struct {
	DocumentID string `json:"document_id"`
	PageIndex  int    `json:"page_index"`
}

// Span locates a chunk in the joined corpus text. Offsets are rune offsets,
// End and EndOffset are exclusive of the next chunk's start.
type Span struct {
	Start       PageRef `json:"start"`
	End         PageRef `json:"end"`
	StartOffset int     `json:"start_offset"`
	EndOffset   int     `json:"end_offset"`
}

// Chunk is a retrieval unit derived from the corpus.
type Chunk struct {
	CorpusID  string    `json:"corpus_id"`
	ChunkID   int       `json:"chunk_id"`
	Text      string    `json:"text"`
	Span      Span      `json:"span"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Embedding is a vector tagged with the model that produced it.
type Embedding struct {
	Model  string    `json:"model"`
	Values []float32 `json:"values"`
}
