package model

import "time"

// TranscriptTurn is the archived form of a committed chat turn.
type TranscriptTurn struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SessionKey string    `gorm:"size:64;not null;uniqueIndex:idx_transcript_session_seq" json:"session_key"`
	CorpusID   string    `gorm:"size:64;index" json:"corpus_id"`
	Seq        int64     `gorm:"not null;uniqueIndex:idx_transcript_session_seq" json:"seq"`
	Role       string    `gorm:"size:16;not null" json:"role"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// CorpusRecord stores metadata about a successful ingest.
type CorpusRecord struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SessionKey     string    `gorm:"size:64;not null;index" json:"session_key"`
	CorpusID       string    `gorm:"size:64;not null;index" json:"corpus_id"`
	DocumentCount  int       `gorm:"not null" json:"document_count"`
	PageCount      int       `gorm:"not null" json:"page_count"`
	ChunkCount     int       `gorm:"not null" json:"chunk_count"`
	EmbeddingModel string    `gorm:"size:128;not null" json:"embedding_model"`
	CreatedAt      time.Time `json:"created_at"`
}
