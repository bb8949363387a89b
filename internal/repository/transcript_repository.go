package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docchat/internal/model"
)

type TranscriptRepository struct {
	db *gorm.DB
}

func NewTranscriptRepository(db *gorm.DB) *TranscriptRepository {
	return &TranscriptRepository{db: db}
}

// Create stores a turn. Redelivered turns (same session and seq) are ignored.
func (r *TranscriptRepository) Create(turn *model.TranscriptTurn) error {
	if turn.SessionKey == "" {
		return errors.New("transcript turn has no session key")
	}
	if err := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(turn).Error; err != nil {
		return fmt.Errorf("create transcript turn failed: %w", err)
	}
	return nil
}

func (r *TranscriptRepository) ListBySession(sessionKey string, limit int) ([]model.TranscriptTurn, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}

	var turns []model.TranscriptTurn
	if err := r.db.Where("session_key = ?", sessionKey).Order("seq ASC").Limit(limit).Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("list transcript turns failed: %w", err)
	}
	return turns, nil
}
