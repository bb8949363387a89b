package repository

import (
	"fmt"

	"gorm.io/gorm"

	"docchat/internal/model"
)

type CorpusRepository struct {
	db *gorm.DB
}

func NewCorpusRepository(db *gorm.DB) *CorpusRepository {
	return &CorpusRepository{db: db}
}

func (r *CorpusRepository) Create(record *model.CorpusRecord) error {
	if err := r.db.Create(record).Error; err != nil {
		return fmt.Errorf("create corpus record failed: %w", err)
	}
	return nil
}

func (r *CorpusRepository) FindLatestBySession(sessionKey string) (*model.CorpusRecord, error) {
	var record model.CorpusRecord
	if err := r.db.Where("session_key = ?", sessionKey).Order("id DESC").First(&record).Error; err != nil {
		return nil, fmt.Errorf("find corpus record failed: %w", err)
	}
	return &record, nil
}
