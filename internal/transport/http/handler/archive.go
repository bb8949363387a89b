package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"docchat/internal/model"
	"docchat/internal/transport/http/middleware"
	"docchat/internal/transport/http/response"
)

type TranscriptLister interface {
	ListBySession(sessionKey string, limit int) ([]model.TranscriptTurn, error)
}

type CorpusFinder interface {
	FindLatestBySession(sessionKey string) (*model.CorpusRecord, error)
}

// ArchiveHandler serves the persisted transcript, which outlives the in-memory session.
type ArchiveHandler struct {
	transcripts TranscriptLister
	corpora     CorpusFinder
}

func NewArchiveHandler(transcripts TranscriptLister, corpora CorpusFinder) *ArchiveHandler {
	return &ArchiveHandler{transcripts: transcripts, corpora: corpora}
}

func (h *ArchiveHandler) GetTranscript(c *gin.Context) {
	sessionKey, ok := middleware.SessionKey(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	turns, err := h.transcripts.ListBySession(sessionKey, limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list transcript failed")
		return
	}

	corpus, err := h.corpora.FindLatestBySession(sessionKey)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "find corpus failed")
		return
	}

	response.OK(c, gin.H{
		"turns":  turns,
		"corpus": corpus,
	})
}
