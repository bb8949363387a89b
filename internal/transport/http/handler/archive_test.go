package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"docchat/internal/model"
	"docchat/internal/pkg/jwtutil"
	"docchat/internal/transport/http/middleware"
)

type fakeArchive struct {
	turns     []model.TranscriptTurn
	record    *model.CorpusRecord
	listErr   error
	lastLimit int
}

func (f *fakeArchive) ListBySession(sessionKey string, limit int) ([]model.TranscriptTurn, error) {
	f.lastLimit = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.TranscriptTurn
	for _, t := range f.turns {
		if t.SessionKey == sessionKey {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeArchive) FindLatestBySession(sessionKey string) (*model.CorpusRecord, error) {
	if f.record == nil || f.record.SessionKey != sessionKey {
		return nil, fmt.Errorf("find corpus record failed: %w", gorm.ErrRecordNotFound)
	}
	return f.record, nil
}

func archiveRouter(store *fakeArchive) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewArchiveHandler(store, store)
	r.GET("/transcript", middleware.SessionToken(testSecret, true), h.GetTranscript)
	return r
}

func transcriptRequest(t *testing.T, sessionKey, query string) *http.Request {
	t.Helper()
	token, err := jwtutil.GenerateToken(testSecret, time.Hour, sessionKey)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/transcript"+query, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestArchiveHandler_GetTranscript(t *testing.T) {
	store := &fakeArchive{
		turns: []model.TranscriptTurn{
			{SessionKey: "s1", Seq: 1, Role: model.RoleUser, Content: "hi"},
			{SessionKey: "s2", Seq: 1, Role: model.RoleUser, Content: "other"},
		},
		record: &model.CorpusRecord{SessionKey: "s1", CorpusID: "abc"},
	}
	router := archiveRouter(store)

	w, env := do(router, transcriptRequest(t, "s1", "?limit=10"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, store.lastLimit)
	assert.Contains(t, string(env.Data), `"content":"hi"`)
	assert.NotContains(t, string(env.Data), "other")
	assert.Contains(t, string(env.Data), `"corpus_id":"abc"`)

	w, env = do(router, transcriptRequest(t, "s2", ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"corpus":null`)
}

func TestArchiveHandler_StoreFailure(t *testing.T) {
	router := archiveRouter(&fakeArchive{listErr: errors.New("db down")})
	w, _ := do(router, transcriptRequest(t, "s1", ""))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
