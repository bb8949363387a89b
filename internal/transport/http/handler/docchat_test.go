package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/ai"
	"docchat/internal/app"
	"docchat/internal/chat"
	"docchat/internal/corpus"
	"docchat/internal/index"
	"docchat/internal/retriever"
	"docchat/internal/session"
	"docchat/internal/transport/http/middleware"
	"docchat/internal/transport/http/response"
)

const testSecret = "handler-test-secret"

type cannedCompleter struct{ answer string }

func (c cannedCompleter) Complete(context.Context, string, float64, string) (string, error) {
	return c.answer, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	workDir := t.TempDir()
	embedder := ai.NewHashingEmbedder(256)
	engine := chat.NewEngine(cannedCompleter{answer: "Paris."}, retriever.New(embedder, nil), chat.Options{TopK: 2})
	svc := app.NewDocChatService(
		session.NewManager(),
		corpus.NewMerger(workDir, 1<<20),
		corpus.NewExtractor(),
		index.NewBuilder(embedder, 1, index.MetricCosine),
		engine,
		nil,
		nil,
		app.Options{
			Chunk:   index.ChunkConfig{MaxChunkSize: 200, Overlap: 20, SplitOn: index.SplitSentence},
			WorkDir: workDir,
		},
	)
	t.Cleanup(svc.Close)

	router := gin.New()
	h := NewDocChatHandler(svc, testSecret, time.Hour, 1<<20)
	v1 := router.Group("/api/v1")
	v1.POST("/ingest", middleware.SessionToken(testSecret, false), h.Ingest)
	g := v1.Group("/chat", middleware.SessionToken(testSecret, true))
	g.POST("/messages", h.SendMessage)
	g.GET("/history", h.GetHistory)
	g.GET("/corpus.pdf", h.ExportPDF)
	g.DELETE("/session", h.EndSession)
	return router
}

func uploadRequest(t *testing.T, files map[string]string, token string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func do(router *gin.Engine, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func authed(method, path, token string, body []byte) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func ingest(t *testing.T, router *gin.Engine) IngestResponse {
	t.Helper()
	w, env := do(router, uploadRequest(t, map[string]string{"france.txt": "Paris is the capital of France."}, ""))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res IngestResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.NotEmpty(t, res.SessionToken)
	return res
}

func TestDocChatHandler_IngestAskHistory(t *testing.T) {
	router := newTestRouter(t)
	res := ingest(t, router)
	assert.Equal(t, 1, res.Documents)
	assert.NotEmpty(t, res.CorpusID)

	w, env := do(router, authed(http.MethodPost, "/api/v1/chat/messages", res.SessionToken, []byte(`{"content":"What is the capital of France?"}`)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ask app.AskResult
	require.NoError(t, json.Unmarshal(env.Data, &ask))
	assert.Equal(t, "Paris.", ask.Answer)
	require.NotEmpty(t, ask.Sources)
	assert.Equal(t, "doc-1", ask.Sources[0].DocumentID)

	w, env = do(router, authed(http.MethodGet, "/api/v1/chat/history", res.SessionToken, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		Turns []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"turns"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &hist))
	require.Len(t, hist.Turns, 2)
	assert.Equal(t, "user", hist.Turns[0].Role)
	assert.Equal(t, "Paris.", hist.Turns[1].Content)
}

func TestDocChatHandler_ReingestKeepsSession(t *testing.T) {
	router := newTestRouter(t)
	first := ingest(t, router)

	w, env := do(router, uploadRequest(t, map[string]string{"notes.md": "# Notes\nBerlin is in Germany."}, first.SessionToken))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var second IngestResponse
	require.NoError(t, json.Unmarshal(env.Data, &second))
	assert.Equal(t, first.SessionKey, second.SessionKey)
	assert.NotEqual(t, first.CorpusID, second.CorpusID)
}

func TestDocChatHandler_IngestRejectsBadInput(t *testing.T) {
	router := newTestRouter(t)

	w, env := do(router, uploadRequest(t, map[string]string{"tool.exe": "MZ"}, ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.CodeBadRequest, env.Code)

	w, _ = do(router, uploadRequest(t, map[string]string{}, ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(router, uploadRequest(t, map[string]string{"a.txt": "hi"}, "not-a-token"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, env = do(router, uploadRequest(t, map[string]string{"blank.txt": "   \n  "}, ""))
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, response.CodeBadRequest, env.Code)
}

func TestDocChatHandler_SessionRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/history", nil)
	w, env := do(router, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.CodeUnauthorized, env.Code)
}

func TestDocChatHandler_EmptyMessage(t *testing.T) {
	router := newTestRouter(t)
	res := ingest(t, router)

	w, _ := do(router, authed(http.MethodPost, "/api/v1/chat/messages", res.SessionToken, []byte(`{"content":"   "}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocChatHandler_ExportWithoutPDFs(t *testing.T) {
	router := newTestRouter(t)
	res := ingest(t, router)

	w, env := do(router, authed(http.MethodGet, "/api/v1/chat/corpus.pdf", res.SessionToken, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.CodeNotFound, env.Code)
}

func TestDocChatHandler_EndSession(t *testing.T) {
	router := newTestRouter(t)
	res := ingest(t, router)

	w, _ := do(router, authed(http.MethodDelete, "/api/v1/chat/session", res.SessionToken, nil))
	require.Equal(t, http.StatusOK, w.Code)

	w, env := do(router, authed(http.MethodPost, "/api/v1/chat/messages", res.SessionToken, []byte(`{"content":"hello"}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.CodeSessionNotFound, env.Code)
}
