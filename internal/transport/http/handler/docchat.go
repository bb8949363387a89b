package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"docchat/internal/app"
	"docchat/internal/chat"
	"docchat/internal/corpus"
	"docchat/internal/errs"
	"docchat/internal/model"
	"docchat/internal/pkg/jwtutil"
	"docchat/internal/session"
	"docchat/internal/transport/http/middleware"
	"docchat/internal/transport/http/response"
)

type DocChatHandler struct {
	service        *app.DocChatService
	jwtSecret      string
	tokenTTL       time.Duration
	maxUploadBytes int64
}

type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type IngestResponse struct {
	*app.IngestResult
	SessionToken string `json:"session_token"`
}

func NewDocChatHandler(service *app.DocChatService, jwtSecret string, tokenTTL time.Duration, maxUploadBytes int64) *DocChatHandler {
	return &DocChatHandler{
		service:        service,
		jwtSecret:      jwtSecret,
		tokenTTL:       tokenTTL,
		maxUploadBytes: maxUploadBytes,
	}
}

// Ingest accepts a multipart form with one or more "files". A request carrying a
// session token replaces that session's corpus; otherwise a new session is started.
func (h *DocChatHandler) Ingest(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)
	}
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid multipart form")
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing files")
		return
	}

	docs := make([]model.Document, 0, len(files))
	for i, fh := range files {
		doc, err := readUpload(fh, i)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
			return
		}
		docs = append(docs, doc)
	}

	sessionKey, _ := middleware.SessionKey(c)
	result, err := h.service.Ingest(c.Request.Context(), sessionKey, docs)
	if err != nil {
		writeServiceError(c, err, "ingest failed")
		return
	}

	token, err := jwtutil.GenerateToken(h.jwtSecret, h.tokenTTL, result.SessionKey)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "issue session token failed")
		return
	}
	response.OK(c, IngestResponse{IngestResult: result, SessionToken: token})
}

func (h *DocChatHandler) SendMessage(c *gin.Context) {
	sessionKey, ok := middleware.SessionKey(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.service.Ask(c.Request.Context(), sessionKey, req.Content)
	if err != nil {
		writeServiceError(c, err, "send message failed")
		return
	}
	response.OK(c, result)
}

func (h *DocChatHandler) GetHistory(c *gin.Context) {
	sessionKey, ok := middleware.SessionKey(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	turns, err := h.service.GetHistory(sessionKey)
	if err != nil {
		writeServiceError(c, err, "get history failed")
		return
	}
	response.OK(c, gin.H{"turns": turns})
}

// ExportPDF streams the session's PDF inputs merged into one document.
func (h *DocChatHandler) ExportPDF(c *gin.Context) {
	sessionKey, ok := middleware.SessionKey(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var buf bytes.Buffer
	if err := h.service.ExportMergedPDF(c.Request.Context(), sessionKey, &buf); err != nil {
		writeServiceError(c, err, "export pdf failed")
		return
	}
	c.Header("Content-Disposition", `attachment; filename="corpus.pdf"`)
	c.Data(http.StatusOK, model.ContentTypePDF, buf.Bytes())
}

func (h *DocChatHandler) EndSession(c *gin.Context) {
	sessionKey, ok := middleware.SessionKey(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	if err := h.service.EndSession(sessionKey); err != nil {
		writeServiceError(c, err, "end session failed")
		return
	}
	response.OK(c, gin.H{"ended_session": sessionKey})
}

func readUpload(fh *multipart.FileHeader, i int) (model.Document, error) {
	contentType, err := detectContentType(fh)
	if err != nil {
		return model.Document{}, err
	}

	f, err := fh.Open()
	if err != nil {
		return model.Document{}, fmt.Errorf("read %s failed", fh.Filename)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return model.Document{}, fmt.Errorf("read %s failed", fh.Filename)
	}

	return model.Document{
		ID:          fmt.Sprintf("doc-%d", i+1),
		Name:        fh.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}

func detectContentType(fh *multipart.FileHeader) (string, error) {
	if ct := model.ContentTypeForName(fh.Filename); ct != "" {
		return ct, nil
	}

	declared := strings.TrimSpace(strings.Split(fh.Header.Get("Content-Type"), ";")[0])
	switch declared {
	case model.ContentTypePDF, model.ContentTypeText, model.ContentTypeMarkdown:
		return declared, nil
	}
	return "", fmt.Errorf("unsupported file type: %s", fh.Filename)
}

func writeServiceError(c *gin.Context, err error, fallback string) {
	retry := gin.H{"retryable": errs.IsRetryable(err), "stage": errs.Stage(err)}

	switch {
	case errors.Is(err, app.ErrSessionNotFound):
		response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
	case errors.Is(err, session.ErrSessionClosed):
		response.Error(c, http.StatusConflict, response.CodeSessionClosed, err.Error())
	case errors.Is(err, app.ErrNoCorpus), errors.Is(err, chat.ErrNoIndex):
		response.Error(c, http.StatusConflict, response.CodeNoCorpus, err.Error())
	case errors.Is(err, corpus.ErrNoPDFs):
		response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
	case errors.Is(err, chat.ErrEmptyMessage):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		response.ErrorWithData(c, http.StatusConflict, response.CodeConflict, "request cancelled: "+err.Error(), retry)
	case errors.Is(err, errs.ErrEmbeddingMismatch):
		response.ErrorWithData(c, http.StatusConflict, response.CodeConflict, err.Error(), retry)
	case errs.IsRetryable(err),
		errors.Is(err, errs.ErrCompletion),
		errors.Is(err, errs.ErrEmbedding):
		response.ErrorWithData(c, http.StatusBadGateway, response.CodeUpstream, err.Error(), retry)
	case errors.Is(err, errs.ErrMerge),
		errors.Is(err, errs.ErrExtraction),
		errors.Is(err, errs.ErrIndexing):
		response.ErrorWithData(c, http.StatusBadRequest, response.CodeBadRequest, err.Error(), retry)
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
