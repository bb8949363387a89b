package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"docchat/internal/chat"
	"docchat/internal/corpus"
	"docchat/internal/errs"
	"docchat/internal/index"
	"docchat/internal/model"
	"docchat/internal/session"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNoCorpus        = errors.New("session has no uploaded corpus")
)

const archiveTimeout = 3 * time.Second

// TurnPublisher hands committed turns to the transcript archive.
type TurnPublisher interface {
	Publish(ctx context.Context, turn model.TranscriptTurn) error
}

// CorpusRecorder stores metadata about successful ingests.
type CorpusRecorder interface {
	Create(record *model.CorpusRecord) error
}

type Options struct {
	Chunk        index.ChunkConfig
	WorkDir      string
	PersistIndex bool
	Greeting     string
}

type IngestResult struct {
	SessionKey string   `json:"session_key"`
	CorpusID   string   `json:"corpus_id"`
	Documents  int      `json:"documents"`
	Pages      int      `json:"pages"`
	Chunks     int      `json:"chunks"`
	Warnings   []string `json:"warnings,omitempty"`
	Greeting   string   `json:"greeting,omitempty"`
}

type Source struct {
	ChunkID    int     `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	PageStart  int     `json:"page_start"`
	PageEnd    int     `json:"page_end"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

type AskResult struct {
	Answer         string   `json:"answer"`
	CondensedQuery string   `json:"condensed_query"`
	Sources        []Source `json:"sources"`
}

// DocChatService runs the document pipeline and chat turns on behalf of sessions.
type DocChatService struct {
	sessions  *session.Manager
	merger    *corpus.Merger
	extractor *corpus.Extractor
	builder   *index.Builder
	engine    *chat.Engine
	publisher TurnPublisher
	recorder  CorpusRecorder
	opts      Options
}

// NewDocChatService wires the pipeline. publisher and recorder may be nil.
func NewDocChatService(
	sessions *session.Manager,
	merger *corpus.Merger,
	extractor *corpus.Extractor,
	builder *index.Builder,
	engine *chat.Engine,
	publisher TurnPublisher,
	recorder CorpusRecorder,
	opts Options,
) *DocChatService {
	return &DocChatService{
		sessions:  sessions,
		merger:    merger,
		extractor: extractor,
		builder:   builder,
		engine:    engine,
		publisher: publisher,
		recorder:  recorder,
		opts:      opts,
	}
}

// Ingest builds an index from docs and binds it to the session, replacing any
// previous corpus and clearing its history. An empty sessionKey starts a new session.
// Nothing is bound and no storage is left behind when any stage fails.
func (s *DocChatService) Ingest(ctx context.Context, sessionKey string, docs []model.Document) (*IngestResult, error) {
	sess, created := s.sessions.GetOrCreate(sessionKey)

	res, err := s.ingest(ctx, sess, docs)
	// A concurrent ingest may have bound a corpus to the session this call created.
	if err != nil && created {
		s.sessions.DiscardUnbound(sess.Key)
	}
	return res, err
}

func (s *DocChatService) ingest(ctx context.Context, sess *session.Session, docs []model.Document) (res *IngestResult, err error) {
	release, err := sess.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	opCtx, cancel := withSession(ctx, sess)
	defer cancel()

	art, err := s.merger.Merge(opCtx, docs)
	if err != nil {
		return nil, err
	}
	owned := []session.Releaser{art}
	defer func() {
		if err != nil {
			for _, r := range owned {
				if relErr := r.Release(); relErr != nil {
					log.Printf("ingest cleanup failed: %v", relErr)
				}
			}
		}
	}()

	ext, err := s.extractor.ExtractArtifact(opCtx, art)
	if err != nil {
		return nil, err
	}
	idx, err := s.builder.Build(opCtx, ext.CorpusID, ext.Pages, s.opts.Chunk)
	if err != nil {
		return nil, err
	}

	if s.opts.PersistIndex {
		dir, mkErr := os.MkdirTemp(s.opts.WorkDir, "index-*")
		if mkErr != nil {
			return nil, errs.New(errs.ErrIndexing, "persist", false, fmt.Errorf("create index dir failed: %w", mkErr))
		}
		owned = append(owned, session.ReleaseFunc(func() error { return os.RemoveAll(dir) }))
		if err := idx.Save(filepath.Join(dir, "index.db")); err != nil {
			return nil, errs.New(errs.ErrIndexing, "persist", false, err)
		}
	}

	if err := sess.BindIndex(idx, owned...); err != nil {
		return nil, err
	}
	if s.opts.Greeting != "" {
		_ = sess.AppendSystemGreeting(s.opts.Greeting)
	}

	warnings := make([]string, 0, len(ext.Warnings))
	for _, w := range ext.Warnings {
		warnings = append(warnings, w.String())
	}
	s.recordCorpus(sess.Key, art, ext, idx)

	return &IngestResult{
		SessionKey: sess.Key,
		CorpusID:   ext.CorpusID,
		Documents:  len(art.Documents),
		Pages:      len(ext.Pages),
		Chunks:     idx.Len(),
		Warnings:   warnings,
		Greeting:   s.opts.Greeting,
	}, nil
}

// Ask runs one conversational turn. History only changes when the turn succeeds.
func (s *DocChatService) Ask(ctx context.Context, sessionKey, message string) (*AskResult, error) {
	sess, ok := s.sessions.Get(sessionKey)
	if !ok {
		return nil, ErrSessionNotFound
	}
	release, err := sess.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if sess.Index() == nil {
		return nil, ErrNoCorpus
	}

	opCtx, cancel := withSession(ctx, sess)
	defer cancel()

	turn, err := s.engine.Chat(opCtx, sess, message)
	if err != nil {
		return nil, err
	}
	s.archive(ctx, sess, turn.Turns)

	sources := make([]Source, 0, len(turn.Chunks))
	for _, sc := range turn.Chunks {
		sources = append(sources, Source{
			ChunkID:    sc.Chunk.ChunkID,
			DocumentID: sc.Chunk.Span.Start.DocumentID,
			PageStart:  sc.Chunk.Span.Start.PageIndex,
			PageEnd:    sc.Chunk.Span.End.PageIndex,
			Score:      sc.Score,
			Text:       sc.Chunk.Text,
		})
	}
	return &AskResult{
		Answer:         turn.Answer,
		CondensedQuery: turn.CondensedQuery,
		Sources:        sources,
	}, nil
}

func (s *DocChatService) GetHistory(sessionKey string) ([]model.ChatTurn, error) {
	sess, ok := s.sessions.Get(sessionKey)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.History(), nil
}

// EndSession tears the session down, waiting for any running operation to stop.
func (s *DocChatService) EndSession(sessionKey string) error {
	if !s.sessions.Teardown(sessionKey) {
		return ErrSessionNotFound
	}
	return nil
}

// ExportMergedPDF writes the PDF documents of the session's corpus as one PDF.
func (s *DocChatService) ExportMergedPDF(ctx context.Context, sessionKey string, w io.Writer) error {
	sess, ok := s.sessions.Get(sessionKey)
	if !ok {
		return ErrSessionNotFound
	}
	release, err := sess.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	for _, r := range sess.Owned() {
		if art, ok := r.(*corpus.Artifact); ok {
			return art.WriteMergedPDF(w)
		}
	}
	return ErrNoCorpus
}

// Restore binds a previously saved index to a session. The file stays owned by the caller.
func (s *DocChatService) Restore(ctx context.Context, sessionKey, indexPath string) (string, error) {
	idx, err := index.Load(indexPath)
	if err != nil {
		return "", errs.New(errs.ErrIndexing, "restore", false, err)
	}

	sess, _ := s.sessions.GetOrCreate(sessionKey)
	release, err := sess.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	if err := sess.BindIndex(idx); err != nil {
		return "", err
	}
	if s.opts.Greeting != "" {
		_ = sess.AppendSystemGreeting(s.opts.Greeting)
	}
	return sess.Key, nil
}

// SaveIndex copies the session's current index to path.
func (s *DocChatService) SaveIndex(sessionKey, path string) error {
	sess, ok := s.sessions.Get(sessionKey)
	if !ok {
		return ErrSessionNotFound
	}
	idx := sess.Index()
	if idx == nil {
		return ErrNoCorpus
	}
	return idx.Save(path)
}

func (s *DocChatService) ActiveSessions() int {
	return s.sessions.Len()
}

func (s *DocChatService) SweepIdle(maxIdle time.Duration) int {
	return s.sessions.SweepIdle(maxIdle)
}

func (s *DocChatService) Close() {
	s.sessions.Close()
}

func (s *DocChatService) archive(ctx context.Context, sess *session.Session, turns []model.ChatTurn) {
	if s.publisher == nil || len(turns) == 0 {
		return
	}
	corpusID := ""
	if idx := sess.Index(); idx != nil {
		corpusID = idx.CorpusID()
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()
	for _, t := range turns {
		err := s.publisher.Publish(pubCtx, model.TranscriptTurn{
			SessionKey: sess.Key,
			CorpusID:   corpusID,
			Seq:        t.Seq,
			Role:       t.Role,
			Content:    t.Content,
			CreatedAt:  t.CreatedAt,
		})
		if err != nil {
			log.Printf("publish transcript turn failed: session=%s seq=%d err=%v", sess.Key, t.Seq, err)
		}
	}
}

func (s *DocChatService) recordCorpus(sessionKey string, art *corpus.Artifact, ext *corpus.Extraction, idx *index.Index) {
	if s.recorder == nil {
		return
	}
	err := s.recorder.Create(&model.CorpusRecord{
		SessionKey:     sessionKey,
		CorpusID:       ext.CorpusID,
		DocumentCount:  len(art.Documents),
		PageCount:      len(ext.Pages),
		ChunkCount:     idx.Len(),
		EmbeddingModel: idx.Model(),
	})
	if err != nil {
		log.Printf("record corpus failed: session=%s err=%v", sessionKey, err)
	}
}

// withSession derives an operation context that is also cancelled by session teardown.
func withSession(ctx context.Context, sess *session.Session) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(sess.Context(), cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}
