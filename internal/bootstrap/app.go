package bootstrap

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"docchat/internal/ai"
	"docchat/internal/app"
	"docchat/internal/cache"
	"docchat/internal/chat"
	"docchat/internal/config"
	"docchat/internal/corpus"
	"docchat/internal/index"
	mysqlClient "docchat/internal/platform/mysql"
	rabbitmqClient "docchat/internal/platform/rabbitmq"
	redisClient "docchat/internal/platform/redis"
	"docchat/internal/repository"
	"docchat/internal/retriever"
	"docchat/internal/session"
	"docchat/internal/worker"
)

type App struct {
	Config           *config.Config
	MySQL            *gorm.DB
	Redis            *redis.Client
	MQConn           *amqp.Connection
	Publisher        *rabbitmqClient.TurnPublisher
	TranscriptWorker *worker.TranscriptPersistWorker
	Service          *app.DocChatService

	StartedAt time.Time

	stopJanitor context.CancelFunc
	janitorDone chan struct{}
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig connects the enabled backing services and assembles the service.
// Resources opened before a failure are closed again.
func NewWithConfig(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg, StartedAt: time.Now()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var recorder app.CorpusRecorder
	if cfg.MySQL.Enabled {
		a.MySQL, err = mysqlClient.New(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, err
		}
		recorder = repository.NewCorpusRepository(a.MySQL)
	}

	var queryCache retriever.QueryCache
	if cfg.Redis.Enabled {
		a.Redis, err = redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		queryCache = cache.NewEmbeddingCache(a.Redis, time.Duration(cfg.Redis.EmbeddingTTLSeconds)*time.Second)
	}

	var publisher app.TurnPublisher
	if cfg.RabbitMQ.Enabled {
		a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.TranscriptQueue)
		if err != nil {
			return nil, err
		}
		a.Publisher = rabbitmqClient.NewTurnPublisher(a.MQConn, cfg.RabbitMQ.TranscriptQueue)
		publisher = a.Publisher

		if a.MySQL != nil {
			a.TranscriptWorker = worker.NewTranscriptPersistWorker(a.MQConn, repository.NewTranscriptRepository(a.MySQL), cfg.RabbitMQ.TranscriptQueue)
			if err = a.TranscriptWorker.Start(ctx); err != nil {
				return nil, fmt.Errorf("start transcript worker failed: %w", err)
			}
		} else {
			log.Printf("rabbitmq enabled without mysql, transcripts are queued but not archived")
		}
	}

	a.Service, err = NewService(cfg, queryCache, publisher, recorder)
	if err != nil {
		return nil, err
	}

	a.startJanitor(time.Duration(cfg.App.SessionIdleMinutes) * time.Minute)
	return a, nil
}

// NewService builds the pipeline from cfg. The optional collaborators may be nil.
func NewService(cfg *config.Config, queryCache retriever.QueryCache, publisher app.TurnPublisher, recorder app.CorpusRecorder) (*app.DocChatService, error) {
	embedder, err := ai.NewEmbedder(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("build embedder failed: %w", err)
	}
	completer, err := ai.NewCompleter(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("build completer failed: %w", err)
	}
	metric, err := index.ParseMetric(cfg.RAG.Similarity)
	if err != nil {
		return nil, err
	}
	if cfg.RAG.WorkDir != "" {
		if err := os.MkdirAll(cfg.RAG.WorkDir, 0o755); err != nil {
			return nil, fmt.Errorf("create work dir failed: %w", err)
		}
	}

	engine := chat.NewEngine(completer, retriever.New(embedder, queryCache), chat.Options{
		TopK:            cfg.RAG.TopK,
		MaxContextChars: cfg.RAG.MaxContextChars,
		Temperature:     cfg.LLM.Temperature,
		SystemPrompt:    cfg.LLM.SystemPrompt,
		MaxHistoryTurns: cfg.RAG.MaxHistoryTurns,
	})

	return app.NewDocChatService(
		session.NewManager(),
		corpus.NewMerger(cfg.RAG.WorkDir, cfg.RAG.MaxCorpusBytes),
		corpus.NewExtractor(),
		index.NewBuilder(embedder, cfg.RAG.EmbedConcurrency, metric),
		engine,
		publisher,
		recorder,
		app.Options{
			Chunk: index.ChunkConfig{
				MaxChunkSize:      cfg.RAG.ChunkSize,
				Overlap:           cfg.RAG.ChunkOverlap,
				SplitOn:           cfg.RAG.SplitOn,
				BoundaryTolerance: cfg.RAG.BoundaryTolerance,
			},
			WorkDir:      cfg.RAG.WorkDir,
			PersistIndex: cfg.RAG.PersistIndex,
			Greeting:     cfg.LLM.Greeting,
		},
	), nil
}

func (a *App) startJanitor(maxIdle time.Duration) {
	if maxIdle <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.stopJanitor = cancel
	a.janitorDone = make(chan struct{})

	interval := maxIdle / 4
	if interval < time.Second {
		interval = time.Second
	}
	go func() {
		defer close(a.janitorDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := a.Service.SweepIdle(maxIdle); n > 0 {
					log.Printf("closed %d idle sessions", n)
				}
			}
		}
	}()
}

func (a *App) Close() error {
	var closeErr error
	if a.stopJanitor != nil {
		a.stopJanitor()
		<-a.janitorDone
	}
	if a.Service != nil {
		a.Service.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			closeErr = err
		}
	}
	if a.TranscriptWorker != nil {
		a.TranscriptWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
