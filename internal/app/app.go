package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nsqio/go-nsq"
	"google.golang.org/api/option"

	"docchat/ingest/features/document"
	"docchat/ingest/features/job"
	"docchat/ingest/features/stats"
	"docchat/ingest/internal/adapter/gemini"
	"docchat/ingest/internal/adapter/openai"
	"docchat/ingest/internal/blob"
	"docchat/ingest/internal/config"
	"docchat/ingest/internal/embedding"
	"docchat/ingest/internal/extract"
	"docchat/ingest/internal/ingest"
	"docchat/ingest/internal/middleware"
	"docchat/ingest/internal/worker"
)

type App struct {
	Handler      http.Handler
	Orchestrator *ingest.Orchestrator
	Consumer     *worker.DocumentConsumer
	JobService   *job.Service

	cfg *config.Config
}

// New wires the pipeline and the HTTP surface. Runs started by the
// consumer are canceled when ctx is done.
func New(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*App, error) {
	factory, err := NewEmbeddingFactory(cfg)
	if err != nil {
		return nil, err
	}

	blobs := blob.NewFSStore(cfg.UploadDir)
	orch, err := ingest.New(ingest.Deps{
		Store:     deps.Store,
		Blobs:     blobs,
		Extractor: extract.NewExtractor(),
		Embedders: factory,
		Limiter:   embedding.NewLimiter(cfg.EmbedRatePerSecond, cfg.EmbedRateBurst),
		Logger:    logger,
	}, IngestOptions(cfg))
	if err != nil {
		return nil, err
	}

	// Feature: Job (postgres only)
	var (
		jobService   *job.Service
		recorder     worker.FailureRecorder
		statsHandler *stats.Handler
	)
	if deps.DB != nil {
		jobService = job.NewService(job.NewPostgresRepo(deps.DB), deps.Publisher, logger)
		recorder = jobService
		statsHandler = stats.NewHandler(document.NewPostgresRepo(deps.DB), jobService)
	}

	// Feature: Document
	docService := document.NewService(orch, deps.Store, deps.Publisher)
	uploads := document.NewUploadService(Registrar(deps), blobs)
	docHandler := document.NewHandler(docService, uploads)

	return &App{
		Handler:      routes(docHandler, jobService, statsHandler),
		Orchestrator: orch,
		Consumer:     worker.NewDocumentConsumer(ctx, orch, recorder),
		JobService:   jobService,
		cfg:          cfg,
	}, nil
}

func routes(docHandler *document.Handler, jobService *job.Service, statsHandler *stats.Handler) http.Handler {
	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()

	mux.Handle("POST /documents", middleware.CorrelationID(enableCORS(docHandler.Upload)))
	mux.Handle("POST /documents/process", middleware.CorrelationID(enableCORS(docHandler.Process)))
	mux.Handle("POST /documents/process/async", middleware.CorrelationID(enableCORS(docHandler.ProcessAsync)))
	mux.Handle("GET /documents/{id}/status", middleware.CorrelationID(enableCORS(docHandler.Status)))

	if jobService != nil {
		jobHandler := job.NewHandler(jobService)
		mux.Handle("GET /jobs/failed", middleware.CorrelationID(enableCORS(jobHandler.List)))
		mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(enableCORS(jobHandler.Retry)))
	}

	if statsHandler != nil {
		mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return mux
}

// NewEmbeddingFactory selects the provider named by EMBEDDING_PROVIDER.
func NewEmbeddingFactory(cfg *config.Config) (embedding.Factory, error) {
	switch cfg.EmbeddingProvider {
	case config.ProviderOpenAI:
		return openai.NewFactory(openai.Config{
			Model:     cfg.EmbeddingModel,
			BaseURL:   cfg.EmbeddingBaseURL,
			Dimension: cfg.EmbeddingDimension,
			Client:    &http.Client{Timeout: time.Duration(cfg.EmbedTimeoutSeconds) * time.Second},
		}), nil
	case config.ProviderGemini:
		var opts []option.ClientOption
		if cfg.EmbeddingBaseURL != "" {
			opts = append(opts, option.WithEndpoint(cfg.EmbeddingBaseURL))
		}
		return gemini.NewFactory(gemini.Config{
			Model:     cfg.EmbeddingModel,
			Dimension: cfg.EmbeddingDimension,
		}, opts...), nil
	}
	return nil, fmt.Errorf("%w: EMBEDDING_PROVIDER %q", config.ErrInvalid, cfg.EmbeddingProvider)
}

func IngestOptions(cfg *config.Config) ingest.Options {
	opts := ingest.DefaultOptions()
	opts.ChunkSize = cfg.ChunkSize
	opts.ChunkOverlap = cfg.ChunkOverlap
	opts.Window = cfg.EmbedConcurrency
	opts.MaxAttempts = cfg.EmbedMaxAttempts
	if cfg.EmbedTimeoutSeconds > 0 {
		opts.EmbedTimeout = time.Duration(cfg.EmbedTimeoutSeconds) * time.Second
	}
	if cfg.EmbedBackoffMS > 0 {
		opts.BaseBackoff = time.Duration(cfg.EmbedBackoffMS) * time.Millisecond
	}
	if cfg.StaleAfterSeconds > 0 {
		opts.StaleAfter = time.Duration(cfg.StaleAfterSeconds) * time.Second
	}
	return opts
}

// Run serves HTTP until ctx is done.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// RunWorker consumes ingest.document until ctx is done.
func (a *App) RunWorker(ctx context.Context) error {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxAttempts = a.cfg.NSQMaxAttempts
	nsqCfg.MaxInFlight = a.cfg.EmbedConcurrency

	consumer, err := nsq.NewConsumer(config.TopicIngestDocument, config.ChannelIngestWorker, nsqCfg)
	if err != nil {
		return fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.SetLogger(nsqLogger{}, nsq.LogLevelWarning)
	consumer.AddHandler(a.Consumer)

	if err := consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
		return fmt.Errorf("nsq lookupd error: %w", err)
	}
	slog.Info("document consumer connected", "topic", config.TopicIngestDocument, "channel", config.ChannelIngestWorker)

	<-ctx.Done()
	consumer.Stop()
	<-consumer.StopChan
	return nil
}

// nsqLogger routes go-nsq's log lines into slog.
type nsqLogger struct{}

func (nsqLogger) Output(_ int, s string) error {
	slog.Warn("nsq", "message", s)
	return nil
}
