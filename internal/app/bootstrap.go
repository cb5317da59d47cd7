package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"docchat/ingest/features/document"
	"docchat/ingest/internal/adapter/pgvector"
	"docchat/ingest/internal/adapter/sqlite"
	wstore "docchat/ingest/internal/adapter/weaviate"
	"docchat/ingest/internal/config"
	"docchat/ingest/internal/store"
)

// Publisher is satisfied by *nsq.Producer.
type Publisher interface {
	Publish(topic string, body []byte) error
}

type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

type Dependencies struct {
	// DB is nil for the sqlite backend.
	DB *sql.DB
	// SQLite is set only for the sqlite backend.
	SQLite    *sqlite.Store
	Store     store.Store
	Publisher Publisher

	closers []func() error
}

func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

// Registrar returns the document registry of the connected backend.
func Registrar(deps *Dependencies) document.Registrar {
	if deps.SQLite != nil {
		return deps.SQLite
	}
	return document.NewPostgresRepo(deps.DB)
}

// Bootstrap connects the configured storage backend and the NSQ producer.
// Postgres migrations run on startup.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	deps := &Dependencies{}

	switch cfg.StoreBackend {
	case config.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite dir error: %w", err)
		}
		sq, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite open error: %w", err)
		}
		deps.SQLite = sq
		deps.Store = sq
		deps.closers = append(deps.closers, sq.Close)

	case config.StorePostgres, config.StoreWeaviate:
		db, err := OpenPostgres(cfg)
		if err != nil {
			return nil, err
		}
		deps.DB = db
		deps.closers = append(deps.closers, db.Close)

		if err := Migrate(db, cfg.MigrationPath); err != nil {
			_ = deps.Close()
			return nil, err
		}

		chunks, err := chunkStore(ctx, cfg, db)
		if err != nil {
			_ = deps.Close()
			return nil, err
		}
		deps.Store = store.Composite{DocumentStore: document.NewPostgresRepo(db), ChunkStore: chunks}

	default:
		return nil, fmt.Errorf("%w: STORE_BACKEND %q", config.ErrInvalid, cfg.StoreBackend)
	}

	if cfg.StoreBackend != config.StoreSQLite {
		// NSQ Producer
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			_ = deps.Close()
			return nil, fmt.Errorf("nsq producer error: %w", err)
		}
		deps.Publisher = producer
		deps.closers = append(deps.closers, func() error { producer.Stop(); return nil })

		createTopics(cfg.NSQDHTTP)
	}

	return deps, nil
}

func chunkStore(ctx context.Context, cfg *config.Config, db *sql.DB) (store.ChunkStore, error) {
	if cfg.StoreBackend != config.StoreWeaviate {
		return pgvector.NewStore(db), nil
	}

	wClient, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
	if err != nil {
		return nil, fmt.Errorf("weaviate client error: %w", err)
	}
	vecStore := wstore.NewStore(wClient)

	delay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	if err := EnsureSchemaWithRetry(ctx, vecStore, cfg.BootstrapRetryAttempts, delay); err != nil {
		return nil, fmt.Errorf("weaviate schema error: %w", err)
	}
	return vecStore, nil
}

// OpenPostgres opens the database and waits for it to answer.
func OpenPostgres(cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1)
		time.Sleep(retryDelay)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return db, nil
}

// Migrate applies the postgres migrations found at path.
func Migrate(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	slog.Info("migrations applied", "path", path)
	return nil
}

func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicIngestDocument)
	}()
}

// EnsureSchemaWithRetry retries the schema check until it succeeds or the
// attempts run out.
func EnsureSchemaWithRetry(ctx context.Context, s SchemaEnsurer, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = s.EnsureSchema(ctx); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}
