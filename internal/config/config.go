package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

const (
	StorePostgres = "postgres"
	StoreWeaviate = "weaviate"
	StoreSQLite   = "sqlite"

	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"docchat"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"docchat"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd     string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost       string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP       string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NSQMaxMsgSize  int64  `envconfig:"NSQ_MAX_MSG_SIZE" default:"1048576"`
	NSQMaxAttempts uint16 `envconfig:"NSQ_MAX_ATTEMPTS" default:"5"`

	// Storage
	StoreBackend string `envconfig:"STORE_BACKEND" default:"postgres"`
	SQLitePath   string `envconfig:"SQLITE_PATH" default:"data/ingest.db"`
	UploadDir    string `envconfig:"UPLOAD_DIR" default:"./uploads"`

	// Embedding provider. The credential is never configured here; it
	// arrives with each request. Model and dimension default per provider.
	EmbeddingProvider  string  `envconfig:"EMBEDDING_PROVIDER" default:"openai"`
	EmbeddingModel     string  `envconfig:"EMBEDDING_MODEL"`
	EmbeddingDimension int     `envconfig:"EMBEDDING_DIMENSION"`
	EmbeddingBaseURL   string  `envconfig:"EMBEDDING_BASE_URL"`
	EmbedRatePerSecond float64 `envconfig:"EMBED_RATE_PER_SECOND" default:"5"`
	EmbedRateBurst     int     `envconfig:"EMBED_RATE_BURST" default:"5"`

	// Pipeline
	ChunkSize           int `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap        int `envconfig:"CHUNK_OVERLAP" default:"200"`
	EmbedConcurrency    int `envconfig:"EMBED_CONCURRENCY" default:"4"`
	EmbedTimeoutSeconds int `envconfig:"EMBED_TIMEOUT_SECONDS" default:"60"`
	EmbedMaxAttempts    int `envconfig:"EMBED_MAX_ATTEMPTS" default:"5"`
	EmbedBackoffMS      int `envconfig:"EMBED_BACKOFF_MS" default:"500"`
	StaleAfterSeconds   int `envconfig:"STALE_AFTER_SECONDS" default:"900"`

	EnableAPI     bool   `envconfig:"ENABLE_API" default:"true"`
	EnableWorker  bool   `envconfig:"ENABLE_WORKER" default:"true"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Server
	ServerPort int `envconfig:"SERVER_PORT" default:"8081"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile  string `envconfig:"LOG_FILE"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration. Unset embedding model and dimension
// are filled in from the provider first.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StorePostgres, StoreWeaviate:
		if c.DBHost == "" {
			return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
		}
		if c.DBUser == "" {
			return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
		}
		if c.DBName == "" {
			return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
		}
		if c.StoreBackend == StoreWeaviate && c.WeaviateHost == "" {
			return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: SQLITE_PATH", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: STORE_BACKEND %q", ErrInvalid, c.StoreBackend)
	}

	if err := c.resolveEmbedding(); err != nil {
		return err
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: CHUNK_SIZE must be positive", ErrInvalid)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be in [0, CHUNK_SIZE)", ErrInvalid)
	}
	if c.EmbedConcurrency <= 0 {
		return fmt.Errorf("%w: EMBED_CONCURRENCY must be positive", ErrInvalid)
	}
	if c.EmbedMaxAttempts <= 0 {
		return fmt.Errorf("%w: EMBED_MAX_ATTEMPTS must be positive", ErrInvalid)
	}
	if c.EmbedRatePerSecond <= 0 {
		return fmt.Errorf("%w: EMBED_RATE_PER_SECOND must be positive", ErrInvalid)
	}
	return nil
}
