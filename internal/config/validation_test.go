package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"docchat/ingest/internal/config"
)

func valid() config.Config {
	return config.Config{
		DBHost:             "localhost",
		DBUser:             "user",
		DBName:             "db",
		WeaviateHost:       "localhost:8080",
		StoreBackend:       config.StorePostgres,
		SQLitePath:         "data/ingest.db",
		EmbeddingProvider:  config.ProviderOpenAI,
		EmbeddingModel:     "text-embedding-ada-002",
		EmbeddingDimension: 1536,
		ChunkSize:          1000,
		ChunkOverlap:       200,
		EmbedConcurrency:   4,
		EmbedMaxAttempts:   5,
		EmbedRatePerSecond: 5,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
		errIs  error
	}{
		{"Valid Config", func(*config.Config) {}, nil},
		{"Missing DBHost", func(c *config.Config) { c.DBHost = "" }, config.ErrMissingRequired},
		{"Missing DBUser", func(c *config.Config) { c.DBUser = "" }, config.ErrMissingRequired},
		{"Missing DBName", func(c *config.Config) { c.DBName = "" }, config.ErrMissingRequired},
		{"SQLite ignores DB", func(c *config.Config) { c.StoreBackend = config.StoreSQLite; c.DBHost = "" }, nil},
		{"SQLite needs path", func(c *config.Config) { c.StoreBackend = config.StoreSQLite; c.SQLitePath = "" }, config.ErrMissingRequired},
		{"Weaviate needs host", func(c *config.Config) { c.StoreBackend = config.StoreWeaviate; c.WeaviateHost = "" }, config.ErrMissingRequired},
		{"Unknown backend", func(c *config.Config) { c.StoreBackend = "mongo" }, config.ErrInvalid},
		{"Unknown provider", func(c *config.Config) { c.EmbeddingProvider = "cohere" }, config.ErrInvalid},
		{"Overlap too large", func(c *config.Config) { c.ChunkOverlap = 1000 }, config.ErrInvalid},
		{"Zero window", func(c *config.Config) { c.EmbedConcurrency = 0 }, config.ErrInvalid},
		{"Known model fills dimension", func(c *config.Config) { c.EmbeddingDimension = 0 }, nil},
		{"Negative dimension", func(c *config.Config) { c.EmbeddingDimension = -1 }, config.ErrInvalid},
		{"Unknown model needs dimension", func(c *config.Config) { c.EmbeddingModel = "custom-embed"; c.EmbeddingDimension = 0 }, config.ErrMissingRequired},
		{"Unknown model with dimension", func(c *config.Config) { c.EmbeddingModel = "custom-embed"; c.EmbeddingDimension = 1024 }, nil},
		{"OpenAI model on Gemini", func(c *config.Config) { c.EmbeddingProvider = config.ProviderGemini }, config.ErrInvalid},
		{"Gemini model on OpenAI", func(c *config.Config) { c.EmbeddingModel = "gemini-embedding-001" }, config.ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.errIs == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.errIs)
		})
	}
}

func TestConfig_Validate_EmbeddingDefaults(t *testing.T) {
	tests := []struct {
		name      string
		provider  string
		model     string
		wantModel string
		wantDim   int
	}{
		{"OpenAI Default", config.ProviderOpenAI, "", "text-embedding-ada-002", 1536},
		{"Gemini Default", config.ProviderGemini, "", "gemini-embedding-001", 3072},
		{"Gemini Older Model", config.ProviderGemini, "text-embedding-004", "text-embedding-004", 768},
		{"OpenAI Large", config.ProviderOpenAI, "text-embedding-3-large", "text-embedding-3-large", 3072},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			cfg.EmbeddingProvider = tt.provider
			cfg.EmbeddingModel = tt.model
			cfg.EmbeddingDimension = 0

			assert.NoError(t, cfg.Validate())
			assert.Equal(t, tt.wantModel, cfg.EmbeddingModel)
			assert.Equal(t, tt.wantDim, cfg.EmbeddingDimension)
		})
	}
}
