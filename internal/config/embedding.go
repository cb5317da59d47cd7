package config

import "fmt"

// embeddingModel describes a model whose provider and native vector size
// are known.
type embeddingModel struct {
	provider  string
	dimension int
}

var knownModels = map[string]embeddingModel{
	"text-embedding-ada-002": {ProviderOpenAI, 1536},
	"text-embedding-3-small": {ProviderOpenAI, 1536},
	"text-embedding-3-large": {ProviderOpenAI, 3072},
	"gemini-embedding-001":   {ProviderGemini, 3072},
	"text-embedding-004":     {ProviderGemini, 768},
}

var defaultModels = map[string]string{
	ProviderOpenAI: "text-embedding-ada-002",
	ProviderGemini: "gemini-embedding-001",
}

// resolveEmbedding fills EMBEDDING_MODEL and EMBEDDING_DIMENSION from the
// provider when they were left unset, and rejects a known model configured
// for the wrong provider.
func (c *Config) resolveEmbedding() error {
	if _, ok := defaultModels[c.EmbeddingProvider]; !ok {
		return fmt.Errorf("%w: EMBEDDING_PROVIDER %q", ErrInvalid, c.EmbeddingProvider)
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = defaultModels[c.EmbeddingProvider]
	}

	known, ok := knownModels[c.EmbeddingModel]
	if ok && known.provider != c.EmbeddingProvider {
		return fmt.Errorf("%w: EMBEDDING_MODEL %q is a %s model, EMBEDDING_PROVIDER is %s",
			ErrInvalid, c.EmbeddingModel, known.provider, c.EmbeddingProvider)
	}

	switch {
	case c.EmbeddingDimension < 0:
		return fmt.Errorf("%w: EMBEDDING_DIMENSION must be positive", ErrInvalid)
	case c.EmbeddingDimension > 0:
		return nil
	case ok:
		c.EmbeddingDimension = known.dimension
		return nil
	}
	return fmt.Errorf("%w: EMBEDDING_DIMENSION for model %q", ErrMissingRequired, c.EmbeddingModel)
}
