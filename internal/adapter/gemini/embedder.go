package gemini

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"docchat/ingest/internal/embedding"
)

const (
	ProviderName = "gemini"
	DefaultModel = "gemini-embedding-001"
	// DefaultDimension is the native output size of DefaultModel.
	DefaultDimension = 3072
)

type Config struct {
	Model     string
	Dimension int
}

// Factory creates Gemini embedders. Every run gets its own genai client
// built from the caller's key; Close releases it when the run ends.
type Factory struct {
	cfg        Config
	clientOpts []option.ClientOption
}

func NewFactory(cfg Config, opts ...option.ClientOption) *Factory {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = DefaultDimension
	}
	return &Factory{cfg: cfg, clientOpts: opts}
}

func (f *Factory) Name() string   { return ProviderName }
func (f *Factory) Dimension() int { return f.cfg.Dimension }

func (f *Factory) New(ctx context.Context, cred embedding.Credential) (embedding.Embedder, error) {
	if cred.Empty() {
		return nil, &embedding.Error{Kind: embedding.KindInvalidCredential, Provider: ProviderName, Err: errors.New("gemini api key not configured")}
	}

	opts := append(append([]option.ClientOption{}, f.clientOpts...), option.WithAPIKey(cred.Reveal()))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, &embedding.Error{Kind: embedding.KindInvalidRequest, Provider: ProviderName, Err: err}
	}

	e := &Embedder{client: client, model: f.cfg.Model}
	return embedding.NewValidating(e, ProviderName, f.cfg.Dimension), nil
}

type Embedder struct {
	client *genai.Client
	model  string
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	slog.DebugContext(ctx, "embedding content", "provider", ProviderName, "model", e.model, "length", len(text))
	em := e.client.EmbeddingModel(e.model)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		slog.WarnContext(ctx, "embedding failed", "provider", ProviderName, "error", err)
		return nil, classify(err)
	}
	if res == nil || res.Embedding == nil {
		return nil, &embedding.Error{Kind: embedding.KindMalformedResponse, Provider: ProviderName, Err: embedding.ErrEmptyEmbedding}
	}
	return res.Embedding.Values, nil
}

func (e *Embedder) Close() error {
	return e.client.Close()
}

func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return embedding.FromStatus(ProviderName, gerr.Code, embedding.ParseRetryAfter(gerr.Header), err)
	}
	return embedding.FromTransport(ProviderName, err)
}
