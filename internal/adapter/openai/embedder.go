package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/llms/openai"

	"docchat/ingest/internal/embedding"
)

const (
	ProviderName = "openai"
	DefaultModel = "text-embedding-ada-002"
)

// responseInfo records what the HTTP layer saw for one embedding request, so
// failures are classified by status code instead of error text.
type responseInfo struct {
	status     int
	retryAfter time.Duration
}

type responseKey struct{}

// recordingDoer satisfies the langchaingo HTTP client interface.
type recordingDoer struct {
	client *http.Client
}

func (d *recordingDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	if p, ok := req.Context().Value(responseKey{}).(*responseInfo); ok {
		p.status = resp.StatusCode
		p.retryAfter = embedding.ParseRetryAfter(resp.Header)
	}
	return resp, nil
}

type Config struct {
	Model     string
	BaseURL   string
	Dimension int
	Client    *http.Client
}

// Factory creates OpenAI embedders bound to a caller credential.
type Factory struct {
	cfg Config
}

func NewFactory(cfg Config) *Factory {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 1536
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &Factory{cfg: cfg}
}

func (f *Factory) Name() string   { return ProviderName }
func (f *Factory) Dimension() int { return f.cfg.Dimension }

func (f *Factory) New(ctx context.Context, cred embedding.Credential) (embedding.Embedder, error) {
	if cred.Empty() {
		return nil, &embedding.Error{Kind: embedding.KindInvalidCredential, Provider: ProviderName, Err: errors.New("api key is required")}
	}

	opts := []openai.Option{
		openai.WithToken(cred.Reveal()),
		openai.WithEmbeddingModel(f.cfg.Model),
		openai.WithHTTPClient(&recordingDoer{client: f.cfg.Client}),
	}
	if f.cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(f.cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, &embedding.Error{Kind: embedding.KindInvalidRequest, Provider: ProviderName, Err: err}
	}

	e := &Embedder{llm: llm, model: f.cfg.Model}
	return embedding.NewValidating(e, ProviderName, f.cfg.Dimension), nil
}

type Embedder struct {
	llm   *openai.LLM
	model string
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	p := &responseInfo{}
	ctx = context.WithValue(ctx, responseKey{}, p)

	slog.DebugContext(ctx, "embedding content", "provider", ProviderName, "model", e.model, "length", len(text))
	start := time.Now()
	vectors, err := e.llm.CreateEmbedding(ctx, []string{text})
	if err != nil {
		slog.WarnContext(ctx, "embedding failed", "provider", ProviderName, "status", p.status, "duration_ms", time.Since(start).Milliseconds())
		return nil, classify(p, err)
	}

	if len(vectors) != 1 {
		return nil, &embedding.Error{
			Kind:     embedding.KindMalformedResponse,
			Provider: ProviderName,
			Err:      fmt.Errorf("expected 1 embedding, got %d", len(vectors)),
		}
	}
	return vectors[0], nil
}

func classify(p *responseInfo, err error) error {
	if p.status == 0 {
		return embedding.FromTransport(ProviderName, err)
	}
	if p.status == http.StatusOK {
		// The request went through but the body could not be used.
		return &embedding.Error{Kind: embedding.KindMalformedResponse, Provider: ProviderName, StatusCode: p.status, Err: err}
	}
	return embedding.FromStatus(ProviderName, p.status, p.retryAfter, err)
}
