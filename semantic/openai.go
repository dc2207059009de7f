package semantic

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIConfig configures an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL points at any OpenAI-compatible API. Empty uses the SDK default.
	BaseURL string

	APIKey string

	// Model is the embedding model. Default: text-embedding-3-small
	Model string

	// Dimensions requests shortened vectors from models that support it.
	Dimensions int64

	// RequestTimeout bounds each HTTP attempt. Zero leaves the SDK default.
	RequestTimeout time.Duration
}

// OpenAIEmbedder calls the /embeddings endpoint of an OpenAI-compatible API.
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int64
}

// NewOpenAIEmbedder creates an embedder. Retries are left to the caller's
// resilience policy, so the SDK's own retries are disabled.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	if cfg.Model == "" {
		cfg.Model = openai.EmbeddingModelTextEmbedding3Small
	}
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
	}
	return &OpenAIEmbedder{
		client:     openai.NewClient(opts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

// Model returns the configured model name.
func (e *OpenAIEmbedder) Model() string { return e.model }

// Embed requests one vector per text in a single API call.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: e.model,
	}
	if e.dimensions > 0 {
		params.Dimensions = openai.Int(e.dimensions)
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}

// Ensure OpenAIEmbedder implements Embedder
var _ Embedder = (*OpenAIEmbedder)(nil)
