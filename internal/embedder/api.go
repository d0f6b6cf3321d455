package embedder

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"

	"github.com/ManuScriptHub/Neon-RAG/internal/apperr"
)

// APIFlavor selects the request dialect of an OpenAI-compatible embeddings API.
type APIFlavor string

const (
	// FlavorVoyage sends input_type and output_dimension.
	FlavorVoyage APIFlavor = "voyage"
	// FlavorOpenAI sends the standard dimensions field.
	FlavorOpenAI APIFlavor = "openai"
)

// APIConfig holds configuration for the external embedding API.
type APIConfig struct {
	Flavor     APIFlavor
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int     // requested output size, 0 for the model default
	RPS        float64 // client-side request rate, 0 for unlimited
	HTTPClient *http.Client
}

// APIEmbedder calls an OpenAI-compatible embeddings endpoint.
type APIEmbedder struct {
	client     openai.Client
	flavor     APIFlavor
	model      string
	dimensions int
	limiter    *rate.Limiter
}

// NewAPIEmbedder creates an external embedding provider. The client never
// retries; the embedding chain decides what happens on failure.
func NewAPIEmbedder(cfg APIConfig) *APIEmbedder {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	flavor := cfg.Flavor
	if flavor == "" {
		flavor = FlavorOpenAI
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}

	return &APIEmbedder{
		client:     openai.NewClient(opts...),
		flavor:     flavor,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		limiter:    limiter,
	}
}

type modelKey struct{}

// ContextWithModel asks the fallback providers to use model instead of their
// configured one for calls made with the returned context.
func ContextWithModel(ctx context.Context, model string) context.Context {
	if model == "" {
		return ctx
	}
	return context.WithValue(ctx, modelKey{}, model)
}

func modelFrom(ctx context.Context, fallback string) string {
	if m, ok := ctx.Value(modelKey{}).(string); ok && m != "" {
		return m
	}
	return fallback
}

// Name returns the API flavor.
func (e *APIEmbedder) Name() string {
	return string(e.flavor)
}

// Embed embeds a single text and returns element 0 of the batch result.
func (e *APIEmbedder) Embed(ctx context.Context, text string, input InputType) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text}, input)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one request, preserving order.
func (e *APIEmbedder) EmbedBatch(ctx context.Context, texts []string, input InputType) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, apperr.Unavailable(e.Name(), "rate limiter", err)
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(modelFrom(ctx, e.model)),
	}

	var reqOpts []option.RequestOption
	switch e.flavor {
	case FlavorVoyage:
		reqOpts = append(reqOpts, option.WithJSONSet("input_type", string(input)))
		if e.dimensions > 0 {
			reqOpts = append(reqOpts, option.WithJSONSet("output_dimension", e.dimensions))
		}
	default:
		if e.dimensions > 0 {
			params.Dimensions = openai.Int(int64(e.dimensions))
		}
	}

	resp, err := e.client.Embeddings.New(ctx, params, reqOpts...)
	if err != nil {
		return nil, apperr.Provider(e.Name(), "embeddings request failed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, apperr.Provider(e.Name(),
			fmt.Sprintf("got %d embeddings for %d inputs", len(resp.Data), len(texts)), nil)
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, apperr.Provider(e.Name(), fmt.Sprintf("embedding index %d out of range", d.Index), nil)
		}
		vector := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vector[i] = float32(v)
		}
		out[d.Index] = vector
	}
	return out, nil
}

var _ Provider = (*APIEmbedder)(nil)
