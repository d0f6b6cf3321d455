// Package embedder provides text embedding through an ordered chain of
// providers: the store-native pgRAG model first, external APIs after it.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/ManuScriptHub/Neon-RAG/internal/apperr"
)

// InputType tells a provider whether the text is a stored passage or a query.
type InputType string

const (
	InputPassage InputType = "document"
	InputQuery   InputType = "query"
)

// Source records which position in the chain produced a vector.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"
)

// Provider is a single embedding path.
type Provider interface {
	// Name identifies the provider in logs and results (e.g. "pgRAG", "voyage").
	Name() string

	// Embed returns the embedding of text. Implementations report a missing
	// capability with apperr.KindProviderUnavailable.
	Embed(ctx context.Context, text string, input InputType) ([]float32, error)
}

// Result is a successful embedding together with the path that produced it.
type Result struct {
	Vector   []float32
	Source   Source
	Provider string
}

// ModelConfig holds configuration for a specific embedding model.
type ModelConfig struct {
	Dimension     int // Default embedding dimension
	ContextLength int // Max tokens the model can process

	// OutputDimensions lists the other sizes the API can be asked for.
	OutputDimensions []int
	// Shortenable models accept any requested size below Dimension.
	Shortenable bool
}

var voyageOutputDimensions = []int{256, 512, 1024, 2048}

// KnownModels maps embedding model names to their configurations.
var KnownModels = map[string]ModelConfig{
	"bge-small-en-v1.5":      {Dimension: 384, ContextLength: 512},
	"all-minilm":             {Dimension: 384, ContextLength: 256},
	"nomic-embed-text":       {Dimension: 768, ContextLength: 8192},
	"mxbai-embed-large":      {Dimension: 1024, ContextLength: 512},
	"voyage-3-large":         {Dimension: 1024, ContextLength: 32000, OutputDimensions: voyageOutputDimensions},
	"voyage-3.5-lite":        {Dimension: 1024, ContextLength: 32000, OutputDimensions: voyageOutputDimensions},
	"text-embedding-3-small": {Dimension: 1536, ContextLength: 8191, Shortenable: true},
	"text-embedding-3-large": {Dimension: 3072, ContextLength: 8191, Shortenable: true},
}

// ResolveOutputDimension returns the output size to request from model so
// its vectors have want dimensions, or 0 when the model default already
// fits. requested is an explicitly configured size, 0 for none. Unknown
// models are not checked here; the chain still validates every vector.
func ResolveOutputDimension(model string, requested, want int) (int, error) {
	if requested > 0 {
		if requested != want {
			return 0, fmt.Errorf("requested %d embedding dimensions, store expects %d", requested, want)
		}
		return requested, nil
	}

	mc, ok := KnownModels[model]
	if !ok || mc.Dimension == want {
		return 0, nil
	}
	if (mc.Shortenable && want < mc.Dimension) || slices.Contains(mc.OutputDimensions, want) {
		return want, nil
	}
	return 0, fmt.Errorf("model %s produces %d-dimension embeddings and cannot produce %d", model, mc.Dimension, want)
}

// Chain tries its providers in order and returns the first valid vector.
type Chain struct {
	providers []Provider
	dimension int
	logger    *slog.Logger
}

// ChainOption is a functional option for configuring Chain.
type ChainOption func(*Chain)

// WithLogger sets the logger used to report fallbacks.
func WithLogger(logger *slog.Logger) ChainOption {
	return func(c *Chain) {
		c.logger = logger
	}
}

// NewChain creates a chain over providers, primary first. Vectors whose length
// differs from dimension are rejected; a dimension of zero disables the check.
func NewChain(dimension int, providers []Provider, opts ...ChainOption) *Chain {
	c := &Chain{
		providers: providers,
		dimension: dimension,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dimension returns the required vector length.
func (c *Chain) Dimension() int {
	return c.dimension
}

// EmbedPassage embeds a chunk of a document.
func (c *Chain) EmbedPassage(ctx context.Context, text string) (Result, error) {
	return c.embed(ctx, text, InputPassage)
}

// EmbedQuery embeds a search query.
func (c *Chain) EmbedQuery(ctx context.Context, text string) (Result, error) {
	return c.embed(ctx, text, InputQuery)
}

func (c *Chain) embed(ctx context.Context, text string, input InputType) (Result, error) {
	op := "embed_" + string(input)
	if strings.TrimSpace(text) == "" {
		return Result{}, apperr.InvalidArgument(op, "text is required")
	}
	if len(c.providers) == 0 {
		return Result{}, apperr.EmbeddingFailed(op, errors.New("no embedding providers configured"))
	}

	causes := make([]error, 0, len(c.providers))
	for i, p := range c.providers {
		vector, err := p.Embed(ctx, text, input)
		if err == nil {
			err = c.validate(vector)
		}
		if err != nil {
			causes = append(causes, fmt.Errorf("%s: %w", p.Name(), err))
			if ctx.Err() != nil {
				break
			}
			if i < len(c.providers)-1 {
				c.logger.Warn("embedding provider failed, trying next",
					"provider", p.Name(),
					"input_type", string(input),
					"kind", string(apperr.KindOf(err)),
					"error", err,
				)
			}
			continue
		}

		source := SourcePrimary
		if i > 0 {
			source = SourceFallback
		}
		return Result{Vector: vector, Source: source, Provider: p.Name()}, nil
	}

	return Result{}, apperr.EmbeddingFailed(op, causes...)
}

func (c *Chain) validate(vector []float32) error {
	if len(vector) == 0 {
		return apperr.Provider("validate", "empty embedding returned", nil)
	}
	if c.dimension > 0 && len(vector) != c.dimension {
		return apperr.Provider("validate",
			fmt.Sprintf("embedding has %d dimensions, want %d", len(vector), c.dimension), nil)
	}
	return nil
}
