package embedder

import (
	"context"

	"github.com/ManuScriptHub/Neon-RAG/internal/apperr"
)

const pgragExtension = "rag_bge_small_en_v15"

// NativeFunctions is the subset of the store-native pgRAG functions used for embedding.
type NativeFunctions interface {
	ExtensionInstalled(ctx context.Context, name string) (bool, error)
	EmbedPassage(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// PGRag embeds with the bge-small-en-v1.5 model running inside PostgreSQL.
type PGRag struct {
	native NativeFunctions
}

// NewPGRag creates a store-native embedding provider.
func NewPGRag(native NativeFunctions) *PGRag {
	return &PGRag{native: native}
}

// Name returns "pgRAG".
func (p *PGRag) Name() string {
	return "pgRAG"
}

// Embed fails fast with a ProviderUnavailable error when the extension is not
// installed, without attempting the embedding call.
func (p *PGRag) Embed(ctx context.Context, text string, input InputType) ([]float32, error) {
	installed, err := p.native.ExtensionInstalled(ctx, pgragExtension)
	if err != nil {
		return nil, apperr.Unavailable("pgrag", "extension check failed", err)
	}
	if !installed {
		return nil, apperr.Unavailable("pgrag", "extension "+pgragExtension+" is not installed", nil)
	}

	var vector []float32
	if input == InputQuery {
		vector, err = p.native.EmbedQuery(ctx, text)
	} else {
		vector, err = p.native.EmbedPassage(ctx, text)
	}
	if err != nil {
		return nil, apperr.Provider("pgrag", "embedding call failed", err)
	}
	return vector, nil
}

var _ Provider = (*PGRag)(nil)
