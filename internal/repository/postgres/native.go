package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// pgRAG extension names.
const (
	ExtensionRAG       = "rag"
	ExtensionEmbedding = "rag_bge_small_en_v15"
	ExtensionReranker  = "rag_jina_reranker_v1_tiny_en"
)

// Native exposes the store-native pgRAG functions. Every call runs under its
// own timeout so an unreachable store fails fast.
type Native struct {
	db      *DB
	timeout time.Duration
}

// NewNative creates a pgRAG function client
func NewNative(db *DB, timeout time.Duration) *Native {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Native{db: db, timeout: timeout}
}

// ExtensionInstalled reports whether the named extension is installed
func (n *Native) ExtensionInstalled(ctx context.Context, name string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	var installed bool
	err := n.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = $1)`, name).Scan(&installed)
	if err != nil {
		return false, fmt.Errorf("failed to check extension %s: %w", name, err)
	}
	return installed, nil
}

// EmbedPassage embeds text as a document passage
func (n *Native) EmbedPassage(ctx context.Context, text string) ([]float32, error) {
	return n.embed(ctx, `SELECT rag_bge_small_en_v15.embedding_for_passage($1)::vector`, text)
}

// EmbedQuery embeds text as a search query
func (n *Native) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return n.embed(ctx, `SELECT rag_bge_small_en_v15.embedding_for_query($1)::vector`, text)
}

func (n *Native) embed(ctx context.Context, query, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	var v *pgvector.Vector
	if err := n.db.Pool.QueryRow(ctx, query, text).Scan(&v); err != nil {
		return nil, fmt.Errorf("failed to embed natively: %w", err)
	}
	return vectorSlice(v), nil
}

// ChunksByTokenCount splits text by model tokens
func (n *Native) ChunksByTokenCount(ctx context.Context, text string, size, overlap int) ([]string, error) {
	return n.split(ctx, `SELECT unnest(rag_bge_small_en_v15.chunks_by_token_count($1, $2, $3))`, text, size, overlap)
}

// ChunksByCharacterCount splits text by characters
func (n *Native) ChunksByCharacterCount(ctx context.Context, text string, size, overlap int) ([]string, error) {
	return n.split(ctx, `SELECT unnest(rag.chunks_by_character_count($1, $2, $3))`, text, size, overlap)
}

func (n *Native) split(ctx context.Context, query, text string, size, overlap int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	rows, err := n.db.Pool.Query(ctx, query, text, size, overlap)
	if err != nil {
		return nil, fmt.Errorf("failed to split natively: %w", err)
	}
	parts, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to read native chunks: %w", err)
	}
	return parts, nil
}

// RerankDistance scores a passage against a query; lower is more relevant
func (n *Native) RerankDistance(ctx context.Context, query, passage string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	var distance float64
	err := n.db.Pool.QueryRow(ctx,
		`SELECT rag_jina_reranker_v1_tiny_en.rerank_distance($1, $2)`, query, passage).Scan(&distance)
	if err != nil {
		return 0, fmt.Errorf("failed to rerank natively: %w", err)
	}
	return distance, nil
}

// TextFromPDF extracts plain text from PDF bytes
func (n *Native) TextFromPDF(ctx context.Context, data []byte) (string, error) {
	return n.extract(ctx, `SELECT rag.text_from_pdf($1)`, data)
}

// TextFromDocx extracts plain text from DOCX bytes
func (n *Native) TextFromDocx(ctx context.Context, data []byte) (string, error) {
	return n.extract(ctx, `SELECT rag.text_from_docx($1)`, data)
}

func (n *Native) extract(ctx context.Context, query string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	var text string
	if err := n.db.Pool.QueryRow(ctx, query, data).Scan(&text); err != nil {
		return "", fmt.Errorf("failed to extract text natively: %w", err)
	}
	return text, nil
}
