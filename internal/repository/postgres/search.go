package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/ManuScriptHub/Neon-RAG/internal/repository"
)

// RecencyScore is the neutral raw score given to chunks found by recency.
const RecencyScore = 0.5

// ChunkSearcher runs the vector-distance and recency queries over document_chunks
type ChunkSearcher struct {
	db *DB
}

// NewChunkSearcher creates a new chunk searcher
func NewChunkSearcher(db *DB) *ChunkSearcher {
	return &ChunkSearcher{db: db}
}

// Nearest returns chunks of the given documents whose cosine distance to the
// vector is strictly below threshold, closest first.
func (s *ChunkSearcher) Nearest(ctx context.Context, documentIDs []string, vector []float32, threshold float64, topK int) ([]repository.ScoredChunk, error) {
	query := `
		SELECT ` + chunkColumns + `, score
		FROM (
			SELECT ` + chunkColumns + `, embedding <=> $1 AS score
			FROM document_chunks
			WHERE document_id = ANY($2) AND embedding IS NOT NULL
		) scored
		WHERE score < $3
		ORDER BY score
		LIMIT $4
	`
	rows, err := s.db.Pool.Query(ctx, query, pgvector.NewVector(vector), documentIDs, threshold, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to run vector search: %w", err)
	}
	return collectScored(rows, nil)
}

// Recent returns the most recently created chunks of the given documents,
// each with RecencyScore.
func (s *ChunkSearcher) Recent(ctx context.Context, documentIDs []string, topK int) ([]repository.ScoredChunk, error) {
	query := `
		SELECT ` + chunkColumns + `
		FROM document_chunks
		WHERE document_id = ANY($1)
		ORDER BY created_at DESC, chunk_index
		LIMIT $2
	`
	rows, err := s.db.Pool.Query(ctx, query, documentIDs, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to run recency search: %w", err)
	}
	score := RecencyScore
	return collectScored(rows, &score)
}

// collectScored scans chunk rows. When fixed is nil the score is read from
// the trailing column.
func collectScored(rows pgx.Rows, fixed *float64) ([]repository.ScoredChunk, error) {
	defer rows.Close()

	var out []repository.ScoredChunk
	for rows.Next() {
		var sc repository.ScoredChunk
		var embedding *pgvector.Vector
		var metadataJSON []byte

		dest := []any{&sc.ID, &sc.DocumentID, &sc.ChunkIndex, &sc.Text, &embedding,
			&metadataJSON, &sc.CreatedAt, &sc.UpdatedAt}
		if fixed == nil {
			dest = append(dest, &sc.Score)
		} else {
			sc.Score = *fixed
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}

		sc.Embedding = vectorSlice(embedding)
		sc.Metadata = map[string]any{}
		if len(metadataJSON) > 0 {
			if err := unmarshalMetadata(metadataJSON, &sc.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search rows: %w", err)
	}
	return out, nil
}
var _ repository.ChunkSearcher = (*ChunkSearcher)(nil)
