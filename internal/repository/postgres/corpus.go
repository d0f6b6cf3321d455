package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ManuScriptHub/Neon-RAG/internal/repository"
)

// CorpusRepo implements repository.CorpusRepository
type CorpusRepo struct {
	db *DB
}

// NewCorpusRepo creates a new corpus repository
func NewCorpusRepo(db *DB) *CorpusRepo {
	return &CorpusRepo{db: db}
}

// GetOrCreate returns the user's corpus with the given key, creating it when absent
func (r *CorpusRepo) GetOrCreate(ctx context.Context, userID, key string) (*repository.Corpus, error) {
	// The no-op update makes RETURNING yield the existing row on conflict.
	query := `
		INSERT INTO corpora (id, user_id, corpus_key)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, corpus_key) DO UPDATE SET corpus_key = EXCLUDED.corpus_key
		RETURNING id, user_id, corpus_key, created_at
	`
	var c repository.Corpus
	err := r.db.Pool.QueryRow(ctx, query, uuid.New(), userID, key).Scan(&c.ID, &c.UserID, &c.Key, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create corpus: %w", err)
	}
	return &c, nil
}

// GetByKey retrieves a corpus by its key
func (r *CorpusRepo) GetByKey(ctx context.Context, key string) (*repository.Corpus, error) {
	query := `
		SELECT id, user_id, corpus_key, created_at
		FROM corpora
		WHERE corpus_key = $1
		ORDER BY created_at
		LIMIT 1
	`
	var c repository.Corpus
	err := r.db.Pool.QueryRow(ctx, query, key).Scan(&c.ID, &c.UserID, &c.Key, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get corpus: %w", err)
	}
	return &c, nil
}

// Ensure CorpusRepo implements the interface
var _ repository.CorpusRepository = (*CorpusRepo)(nil)
