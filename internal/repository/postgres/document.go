package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ManuScriptHub/Neon-RAG/internal/repository"
)

// DocumentRepo implements repository.DocumentRepository
type DocumentRepo struct {
	db *DB
}

// NewDocumentRepo creates a new document repository
func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// Upsert creates a document or refreshes its tags if it already exists
func (r *DocumentRepo) Upsert(ctx context.Context, doc *repository.Document) error {
	tagsJSON, err := json.Marshal(doc.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	query := `
		INSERT INTO documents (id, corpus_id, file_type, file_name, tags)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET corpus_id = EXCLUDED.corpus_id, tags = EXCLUDED.tags, updated_at = NOW()
		RETURNING created_at, updated_at
	`
	err = r.db.Pool.QueryRow(ctx, query, doc.ID, doc.CorpusID, doc.FileType, doc.FileName, tagsJSON).
		Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

// GetByID retrieves a document by ID
func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*repository.Document, error) {
	query := `
		SELECT id, corpus_id, file_type, file_name, tags, created_at, updated_at
		FROM documents
		WHERE id = $1
	`
	var doc repository.Document
	var tagsJSON []byte
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&doc.ID, &doc.CorpusID, &doc.FileType, &doc.FileName, &tagsJSON,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &doc.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	return &doc, nil
}

// ListIDsByCorpus returns the IDs of all documents in a corpus
func (r *DocumentRepo) ListIDsByCorpus(ctx context.Context, corpusID uuid.UUID) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id FROM documents WHERE corpus_id = $1`, corpusID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan document ids: %w", err)
	}
	return ids, nil
}

// Ensure DocumentRepo implements the interface
var _ repository.DocumentRepository = (*DocumentRepo)(nil)
