package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/ManuScriptHub/Neon-RAG/internal/repository"
)

// QuestionRepo implements repository.QuestionRepository
type QuestionRepo struct {
	db *DB
}

// NewQuestionRepo creates a new question repository
func NewQuestionRepo(db *DB) *QuestionRepo {
	return &QuestionRepo{db: db}
}

// Create records a question with its query embedding
func (r *QuestionRepo) Create(ctx context.Context, q *repository.Question) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	query := `
		INSERT INTO questions (id, question_text, question_embedding)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`
	err := r.db.Pool.QueryRow(ctx, query, q.ID, q.Text, pgvector.NewVector(q.Embedding)).Scan(&q.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create question: %w", err)
	}
	return nil
}

// TextForEmbedding returns the text of a question stored with exactly this embedding
func (r *QuestionRepo) TextForEmbedding(ctx context.Context, embedding []float32) (string, error) {
	query := `SELECT question_text FROM questions WHERE question_embedding = $1 LIMIT 1`
	var text string
	err := r.db.Pool.QueryRow(ctx, query, pgvector.NewVector(embedding)).Scan(&text)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("failed to look up question: %w", err)
	}
	return text, nil
}

// Ensure QuestionRepo implements the interface
var _ repository.QuestionRepository = (*QuestionRepo)(nil)
