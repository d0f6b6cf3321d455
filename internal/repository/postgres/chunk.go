package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/ManuScriptHub/Neon-RAG/internal/repository"
)

// chunkIndexConstraint keeps chunk_index unique per document.
const chunkIndexConstraint = "document_chunks_document_index_key"

const chunkColumns = `id, document_id, chunk_index, chunk_text, embedding, metadata, created_at, updated_at`

// chunkFilterColumns maps the allow-listed filter keys to their columns.
var chunkFilterColumns = map[string]string{
	"chunk_id":    "id",
	"document_id": "document_id",
	"chunk_index": "chunk_index",
	"chunk_text":  "chunk_text",
	"metadata":    "metadata",
}

// ChunkRepo implements repository.ChunkRepository
type ChunkRepo struct {
	db *DB
}

// NewChunkRepo creates a new chunk repository
func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// List returns chunks matching the filter ordered by document and index.
// A limit of zero or less returns every match.
func (r *ChunkRepo) List(ctx context.Context, filter repository.ChunkFilter, limit int) ([]*repository.Chunk, error) {
	where, args, err := buildChunkFilter(filter)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + chunkColumns + ` FROM document_chunks` + where + ` ORDER BY document_id, chunk_index`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	return collectChunks(rows)
}

// Get retrieves a chunk by ID
func (r *ChunkRepo) Get(ctx context.Context, id string) (*repository.Chunk, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, repository.ErrNotFound
	}
	row := r.db.Pool.QueryRow(ctx, `SELECT `+chunkColumns+` FROM document_chunks WHERE id = $1`, id)
	return scanChunkRow(row)
}

// Create inserts a chunk and returns the stored row
func (r *ChunkRepo) Create(ctx context.Context, chunk *repository.Chunk) (*repository.Chunk, error) {
	id := chunk.ID
	if id == "" {
		id = uuid.New().String()
	}
	metadataJSON, err := marshalMetadata(chunk.Metadata)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO document_chunks (id, document_id, chunk_index, chunk_text, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + chunkColumns
	row := r.db.Pool.QueryRow(ctx, query,
		id, chunk.DocumentID, chunk.ChunkIndex, chunk.Text, vectorParam(chunk.Embedding), metadataJSON)
	created, err := scanChunkRow(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunk: %w", classifyWriteError(err))
	}
	return created, nil
}

// Update changes the given fields and returns the stored row
func (r *ChunkRepo) Update(ctx context.Context, id string, update repository.ChunkUpdate) (*repository.Chunk, error) {
	if update.Empty() {
		return r.Get(ctx, id)
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, repository.ErrNotFound
	}

	sets := make([]string, 0, 5)
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.ChunkIndex != nil {
		add("chunk_index", *update.ChunkIndex)
	}
	if update.Text != nil {
		add("chunk_text", *update.Text)
	}
	if update.Embedding != nil {
		add("embedding", pgvector.NewVector(update.Embedding))
	}
	if update.Metadata != nil {
		metadataJSON, err := marshalMetadata(update.Metadata)
		if err != nil {
			return nil, err
		}
		add("metadata", metadataJSON)
	}
	sets = append(sets, "updated_at = NOW()")

	query := `UPDATE document_chunks SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + chunkColumns
	updated, err := scanChunkRow(r.db.Pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update chunk: %w", classifyWriteError(err))
	}
	return updated, nil
}

// Delete removes a chunk and reports whether it existed
func (r *ChunkRepo) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM document_chunks WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete chunk: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// DeleteByDocument removes all chunks of a document
func (r *ChunkRepo) DeleteByDocument(ctx context.Context, documentID string) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return result.RowsAffected(), nil
}

// ListMissingEmbedding returns the oldest chunks that have no embedding yet
func (r *ChunkRepo) ListMissingEmbedding(ctx context.Context, limit int) ([]*repository.Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM document_chunks WHERE embedding IS NULL ORDER BY created_at LIMIT $1`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending chunks: %w", err)
	}
	return collectChunks(rows)
}

// buildChunkFilter renders the allow-listed filter keys as a WHERE clause.
// Unknown keys are dropped.
func buildChunkFilter(filter repository.ChunkFilter) (string, []any, error) {
	var conds []string
	var args []any

	for _, key := range repository.ChunkFilterFields {
		value, ok := filter[key]
		if !ok {
			continue
		}
		column := chunkFilterColumns[key]

		switch key {
		case "metadata":
			raw, err := json.Marshal(value)
			if err != nil {
				return "", nil, fmt.Errorf("failed to marshal metadata filter: %w", err)
			}
			args = append(args, raw)
			conds = append(conds, fmt.Sprintf("%s @> $%d::jsonb", column, len(args)))
		case "chunk_index":
			index, err := toInt(value)
			if err != nil {
				return "", nil, fmt.Errorf("invalid chunk_index filter: %w", err)
			}
			args = append(args, index)
			conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
		default:
			args = append(args, fmt.Sprint(value))
			conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
		}
	}

	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return b, nil
}

// uniqueViolation is the SQLSTATE of a unique constraint failure.
const uniqueViolation = "23505"

// classifyWriteError maps a (document_id, chunk_index) conflict onto
// repository.ErrDuplicateChunkIndex.
func classifyWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == chunkIndexConstraint {
		return fmt.Errorf("%w: %s", repository.ErrDuplicateChunkIndex, pgErr.Detail)
	}
	return err
}

func scanChunkRow(row pgx.Row) (*repository.Chunk, error) {
	c, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func scanChunk(row pgx.Row) (*repository.Chunk, error) {
	var c repository.Chunk
	var embedding *pgvector.Vector
	var metadataJSON []byte

	if err := row.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Text, &embedding,
		&metadataJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}

	c.Embedding = vectorSlice(embedding)
	c.Metadata = map[string]any{}
	if len(metadataJSON) > 0 {
		if err := unmarshalMetadata(metadataJSON, &c.Metadata); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func unmarshalMetadata(raw []byte, m *map[string]any) error {
	if err := json.Unmarshal(raw, m); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return nil
}

func collectChunks(rows pgx.Rows) ([]*repository.Chunk, error) {
	defer rows.Close()

	var chunks []*repository.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}
	return chunks, nil
}

// Ensure ChunkRepo implements the interface
var _ repository.ChunkRepository = (*ChunkRepo)(nil)
