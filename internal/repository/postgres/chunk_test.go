package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuScriptHub/Neon-RAG/internal/repository"
)

func TestBuildChunkFilter_Empty(t *testing.T) {
	where, args, err := buildChunkFilter(nil)
	require.NoError(t, err)
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestBuildChunkFilter_IgnoresUnknownKeys(t *testing.T) {
	where, args, err := buildChunkFilter(repository.ChunkFilter{
		"document_id":         "pdf|report.pdf",
		"1=1; DROP TABLE x --": "boom",
		"embedding":           "[1,2,3]",
	})
	require.NoError(t, err)
	assert.Equal(t, " WHERE document_id = $1", where)
	assert.Equal(t, []any{"pdf|report.pdf"}, args)
}

func TestBuildChunkFilter_AllowListedOrder(t *testing.T) {
	where, args, err := buildChunkFilter(repository.ChunkFilter{
		"metadata":    map[string]any{"main_topic": "finance"},
		"chunk_index": "2",
		"chunk_id":    "5b0c1d2e-0000-4000-8000-000000000000",
	})
	require.NoError(t, err)
	assert.Equal(t, " WHERE id = $1 AND chunk_index = $2 AND metadata @> $3::jsonb", where)
	require.Len(t, args, 3)
	assert.Equal(t, "5b0c1d2e-0000-4000-8000-000000000000", args[0])
	assert.Equal(t, 2, args[1])
	assert.JSONEq(t, `{"main_topic":"finance"}`, string(args[2].([]byte)))
}

func TestBuildChunkFilter_BadIndex(t *testing.T) {
	_, _, err := buildChunkFilter(repository.ChunkFilter{"chunk_index": "two"})
	require.Error(t, err)
}

func TestVectorParam_NilIsNull(t *testing.T) {
	assert.Nil(t, vectorParam(nil))
	assert.NotNil(t, vectorParam([]float32{0.1}))
	assert.Nil(t, vectorSlice(nil))
}

func TestClassifyWriteError(t *testing.T) {
	dup := &pgconn.PgError{
		Code:           "23505",
		ConstraintName: chunkIndexConstraint,
		Detail:         "Key (document_id, chunk_index)=(text|a.txt, 1) already exists.",
	}
	assert.ErrorIs(t, classifyWriteError(dup), repository.ErrDuplicateChunkIndex)

	otherKey := &pgconn.PgError{Code: "23505", ConstraintName: "document_chunks_pkey"}
	assert.Same(t, error(otherKey), classifyWriteError(otherKey))

	plain := errors.New("connection reset")
	assert.Equal(t, plain, classifyWriteError(plain))
}
