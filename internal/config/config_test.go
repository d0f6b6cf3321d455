package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := parse(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 384, cfg.EmbeddingDimension)
	assert.Equal(t, 5*time.Second, cfg.NativeCallTimeout)
	assert.Equal(t, "openai", cfg.EmbeddingFallback)
	assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingAPIModel)
	assert.Equal(t, 3, cfg.MinContextChunks)
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 100, cfg.ChunkOverlap)
	assert.InDelta(t, 0.8, cfg.DefaultThreshold, 1e-9)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
}

func TestParse_RejectsUnknownBackend(t *testing.T) {
	_, err := parse(map[string]string{"VECTOR_BACKEND": "faiss"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VECTOR_BACKEND")
}

func TestParse_RejectsZeroMinContext(t *testing.T) {
	_, err := parse(map[string]string{"MIN_CONTEXT_CHUNKS": "0"})
	require.Error(t, err)
}

func TestReadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rag.yaml")
	content := "chunk_size: 800\nRERANKER: llm\nallowed_origins:\n  - https://a.example\n  - https://b.example\nunset:\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	overlay, err := readOverlay(path)
	require.NoError(t, err)

	assert.Equal(t, "800", overlay["CHUNK_SIZE"])
	assert.Equal(t, "llm", overlay["RERANKER"])
	assert.Equal(t, "https://a.example,https://b.example", overlay["ALLOWED_ORIGINS"])
	assert.NotContains(t, overlay, "UNSET")

	cfg, err := parse(overlay)
	require.NoError(t, err)
	assert.Equal(t, 800, cfg.ChunkSize)
	assert.Equal(t, "llm", cfg.Reranker)
	assert.Len(t, cfg.AllowedOrigins, 2)
}

func TestLoad_EnvironmentOverridesOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rag.yaml")
	require.NoError(t, os.WriteFile(path, []byte("CHUNK_SIZE: 800\nDEFAULT_TOP_K: 7\n"), 0o600))

	t.Setenv("RAG_CONFIG", path)
	t.Setenv("CHUNK_SIZE", "500")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, 7, cfg.DefaultTopK)
}

func TestParse_StoreBackend(t *testing.T) {
	cfg, err := parse(map[string]string{"STORE_BACKEND": "memory"})
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.True(t, cfg.TagDocuments)

	_, err = parse(map[string]string{"STORE_BACKEND": "sqlite"})
	assert.Error(t, err)
}
