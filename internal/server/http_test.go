package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuScriptHub/Neon-RAG/internal/auth"
	"github.com/ManuScriptHub/Neon-RAG/internal/embedder"
	"github.com/ManuScriptHub/Neon-RAG/internal/extract"
	"github.com/ManuScriptHub/Neon-RAG/internal/ingestion"
	"github.com/ManuScriptHub/Neon-RAG/internal/llm"
	"github.com/ManuScriptHub/Neon-RAG/internal/memory"
	"github.com/ManuScriptHub/Neon-RAG/internal/ranking"
	"github.com/ManuScriptHub/Neon-RAG/internal/retrieval"
	"github.com/ManuScriptHub/Neon-RAG/internal/service"
)

// wordEmbedder maps a text to a vector by the first word it contains.
type wordEmbedder struct{}

func (wordEmbedder) vector(text string) []float32 {
	switch {
	case strings.Contains(text, "alpha"):
		return []float32{1, 0, 0}
	case strings.Contains(text, "beta"):
		return []float32{0, 1, 0}
	default:
		return []float32{0, 0, 1}
	}
}

func (e wordEmbedder) EmbedPassage(_ context.Context, text string) (embedder.Result, error) {
	return embedder.Result{Vector: e.vector(text), Source: embedder.SourcePrimary, Provider: "pgRAG"}, nil
}

func (e wordEmbedder) EmbedQuery(_ context.Context, text string) (embedder.Result, error) {
	return embedder.Result{Vector: e.vector(text), Source: embedder.SourcePrimary, Provider: "pgRAG"}, nil
}

type staticLLM struct{ answer string }

func (s staticLLM) Generate(context.Context, string, llm.GenerateOptions) (string, error) {
	return s.answer, nil
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func newTestServer(t *testing.T, authenticator *auth.Authenticator, ready Pinger) http.Handler {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	emb := wordEmbedder{}

	chunking := ingestion.Options{Mode: ingestion.ModeFixed, Size: 2, Overlap: 0}
	chunker := ingestion.NewChunker(ingestion.WithChunkerLogger(logger))
	pipeline := ingestion.NewPipeline(ingestion.PipelineConfig{Chunking: chunking}, chunker, emb, store.Chunks(),
		ingestion.WithPipelineLogger(logger))
	retriever := retrieval.New(store.Corpora(), store.Documents(), []retrieval.Strategy{
		retrieval.NewVectorStrategy(store.Searcher()),
		retrieval.NewRecencyStrategy(store.Searcher()),
	}, retrieval.WithLogger(logger))

	srv, err := NewHTTPServer(HTTPServerConfig{
		Logger: logger,
		Auth:   authenticator,
		Ready:  ready,
	}, Services{
		Documents: service.NewDocumentService(store.Corpora(), store.Documents(), extract.New(), pipeline,
			service.WithDocumentLogger(logger)),
		RAG: service.NewRAGService(service.RAGConfig{DefaultTopK: 5, DefaultThreshold: 0.8, MinContextChunks: 3},
			emb, retriever, staticLLM{answer: "alpha things"}, service.WithRAGLogger(logger)),
		Chunks: service.NewChunkService(store.Chunks(), emb, chunker, chunking,
			service.WithEmbeddingDimension(3), service.WithChunkLogger(logger)),
	})
	require.NoError(t, err)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func ingest(t *testing.T, h http.Handler) string {
	t.Helper()

	code, body := do(t, h, http.MethodPost, "/api/v1/documents/process", `{
		"corpus_key": "docs",
		"user_id": "user-1",
		"file_type": "text",
		"content": "alpha alpha beta beta gamma gamma",
		"file_name": "notes.txt"
	}`)
	require.Equal(t, http.StatusOK, code, body)
	return body["document_id"].(string)
}

func TestHealthEndpoints(t *testing.T) {
	h := newTestServer(t, nil, nil)

	code, body := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])

	code, body = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])

	h = newTestServer(t, nil, failingPinger{})
	code, body = do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", body["status"])
}

func TestIngestThenSearch(t *testing.T) {
	h := newTestServer(t, nil, nil)
	ingest(t, h)

	code, body := do(t, h, http.MethodPost, "/api/v1/search", `{"question": "tell me about alpha", "corpus_key": "docs"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "alpha things", body["answer"])
	assert.Equal(t, "pgRAG", body["embedding_source"])

	chunks := body["chunks"].([]any)
	require.NotEmpty(t, chunks)
	first := chunks[0].(map[string]any)
	assert.Equal(t, "alpha alpha", first["text"])
	assert.EqualValues(t, 1, first["rank"])
}

func TestSearch_UnknownCorpus(t *testing.T) {
	h := newTestServer(t, nil, nil)

	code, body := do(t, h, http.MethodPost, "/api/v1/search", `{"question": "alpha?", "corpus_key": "missing"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, ranking.NoInformationAnswer, body["answer"])
	assert.Equal(t, "no-corpus", body["reason"])
	assert.Empty(t, body["chunks"])
}

func TestErrorMapping(t *testing.T) {
	h := newTestServer(t, nil, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		kind   string
	}{
		{"malformed json", http.MethodPost, "/api/v1/search", `{`, http.StatusBadRequest, "invalid_argument"},
		{"empty body", http.MethodPost, "/api/v1/search", ``, http.StatusBadRequest, "invalid_argument"},
		{"missing question", http.MethodPost, "/api/v1/search", `{"corpus_key": "docs"}`, http.StatusBadRequest, "invalid_argument"},
		{"missing ingest fields", http.MethodPost, "/api/v1/documents/process", `{"corpus_key": "docs"}`, http.StatusBadRequest, "invalid_argument"},
		{"docx without extractor", http.MethodPost, "/api/v1/documents/process",
			`{"corpus_key":"docs","user_id":"u","file_type":"docx","content":"UEsDBA==","file_name":"a.docx"}`,
			http.StatusServiceUnavailable, "provider_unavailable"},
		{"unknown chunk", http.MethodGet, "/api/v1/chunks/nope", ``, http.StatusNotFound, "not_found"},
		{"bad chunk_index filter", http.MethodGet, "/api/v1/chunks?chunk_index=x", ``, http.StatusBadRequest, "invalid_argument"},
		{"bad metadata filter", http.MethodGet, "/api/v1/chunks?metadata=nope", ``, http.StatusBadRequest, "invalid_argument"},
		{"bad limit", http.MethodPost, "/api/v1/chunks/embed-pending?limit=-1", ``, http.StatusBadRequest, "invalid_argument"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, code, body)
			assert.Equal(t, tt.kind, body["kind"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestChunkCRUD(t *testing.T) {
	h := newTestServer(t, nil, nil)
	docID := ingest(t, h)

	code, body := do(t, h, http.MethodGet, "/api/v1/chunks?document_id="+docID+"&ignored=1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["results"], 3)

	code, body = do(t, h, http.MethodPost, "/api/v1/chunks",
		`{"document_id": "`+docID+`", "chunk_index": 9, "chunk_text": "beta extra", "metadata": {"source": "manual"}}`)
	require.Equal(t, http.StatusCreated, code, body)
	id := body["chunk_id"].(string)
	assert.Equal(t, true, body["embedded"])
	assert.EqualValues(t, 9, body["chunk_index"])

	code, body = do(t, h, http.MethodGet, "/api/v1/chunks?metadata="+`%7B%22source%22%3A%22manual%22%7D`, "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["results"], 1)

	code, body = do(t, h, http.MethodPatch, "/api/v1/chunks/"+id, `{"chunk_text": "alpha revised"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "alpha revised", body["chunk_text"])

	code, _ = do(t, h, http.MethodPatch, "/api/v1/chunks/"+id, `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, h, http.MethodDelete, "/api/v1/chunks/"+id, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["deleted"])

	code, body = do(t, h, http.MethodDelete, "/api/v1/chunks/"+id, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", body["kind"])

	code, _ = do(t, h, http.MethodGet, "/api/v1/chunks/"+id, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestChunkWritesRejectInvalidRows(t *testing.T) {
	h := newTestServer(t, nil, nil)
	docID := ingest(t, h)

	code, body := do(t, h, http.MethodPost, "/api/v1/chunks",
		`{"document_id": "`+docID+`", "chunk_index": 9, "chunk_text": "rogue", "embedding": [1, 2]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_argument", body["kind"])

	code, body = do(t, h, http.MethodPost, "/api/v1/chunks",
		`{"document_id": "`+docID+`", "chunk_index": 1, "chunk_text": "beta again"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_argument", body["kind"])

	code, body = do(t, h, http.MethodGet, "/api/v1/chunks?document_id="+docID+"&chunk_index=2", "")
	require.Equal(t, http.StatusOK, code)
	results := body["results"].([]any)
	require.Len(t, results, 1)
	id := results[0].(map[string]any)["chunk_id"].(string)

	code, _ = do(t, h, http.MethodPatch, "/api/v1/chunks/"+id, `{"embedding": [1, 0, 0, 0]}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, h, http.MethodPatch, "/api/v1/chunks/"+id, `{"chunk_index": 1}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, h, http.MethodGet, "/api/v1/chunks?document_id="+docID+"&chunk_index=1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["results"], 1)
}

func TestPreviewChunks(t *testing.T) {
	h := newTestServer(t, nil, nil)

	code, body := do(t, h, http.MethodPost, "/api/v1/chunking", `{"text": "one two three four five", "chunking": {"size": 3}}`)
	require.Equal(t, http.StatusOK, code, body)

	chunks := body["chunks"].([]any)
	require.Len(t, chunks, 2)
	assert.Equal(t, "one two three", chunks[0].(map[string]any)["content"])
	assert.EqualValues(t, 1, chunks[0].(map[string]any)["chunk_number"])
}

func TestEmbedPending_NothingToDo(t *testing.T) {
	h := newTestServer(t, nil, nil)
	ingest(t, h)

	code, body := do(t, h, http.MethodPost, "/api/v1/chunks/embed-pending?limit=10", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 0, body["scanned"])
}

func TestAuthRequired(t *testing.T) {
	h := newTestServer(t, auth.NewAuthenticator("secret-key", nil), nil)

	code, body := do(t, h, http.MethodGet, "/api/v1/chunks", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthenticated", body["kind"])

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chunks", nil)
	req.Header.Set(auth.APIKeyHeader, "secret-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open.
	code, _ = do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestIngest_UserFromPrincipal(t *testing.T) {
	h := newTestServer(t, auth.NewAuthenticator("k", nil), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/process", strings.NewReader(
		`{"corpus_key":"docs","file_type":"text","content":"alpha beta","file_name":"a.txt"}`))
	req.Header.Set(auth.APIKeyHeader, "k")
	req.Header.Set(auth.UserIDHeader, "header-user")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
