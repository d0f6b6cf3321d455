package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	"github.com/ManuScriptHub/Neon-RAG/internal/apperr"
	"github.com/ManuScriptHub/Neon-RAG/internal/auth"
	"github.com/ManuScriptHub/Neon-RAG/internal/ingestion"
	"github.com/ManuScriptHub/Neon-RAG/internal/repository"
	"github.com/ManuScriptHub/Neon-RAG/internal/service"
)

// maxBodyBytes bounds request bodies; base64 documents are the largest.
const maxBodyBytes = 64 << 20

type handlers struct {
	services Services
	logger   *slog.Logger
}

// chunkJSON is the wire form of a stored chunk. Vectors are never returned.
type chunkJSON struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id"`
	ChunkIndex int            `json:"chunk_index"`
	ChunkText  string         `json:"chunk_text"`
	Metadata   map[string]any `json:"metadata"`
	Embedded   bool           `json:"embedded"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func toChunkJSON(c *repository.Chunk) chunkJSON {
	return chunkJSON{
		ChunkID:    c.ID,
		DocumentID: c.DocumentID,
		ChunkIndex: c.ChunkIndex,
		ChunkText:  c.Text,
		Metadata:   c.Metadata,
		Embedded:   len(c.Embedding) > 0,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func (h *handlers) processDocument(w http.ResponseWriter, r *http.Request) {
	var req service.IngestRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.UserID == "" {
		req.UserID = auth.UserIDFromContext(r.Context())
	}

	report, err := h.services.Documents.Ingest(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	var req service.QueryRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	resp, err := h.services.RAG.Query(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type previewRequest struct {
	Text     string             `json:"text"`
	Chunking *ingestion.Options `json:"chunking,omitempty"`
}

func (h *handlers) previewChunks(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	segments, err := h.services.Chunks.Preview(r.Context(), req.Text, req.Chunking)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks": segments})
}

func (h *handlers) listChunks(w http.ResponseWriter, r *http.Request) {
	filter, err := chunkFilterFromQuery(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		h.writeError(w, err)
		return
	}

	chunks, err := h.services.Chunks.List(r.Context(), filter, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	results := make([]chunkJSON, len(chunks))
	for i, c := range chunks {
		results[i] = toChunkJSON(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *handlers) createChunk(w http.ResponseWriter, r *http.Request) {
	var in service.ChunkInput
	if err := decodeBody(r, &in); err != nil {
		h.writeError(w, err)
		return
	}

	created, err := h.services.Chunks.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChunkJSON(created))
}

func (h *handlers) getChunk(w http.ResponseWriter, r *http.Request) {
	chunk, err := h.services.Chunks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChunkJSON(chunk))
}

func (h *handlers) updateChunk(w http.ResponseWriter, r *http.Request) {
	var patch service.ChunkPatch
	if err := decodeBody(r, &patch); err != nil {
		h.writeError(w, err)
		return
	}

	updated, err := h.services.Chunks.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChunkJSON(updated))
}

func (h *handlers) deleteChunk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existed, err := h.services.Chunks.Delete(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !existed {
		h.writeError(w, apperr.NotFound("delete_chunk", "document chunk with ID "+id+" not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "chunk_id": id})
}

func (h *handlers) embedPending(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		h.writeError(w, err)
		return
	}

	report, err := h.services.Chunks.EmbedPending(r.Context(), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// writeError maps err to an HTTP status through its gRPC code and writes
// {"error": msg, "kind": kind}. Unclassified errors are logged and hidden.
func (h *handlers) writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := runtime.HTTPStatusFromCode(apperr.Code(err))

	msg := apperr.Message(err)
	if kind == apperr.KindInternal || status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "kind", string(kind), "error", err)
	}

	writeJSON(w, status, map[string]string{
		"error": msg,
		"kind":  string(kind),
	})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.InvalidArgument("decode", "request body is required")
		}
		return apperr.InvalidArgument("decode", "invalid JSON body: "+err.Error())
	}
	return nil
}

// chunkFilterFromQuery reads the allow-listed filter fields from the query
// string. Other parameters are ignored.
func chunkFilterFromQuery(r *http.Request) (repository.ChunkFilter, error) {
	q := r.URL.Query()
	filter := repository.ChunkFilter{}

	for _, field := range repository.ChunkFilterFields {
		if !q.Has(field) {
			continue
		}
		value := q.Get(field)
		switch field {
		case "chunk_index":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, apperr.InvalidArgument("list_chunks", "chunk_index must be an integer")
			}
			filter[field] = n
		case "metadata":
			var m map[string]any
			if err := json.Unmarshal([]byte(value), &m); err != nil || m == nil {
				return nil, apperr.InvalidArgument("list_chunks", "metadata must be a JSON object")
			}
			filter[field] = m
		default:
			filter[field] = value
		}
	}
	return filter, nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.InvalidArgument("params", name+" must be a non-negative integer")
	}
	return n, nil
}
