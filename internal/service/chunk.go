package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ManuScriptHub/Neon-RAG/internal/apperr"
	"github.com/ManuScriptHub/Neon-RAG/internal/ingestion"
	"github.com/ManuScriptHub/Neon-RAG/internal/repository"
	"github.com/ManuScriptHub/Neon-RAG/internal/vectorstore"
)

const (
	defaultListLimit    = 100
	defaultPendingLimit = 50
)

// ChunkInput is a chunk created directly rather than through ingestion.
// When Embedding is empty the text is embedded.
type ChunkInput struct {
	DocumentID string         `json:"document_id"`
	ChunkIndex int            `json:"chunk_index"`
	Text       string         `json:"chunk_text"`
	Embedding  []float32      `json:"embedding,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ChunkPatch holds the chunk fields to change. A new text without an
// explicit embedding is re-embedded.
type ChunkPatch struct {
	ChunkIndex *int           `json:"chunk_index,omitempty"`
	Text       *string        `json:"chunk_text,omitempty"`
	Embedding  []float32      `json:"embedding,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// PendingOutcome reports the backfill of one chunk.
type PendingOutcome struct {
	ChunkID  string `json:"chunk_id"`
	Embedded bool   `json:"embedded"`
	Provider string `json:"provider,omitempty"`
	Error    string `json:"error,omitempty"`
}

// EmbedReport summarizes an embedding backfill.
type EmbedReport struct {
	Scanned  int              `json:"scanned"`
	Embedded int              `json:"embedded"`
	Failed   int              `json:"failed"`
	Chunks   []PendingOutcome `json:"chunks"`
}

// ChunkService manages stored chunks.
type ChunkService struct {
	chunks    repository.ChunkRepository
	embedder  ingestion.PassageEmbedder
	chunker   *ingestion.Chunker
	chunking  ingestion.Options
	mirror    vectorstore.VectorStore
	documents repository.DocumentRepository
	dimension int
	logger    *slog.Logger
}

// ChunkServiceOption is a functional option for configuring ChunkService.
type ChunkServiceOption func(*ChunkService)

// WithChunkMirror keeps an external vector index in step with chunk writes.
// documents resolves the corpus of a chunk.
func WithChunkMirror(store vectorstore.VectorStore, documents repository.DocumentRepository) ChunkServiceOption {
	return func(s *ChunkService) {
		s.mirror = store
		s.documents = documents
	}
}

// WithEmbeddingDimension sets the length a caller-supplied embedding must
// have. It defaults to the embedder's own dimension when it reports one.
func WithEmbeddingDimension(dimension int) ChunkServiceOption {
	return func(s *ChunkService) {
		s.dimension = dimension
	}
}

// WithChunkLogger sets the service logger.
func WithChunkLogger(logger *slog.Logger) ChunkServiceOption {
	return func(s *ChunkService) {
		s.logger = logger
	}
}

// NewChunkService creates a new ChunkService. chunking is the default used
// by Preview.
func NewChunkService(chunks repository.ChunkRepository, emb ingestion.PassageEmbedder, chunker *ingestion.Chunker, chunking ingestion.Options, opts ...ChunkServiceOption) *ChunkService {
	s := &ChunkService{
		chunks:   chunks,
		embedder: emb,
		chunker:  chunker,
		chunking: chunking,
		logger:   slog.Default(),
	}
	if d, ok := emb.(interface{ Dimension() int }); ok {
		s.dimension = d.Dimension()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns chunks matching filter. Keys outside the allow-list are ignored.
func (s *ChunkService) List(ctx context.Context, filter repository.ChunkFilter, limit int) ([]*repository.Chunk, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	chunks, err := s.chunks.List(ctx, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	return chunks, nil
}

// Get returns one chunk.
func (s *ChunkService) Get(ctx context.Context, id string) (*repository.Chunk, error) {
	if id == "" {
		return nil, apperr.InvalidArgument("get_chunk", "chunk id is required")
	}
	chunk, err := s.chunks.Get(ctx, id)
	if err != nil {
		return nil, notFound("get_chunk", id, err)
	}
	return chunk, nil
}

// Create stores a chunk, embedding its text unless an embedding was given.
func (s *ChunkService) Create(ctx context.Context, in ChunkInput) (*repository.Chunk, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, apperr.InvalidArgument("create_chunk", "chunk_text is required")
	}
	if in.DocumentID == "" {
		return nil, apperr.InvalidArgument("create_chunk", "document_id is required")
	}

	if err := s.checkDimension("create_chunk", in.Embedding); err != nil {
		return nil, err
	}

	embedding := in.Embedding
	if len(embedding) == 0 {
		res, err := s.embedder.EmbedPassage(ctx, in.Text)
		if err != nil {
			return nil, err
		}
		embedding = res.Vector
	}

	stored, err := s.chunks.Create(ctx, &repository.Chunk{
		DocumentID: in.DocumentID,
		ChunkIndex: in.ChunkIndex,
		Text:       in.Text,
		Embedding:  embedding,
		Metadata:   in.Metadata,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateChunkIndex) {
			return nil, duplicateIndex("create_chunk", in.DocumentID, in.ChunkIndex)
		}
		return nil, fmt.Errorf("failed to create chunk: %w", err)
	}

	s.mirrorChunk(ctx, stored)
	return stored, nil
}

// Update changes the given fields of a chunk and returns the stored row.
func (s *ChunkService) Update(ctx context.Context, id string, patch ChunkPatch) (*repository.Chunk, error) {
	if id == "" {
		return nil, apperr.InvalidArgument("update_chunk", "chunk id is required")
	}

	update := repository.ChunkUpdate{
		ChunkIndex: patch.ChunkIndex,
		Text:       patch.Text,
		Embedding:  patch.Embedding,
		Metadata:   patch.Metadata,
	}
	if update.Empty() {
		return nil, apperr.InvalidArgument("update_chunk", "no fields to update")
	}
	if err := s.checkDimension("update_chunk", update.Embedding); err != nil {
		return nil, err
	}
	if update.Text != nil {
		if strings.TrimSpace(*update.Text) == "" {
			return nil, apperr.InvalidArgument("update_chunk", "chunk_text cannot be empty")
		}
		if len(update.Embedding) == 0 {
			res, err := s.embedder.EmbedPassage(ctx, *update.Text)
			if err != nil {
				return nil, err
			}
			update.Embedding = res.Vector
		}
	}

	stored, err := s.chunks.Update(ctx, id, update)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateChunkIndex) {
			return nil, apperr.InvalidArgument("update_chunk", "chunk_index is already used in the chunk's document")
		}
		return nil, notFound("update_chunk", id, err)
	}

	s.mirrorChunk(ctx, stored)
	return stored, nil
}

// Delete removes a chunk and reports whether it existed.
func (s *ChunkService) Delete(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, apperr.InvalidArgument("delete_chunk", "chunk id is required")
	}

	var corpusID string
	if s.mirror != nil {
		if chunk, err := s.chunks.Get(ctx, id); err == nil {
			corpusID = s.corpusOf(ctx, chunk.DocumentID)
		}
	}

	existed, err := s.chunks.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete chunk: %w", err)
	}

	if existed && corpusID != "" {
		if err := s.mirror.DeleteByIDs(ctx, corpusID, []string{id}); err != nil {
			s.logger.Warn("failed to remove mirrored chunk", "chunk_id", id, "error", err)
		}
	}
	return existed, nil
}

// EmbedPending embeds up to limit stored chunks that have no embedding.
// Chunks that still fail are reported and left for a later run.
func (s *ChunkService) EmbedPending(ctx context.Context, limit int) (*EmbedReport, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}

	pending, err := s.chunks.ListMissingEmbedding(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending chunks: %w", err)
	}

	report := &EmbedReport{Scanned: len(pending), Chunks: make([]PendingOutcome, 0, len(pending))}
	for _, chunk := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		outcome := PendingOutcome{ChunkID: chunk.ID}
		res, err := s.embedder.EmbedPassage(ctx, chunk.Text)
		if err != nil {
			outcome.Error = apperr.Message(err)
			report.Failed++
			report.Chunks = append(report.Chunks, outcome)
			continue
		}

		stored, err := s.chunks.Update(ctx, chunk.ID, repository.ChunkUpdate{Embedding: res.Vector})
		if err != nil {
			s.logger.Error("failed to store embedding", "chunk_id", chunk.ID, "error", err)
			outcome.Error = "failed to store embedding"
			report.Failed++
			report.Chunks = append(report.Chunks, outcome)
			continue
		}

		outcome.Embedded = true
		outcome.Provider = res.Provider
		report.Embedded++
		report.Chunks = append(report.Chunks, outcome)
		s.mirrorChunk(ctx, stored)
	}

	s.logger.Info("embedding backfill finished",
		"scanned", report.Scanned,
		"embedded", report.Embedded,
		"failed", report.Failed,
	)
	return report, nil
}

// Preview chunks text without storing anything. Zero fields of opts take the
// service defaults.
func (s *ChunkService) Preview(ctx context.Context, text string, opts *ingestion.Options) ([]ingestion.Segment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.InvalidArgument("chunk", "text is required")
	}

	merged := s.chunking
	if opts != nil {
		if opts.Mode != "" {
			merged.Mode = opts.Mode
		}
		if opts.Size != 0 {
			merged.Size = opts.Size
			merged.Overlap = opts.Overlap
		}
		if opts.Model != "" {
			merged.Model = opts.Model
		}
	}

	segments, err := s.chunker.Chunk(ctx, text, merged)
	if err != nil {
		return nil, err
	}
	if segments == nil {
		segments = []ingestion.Segment{}
	}
	return segments, nil
}

func (s *ChunkService) mirrorChunk(ctx context.Context, chunk *repository.Chunk) {
	if s.mirror == nil || len(chunk.Embedding) == 0 {
		return
	}
	corpusID := s.corpusOf(ctx, chunk.DocumentID)
	if corpusID == "" {
		return
	}

	point := vectorstore.Point{
		ChunkID:    chunk.ID,
		DocumentID: chunk.DocumentID,
		ChunkIndex: chunk.ChunkIndex,
		Text:       chunk.Text,
		Vector:     chunk.Embedding,
	}
	if err := s.mirror.EnsureCollection(ctx, corpusID, len(chunk.Embedding)); err != nil {
		s.logger.Warn("vector index unavailable, skipping mirror", "corpus_id", corpusID, "error", err)
		return
	}
	if err := s.mirror.Upsert(ctx, corpusID, []vectorstore.Point{point}); err != nil {
		s.logger.Warn("failed to mirror chunk", "chunk_id", chunk.ID, "error", err)
	}
}

func (s *ChunkService) corpusOf(ctx context.Context, documentID string) string {
	doc, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		s.logger.Warn("failed to resolve chunk corpus", "document_id", documentID, "error", err)
		return ""
	}
	return doc.CorpusID.String()
}

// checkDimension rejects a caller-supplied embedding whose length differs from
// the configured dimension. An absent embedding passes.
func (s *ChunkService) checkDimension(op string, embedding []float32) error {
	if len(embedding) == 0 || s.dimension <= 0 || len(embedding) == s.dimension {
		return nil
	}
	return apperr.InvalidArgument(op,
		fmt.Sprintf("embedding has %d dimensions, want %d", len(embedding), s.dimension))
}

func duplicateIndex(op, documentID string, index int) error {
	return apperr.InvalidArgument(op,
		fmt.Sprintf("chunk_index %d already exists for document %s", index, documentID))
}

func notFound(op, id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(op, fmt.Sprintf("document chunk with ID %s not found", id))
	}
	return fmt.Errorf("failed to %s: %w", strings.ReplaceAll(op, "_", " "), err)
}
