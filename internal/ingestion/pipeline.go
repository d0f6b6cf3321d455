package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/ManuScriptHub/Neon-RAG/internal/apperr"
	"github.com/ManuScriptHub/Neon-RAG/internal/embedder"
	"github.com/ManuScriptHub/Neon-RAG/internal/repository"
	"github.com/ManuScriptHub/Neon-RAG/internal/vectorstore"
)

// PassageEmbedder embeds document passages.
type PassageEmbedder interface {
	EmbedPassage(ctx context.Context, text string) (embedder.Result, error)
}

// DocumentTagger derives document-level metadata.
type DocumentTagger interface {
	Tag(ctx context.Context, text string) (map[string]any, error)
}

// PipelineConfig holds configuration for the ingestion pipeline
type PipelineConfig struct {
	// Chunking is the default chunking configuration
	Chunking Options

	// Additional metadata to include in all chunks
	DefaultMetadata map[string]any
}

// PipelineInput is one document to ingest
type PipelineInput struct {
	CorpusID   string
	DocumentID string
	Text       string

	// Chunking overrides the pipeline's default chunking when set
	Chunking *Options

	// Replace removes the document's existing chunks before writing new ones
	Replace bool
}

// ChunkOutcome reports what happened to one chunk
type ChunkOutcome struct {
	Number            int    `json:"chunk_number"`
	ChunkID           string `json:"chunk_id,omitempty"`
	Stored            bool   `json:"stored"`
	Embedded          bool   `json:"embedded"`
	EmbeddingSource   string `json:"embedding_source,omitempty"`
	EmbeddingProvider string `json:"embedding_provider,omitempty"`
	Error             string `json:"error,omitempty"`
}

// PipelineResult holds the result of processing content through the pipeline
type PipelineResult struct {
	DocumentID string `json:"document_id"`

	// ContentHash is the SHA-256 hash of the original content
	ContentHash string `json:"content_hash"`

	Tags   map[string]any `json:"tags,omitempty"`
	Chunks []ChunkOutcome `json:"chunks"`
	Stats  PipelineStats  `json:"stats"`
}

// PipelineStats contains statistics about the pipeline execution
type PipelineStats struct {
	OriginalLength    int           `json:"original_length"`
	OriginalWordCount int           `json:"original_word_count"`
	ChunkCount        int           `json:"chunk_count"`
	Replaced          int64         `json:"replaced"`
	Stored            int           `json:"stored"`
	Embedded          int           `json:"embedded"`
	Failed            int           `json:"failed"`
	ProcessingTime    time.Duration `json:"processing_time"`
}

// Pipeline chunks, embeds, and stores documents one chunk at a time.
// A chunk whose embedding fails is stored without a vector.
type Pipeline struct {
	config    PipelineConfig
	chunker   *Chunker
	embedder  PassageEmbedder
	chunks    repository.ChunkRepository
	tagger    DocumentTagger
	mirror    vectorstore.VectorStore
	dimension int
	logger    *slog.Logger
}

// PipelineOption is a functional option for configuring Pipeline.
type PipelineOption func(*Pipeline)

// WithTagger enables document tagging before chunking.
func WithTagger(tagger DocumentTagger) PipelineOption {
	return func(p *Pipeline) {
		p.tagger = tagger
	}
}

// WithMirror copies embedded chunks into an external vector index.
func WithMirror(store vectorstore.VectorStore, dimension int) PipelineOption {
	return func(p *Pipeline) {
		p.mirror = store
		p.dimension = dimension
	}
}

// WithPipelineLogger sets the pipeline logger.
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// NewPipeline creates a new ingestion pipeline
func NewPipeline(config PipelineConfig, chunker *Chunker, emb PassageEmbedder, chunks repository.ChunkRepository, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		config:   config,
		chunker:  chunker,
		embedder: emb,
		chunks:   chunks,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the current pipeline configuration
func (p *Pipeline) Config() PipelineConfig {
	return p.config
}

// Process runs a document through tagging, chunking, embedding, and storage.
// Per-chunk failures are reported in the result and do not stop the batch.
func (p *Pipeline) Process(ctx context.Context, in PipelineInput) (*PipelineResult, error) {
	startTime := time.Now()

	content := strings.TrimSpace(in.Text)
	if content == "" {
		return nil, apperr.InvalidArgument("ingest", "content cannot be empty")
	}
	if in.DocumentID == "" {
		return nil, apperr.InvalidArgument("ingest", "document id is required")
	}

	// Check for context cancellation
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	result := &PipelineResult{
		DocumentID:  in.DocumentID,
		ContentHash: hashContent(content),
	}

	if p.tagger != nil {
		tags, err := p.tagger.Tag(ctx, content)
		if err != nil {
			p.logger.Warn("document tagging failed, continuing without tags",
				"document_id", in.DocumentID,
				"kind", string(apperr.KindOf(err)),
				"error", err,
			)
		} else {
			result.Tags = tags
		}
	}

	opts := p.config.Chunking
	if in.Chunking != nil {
		opts = *in.Chunking
	}
	segments, err := p.chunker.Chunk(ctx, content, opts)
	if err != nil {
		return nil, err
	}

	if in.Replace {
		removed, err := p.chunks.DeleteByDocument(ctx, in.DocumentID)
		if err != nil {
			return nil, err
		}
		result.Stats.Replaced = removed
	}

	mirror := p.prepareMirror(ctx, in)

	metadata := p.chunkMetadata(result)
	result.Chunks = make([]ChunkOutcome, 0, len(segments))
	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			p.finishStats(result, content, len(segments), startTime)
			return result, err
		}
		result.Chunks = append(result.Chunks, p.processSegment(ctx, in, seg, metadata, mirror))
	}

	p.finishStats(result, content, len(segments), startTime)

	p.logger.Info("document ingested",
		"document_id", in.DocumentID,
		"chunks", result.Stats.ChunkCount,
		"stored", result.Stats.Stored,
		"embedded", result.Stats.Embedded,
		"failed", result.Stats.Failed,
	)

	return result, nil
}

func (p *Pipeline) processSegment(ctx context.Context, in PipelineInput, seg Segment, metadata map[string]any, mirror vectorstore.VectorStore) ChunkOutcome {
	outcome := ChunkOutcome{Number: seg.Number}

	chunk := &repository.Chunk{
		DocumentID: in.DocumentID,
		ChunkIndex: seg.Number,
		Text:       seg.Content,
		Metadata:   maps.Clone(metadata),
	}

	res, err := p.embedder.EmbedPassage(ctx, seg.Content)
	if err != nil {
		p.logger.Warn("chunk embedding failed, storing without vector",
			"document_id", in.DocumentID,
			"chunk_index", seg.Number,
			"error", err,
		)
		outcome.Error = apperr.Message(err)
	} else {
		chunk.Embedding = res.Vector
		outcome.EmbeddingSource = string(res.Source)
		outcome.EmbeddingProvider = res.Provider
	}

	stored, err := p.chunks.Create(ctx, chunk)
	if err != nil {
		p.logger.Error("failed to store chunk",
			"document_id", in.DocumentID,
			"chunk_index", seg.Number,
			"error", err,
		)
		outcome.Error = "failed to store chunk"
		return outcome
	}

	outcome.ChunkID = stored.ID
	outcome.Stored = true
	outcome.Embedded = stored.Embedding != nil

	if mirror != nil && outcome.Embedded {
		point := vectorstore.Point{
			ChunkID:    stored.ID,
			DocumentID: stored.DocumentID,
			ChunkIndex: stored.ChunkIndex,
			Text:       stored.Text,
			Vector:     stored.Embedding,
		}
		if err := mirror.Upsert(ctx, in.CorpusID, []vectorstore.Point{point}); err != nil {
			p.logger.Warn("failed to mirror chunk", "chunk_id", stored.ID, "error", err)
		}
	}

	return outcome
}

// prepareMirror readies the external index for this document. A failing
// index is skipped for the rest of the run.
func (p *Pipeline) prepareMirror(ctx context.Context, in PipelineInput) vectorstore.VectorStore {
	if p.mirror == nil || in.CorpusID == "" {
		return nil
	}
	if err := p.mirror.EnsureCollection(ctx, in.CorpusID, p.dimension); err != nil {
		p.logger.Warn("vector index unavailable, skipping mirror", "corpus_id", in.CorpusID, "error", err)
		return nil
	}
	if in.Replace {
		if err := p.mirror.DeleteDocument(ctx, in.CorpusID, in.DocumentID); err != nil {
			p.logger.Warn("failed to clear mirrored document", "document_id", in.DocumentID, "error", err)
		}
	}
	return p.mirror
}

// chunkMetadata merges default metadata, document tags, and the content hash.
// Tags take priority over defaults.
func (p *Pipeline) chunkMetadata(result *PipelineResult) map[string]any {
	metadata := make(map[string]any, len(p.config.DefaultMetadata)+len(result.Tags)+1)
	maps.Copy(metadata, p.config.DefaultMetadata)
	maps.Copy(metadata, result.Tags)
	metadata["content_hash"] = result.ContentHash
	return metadata
}

// finishStats computes statistics for the pipeline result
func (p *Pipeline) finishStats(result *PipelineResult, content string, chunkCount int, startTime time.Time) {
	stats := &result.Stats
	stats.OriginalLength = len(content)
	stats.OriginalWordCount = len(strings.Fields(content))
	stats.ChunkCount = chunkCount
	stats.Stored, stats.Embedded, stats.Failed = 0, 0, 0
	for _, c := range result.Chunks {
		if c.Stored {
			stats.Stored++
		}
		if c.Embedded {
			stats.Embedded++
		}
		if !c.Stored || !c.Embedded {
			stats.Failed++
		}
	}
	stats.ProcessingTime = time.Since(startTime)
}

// hashContent generates a SHA-256 hash of the content
func hashContent(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}
