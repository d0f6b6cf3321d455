package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ManuScriptHub/Neon-RAG/internal/apperr"
	"github.com/ManuScriptHub/Neon-RAG/internal/extract"
	"github.com/ManuScriptHub/Neon-RAG/internal/ingestion"
	"github.com/ManuScriptHub/Neon-RAG/internal/repository"
)

// TextExtractor turns typed content into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, fileType string, content []byte) (string, error)
}

// IngestRequest is one document to add to a corpus. Content of binary file
// types (pdf, docx) is base64-encoded; a url request carries the URL.
type IngestRequest struct {
	CorpusKey string             `json:"corpus_key"`
	UserID    string             `json:"user_id"`
	FileType  string             `json:"file_type"`
	Content   string             `json:"content"`
	FileName  string             `json:"file_name"`
	Chunking  *ingestion.Options `json:"chunking,omitempty"`
}

// IngestReport summarizes an ingestion. Chunks holds one outcome per chunk,
// including the ones that failed.
type IngestReport struct {
	CorpusID    string                   `json:"corpus_id"`
	DocumentID  string                   `json:"document_id"`
	ContentHash string                   `json:"content_hash"`
	Tags        map[string]any           `json:"tags,omitempty"`
	Chunks      []ingestion.ChunkOutcome `json:"chunks"`
	Stats       ingestion.PipelineStats  `json:"stats"`
}

// DocumentService ingests documents into corpora.
type DocumentService struct {
	corpora   repository.CorpusRepository
	documents repository.DocumentRepository
	extractor TextExtractor
	pipeline  *ingestion.Pipeline
	logger    *slog.Logger
}

// DocumentServiceOption is a functional option for configuring DocumentService.
type DocumentServiceOption func(*DocumentService)

// WithDocumentLogger sets the service logger.
func WithDocumentLogger(logger *slog.Logger) DocumentServiceOption {
	return func(s *DocumentService) {
		s.logger = logger
	}
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(
	corpora repository.CorpusRepository,
	documents repository.DocumentRepository,
	extractor TextExtractor,
	pipeline *ingestion.Pipeline,
	opts ...DocumentServiceOption,
) *DocumentService {
	s := &DocumentService{
		corpora:   corpora,
		documents: documents,
		extractor: extractor,
		pipeline:  pipeline,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest extracts the text of a document, creates its corpus if needed, and
// replaces the document's chunks with freshly chunked and embedded ones.
func (s *DocumentService) Ingest(ctx context.Context, req IngestRequest) (*IngestReport, error) {
	if err := validateIngest(req); err != nil {
		return nil, err
	}
	fileType := strings.ToLower(strings.TrimSpace(req.FileType))

	content := []byte(req.Content)
	if extract.IsBinary(fileType) {
		decoded, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			return nil, apperr.InvalidArgument("ingest", fmt.Sprintf("%s content must be base64-encoded", fileType))
		}
		content = decoded
	}

	text, err := s.extractor.Extract(ctx, fileType, content)
	if err != nil {
		return nil, err
	}

	corpus, err := s.corpora.GetOrCreate(ctx, req.UserID, req.CorpusKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get corpus: %w", err)
	}

	now := time.Now()
	doc := &repository.Document{
		ID:        repository.DocumentID(fileType, req.FileName),
		CorpusID:  corpus.ID,
		FileType:  fileType,
		FileName:  req.FileName,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.documents.Upsert(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}

	result, err := s.pipeline.Process(ctx, ingestion.PipelineInput{
		CorpusID:   corpus.ID.String(),
		DocumentID: doc.ID,
		Text:       text,
		Chunking:   s.chunkingFor(req.Chunking),
		Replace:    true,
	})
	if err != nil {
		return nil, err
	}

	if len(result.Tags) > 0 {
		doc.Tags = result.Tags
		doc.UpdatedAt = time.Now()
		if err := s.documents.Upsert(ctx, doc); err != nil {
			s.logger.Warn("failed to save document tags", "document_id", doc.ID, "error", err)
		}
	}

	return &IngestReport{
		CorpusID:    corpus.ID.String(),
		DocumentID:  doc.ID,
		ContentHash: result.ContentHash,
		Tags:        result.Tags,
		Chunks:      result.Chunks,
		Stats:       result.Stats,
	}, nil
}

// chunkingFor fills the zero fields of a per-request override from the
// pipeline defaults.
func (s *DocumentService) chunkingFor(override *ingestion.Options) *ingestion.Options {
	if override == nil {
		return nil
	}
	merged := *override
	defaults := s.pipeline.Config().Chunking
	if merged.Mode == "" {
		merged.Mode = defaults.Mode
	}
	if merged.Size == 0 {
		merged.Size = defaults.Size
	}
	if merged.Overlap == 0 && override.Size == 0 {
		merged.Overlap = defaults.Overlap
	}
	if merged.Model == "" {
		merged.Model = defaults.Model
	}
	return &merged
}

func validateIngest(req IngestRequest) error {
	switch {
	case strings.TrimSpace(req.CorpusKey) == "":
		return apperr.InvalidArgument("ingest", "corpus_key is required")
	case strings.TrimSpace(req.UserID) == "":
		return apperr.InvalidArgument("ingest", "user_id is required")
	case strings.TrimSpace(req.FileType) == "":
		return apperr.InvalidArgument("ingest", "file_type is required")
	case strings.TrimSpace(req.FileName) == "":
		return apperr.InvalidArgument("ingest", "file_name is required")
	case strings.TrimSpace(req.Content) == "":
		return apperr.InvalidArgument("ingest", "content is required")
	}
	return nil
}
