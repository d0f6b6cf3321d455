// Package repository defines domain models and data access interfaces for
// corpora, documents, chunks, and recorded questions.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicateChunkIndex is returned when a write would give two chunks
	// of one document the same index
	ErrDuplicateChunkIndex = errors.New("chunk index already exists for document")
)

// Corpus is a named partition of documents owned by a user
type Corpus struct {
	ID        uuid.UUID
	UserID    string
	Key       string
	CreatedAt time.Time
}

// Document is an ingested file. Its ID has the form "{file_type}|{file_name}".
type Document struct {
	ID        string
	CorpusID  uuid.UUID
	FileType  string
	FileName  string
	Tags      map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentID builds the identifier of a document from its type and name.
func DocumentID(fileType, fileName string) string {
	return fileType + "|" + fileName
}

// Chunk is the unit of retrieval. Embedding is nil while the chunk is waiting
// for a late embedding.
type Chunk struct {
	ID         string
	DocumentID string
	ChunkIndex int
	Text       string
	Embedding  []float32
	Metadata   map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ScoredChunk is a chunk paired with the raw score of the query that found it.
type ScoredChunk struct {
	Chunk
	Score float64
}

// ChunkFilter restricts chunk listing. Only the keys in ChunkFilterFields are
// honored; anything else is ignored.
type ChunkFilter map[string]any

// ChunkFilterFields is the allow-list of filterable chunk fields.
var ChunkFilterFields = []string{"chunk_id", "document_id", "chunk_index", "chunk_text", "metadata"}

// ChunkUpdate holds the fields to change on a chunk. Nil fields are untouched.
type ChunkUpdate struct {
	ChunkIndex *int
	Text       *string
	Embedding  []float32
	Metadata   map[string]any
}

// Empty reports whether the update changes nothing.
func (u ChunkUpdate) Empty() bool {
	return u.ChunkIndex == nil && u.Text == nil && u.Embedding == nil && u.Metadata == nil
}

// Question is a recorded query text with its query embedding
type Question struct {
	ID        uuid.UUID
	Text      string
	Embedding []float32
	CreatedAt time.Time
}

// CorpusRepository defines operations for corpus persistence
type CorpusRepository interface {
	// GetOrCreate returns the corpus with the given key for the user, creating it if needed.
	GetOrCreate(ctx context.Context, userID, key string) (*Corpus, error)
	GetByKey(ctx context.Context, key string) (*Corpus, error)
}

// DocumentRepository defines operations for document persistence
type DocumentRepository interface {
	Upsert(ctx context.Context, doc *Document) error
	GetByID(ctx context.Context, id string) (*Document, error)
	ListIDsByCorpus(ctx context.Context, corpusID uuid.UUID) ([]string, error)
}

// ChunkRepository defines operations for chunk persistence. Every write is
// committed on its own.
type ChunkRepository interface {
	List(ctx context.Context, filter ChunkFilter, limit int) ([]*Chunk, error)
	Get(ctx context.Context, id string) (*Chunk, error)
	Create(ctx context.Context, chunk *Chunk) (*Chunk, error)
	Update(ctx context.Context, id string, update ChunkUpdate) (*Chunk, error)
	// Delete reports whether a row existed.
	Delete(ctx context.Context, id string) (bool, error)
	DeleteByDocument(ctx context.Context, documentID string) (int64, error)
	ListMissingEmbedding(ctx context.Context, limit int) ([]*Chunk, error)
}

// QuestionRepository defines operations for recorded questions
type QuestionRepository interface {
	Create(ctx context.Context, q *Question) error
	// TextForEmbedding returns the text of a question stored with exactly this embedding.
	TextForEmbedding(ctx context.Context, embedding []float32) (string, error)
}

// ChunkSearcher runs the query-time lookups over the chunks of a set of documents
type ChunkSearcher interface {
	// Nearest returns chunks whose cosine distance to vector is strictly below
	// threshold, closest first, at most topK.
	Nearest(ctx context.Context, documentIDs []string, vector []float32, threshold float64, topK int) ([]ScoredChunk, error)

	// Recent returns the topK most recently created chunks, newest first.
	Recent(ctx context.Context, documentIDs []string, topK int) ([]ScoredChunk, error)
}
