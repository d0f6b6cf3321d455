// Package vectorstore provides an external approximate nearest-neighbor index
// that mirrors chunk embeddings, scoped by corpus.
package vectorstore

import (
	"context"
)

// Point is an embedded chunk as stored in the index
type Point struct {
	ChunkID    string
	DocumentID string
	ChunkIndex int
	Text       string
	Vector     []float32
}

// Match is a search hit. Distance is the cosine distance (lower is closer).
type Match struct {
	ChunkID    string
	DocumentID string
	ChunkIndex int
	Text       string
	Distance   float64
}

// VectorStore defines the interface for vector storage operations
type VectorStore interface {
	// EnsureCollection creates the corpus collection if it does not exist yet
	EnsureCollection(ctx context.Context, corpusID string, dimension int) error

	// Upsert inserts or updates points in the corpus collection
	Upsert(ctx context.Context, corpusID string, points []Point) error

	// Search returns points of the given documents whose distance to vector is
	// strictly below maxDistance, closest first
	Search(ctx context.Context, corpusID string, documentIDs []string, vector []float32, maxDistance float64, topK int) ([]Match, error)

	// DeleteDocument removes all points of a document
	DeleteDocument(ctx context.Context, corpusID, documentID string) error

	// DeleteByIDs removes specific points by chunk ID
	DeleteByIDs(ctx context.Context, corpusID string, ids []string) error
}
