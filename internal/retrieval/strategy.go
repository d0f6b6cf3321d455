package retrieval

import (
	"context"

	"github.com/google/uuid"

	"github.com/ManuScriptHub/Neon-RAG/internal/ranking"
	"github.com/ManuScriptHub/Neon-RAG/internal/repository"
	"github.com/ManuScriptHub/Neon-RAG/internal/vectorstore"
)

// Scope is the resolved set of documents a search may touch.
type Scope struct {
	CorpusID    uuid.UUID
	DocumentIDs []string
}

// Strategy is one search path. Strategies are tried in order until one
// succeeds.
type Strategy interface {
	Name() string
	Search(ctx context.Context, scope Scope, req Request) ([]ranking.Candidate, error)
}

// VectorStrategy runs the store's vector-distance query.
type VectorStrategy struct {
	searcher repository.ChunkSearcher
}

// NewVectorStrategy creates the store-side nearest-neighbor strategy
func NewVectorStrategy(searcher repository.ChunkSearcher) *VectorStrategy {
	return &VectorStrategy{searcher: searcher}
}

func (s *VectorStrategy) Name() string { return "vector" }

func (s *VectorStrategy) Search(ctx context.Context, scope Scope, req Request) ([]ranking.Candidate, error) {
	rows, err := s.searcher.Nearest(ctx, scope.DocumentIDs, req.Vector, req.Threshold, req.TopK)
	if err != nil {
		return nil, err
	}
	return fromScored(rows, ranking.PathDistance), nil
}

// RecencyStrategy returns the newest chunks with a neutral score.
type RecencyStrategy struct {
	searcher repository.ChunkSearcher
}

// NewRecencyStrategy creates the degraded recency strategy
func NewRecencyStrategy(searcher repository.ChunkSearcher) *RecencyStrategy {
	return &RecencyStrategy{searcher: searcher}
}

func (s *RecencyStrategy) Name() string { return "recency" }

func (s *RecencyStrategy) Search(ctx context.Context, scope Scope, req Request) ([]ranking.Candidate, error) {
	rows, err := s.searcher.Recent(ctx, scope.DocumentIDs, req.TopK)
	if err != nil {
		return nil, err
	}
	return fromScored(rows, ranking.PathFallback), nil
}

// IndexStrategy searches the external vector index.
type IndexStrategy struct {
	store vectorstore.VectorStore
}

// NewIndexStrategy creates the external-index nearest-neighbor strategy
func NewIndexStrategy(store vectorstore.VectorStore) *IndexStrategy {
	return &IndexStrategy{store: store}
}

func (s *IndexStrategy) Name() string { return "index" }

func (s *IndexStrategy) Search(ctx context.Context, scope Scope, req Request) ([]ranking.Candidate, error) {
	matches, err := s.store.Search(ctx, scope.CorpusID.String(), scope.DocumentIDs, req.Vector, req.Threshold, req.TopK)
	if err != nil {
		return nil, err
	}
	out := make([]ranking.Candidate, len(matches))
	for i, m := range matches {
		out[i] = ranking.Candidate{
			ChunkID:    m.ChunkID,
			DocumentID: m.DocumentID,
			ChunkIndex: m.ChunkIndex,
			Text:       m.Text,
			Score:      m.Distance,
			Path:       ranking.PathDistance,
		}
	}
	return out, nil
}

func fromScored(rows []repository.ScoredChunk, path ranking.Path) []ranking.Candidate {
	out := make([]ranking.Candidate, len(rows))
	for i, r := range rows {
		out[i] = ranking.Candidate{
			ChunkID:    r.ID,
			DocumentID: r.DocumentID,
			ChunkIndex: r.ChunkIndex,
			Text:       r.Text,
			Metadata:   r.Metadata,
			Score:      r.Score,
			Path:       path,
		}
	}
	return out
}

var (
	_ Strategy = (*VectorStrategy)(nil)
	_ Strategy = (*RecencyStrategy)(nil)
	_ Strategy = (*IndexStrategy)(nil)
)
