package retrieval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuScriptHub/Neon-RAG/internal/memory"
	"github.com/ManuScriptHub/Neon-RAG/internal/ranking"
	"github.com/ManuScriptHub/Neon-RAG/internal/repository"
	"github.com/ManuScriptHub/Neon-RAG/internal/reranker"
	"github.com/ManuScriptHub/Neon-RAG/internal/vectorstore"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// failingSearcher fails vector search but serves recency from the store.
type failingSearcher struct {
	repository.ChunkSearcher
	nearestErr error
	recentErr  error
}

func (f failingSearcher) Nearest(context.Context, []string, []float32, float64, int) ([]repository.ScoredChunk, error) {
	return nil, f.nearestErr
}

func (f failingSearcher) Recent(ctx context.Context, ids []string, topK int) ([]repository.ScoredChunk, error) {
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	return f.ChunkSearcher.Recent(ctx, ids, topK)
}

func seed(t *testing.T, store *memory.Store, key string, vectors map[string][][]float32) {
	t.Helper()
	ctx := context.Background()

	corpus, err := store.Corpora().GetOrCreate(ctx, "user-1", key)
	require.NoError(t, err)
	for docID, vs := range vectors {
		require.NoError(t, store.Documents().Upsert(ctx, &repository.Document{ID: docID, CorpusID: corpus.ID}))
		for i, v := range vs {
			_, err := store.Chunks().Create(ctx, &repository.Chunk{DocumentID: docID, ChunkIndex: i + 1, Text: docID, Embedding: v})
			require.NoError(t, err)
		}
	}
}

func newRetriever(store *memory.Store, searcher repository.ChunkSearcher, opts ...Option) *Retriever {
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(store.Corpora(), store.Documents(),
		[]Strategy{NewVectorStrategy(searcher), NewRecencyStrategy(searcher)}, opts...)
}

func TestSearch_Primary(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "docs-a", map[string][][]float32{
		"text|a": {{1, 0}, {0.6, 0.8}, {0, 1}},
	})

	res, err := newRetriever(store, store.Searcher()).Search(context.Background(), Request{
		Vector: []float32{1, 0}, CorpusKey: "docs-a", TopK: 5, Threshold: 0.8,
	})
	require.NoError(t, err)

	assert.Empty(t, res.Reason)
	assert.False(t, res.Degraded)
	assert.Equal(t, "vector", res.Strategy)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, 1, res.Candidates[0].ChunkIndex)
	assert.Equal(t, ranking.PathDistance, res.Candidates[0].Path)
	assert.LessOrEqual(t, res.Candidates[0].Score, res.Candidates[1].Score)
}

func TestSearch_FallbackToRecency(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "docs-a", map[string][][]float32{
		"text|a": {{1, 0}, {0, 1}, {1, 1}, {1, 0}, {0, 1}, {1, 1}, {1, 0}},
	})
	searcher := failingSearcher{ChunkSearcher: store.Searcher(), nearestErr: errors.New("operator does not exist: vector <=> vector")}

	res, err := newRetriever(store, searcher).Search(context.Background(), Request{
		Vector: []float32{1, 0}, CorpusKey: "docs-a", TopK: 5, Threshold: 0.8,
	})
	require.NoError(t, err)

	assert.Empty(t, res.Reason)
	assert.True(t, res.Degraded)
	assert.Equal(t, "recency", res.Strategy)
	require.Len(t, res.Candidates, 5)
	for i, c := range res.Candidates {
		assert.Equal(t, 7-i, c.ChunkIndex, "newest first")
		assert.Equal(t, memory.RecencyScore, c.Score)
		assert.Equal(t, ranking.PathFallback, c.Path)
	}
}

func TestSearch_AllStrategiesFail(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "docs-a", map[string][][]float32{"text|a": {{1, 0}}})
	searcher := failingSearcher{ChunkSearcher: store.Searcher(), nearestErr: errors.New("down"), recentErr: errors.New("down")}

	res, err := newRetriever(store, searcher).Search(context.Background(), Request{
		Vector: []float32{1, 0}, CorpusKey: "docs-a", TopK: 5, Threshold: 0.8,
	})
	require.NoError(t, err)
	assert.Equal(t, ReasonSearchError, res.Reason)
	assert.Empty(t, res.Candidates)
}

func TestSearch_Reasons(t *testing.T) {
	store := memory.NewStore()
	_, err := store.Corpora().GetOrCreate(context.Background(), "user-1", "empty")
	require.NoError(t, err)
	seed(t, store, "docs-b", map[string][][]float32{"text|b": {{0, 1}}})

	rt := newRetriever(store, store.Searcher())

	tests := []struct {
		key  string
		want Reason
	}{
		{key: "missing", want: ReasonNoCorpus},
		{key: "empty", want: ReasonNoDocuments},
		{key: "docs-b", want: ReasonNoMatches},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			res, err := rt.Search(context.Background(), Request{Vector: []float32{1, 0}, CorpusKey: tt.key, TopK: 5, Threshold: 0.8})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Reason)
		})
	}
}

func TestSearch_InvalidRequest(t *testing.T) {
	store := memory.NewStore()
	rt := newRetriever(store, store.Searcher())

	_, err := rt.Search(context.Background(), Request{CorpusKey: "x", TopK: 5})
	assert.Error(t, err)
	_, err = rt.Search(context.Background(), Request{Vector: []float32{1}, CorpusKey: "x"})
	assert.Error(t, err)
}

type textScorer map[string]float64

func (s textScorer) RerankDistance(_ context.Context, _, passage string) (float64, error) {
	if d, ok := s[passage]; ok {
		return d, nil
	}
	return 0, errors.New("no score")
}

func TestSearch_RerankOnlyForRecordedQuestion(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, "docs-a", map[string][][]float32{
		"text|a": {{1, 0}},
		"text|b": {{0.9, 0.1}},
	})
	scorer := textScorer{"text|a": 0.9, "text|b": 0.1}
	rr := reranker.New(scorer, reranker.WithLogger(quietLogger()))
	rt := newRetriever(store, store.Searcher(), WithReranking(store.Questions(), rr))

	req := Request{Vector: []float32{1, 0}, CorpusKey: "docs-a", TopK: 5, Threshold: 0.8}

	res, err := rt.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Reranked, "no recorded question")
	assert.Equal(t, "text|a", res.Candidates[0].DocumentID)

	require.NoError(t, store.Questions().Create(ctx, &repository.Question{Text: "q", Embedding: req.Vector}))

	res, err = rt.Search(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Reranked)
	assert.Equal(t, "text|b", res.Candidates[0].DocumentID)
	assert.Equal(t, ranking.PathRerank, res.Candidates[0].Path)
}

type fakeIndex struct {
	vectorstore.VectorStore
	matches []vectorstore.Match
	corpus  string
}

func (f *fakeIndex) Search(_ context.Context, corpusID string, _ []string, _ []float32, _ float64, _ int) ([]vectorstore.Match, error) {
	f.corpus = corpusID
	return f.matches, nil
}

func TestIndexStrategy(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "docs-a", map[string][][]float32{"text|a": {{1, 0}}})
	corpus, err := store.Corpora().GetByKey(context.Background(), "docs-a")
	require.NoError(t, err)

	index := &fakeIndex{matches: []vectorstore.Match{{ChunkID: "c1", DocumentID: "text|a", ChunkIndex: 1, Text: "hi", Distance: 0.1}}}
	rt := New(store.Corpora(), store.Documents(),
		[]Strategy{NewIndexStrategy(index), NewRecencyStrategy(store.Searcher())}, WithLogger(quietLogger()))

	res, err := rt.Search(context.Background(), Request{Vector: []float32{1, 0}, CorpusKey: "docs-a", TopK: 5, Threshold: 0.8})
	require.NoError(t, err)
	assert.Equal(t, "index", res.Strategy)
	assert.Equal(t, corpus.ID.String(), index.corpus)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, 0.1, res.Candidates[0].Score)
}
