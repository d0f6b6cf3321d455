package ingestion

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuScriptHub/Neon-RAG/internal/apperr"
	"github.com/ManuScriptHub/Neon-RAG/internal/embedder"
	"github.com/ManuScriptHub/Neon-RAG/internal/memory"
	"github.com/ManuScriptHub/Neon-RAG/internal/repository"
	"github.com/ManuScriptHub/Neon-RAG/internal/vectorstore"
)

type fakeEmbedder struct {
	failOn string
}

func (f *fakeEmbedder) EmbedPassage(_ context.Context, text string) (embedder.Result, error) {
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return embedder.Result{}, apperr.EmbeddingFailed("embed_document", errors.New("primary down"), errors.New("fallback down"))
	}
	return embedder.Result{Vector: []float32{1, 0}, Source: embedder.SourcePrimary, Provider: "pgRAG"}, nil
}

type fakeTagger struct {
	tags map[string]any
	err  error
}

func (f *fakeTagger) Tag(context.Context, string) (map[string]any, error) {
	return f.tags, f.err
}

type fakeMirror struct {
	points  []vectorstore.Point
	cleared []string
}

func (f *fakeMirror) EnsureCollection(context.Context, string, int) error { return nil }

func (f *fakeMirror) Upsert(_ context.Context, _ string, points []vectorstore.Point) error {
	f.points = append(f.points, points...)
	return nil
}

func (f *fakeMirror) Search(context.Context, string, []string, []float32, float64, int) ([]vectorstore.Match, error) {
	return nil, nil
}

func (f *fakeMirror) DeleteDocument(_ context.Context, _ string, documentID string) error {
	f.cleared = append(f.cleared, documentID)
	return nil
}

func (f *fakeMirror) DeleteByIDs(context.Context, string, []string) error { return nil }

func fixedConfig(size, overlap int) PipelineConfig {
	return PipelineConfig{Chunking: Options{Mode: ModeFixed, Size: size, Overlap: overlap}}
}

func TestPipeline_StoresChunksWithTags(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	tagger := &fakeTagger{tags: map[string]any{"main_topic": "finance"}}
	p := NewPipeline(fixedConfig(3, 0), NewChunker(), &fakeEmbedder{}, store.Chunks(),
		WithTagger(tagger), WithPipelineLogger(quietLogger()))

	result, err := p.Process(ctx, PipelineInput{DocumentID: "text|a.txt", Text: "one two three four five six seven"})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Stats.ChunkCount)
	assert.Equal(t, 3, result.Stats.Stored)
	assert.Equal(t, 3, result.Stats.Embedded)
	assert.Zero(t, result.Stats.Failed)
	assert.Equal(t, "finance", result.Tags["main_topic"])

	stored, err := store.Chunks().List(ctx, repository.ChunkFilter{"document_id": "text|a.txt"}, 0)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i, c := range stored {
		assert.Equal(t, i+1, c.ChunkIndex)
		assert.Equal(t, "finance", c.Metadata["main_topic"])
		assert.Equal(t, result.ContentHash, c.Metadata["content_hash"])
		assert.NotNil(t, c.Embedding)
	}
	assert.Equal(t, "seven", stored[2].Text)
}

func TestPipeline_EmbeddingFailureStoresWithoutVector(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	p := NewPipeline(fixedConfig(2, 0), NewChunker(), &fakeEmbedder{failOn: "bad"}, store.Chunks(),
		WithPipelineLogger(quietLogger()))

	result, err := p.Process(ctx, PipelineInput{DocumentID: "text|b.txt", Text: "good words bad words"})
	require.NoError(t, err)

	require.Len(t, result.Chunks, 2)
	assert.True(t, result.Chunks[0].Embedded)
	assert.Equal(t, "primary", result.Chunks[0].EmbeddingSource)
	assert.True(t, result.Chunks[1].Stored)
	assert.False(t, result.Chunks[1].Embedded)
	assert.Equal(t, "all embedding providers failed", result.Chunks[1].Error)
	assert.Equal(t, 1, result.Stats.Failed)

	pending, err := store.Chunks().ListMissingEmbedding(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "bad words", pending[0].Text)
}

func TestPipeline_TaggingFailureIsNotFatal(t *testing.T) {
	store := memory.NewStore()
	tagger := &fakeTagger{err: apperr.Parse("tag_document", "bad json", nil)}
	p := NewPipeline(fixedConfig(10, 0), NewChunker(), &fakeEmbedder{}, store.Chunks(),
		WithTagger(tagger), WithPipelineLogger(quietLogger()))

	result, err := p.Process(context.Background(), PipelineInput{DocumentID: "text|c", Text: "some text"})
	require.NoError(t, err)
	assert.Nil(t, result.Tags)
	assert.Equal(t, 1, result.Stats.Stored)
}

func TestPipeline_ReplaceRemovesPreviousChunks(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	mirror := &fakeMirror{}
	p := NewPipeline(fixedConfig(2, 0), NewChunker(), &fakeEmbedder{}, store.Chunks(),
		WithMirror(mirror, 2), WithPipelineLogger(quietLogger()))

	in := PipelineInput{CorpusID: "c1", DocumentID: "text|d", Text: "a b c d", Replace: true}
	_, err := p.Process(ctx, in)
	require.NoError(t, err)

	in.Text = "e f"
	result, err := p.Process(ctx, in)
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.Stats.Replaced)

	stored, err := store.Chunks().List(ctx, repository.ChunkFilter{"document_id": "text|d"}, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "e f", stored[0].Text)

	assert.Len(t, mirror.points, 3)
	assert.Equal(t, []string{"text|d", "text|d"}, mirror.cleared)
}

func TestPipeline_RejectsEmptyContent(t *testing.T) {
	p := NewPipeline(fixedConfig(2, 0), NewChunker(), &fakeEmbedder{}, memory.NewStore().Chunks())

	_, err := p.Process(context.Background(), PipelineInput{DocumentID: "text|e", Text: "  "})
	assert.True(t, apperr.Is(err, apperr.KindInvalidArgument))
}

func TestPipeline_ChunkingOverride(t *testing.T) {
	store := memory.NewStore()
	p := NewPipeline(fixedConfig(100, 0), NewChunker(), &fakeEmbedder{}, store.Chunks(),
		WithPipelineLogger(quietLogger()))

	result, err := p.Process(context.Background(), PipelineInput{
		DocumentID: "text|f",
		Text:       "a b c d",
		Chunking:   &Options{Mode: ModeFixed, Size: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Stats.ChunkCount)
}
