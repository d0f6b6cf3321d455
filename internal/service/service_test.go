package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/ManuScriptHub/Neon-RAG/internal/apperr"
	"github.com/ManuScriptHub/Neon-RAG/internal/embedder"
	"github.com/ManuScriptHub/Neon-RAG/internal/extract"
	"github.com/ManuScriptHub/Neon-RAG/internal/ingestion"
	"github.com/ManuScriptHub/Neon-RAG/internal/llm"
	"github.com/ManuScriptHub/Neon-RAG/internal/memory"
	"github.com/ManuScriptHub/Neon-RAG/internal/retrieval"
	"github.com/ManuScriptHub/Neon-RAG/internal/vectorstore"
)

// vectorEmbedder returns a fixed vector per text, and defaultVector otherwise.
type vectorEmbedder struct {
	mu            sync.Mutex
	vectors       map[string][]float32
	defaultVector []float32
	fail          bool
	calls         int
}

func (e *vectorEmbedder) embed(text string) (embedder.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++

	if e.fail {
		return embedder.Result{}, apperr.EmbeddingFailed("embed_document", errors.New("providers down"))
	}
	if v, ok := e.vectors[text]; ok {
		return embedder.Result{Vector: v, Source: embedder.SourcePrimary, Provider: "pgRAG"}, nil
	}
	return embedder.Result{Vector: e.defaultVector, Source: embedder.SourcePrimary, Provider: "pgRAG"}, nil
}

func (e *vectorEmbedder) EmbedPassage(_ context.Context, text string) (embedder.Result, error) {
	return e.embed(text)
}

func (e *vectorEmbedder) EmbedQuery(_ context.Context, text string) (embedder.Result, error) {
	return e.embed(text)
}

type fakeLLM struct {
	answer  string
	err     error
	prompts []string
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, _ llm.GenerateOptions) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.answer, f.err
}

type fakeMirror struct {
	upserts []vectorstore.Point
	deleted []string
}

func (f *fakeMirror) EnsureCollection(context.Context, string, int) error { return nil }

func (f *fakeMirror) Upsert(_ context.Context, _ string, points []vectorstore.Point) error {
	f.upserts = append(f.upserts, points...)
	return nil
}

func (f *fakeMirror) Search(context.Context, string, []string, []float32, float64, int) ([]vectorstore.Match, error) {
	return nil, nil
}

func (f *fakeMirror) DeleteDocument(context.Context, string, string) error { return nil }

func (f *fakeMirror) DeleteByIDs(_ context.Context, _ string, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stack wires the services over one in-memory store.
type stack struct {
	store     *memory.Store
	embedder  *vectorEmbedder
	llm       *fakeLLM
	documents *DocumentService
	rag       *RAGService
	chunks    *ChunkService
}

func newStack(recordQuestions bool) *stack {
	store := memory.NewStore()
	emb := &vectorEmbedder{vectors: map[string][]float32{}, defaultVector: []float32{0, 0, 1}}
	gen := &fakeLLM{answer: "summary"}
	logger := quietLogger()

	chunking := ingestion.Options{Mode: ingestion.ModeFixed, Size: 3, Overlap: 0}
	chunker := ingestion.NewChunker(ingestion.WithChunkerLogger(logger))
	pipeline := ingestion.NewPipeline(ingestion.PipelineConfig{Chunking: chunking}, chunker, emb, store.Chunks(),
		ingestion.WithPipelineLogger(logger))

	retriever := retrieval.New(store.Corpora(), store.Documents(), []retrieval.Strategy{
		retrieval.NewVectorStrategy(store.Searcher()),
		retrieval.NewRecencyStrategy(store.Searcher()),
	}, retrieval.WithLogger(logger))

	ragOpts := []RAGServiceOption{WithRAGLogger(logger)}
	if recordQuestions {
		ragOpts = append(ragOpts, WithQuestionRecording(store.Questions()))
	}

	return &stack{
		store:     store,
		embedder:  emb,
		llm:       gen,
		documents: NewDocumentService(store.Corpora(), store.Documents(), extract.New(), pipeline, WithDocumentLogger(logger)),
		rag:       NewRAGService(RAGConfig{DefaultTopK: 5, DefaultThreshold: 0.8, MinContextChunks: 3}, emb, retriever, gen, ragOpts...),
		chunks: NewChunkService(store.Chunks(), emb, chunker, chunking,
			WithEmbeddingDimension(3), WithChunkLogger(logger)),
	}
}
