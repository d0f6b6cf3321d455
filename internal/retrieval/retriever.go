// Package retrieval finds the chunks of a corpus that best match a query
// vector, degrading to a recency lookup when vector search is unavailable.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ManuScriptHub/Neon-RAG/internal/apperr"
	"github.com/ManuScriptHub/Neon-RAG/internal/ranking"
	"github.com/ManuScriptHub/Neon-RAG/internal/repository"
	"github.com/ManuScriptHub/Neon-RAG/internal/reranker"
)

// Reason explains an empty search result.
type Reason string

const (
	ReasonNoCorpus    Reason = "no-corpus"
	ReasonNoDocuments Reason = "no-documents"
	ReasonNoMatches   Reason = "no-matches"
	ReasonSearchError Reason = "search-error"
)

// Request is a query-time search over one corpus.
type Request struct {
	Vector    []float32
	CorpusKey string
	TopK      int
	Threshold float64
}

// Result carries the candidates of a search. Degraded is set when a
// strategy after the first produced them.
type Result struct {
	Candidates []ranking.Candidate
	Reason     Reason
	Degraded   bool
	Strategy   string
	Reranked   bool
}

// Retriever resolves a corpus and runs its strategies in order.
type Retriever struct {
	corpora    repository.CorpusRepository
	documents  repository.DocumentRepository
	strategies []Strategy
	questions  repository.QuestionRepository
	reranker   *reranker.Reranker
	logger     *slog.Logger
}

// Option is a functional option for configuring Retriever.
type Option func(*Retriever)

// WithReranking enables reranking for queries whose text was recorded.
func WithReranking(questions repository.QuestionRepository, r *reranker.Reranker) Option {
	return func(rt *Retriever) {
		rt.questions = questions
		rt.reranker = r
	}
}

// WithLogger sets the retriever logger.
func WithLogger(logger *slog.Logger) Option {
	return func(rt *Retriever) {
		rt.logger = logger
	}
}

// New creates a retriever. strategies are tried in order; the first is the
// primary path.
func New(corpora repository.CorpusRepository, documents repository.DocumentRepository, strategies []Strategy, opts ...Option) *Retriever {
	rt := &Retriever{
		corpora:    corpora,
		documents:  documents,
		strategies: strategies,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Search returns the best-matching chunks for req. An empty result carries
// a Reason; only store failures while resolving the corpus are errors.
func (rt *Retriever) Search(ctx context.Context, req Request) (Result, error) {
	if len(req.Vector) == 0 {
		return Result{}, apperr.InvalidArgument("search", "query vector is required")
	}
	if req.CorpusKey == "" {
		return Result{}, apperr.InvalidArgument("search", "corpus key is required")
	}
	if req.TopK <= 0 {
		return Result{}, apperr.InvalidArgument("search", "top_k must be greater than zero")
	}

	corpus, err := rt.corpora.GetByKey(ctx, req.CorpusKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Result{Reason: ReasonNoCorpus}, nil
		}
		return Result{}, fmt.Errorf("failed to resolve corpus: %w", err)
	}

	documentIDs, err := rt.documents.ListIDsByCorpus(ctx, corpus.ID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list corpus documents: %w", err)
	}
	if len(documentIDs) == 0 {
		return Result{Reason: ReasonNoDocuments}, nil
	}

	scope := Scope{CorpusID: corpus.ID, DocumentIDs: documentIDs}
	result, ok := rt.runStrategies(ctx, scope, req)
	if !ok {
		return Result{Reason: ReasonSearchError}, nil
	}

	if len(result.Candidates) > 0 {
		rt.rerank(ctx, req, &result)
	}
	if len(result.Candidates) == 0 {
		result.Reason = ReasonNoMatches
	}
	return result, nil
}

func (rt *Retriever) runStrategies(ctx context.Context, scope Scope, req Request) (Result, bool) {
	for i, s := range rt.strategies {
		cands, err := s.Search(ctx, scope, req)
		if err != nil {
			rt.logger.Warn("search strategy failed",
				"strategy", s.Name(),
				"corpus_key", req.CorpusKey,
				"error", err,
			)
			continue
		}
		if len(cands) > req.TopK {
			cands = cands[:req.TopK]
		}
		result := Result{Candidates: cands, Strategy: s.Name(), Degraded: i > 0}
		if result.Degraded {
			rt.logger.Warn("search degraded",
				"strategy", s.Name(),
				"corpus_key", req.CorpusKey,
				"candidates", len(cands),
			)
		}
		return result, true
	}

	rt.logger.Error("all search strategies failed", "corpus_key", req.CorpusKey)
	return Result{}, false
}

// rerank re-scores the candidates when the query text can be recovered from
// a recorded question. Lookup failures skip reranking silently.
func (rt *Retriever) rerank(ctx context.Context, req Request, result *Result) {
	if rt.reranker == nil || rt.questions == nil {
		return
	}
	question, err := rt.questions.TextForEmbedding(ctx, req.Vector)
	if err != nil || question == "" {
		return
	}

	cands, report := rt.reranker.Rerank(ctx, question, result.Candidates)
	result.Candidates = cands
	result.Reranked = report.Scored > 0
}
