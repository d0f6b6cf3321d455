// Package reranker re-scores retrieval candidates against the literal query
// text.
//
// Reranking is optional and best-effort: a candidate whose scoring call fails
// keeps its prior score, and the batch continues. Scores are distances, so
// lower means more relevant and the reranked list is sorted ascending.
package reranker

import (
	"context"
	"log/slog"
	"sort"

	"github.com/ManuScriptHub/Neon-RAG/internal/ranking"
)

// Scorer returns the pairwise distance between a query and a passage.
type Scorer interface {
	RerankDistance(ctx context.Context, query, passage string) (float64, error)
}

// Report summarizes one rerank pass.
type Report struct {
	Scored int
	Failed int
}

// Reranker applies a Scorer to every candidate.
type Reranker struct {
	scorer Scorer
	logger *slog.Logger
}

// Option is a functional option for configuring Reranker.
type Option func(*Reranker)

// WithLogger sets the logger used to report item failures.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reranker) {
		r.logger = logger
	}
}

// New creates a reranker over scorer.
func New(scorer Scorer, opts ...Option) *Reranker {
	r := &Reranker{scorer: scorer, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rerank scores each candidate against query and returns a new slice sorted
// ascending by score. Ties keep their prior order.
func (r *Reranker) Rerank(ctx context.Context, query string, cands []ranking.Candidate) ([]ranking.Candidate, Report) {
	out := make([]ranking.Candidate, len(cands))
	copy(out, cands)

	var report Report
	for i := range out {
		if ctx.Err() != nil {
			report.Failed += len(out) - i
			break
		}
		distance, err := r.scorer.RerankDistance(ctx, query, out[i].Text)
		if err != nil {
			report.Failed++
			r.logger.Warn("rerank failed for candidate, keeping prior score",
				"chunk_id", out[i].ChunkID,
				"error", err,
			)
			continue
		}
		out[i].Score = distance
		out[i].Path = ranking.PathRerank
		report.Scored++
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score < out[j].Score
	})
	return out, report
}
