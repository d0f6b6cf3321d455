// Package ranking maps raw retrieval scores onto a common relevance band,
// selects the candidates worth keeping, and assembles the answer context.
package ranking

import (
	"math"
	"sort"
	"strings"
)

// Path records which retrieval stage produced a candidate's raw score.
type Path string

const (
	PathDistance Path = "distance"
	PathFallback Path = "fallback"
	PathRerank   Path = "rerank"
)

const (
	// Epsilon is the spread below which raw scores are treated as equal.
	Epsilon = 0.001

	// KeepThreshold is the relevance a candidate needs to be kept outright.
	KeepThreshold = 0.5

	// DefaultMinKeep is the default number of candidates always kept.
	DefaultMinKeep = 3

	// ContextSeparator joins chunk texts in the assembled context.
	ContextSeparator = "\n\n\n"

	// NoInformationAnswer is returned when nothing survives selection.
	NoInformationAnswer = "No relevant information found for your question."

	minRelevance = 0.1
	maxRelevance = 0.95
)

// Candidate is a retrieved chunk with its raw score, where lower is more
// relevant, and its normalized relevance, where higher is more relevant.
type Candidate struct {
	ChunkID    string
	DocumentID string
	ChunkIndex int
	Text       string
	Metadata   map[string]any
	Score      float64
	Path       Path
	Relevance  float64
}

// Ranked is a kept candidate numbered by its position in the context.
type Ranked struct {
	Rank      int     `json:"rank"`
	ChunkID   string  `json:"chunk_id,omitempty"`
	Text      string  `json:"text"`
	Relevance float64 `json:"relevance"`
}

// Normalize sets Relevance on each candidate in place, keeping input order.
//
// When every raw score is within Epsilon of the others, relevance decays by
// position: max(0.1, 1 - 0.1*pos). Otherwise scores are rescaled linearly
// so the best raw score maps to 0.95 and the worst to 0.1.
func Normalize(cands []Candidate) []Candidate {
	if len(cands) == 0 {
		return cands
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range cands {
		lo = math.Min(lo, c.Score)
		hi = math.Max(hi, c.Score)
	}

	spread := hi - lo
	for i := range cands {
		if spread < Epsilon {
			cands[i].Relevance = math.Max(minRelevance, 1.0-0.1*float64(i))
			continue
		}
		rel := 1 - (cands[i].Score-lo)/spread
		cands[i].Relevance = math.Max(minRelevance, math.Min(maxRelevance, rel))
	}
	return cands
}

// Select keeps candidates with relevance of at least KeepThreshold. If fewer
// than minKeep pass, the top minKeep by relevance are kept instead. The
// result is ordered by relevance, highest first.
func Select(cands []Candidate, minKeep int) []Candidate {
	if minKeep < 1 {
		minKeep = 1
	}

	ordered := make([]Candidate, len(cands))
	copy(ordered, cands)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Relevance > ordered[j].Relevance
	})

	kept := 0
	for _, c := range ordered {
		if c.Relevance >= KeepThreshold {
			kept++
		}
	}
	if kept < minKeep {
		kept = min(minKeep, len(ordered))
	}
	return ordered[:kept]
}

// Assemble numbers the kept candidates 1..N by descending relevance and
// joins their texts into one context block.
func Assemble(kept []Candidate) (string, []Ranked) {
	ordered := make([]Candidate, len(kept))
	copy(ordered, kept)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Relevance > ordered[j].Relevance
	})

	texts := make([]string, len(ordered))
	ranked := make([]Ranked, len(ordered))
	for i, c := range ordered {
		texts[i] = c.Text
		ranked[i] = Ranked{Rank: i + 1, ChunkID: c.ChunkID, Text: c.Text, Relevance: c.Relevance}
	}
	return strings.Join(texts, ContextSeparator), ranked
}

// Build runs normalization, selection, and assembly. An empty context means
// generation should be skipped in favor of NoInformationAnswer.
func Build(cands []Candidate, minKeep int) (string, []Ranked) {
	if len(cands) == 0 {
		return "", nil
	}
	normalized := Normalize(append([]Candidate(nil), cands...))
	return Assemble(Select(normalized, minKeep))
}
