package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ManuScriptHub/Neon-RAG/internal/llm"
)

// LLMScorer uses an LLM to judge a single query-passage pair.
// This implements a cross-encoder-like approach where the model sees both
// query and passage together.
type LLMScorer struct {
	llmClient llm.LLM
	model     string
}

// LLMScorerOption is a functional option for configuring LLMScorer.
type LLMScorerOption func(*LLMScorer)

// WithModel sets the model to use for scoring.
func WithModel(model string) LLMScorerOption {
	return func(s *LLMScorer) {
		s.model = model
	}
}

// NewLLMScorer creates a new LLM-based scorer.
func NewLLMScorer(llmClient llm.LLM, opts ...LLMScorerOption) *LLMScorer {
	s := &LLMScorer{llmClient: llmClient}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// relevanceScore represents the structured output from the LLM.
type relevanceScore struct {
	Score  *float64 `json:"score"`
	Reason string   `json:"reason,omitempty"`
}

// RerankDistance asks the model for a relevance score in [0, 1] and returns
// 1 - score, so lower is more relevant.
func (s *LLMScorer) RerankDistance(ctx context.Context, query, passage string) (float64, error) {
	opts := llm.GenerateOptions{
		Model:       s.model,
		Temperature: 0.0, // Deterministic scoring
		MaxTokens:   128,
		JSON:        true,
	}

	response, err := s.llmClient.Generate(ctx, buildScorePrompt(query, passage), opts)
	if err != nil {
		return 0, fmt.Errorf("LLM scoring failed: %w", err)
	}

	score, err := parseScore(response)
	if err != nil {
		return 0, err
	}
	return 1 - score, nil
}

// buildScorePrompt constructs the prompt for pairwise scoring.
func buildScorePrompt(query, passage string) string {
	var sb strings.Builder

	sb.WriteString("You are a relevance scoring system. Score the passage's relevance to the query.\n\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")

	// Truncate content to avoid token limits
	if len(passage) > 2000 {
		passage = passage[:2000] + "..."
	}
	sb.WriteString("Passage: ")
	sb.WriteString(passage)
	sb.WriteString("\n\n")

	sb.WriteString(`Score the passage from 0.0 to 1.0 based on relevance to the query.
Output ONLY valid JSON in this exact format:
{"score": 0.9}

Be strict: irrelevant passages should score below 0.3, somewhat relevant 0.3-0.7, highly relevant above 0.7.
Output only JSON, no explanation:`)

	return sb.String()
}

// parseScore extracts the score from the LLM response, clamped to [0, 1].
func parseScore(response string) (float64, error) {
	var parsed relevanceScore
	if err := json.Unmarshal([]byte(llm.StripCodeFence(response)), &parsed); err != nil {
		return 0, fmt.Errorf("failed to parse score response: %w", err)
	}
	if parsed.Score == nil {
		return 0, fmt.Errorf("score response has no score")
	}

	score := *parsed.Score
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}

// Ensure LLMScorer implements Scorer interface.
var _ Scorer = (*LLMScorer)(nil)
