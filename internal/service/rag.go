// Package service implements document ingestion, question answering, and chunk
// management on top of the retrieval pipeline.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ManuScriptHub/Neon-RAG/internal/apperr"
	"github.com/ManuScriptHub/Neon-RAG/internal/embedder"
	"github.com/ManuScriptHub/Neon-RAG/internal/llm"
	"github.com/ManuScriptHub/Neon-RAG/internal/ranking"
	"github.com/ManuScriptHub/Neon-RAG/internal/repository"
	"github.com/ManuScriptHub/Neon-RAG/internal/retrieval"
)

// NotEnoughContextAnswer is the reply the model is told to give when the
// context does not answer the question.
const NotEnoughContextAnswer = "Not enough context to provide information."

// QueryEmbedder turns a question into a query vector.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) (embedder.Result, error)
}

// QueryRequest is a question against one corpus. Zero TopK and Threshold
// take the configured defaults. FallbackModel selects the model of the
// external embedding API when the primary path fails.
type QueryRequest struct {
	Question      string  `json:"question"`
	TopK          int     `json:"top_k,omitempty"`
	FallbackModel string  `json:"fallback_model,omitempty"`
	CorpusKey     string  `json:"corpus_key"`
	Threshold     float64 `json:"threshold,omitempty"`
}

// QueryResponse is the generated answer and the chunks it was built from.
type QueryResponse struct {
	Answer          string           `json:"answer"`
	Chunks          []ranking.Ranked `json:"chunks"`
	EmbeddingSource string           `json:"embedding_source,omitempty"`
	Reason          string           `json:"reason,omitempty"`
	Degraded        bool             `json:"degraded,omitempty"`
	Reranked        bool             `json:"reranked,omitempty"`
	Metadata        QueryMetadata    `json:"metadata"`
}

// QueryMetadata reports timings of a query.
type QueryMetadata struct {
	RetrievalTimeMs  int64  `json:"retrieval_time_ms"`
	GenerationTimeMs int64  `json:"generation_time_ms"`
	TotalTimeMs      int64  `json:"total_time_ms"`
	ChunksRetrieved  int    `json:"chunks_retrieved"`
	Strategy         string `json:"strategy,omitempty"`
}

// RAGConfig holds query defaults.
type RAGConfig struct {
	DefaultTopK      int
	DefaultThreshold float64
	MinContextChunks int
	Model            string
}

// RAGService answers questions from the chunks of a corpus.
type RAGService struct {
	config    RAGConfig
	embedder  QueryEmbedder
	retriever *retrieval.Retriever
	llmClient llm.LLM
	questions repository.QuestionRepository // Optional: records asked questions
	logger    *slog.Logger
}

// RAGServiceOption is a functional option for configuring RAGService.
type RAGServiceOption func(*RAGService)

// WithQuestionRecording stores each question with its query embedding.
func WithQuestionRecording(questions repository.QuestionRepository) RAGServiceOption {
	return func(s *RAGService) {
		s.questions = questions
	}
}

// WithRAGLogger sets the service logger.
func WithRAGLogger(logger *slog.Logger) RAGServiceOption {
	return func(s *RAGService) {
		s.logger = logger
	}
}

// NewRAGService creates a new RAGService
func NewRAGService(config RAGConfig, emb QueryEmbedder, retriever *retrieval.Retriever, llmClient llm.LLM, opts ...RAGServiceOption) *RAGService {
	if config.DefaultTopK <= 0 {
		config.DefaultTopK = 5
	}
	if config.DefaultThreshold <= 0 {
		config.DefaultThreshold = 0.8
	}
	if config.MinContextChunks <= 0 {
		config.MinContextChunks = ranking.DefaultMinKeep
	}

	s := &RAGService{
		config:    config,
		embedder:  emb,
		retriever: retriever,
		llmClient: llmClient,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Query embeds the question, retrieves and ranks chunks, and asks the LLM to
// summarize them. An empty retrieval short-circuits with
// ranking.NoInformationAnswer and no generation call.
func (s *RAGService) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	startTime := time.Now()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, apperr.InvalidArgument("query", "question is required")
	}
	if req.CorpusKey == "" {
		return nil, apperr.InvalidArgument("query", "corpus_key is required")
	}
	if req.TopK < 0 {
		return nil, apperr.InvalidArgument("query", "top_k must not be negative")
	}
	topK := req.TopK
	if topK == 0 {
		topK = s.config.DefaultTopK
	}
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = s.config.DefaultThreshold
	}

	// Step 1: Embed the question
	retrievalStart := time.Now()
	embedding, err := s.embedder.EmbedQuery(embedder.ContextWithModel(ctx, req.FallbackModel), question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	if s.questions != nil {
		s.recordQuestion(ctx, question, embedding.Vector)
	}

	// Step 2: Retrieve candidates
	result, err := s.retriever.Search(ctx, retrieval.Request{
		Vector:    embedding.Vector,
		CorpusKey: req.CorpusKey,
		TopK:      topK,
		Threshold: threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	retrievalTime := time.Since(retrievalStart)

	resp := &QueryResponse{
		Chunks:          []ranking.Ranked{},
		EmbeddingSource: embedding.Provider,
		Reason:          string(result.Reason),
		Degraded:        result.Degraded,
		Reranked:        result.Reranked,
		Metadata: QueryMetadata{
			RetrievalTimeMs: retrievalTime.Milliseconds(),
			ChunksRetrieved: len(result.Candidates),
			Strategy:        result.Strategy,
		},
	}

	// Step 3: Rank and assemble context
	contextText, ranked := ranking.Build(result.Candidates, s.config.MinContextChunks)
	if contextText == "" {
		s.logger.Info("no relevant chunks found", "corpus_key", req.CorpusKey, "reason", result.Reason)
		resp.Answer = ranking.NoInformationAnswer
		resp.Metadata.TotalTimeMs = time.Since(startTime).Milliseconds()
		return resp, nil
	}
	resp.Chunks = ranked

	// Step 4: Generate the answer
	generationStart := time.Now()
	answer, err := s.llmClient.Generate(ctx, buildAnswerPrompt(question, contextText), llm.GenerateOptions{
		Model:        s.config.Model,
		SystemPrompt: "this is a data about some information",
	})
	if err != nil {
		return nil, apperr.Provider("generate_answer", "failed to generate response", err)
	}

	resp.Answer = strings.TrimSpace(answer)
	resp.Metadata.GenerationTimeMs = time.Since(generationStart).Milliseconds()
	resp.Metadata.TotalTimeMs = time.Since(startTime).Milliseconds()

	s.logger.Info("query answered",
		"corpus_key", req.CorpusKey,
		"chunks", len(ranked),
		"embedding_source", embedding.Provider,
		"degraded", result.Degraded,
		"reranked", result.Reranked,
	)
	return resp, nil
}

func (s *RAGService) recordQuestion(ctx context.Context, question string, vector []float32) {
	err := s.questions.Create(ctx, &repository.Question{
		ID:        uuid.New(),
		Text:      question,
		Embedding: vector,
	})
	if err != nil {
		s.logger.Warn("failed to record question", "error", err)
	}
}

// buildAnswerPrompt asks for a summary of data that answers question, or the
// fixed NotEnoughContextAnswer reply.
func buildAnswerPrompt(question, contextText string) string {
	var sb strings.Builder
	sb.WriteString("question: ")
	sb.WriteString(question)
	sb.WriteString("\nYou are a helpful assistant, your task is to summarize the given context of information.\n\n")
	sb.WriteString("data: ")
	sb.WriteString(contextText)
	sb.WriteString("\n\nIf the data is not sufficient to provide an answer, just strictly reply with \"")
	sb.WriteString(NotEnoughContextAnswer)
	sb.WriteString("\"\n")
	return sb.String()
}
