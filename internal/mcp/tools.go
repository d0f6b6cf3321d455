package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ManuScriptHub/Neon-RAG/internal/service"
)

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Question  string  `json:"question" jsonschema:"the question to answer"`
	CorpusKey string  `json:"corpus_key" jsonschema:"the corpus to search"`
	TopK      int     `json:"top_k,omitempty" jsonschema:"maximum number of chunks to retrieve"`
	Threshold float64 `json:"threshold,omitempty" jsonschema:"maximum cosine distance of a match"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Answer          string        `json:"answer"`
	Chunks          []ChunkOutput `json:"chunks"`
	Reason          string        `json:"reason,omitempty"`
	EmbeddingSource string        `json:"embedding_source,omitempty"`
}

// ChunkOutput is one ranked context chunk.
type ChunkOutput struct {
	Rank      int     `json:"rank"`
	Text      string  `json:"text"`
	Relevance float64 `json:"relevance"`
}

// IngestInput is the input schema for the ingest_text tool.
type IngestInput struct {
	CorpusKey string `json:"corpus_key" jsonschema:"the corpus to add the document to"`
	UserID    string `json:"user_id" jsonschema:"the owner of the corpus"`
	FileName  string `json:"file_name" jsonschema:"the document name"`
	Text      string `json:"text" jsonschema:"the document text"`
}

// IngestOutput is the output schema for the ingest_text tool.
type IngestOutput struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	Embedded   int    `json:"embedded"`
	Failed     int    `json:"failed"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search",
		Description: "Answer a question from the documents of a corpus",
	}, s.handleSearch)

	if s.ingester != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "ingest_text",
			Description: "Chunk, embed, and store a plain text document in a corpus",
		}, s.handleIngest)
	}
}

func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	resp, err := s.querier.Query(ctx, service.QueryRequest{
		Question:  input.Question,
		CorpusKey: input.CorpusKey,
		TopK:      input.TopK,
		Threshold: input.Threshold,
	})
	if err != nil {
		return nil, SearchOutput{}, err
	}

	output := SearchOutput{
		Answer:          resp.Answer,
		Chunks:          make([]ChunkOutput, len(resp.Chunks)),
		Reason:          resp.Reason,
		EmbeddingSource: resp.EmbeddingSource,
	}
	for i, c := range resp.Chunks {
		output.Chunks[i] = ChunkOutput{Rank: c.Rank, Text: c.Text, Relevance: c.Relevance}
	}
	return nil, output, nil
}

func (s *Server) handleIngest(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input IngestInput,
) (*mcp.CallToolResult, IngestOutput, error) {
	report, err := s.ingester.Ingest(ctx, service.IngestRequest{
		CorpusKey: input.CorpusKey,
		UserID:    input.UserID,
		FileType:  "text",
		Content:   input.Text,
		FileName:  input.FileName,
	})
	if err != nil {
		return nil, IngestOutput{}, err
	}

	return nil, IngestOutput{
		DocumentID: report.DocumentID,
		Chunks:     report.Stats.ChunkCount,
		Embedded:   report.Stats.Embedded,
		Failed:     report.Stats.Failed,
	}, nil
}
