// Package ingestion handles document processing: chunking, tagging, and pipeline orchestration.
package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ManuScriptHub/Neon-RAG/internal/apperr"
	"github.com/ManuScriptHub/Neon-RAG/internal/llm"
)

// Chunking modes
const (
	ModeFixed  = "fixed"
	ModeModel  = "model"
	ModeNative = "native"
)

// Segment is one numbered piece of chunked text. Numbers start at 1.
type Segment struct {
	Number  int    `json:"chunk_number"`
	Content string `json:"content"`
}

// Options selects the chunking strategy and its parameters.
type Options struct {
	Mode    string `json:"mode,omitempty"`
	Size    int    `json:"size,omitempty"`
	Overlap int    `json:"overlap,omitempty"`
	// Model overrides the LLM model used in model mode.
	Model string `json:"model,omitempty"`
}

// NativeSplitter is the store-native text splitting capability.
type NativeSplitter interface {
	ChunksByTokenCount(ctx context.Context, text string, size, overlap int) ([]string, error)
	ChunksByCharacterCount(ctx context.Context, text string, size, overlap int) ([]string, error)
}

// Chunker splits text into ordered segments
type Chunker struct {
	native NativeSplitter
	llm    llm.LLM
	logger *slog.Logger
}

// ChunkerOption is a functional option for configuring Chunker.
type ChunkerOption func(*Chunker)

// WithNativeSplitter enables the store-native strategies.
func WithNativeSplitter(native NativeSplitter) ChunkerOption {
	return func(c *Chunker) {
		c.native = native
	}
}

// WithLLM enables model-driven chunking.
func WithLLM(client llm.LLM) ChunkerOption {
	return func(c *Chunker) {
		c.llm = client
	}
}

// WithChunkerLogger sets the logger used to report strategy fallbacks.
func WithChunkerLogger(logger *slog.Logger) ChunkerOption {
	return func(c *Chunker) {
		c.logger = logger
	}
}

// NewChunker creates a new Chunker
func NewChunker(opts ...ChunkerOption) *Chunker {
	c := &Chunker{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chunk splits text according to opts. Empty text yields no segments.
func (c *Chunker) Chunk(ctx context.Context, text string, opts Options) ([]Segment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.InvalidArgument("chunk", "text is required")
	}

	switch opts.Mode {
	case ModeFixed:
		if opts.Size <= 0 {
			return nil, apperr.InvalidArgument("chunk", "chunk size must be greater than zero")
		}
		return number(chunkFixed(text, opts.Size, opts.Overlap)), nil
	case ModeModel:
		return c.chunkModel(ctx, text, opts)
	case ModeNative, "":
		if opts.Size <= 0 {
			return nil, apperr.InvalidArgument("chunk", "chunk size must be greater than zero")
		}
		return number(c.chunkNative(ctx, text, opts)), nil
	default:
		return nil, apperr.InvalidArgument("chunk", fmt.Sprintf("unknown chunking mode %q", opts.Mode))
	}
}

// ============================================================================
// Fixed Chunking
// ============================================================================

// chunkFixed splits content into windows of size words. Each window starts
// size-overlap words after the previous one, or size words when the overlap
// is not smaller than the window.
func chunkFixed(content string, size, overlap int) []string {
	words := strings.Fields(content)
	if len(words) == 0 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}

	step := size - overlap
	if step <= 0 {
		step = size
	}

	var chunks []string
	for i := 0; i < len(words); i += step {
		end := i + size
		if end > len(words) {
			end = len(words)
		}

		chunks = append(chunks, strings.Join(words[i:end], " "))

		// If we've already captured everything, break
		if end >= len(words) {
			break
		}
	}

	return chunks
}

// ============================================================================
// Native Chunking
// ============================================================================

type splitStrategy struct {
	name  string
	split func(ctx context.Context, text string, size, overlap int) ([]string, error)
}

// chunkNative runs token-count, character-count, and word-window splitting in
// order and returns the first non-empty result.
func (c *Chunker) chunkNative(ctx context.Context, text string, opts Options) []string {
	var strategies []splitStrategy
	if c.native != nil {
		strategies = append(strategies,
			splitStrategy{name: "token_count", split: func(ctx context.Context, text string, size, overlap int) ([]string, error) {
				// sizes are given in characters; four characters per token
				return c.native.ChunksByTokenCount(ctx, text, size/4, overlap/4)
			}},
			splitStrategy{name: "character_count", split: c.native.ChunksByCharacterCount},
		)
	}
	strategies = append(strategies, splitStrategy{name: "word_window", split: func(_ context.Context, text string, size, overlap int) ([]string, error) {
		return chunkFixed(text, size, overlap), nil
	}})

	for _, s := range strategies {
		parts, err := s.split(ctx, text, opts.Size, opts.Overlap)
		if err != nil {
			c.logger.Warn("chunking strategy failed, trying next", "strategy", s.name, "error", err)
			continue
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return nil
}

// ============================================================================
// Model Chunking
// ============================================================================

const chunkPromptTemplate = `Split the following text into chunks of approximately 200-300 words each. Number the chunks sequentially starting from 1.
Return the result as a JSON array in exactly this format:

[
  {"chunk_number": 1, "content": "First chunk of the text here..."},
  {"chunk_number": 2, "content": "Second chunk of the text here..."}
]

Rules:
- Do not break sentences mid-way.
- Preserve the original order of the text.
- Return only the JSON, with no commentary.

Text: %s`

func (c *Chunker) chunkModel(ctx context.Context, text string, opts Options) ([]Segment, error) {
	if c.llm == nil {
		return nil, apperr.Unavailable("chunk_model", "no language model configured", nil)
	}

	response, err := c.llm.Generate(ctx, fmt.Sprintf(chunkPromptTemplate, text), llm.GenerateOptions{
		Model:       opts.Model,
		Temperature: 0.1,
		JSON:        true,
	})
	if err != nil {
		return nil, apperr.Provider("chunk_model", "language model call failed", err)
	}

	segments, err := parseSegments(response)
	if err != nil {
		return nil, apperr.Parse("chunk_model", "language model returned invalid chunk JSON", err)
	}

	contents := make([]string, len(segments))
	for i, s := range segments {
		contents[i] = s.Content
	}
	return number(contents), nil
}

// parseSegments decodes a JSON array of segments. JSON mode models may wrap
// the array in an object: a "chunks" field wins, otherwise the first
// segment array in field order is used.
func parseSegments(response string) ([]Segment, error) {
	body := llm.StripCodeFence(response)
	if body == "" {
		return nil, fmt.Errorf("empty response")
	}

	var segments []Segment
	if err := json.Unmarshal([]byte(body), &segments); err == nil {
		return segments, nil
	}
	return wrappedSegments([]byte(body))
}

func wrappedSegments(body []byte) ([]Segment, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, fmt.Errorf("decoding chunk array: response is neither an array nor an object")
	}

	var first []Segment
	for dec.More() {
		key, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decoding chunk array: %w", err)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decoding chunk array: %w", err)
		}
		if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
			continue
		}

		var segments []Segment
		if err := json.Unmarshal(raw, &segments); err != nil {
			continue
		}
		if key == "chunks" {
			return segments, nil
		}
		if first == nil {
			first = segments
		}
	}
	if first == nil {
		return nil, fmt.Errorf("no chunk array in response")
	}
	return first, nil
}

// number drops blank parts and numbers the rest 1..N.
func number(parts []string) []Segment {
	segments := make([]Segment, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		segments = append(segments, Segment{Number: len(segments) + 1, Content: p})
	}
	return segments
}
