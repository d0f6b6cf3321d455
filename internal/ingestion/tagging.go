package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/ManuScriptHub/Neon-RAG/internal/apperr"
	"github.com/ManuScriptHub/Neon-RAG/internal/llm"
)

// maxTagInput bounds the text sent to the model for analysis.
const maxTagInput = 24000

const tagSystemPrompt = "You are an expert text analyzer. Parse the given text and produce structured JSON metadata."

const tagPromptTemplate = `TEXT:
%s

TASK:
Analyze the TEXT above and return a JSON object with these fields:

1) main_topic: a single string naming the overall topic or category.
2) keywords: a list of short relevant keywords or key phrases.
3) named_entities: an object with the lists people, organizations, locations, and dates.
4) sentiment: the overall tone (positive, negative, or neutral).
5) summary: a concise summary of the main points.
6) key_points: a list of the most important points.
7) related_questions: questions a reader might ask after reading.
8) domain_specific: relevant domains or subdomains (e.g. "Healthcare", "Finance").

Return only valid JSON with no commentary or markdown.`

// Tagger derives document-level analysis tags with a language model.
type Tagger struct {
	llm   llm.LLM
	model string
}

// NewTagger creates a tagger. model may be empty to use the client default.
func NewTagger(client llm.LLM, model string) *Tagger {
	return &Tagger{llm: client, model: model}
}

// Tag analyzes text and returns the decoded tag object.
func (t *Tagger) Tag(ctx context.Context, text string) (map[string]any, error) {
	if len(text) > maxTagInput {
		n := maxTagInput
		for n > 0 && !utf8.RuneStart(text[n]) {
			n--
		}
		text = text[:n]
	}

	response, err := t.llm.Generate(ctx, fmt.Sprintf(tagPromptTemplate, text), llm.GenerateOptions{
		Model:        t.model,
		SystemPrompt: tagSystemPrompt,
		Temperature:  0.1,
		JSON:         true,
	})
	if err != nil {
		return nil, apperr.Provider("tag_document", "language model call failed", err)
	}

	body := llm.StripCodeFence(response)
	if body == "" {
		return nil, apperr.Parse("tag_document", "language model returned an empty response", nil)
	}

	var tags map[string]any
	if err := json.Unmarshal([]byte(body), &tags); err != nil {
		return nil, apperr.Parse("tag_document", "language model returned invalid tag JSON", err)
	}
	return tags, nil
}
