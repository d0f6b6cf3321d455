package reranker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuScriptHub/Neon-RAG/internal/llm"
	"github.com/ManuScriptHub/Neon-RAG/internal/ranking"
)

type mapScorer struct {
	distances map[string]float64
	calls     int
}

func (m *mapScorer) RerankDistance(_ context.Context, _, passage string) (float64, error) {
	m.calls++
	d, ok := m.distances[passage]
	if !ok {
		return 0, errors.New("scoring timed out")
	}
	return d, nil
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRerank_SortsAscending(t *testing.T) {
	scorer := &mapScorer{distances: map[string]float64{"a": 0.9, "b": 0.1, "c": 0.5}}
	in := []ranking.Candidate{
		{ChunkID: "1", Text: "a", Score: 0.2, Path: ranking.PathDistance},
		{ChunkID: "2", Text: "b", Score: 0.3, Path: ranking.PathDistance},
		{ChunkID: "3", Text: "c", Score: 0.4, Path: ranking.PathDistance},
	}

	out, report := New(scorer, quiet()).Rerank(context.Background(), "q", in)

	assert.Equal(t, Report{Scored: 3}, report)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"2", "3", "1"}, []string{out[0].ChunkID, out[1].ChunkID, out[2].ChunkID})
	for _, c := range out {
		assert.Equal(t, ranking.PathRerank, c.Path)
	}
	assert.Equal(t, 0.2, in[0].Score, "input is not modified")
}

func TestRerank_ItemFailureKeepsPriorScore(t *testing.T) {
	scorer := &mapScorer{distances: map[string]float64{"a": 0.9, "c": 0.05}}
	in := []ranking.Candidate{
		{ChunkID: "1", Text: "a", Score: 0.2, Path: ranking.PathDistance},
		{ChunkID: "2", Text: "b", Score: 0.3, Path: ranking.PathDistance},
		{ChunkID: "3", Text: "c", Score: 0.4, Path: ranking.PathDistance},
	}

	out, report := New(scorer, quiet()).Rerank(context.Background(), "q", in)

	assert.Equal(t, Report{Scored: 2, Failed: 1}, report)
	assert.Equal(t, 3, scorer.calls, "batch continues after a failure")
	assert.Equal(t, "3", out[0].ChunkID)
	assert.Equal(t, "2", out[1].ChunkID)
	assert.Equal(t, 0.3, out[1].Score)
	assert.Equal(t, ranking.PathDistance, out[1].Path)
}

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Generate(context.Context, string, llm.GenerateOptions) (string, error) {
	return f.response, f.err
}

func TestLLMScorer(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
		want     float64
		wantErr  bool
	}{
		{name: "plain", response: `{"score": 0.8}`, want: 0.2},
		{name: "fenced", response: "```json\n{\"score\": 1.0}\n```", want: 0},
		{name: "clamped", response: `{"score": 1.7}`, want: 0},
		{name: "missing score", response: `{"reason": "n/a"}`, wantErr: true},
		{name: "not json", response: "very relevant", wantErr: true},
		{name: "call error", err: errors.New("down"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer := NewLLMScorer(&fakeLLM{response: tt.response, err: tt.err}, WithModel("llama3.2"))
			got, err := scorer.RerankDistance(context.Background(), "q", "p")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}
