package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ManuScriptHub/Neon-RAG/internal/service"
)

var (
	queryCorpus        string
	queryTopK          int
	queryThreshold     float64
	queryFallbackModel string
	queryJSON          bool
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Answer a question from a corpus",
	Long: `Embeds the question, retrieves the closest chunks of the corpus,
and asks the configured LLM to summarize them.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryCorpus, "corpus", "c", "", "corpus key (required)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "maximum number of chunks (default: DEFAULT_TOP_K)")
	queryCmd.Flags().Float64Var(&queryThreshold, "threshold", 0, "maximum cosine distance (default: DEFAULT_THRESHOLD)")
	queryCmd.Flags().StringVar(&queryFallbackModel, "fallback-model", "", "embedding model for the fallback provider")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output the response as JSON")
	_ = queryCmd.MarkFlagRequired("corpus")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.RAG.Query(cmd.Context(), service.QueryRequest{
		Question:      args[0],
		CorpusKey:     queryCorpus,
		TopK:          queryTopK,
		Threshold:     queryThreshold,
		FallbackModel: queryFallbackModel,
	})
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if queryJSON {
		return printJSON(cmd, resp)
	}

	fmt.Fprintln(cmd.OutOrStdout(), resp.Answer)
	if len(resp.Chunks) == 0 {
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprintln(cmd.OutOrStdout(), "Sources:")
	for _, c := range resp.Chunks {
		fmt.Fprintf(cmd.OutOrStdout(), "  [%d] (%.2f) %s\n", c.Rank, c.Relevance, truncate(c.Text, 80))
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
