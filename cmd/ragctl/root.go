package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ManuScriptHub/Neon-RAG/internal/app"
	"github.com/ManuScriptHub/Neon-RAG/internal/config"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "Operate a Neon-RAG store from the command line",
	Long: `ragctl runs ingestion, question answering, and chunk maintenance
directly against the store configured by the environment (DATABASE_URL,
STORE_BACKEND, EMBEDDING_FALLBACK, ...), the same way the ragd server does.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")
}

// cliLogger discards logs unless --verbose is set.
func cliLogger() *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// openApp loads configuration and wires the services for one command.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return app.New(cmd.Context(), cfg, cliLogger())
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
