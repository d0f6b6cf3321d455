package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ManuScriptHub/Neon-RAG/internal/ingestion"
)

var (
	chunkMode    string
	chunkSize    int
	chunkOverlap int
	pendingLimit int
)

var chunkCmd = &cobra.Command{
	Use:   "chunk [file]",
	Short: "Preview how a text file would be chunked",
	Args:  cobra.ExactArgs(1),
	RunE:  runChunk,
}

var chunksCmd = &cobra.Command{
	Use:   "chunks",
	Short: "Manage stored chunks",
}

var chunksGetCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show a stored chunk",
	Args:  cobra.ExactArgs(1),
	RunE:  runChunksGet,
}

var chunksDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a stored chunk",
	Args:  cobra.ExactArgs(1),
	RunE:  runChunksDelete,
}

var embedPendingCmd = &cobra.Command{
	Use:   "embed-pending",
	Short: "Embed stored chunks that have no embedding",
	Args:  cobra.NoArgs,
	RunE:  runEmbedPending,
}

func init() {
	chunkCmd.Flags().StringVar(&chunkMode, "mode", "", "chunking mode: native, fixed, or model")
	chunkCmd.Flags().IntVar(&chunkSize, "size", 0, "chunk size")
	chunkCmd.Flags().IntVar(&chunkOverlap, "overlap", 0, "chunk overlap")
	embedPendingCmd.Flags().IntVarP(&pendingLimit, "limit", "n", 50, "maximum chunks to embed")

	chunksCmd.AddCommand(chunksGetCmd, chunksDeleteCmd)
	rootCmd.AddCommand(chunkCmd, chunksCmd, embedPendingCmd)
}

func runChunk(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	segments, err := a.Chunks.Preview(cmd.Context(), string(data), &ingestion.Options{
		Mode:    chunkMode,
		Size:    chunkSize,
		Overlap: chunkOverlap,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd, segments)
}

func runChunksGet(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	chunk, err := a.Chunks.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]any{
		"chunk_id":    chunk.ID,
		"document_id": chunk.DocumentID,
		"chunk_index": chunk.ChunkIndex,
		"chunk_text":  chunk.Text,
		"metadata":    chunk.Metadata,
		"embedded":    len(chunk.Embedding) > 0,
	})
}

func runChunksDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	existed, err := a.Chunks.Delete(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("document chunk with ID %s not found", args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}

func runEmbedPending(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Chunks.EmbedPending(cmd.Context(), pendingLimit)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, embedded %d, failed %d\n", report.Scanned, report.Embedded, report.Failed)
	return nil
}
