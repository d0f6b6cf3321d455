package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuScriptHub/Neon-RAG/internal/extract"
	"github.com/ManuScriptHub/Neon-RAG/internal/service"
)

var (
	ingestCorpus   string
	ingestUser     string
	ingestFileType string
	ingestURL      string
	ingestJSON     bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a document into a corpus",
	Long: `Extracts text from a file (or a URL with --url), chunks and embeds it,
and stores the chunks under the given corpus. Re-ingesting the same file name
replaces its chunks.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestCorpus, "corpus", "c", "", "corpus key (required)")
	ingestCmd.Flags().StringVarP(&ingestUser, "user", "u", os.Getenv("USER"), "owner of the corpus")
	ingestCmd.Flags().StringVarP(&ingestFileType, "type", "t", "", "file type (default: from the file extension)")
	ingestCmd.Flags().StringVar(&ingestURL, "url", "", "ingest a web page instead of a file")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "print the full ingestion report as JSON")
	_ = ingestCmd.MarkFlagRequired("corpus")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	req := service.IngestRequest{CorpusKey: ingestCorpus, UserID: ingestUser}

	switch {
	case ingestURL != "" && len(args) > 0:
		return errors.New("give either a file or --url, not both")
	case ingestURL != "":
		req.FileType = "url"
		req.Content = ingestURL
		req.FileName = ingestURL
	case len(args) == 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		req.FileName = filepath.Base(args[0])
		req.FileType = ingestFileType
		if req.FileType == "" {
			req.FileType = fileTypeOf(args[0])
		}
		if extract.IsBinary(req.FileType) {
			req.Content = base64.StdEncoding.EncodeToString(data)
		} else {
			req.Content = string(data)
		}
	default:
		return errors.New("a file or --url is required")
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Documents.Ingest(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	if ingestJSON {
		return printJSON(cmd, report)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "document %s: %d chunks, %d embedded, %d failed\n",
		report.DocumentID, report.Stats.ChunkCount, report.Stats.Embedded, report.Stats.Failed)
	return nil
}

// fileTypeOf maps a file extension to an ingestion file type. Unknown
// extensions are treated as plain text.
func fileTypeOf(path string) string {
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext {
	case extract.TypePDF, extract.TypeDOCX, extract.TypeHTML, extract.TypeJSON, extract.TypeCSV, extract.TypeMD:
		return ext
	case "htm":
		return extract.TypeHTML
	default:
		return extract.TypeText
	}
}
