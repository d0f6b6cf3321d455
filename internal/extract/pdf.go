package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/ManuScriptHub/Neon-RAG/internal/apperr"
)

// fromPDF tries the store-native extractor first and parses the PDF locally
// when it is missing, fails, or returns nothing.
func (e *Extractor) fromPDF(ctx context.Context, content []byte) (string, error) {
	if e.native != nil {
		text, err := e.native.TextFromPDF(ctx, content)
		if err == nil && strings.TrimSpace(text) != "" {
			return text, nil
		}
		e.logger.Warn("native pdf extraction failed, parsing locally", "error", err)
	}

	text, err := pdfText(content)
	if err != nil {
		return "", apperr.Parse("extract_pdf", "could not read pdf", err)
	}
	return text, nil
}

// pdfText extracts plain text with ledongthuc/pdf. The parser panics on some
// malformed files, so panics are returned as errors.
func pdfText(content []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	rdr, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	plain, err := rdr.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to read pdf text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("failed to read pdf buffer: %w", err)
	}
	return buf.String(), nil
}
