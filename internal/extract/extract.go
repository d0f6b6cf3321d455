// Package extract turns uploaded content of a given file type into plain text.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ManuScriptHub/Neon-RAG/internal/apperr"
)

// Supported file types
const (
	TypeText = "text"
	TypeMD   = "md"
	TypeCSV  = "csv"
	TypeJSON = "json"
	TypeHTML = "html"
	TypeURL  = "url"
	TypePDF  = "pdf"
	TypeDOCX = "docx"
)

// IsBinary reports whether content of fileType travels base64-encoded.
func IsBinary(fileType string) bool {
	switch strings.ToLower(fileType) {
	case TypePDF, TypeDOCX:
		return true
	default:
		return false
	}
}

// NativeExtractor is the store-native document text extraction capability.
type NativeExtractor interface {
	TextFromPDF(ctx context.Context, data []byte) (string, error)
	TextFromDocx(ctx context.Context, data []byte) (string, error)
}

// Extractor dispatches extraction by file type.
type Extractor struct {
	native     NativeExtractor
	httpClient *http.Client
	headless   bool
	maxBody    int64
	logger     *slog.Logger
}

// Option is a functional option for configuring Extractor.
type Option func(*Extractor)

// WithNative enables the store-native PDF and DOCX extraction.
func WithNative(native NativeExtractor) Option {
	return func(e *Extractor) {
		e.native = native
	}
}

// WithHTTPClient sets the client used to fetch URLs.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Extractor) {
		e.httpClient = client
	}
}

// WithHeadless renders URLs in headless Chrome before parsing.
func WithHeadless(enabled bool) Option {
	return func(e *Extractor) {
		e.headless = enabled
	}
}

// WithLogger sets the extractor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// New creates an extractor
func New(opts ...Option) *Extractor {
	e := &Extractor{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxBody:    20 << 20,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the text of content. For TypeURL, content is the URL.
// Unknown types and empty results are invalid arguments.
func (e *Extractor) Extract(ctx context.Context, fileType string, content []byte) (string, error) {
	text, err := e.extract(ctx, strings.ToLower(fileType), content)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.InvalidArgument("extract", "no text could be extracted from the document")
	}
	return text, nil
}

func (e *Extractor) extract(ctx context.Context, fileType string, content []byte) (string, error) {
	switch fileType {
	case TypeText, TypeMD:
		return string(content), nil
	case TypeJSON:
		return flattenJSON(content)
	case TypeCSV:
		return formatCSV(content)
	case TypeHTML:
		return HTMLText(strings.NewReader(string(content)))
	case TypeURL:
		return e.fromURL(ctx, strings.TrimSpace(string(content)))
	case TypePDF:
		return e.fromPDF(ctx, content)
	case TypeDOCX:
		return e.fromDocx(ctx, content)
	default:
		return "", apperr.InvalidArgument("extract", fmt.Sprintf("unsupported file type %q", fileType))
	}
}

func (e *Extractor) fromDocx(ctx context.Context, content []byte) (string, error) {
	if e.native == nil {
		return "", apperr.Unavailable("extract_docx", "docx extraction is not available", nil)
	}
	text, err := e.native.TextFromDocx(ctx, content)
	if err != nil {
		return "", apperr.Provider("extract_docx", "docx extraction failed", err)
	}
	return text, nil
}
