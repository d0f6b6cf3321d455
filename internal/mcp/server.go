// Package mcp exposes question answering and text ingestion as Model Context
// Protocol tools.
package mcp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ManuScriptHub/Neon-RAG/internal/service"
)

// Version is the MCP server version.
const Version = "0.1.0"

// ErrMissingQuerier is returned when no question answering service is provided.
var ErrMissingQuerier = errors.New("mcp: query service is required")

// Querier answers questions against a corpus.
type Querier interface {
	Query(ctx context.Context, req service.QueryRequest) (*service.QueryResponse, error)
}

// Ingester adds documents to a corpus.
type Ingester interface {
	Ingest(ctx context.Context, req service.IngestRequest) (*service.IngestReport, error)
}

// Server is the MCP server.
type Server struct {
	querier  Querier
	ingester Ingester
	server   *mcp.Server
}

// NewServer creates a new MCP server. The ingest_text tool is registered only
// when ingester is non-nil.
func NewServer(querier Querier, ingester Ingester) (*Server, error) {
	if querier == nil {
		return nil, ErrMissingQuerier
	}

	s := &Server{
		querier:  querier,
		ingester: ingester,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "neon-rag",
			Version: Version,
		}, nil),
	}
	s.registerTools()
	return s, nil
}

// Run starts the MCP server over stdio.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP starts the MCP server over streamable HTTP on addr.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Shutdown(context.Background())
	}()

	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
