// Package app wires configuration into the storage, embedding, retrieval,
// and service layers shared by the server and the CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ManuScriptHub/Neon-RAG/internal/auth"
	"github.com/ManuScriptHub/Neon-RAG/internal/config"
	"github.com/ManuScriptHub/Neon-RAG/internal/embedder"
	"github.com/ManuScriptHub/Neon-RAG/internal/extract"
	"github.com/ManuScriptHub/Neon-RAG/internal/ingestion"
	"github.com/ManuScriptHub/Neon-RAG/internal/llm"
	"github.com/ManuScriptHub/Neon-RAG/internal/memory"
	"github.com/ManuScriptHub/Neon-RAG/internal/repository"
	"github.com/ManuScriptHub/Neon-RAG/internal/repository/postgres"
	"github.com/ManuScriptHub/Neon-RAG/internal/reranker"
	"github.com/ManuScriptHub/Neon-RAG/internal/retrieval"
	"github.com/ManuScriptHub/Neon-RAG/internal/server"
	"github.com/ManuScriptHub/Neon-RAG/internal/service"
	"github.com/ManuScriptHub/Neon-RAG/internal/vectorstore"
)

// App holds the wired services.
type App struct {
	Config    *config.Config
	Documents *service.DocumentService
	RAG       *service.RAGService
	Chunks    *service.ChunkService
	Auth      *auth.Authenticator
	JWT       *auth.JWTManager // nil when JWT_SECRET is unset

	// Ready is pinged by readiness probes; nil for the memory backend.
	Ready server.Pinger

	logger  *slog.Logger
	closers []func()
}

// stores groups the repositories of one backend.
type stores struct {
	corpora   repository.CorpusRepository
	documents repository.DocumentRepository
	chunks    repository.ChunkRepository
	questions repository.QuestionRepository
	searcher  repository.ChunkSearcher
	native    *postgres.Native
}

// New connects the configured backends and builds the services. Call Close
// when done.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}

	st, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	var mirror vectorstore.VectorStore
	if cfg.VectorBackend == "qdrant" {
		qdrant, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
		}
		a.closers = append(a.closers, func() { _ = qdrant.Close() })
		mirror = qdrant
		logger.Info("connected to Qdrant", "url", cfg.QdrantGRPCURL)
	}

	providers, err := a.embeddingProviders(st.native)
	if err != nil {
		a.Close()
		return nil, err
	}
	chain := embedder.NewChain(cfg.EmbeddingDimension, providers, embedder.WithLogger(logger))
	llmClient, model := a.textGenerator()

	// Chunking
	chunking := ingestion.Options{Mode: cfg.ChunkMode, Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap, Model: model}
	chunkerOpts := []ingestion.ChunkerOption{ingestion.WithLLM(llmClient), ingestion.WithChunkerLogger(logger)}
	if st.native != nil {
		chunkerOpts = append(chunkerOpts, ingestion.WithNativeSplitter(st.native))
	}
	chunker := ingestion.NewChunker(chunkerOpts...)

	pipelineOpts := []ingestion.PipelineOption{ingestion.WithPipelineLogger(logger)}
	if cfg.TagDocuments {
		pipelineOpts = append(pipelineOpts, ingestion.WithTagger(ingestion.NewTagger(llmClient, model)))
	}
	if mirror != nil {
		pipelineOpts = append(pipelineOpts, ingestion.WithMirror(mirror, cfg.EmbeddingDimension))
	}
	pipeline := ingestion.NewPipeline(ingestion.PipelineConfig{Chunking: chunking}, chunker, chain, st.chunks, pipelineOpts...)

	// Retrieval
	var strategies []retrieval.Strategy
	if mirror != nil {
		strategies = append(strategies, retrieval.NewIndexStrategy(mirror))
	} else {
		strategies = append(strategies, retrieval.NewVectorStrategy(st.searcher))
	}
	strategies = append(strategies, retrieval.NewRecencyStrategy(st.searcher))

	retrievalOpts := []retrieval.Option{retrieval.WithLogger(logger)}
	if rr := a.reranker(st.native, llmClient, model); rr != nil {
		retrievalOpts = append(retrievalOpts, retrieval.WithReranking(st.questions, rr))
	}
	retriever := retrieval.New(st.corpora, st.documents, strategies, retrievalOpts...)

	// Extraction
	extractOpts := []extract.Option{extract.WithHeadless(cfg.UseHeadless), extract.WithLogger(logger)}
	if st.native != nil {
		extractOpts = append(extractOpts, extract.WithNative(st.native))
	}
	extractor := extract.New(extractOpts...)

	// Services
	a.Documents = service.NewDocumentService(st.corpora, st.documents, extractor, pipeline,
		service.WithDocumentLogger(logger))

	ragOpts := []service.RAGServiceOption{service.WithRAGLogger(logger)}
	if cfg.RecordQuestions {
		ragOpts = append(ragOpts, service.WithQuestionRecording(st.questions))
	}
	a.RAG = service.NewRAGService(service.RAGConfig{
		DefaultTopK:      cfg.DefaultTopK,
		DefaultThreshold: cfg.DefaultThreshold,
		MinContextChunks: cfg.MinContextChunks,
		Model:            model,
	}, chain, retriever, llmClient, ragOpts...)

	chunkOpts := []service.ChunkServiceOption{service.WithChunkLogger(logger)}
	if mirror != nil {
		chunkOpts = append(chunkOpts, service.WithChunkMirror(mirror, st.documents))
	}
	a.Chunks = service.NewChunkService(st.chunks, chain, chunker, chunking, chunkOpts...)

	// Auth
	if cfg.JWTSecret != "" {
		jwtCfg := auth.DefaultJWTConfig(cfg.JWTSecret)
		jwtCfg.Expiry = cfg.JWTExpiry
		a.JWT = auth.NewJWTManager(jwtCfg)
	}
	a.Auth = auth.NewAuthenticator(cfg.APIKey, a.JWT, auth.WithLogger(logger))
	if !a.Auth.Enabled() {
		logger.Warn("authentication disabled: set API_KEY or JWT_SECRET")
	}

	return a, nil
}

// Close releases backend connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) openStores(ctx context.Context) (*stores, error) {
	if a.Config.StoreBackend == "memory" {
		store := memory.NewStore()
		a.logger.Warn("using in-memory store; data is lost on exit")
		return &stores{
			corpora:   store.Corpora(),
			documents: store.Documents(),
			chunks:    store.Chunks(),
			questions: store.Questions(),
			searcher:  store.Searcher(),
		}, nil
	}

	db, err := postgres.New(ctx, a.Config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.closers = append(a.closers, db.Close)
	a.Ready = db
	a.logger.Info("connected to PostgreSQL")

	native := postgres.NewNative(db, a.Config.NativeCallTimeout)
	if ok, err := native.ExtensionInstalled(ctx, postgres.ExtensionRAG); err != nil || !ok {
		a.logger.Warn("rag extension not installed; splitting and extraction fall back", "error", err)
	}

	return &stores{
		corpora:   postgres.NewCorpusRepo(db),
		documents: postgres.NewDocumentRepo(db),
		chunks:    postgres.NewChunkRepo(db),
		questions: postgres.NewQuestionRepo(db),
		searcher:  postgres.NewChunkSearcher(db),
		native:    native,
	}, nil
}

// embeddingProviders orders the in-database model first and the configured
// fallback second. A fallback that cannot produce EMBEDDING_DIMENSION-sized
// vectors is a configuration error.
func (a *App) embeddingProviders(native *postgres.Native) ([]embedder.Provider, error) {
	cfg := a.Config

	var providers []embedder.Provider
	if native != nil {
		providers = append(providers, embedder.NewPGRag(native))
	}

	switch cfg.EmbeddingFallback {
	case "voyage", "openai":
		if cfg.EmbeddingAPIKey == "" {
			a.logger.Warn("embedding fallback disabled: EMBEDDING_API_KEY is empty", "fallback", cfg.EmbeddingFallback)
			break
		}
		dims, err := embedder.ResolveOutputDimension(cfg.EmbeddingAPIModel, cfg.EmbeddingAPIDims, cfg.EmbeddingDimension)
		if err != nil {
			return nil, fmt.Errorf("invalid %s embedding fallback: %w", cfg.EmbeddingFallback, err)
		}
		providers = append(providers, embedder.NewAPIEmbedder(embedder.APIConfig{
			Flavor:     embedder.APIFlavor(cfg.EmbeddingFallback),
			BaseURL:    cfg.EmbeddingAPIBaseURL,
			APIKey:     cfg.EmbeddingAPIKey,
			Model:      cfg.EmbeddingAPIModel,
			Dimensions: dims,
			RPS:        cfg.EmbeddingAPIRPS,
		}))
	case "ollama":
		ollama := embedder.NewOllamaEmbedder(embedder.OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaEmbeddingModel,
		})
		if d := ollama.Dimension(); d != 0 && d != cfg.EmbeddingDimension {
			return nil, fmt.Errorf("invalid ollama embedding fallback: model %s produces %d-dimension embeddings, store expects %d",
				cfg.OllamaEmbeddingModel, d, cfg.EmbeddingDimension)
		}
		providers = append(providers, ollama)
	}

	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	a.logger.Info("initialized embedding chain", "providers", names, "dimension", cfg.EmbeddingDimension)
	return providers, nil
}

func (a *App) textGenerator() (llm.LLM, string) {
	cfg := a.Config
	if cfg.LLMProvider == "openai" {
		a.logger.Info("initialized OpenAI-compatible LLM", "model", cfg.LLMModel)
		return llm.NewOpenAIClient(cfg.LLMAPIBaseURL, cfg.LLMAPIKey, cfg.LLMModel), cfg.LLMModel
	}

	a.logger.Info("initialized Ollama LLM", "model", cfg.OllamaLLMModel)
	return llm.NewOllamaClient(
		llm.WithBaseURL(cfg.OllamaURL),
		llm.WithModel(cfg.OllamaLLMModel),
	), cfg.OllamaLLMModel
}

func (a *App) reranker(native *postgres.Native, llmClient llm.LLM, model string) *reranker.Reranker {
	switch a.Config.Reranker {
	case "native":
		if native == nil {
			a.logger.Warn("native reranker needs the postgres backend; reranking disabled")
			return nil
		}
		return reranker.New(native, reranker.WithLogger(a.logger))
	case "llm":
		return reranker.New(reranker.NewLLMScorer(llmClient, reranker.WithModel(model)), reranker.WithLogger(a.logger))
	default:
		return nil
	}
}
