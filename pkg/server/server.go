// Package server provides the public entry point for initializing the
// kbchat chat plane.
//
// This package exists in pkg/ (not internal/) so an embedding service
// can compose the full server and wrap its handler.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/kbchat/kbchat/internal/api"
	"github.com/kbchat/kbchat/internal/api/handlers"
	"github.com/kbchat/kbchat/internal/config"
	"github.com/kbchat/kbchat/internal/contextbuilder"
	"github.com/kbchat/kbchat/internal/dedup"
	"github.com/kbchat/kbchat/internal/embeddings"
	"github.com/kbchat/kbchat/internal/guardrails"
	"github.com/kbchat/kbchat/internal/llm"
	"github.com/kbchat/kbchat/internal/messenger"
	"github.com/kbchat/kbchat/internal/pipeline"
	"github.com/kbchat/kbchat/internal/rag"
	"github.com/kbchat/kbchat/internal/search"
	"github.com/kbchat/kbchat/internal/store"
	"github.com/kbchat/kbchat/internal/telemetry"
	"github.com/kbchat/kbchat/internal/vectorstore"
	"github.com/kbchat/kbchat/pkg/contracts"
)

// Server holds the initialized kbchat chat plane.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store backing documents, agents and history.
	Store store.Store

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush
	// telemetry and stop background workers.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from the environment and returns a
// ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the chat plane with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	telemetryShutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	embedder, registry := buildEmbeddings(cfg)
	log.Info().Str("provider", embedder.Kind()).Msg("Embedding driver initialized")

	vectors, closeVectors, err := buildVectorStore(ctx, cfg, embedder)
	if err != nil {
		return nil, fmt.Errorf("init vector store: %w", err)
	}

	dataStore := store.NewMemoryStore()
	log.Info().Msg("In-memory document store initialized")

	driver := llm.NewOpenAIDriver(cfg.OpenAI.APIKey, cfg.OpenAI.ChatModel, cfg.OpenAI.VisionModel)
	guards := guardrails.NewEngine(driver)
	searchSvc := search.NewService(vectors, dataStore)
	indexer := rag.NewIndexer(vectors, nil)
	assembler := contextbuilder.NewAssembler(dataStore, dataStore)

	msgClient := messenger.NewClient(cfg.Messenger.ReplyURL, cfg.Messenger.PushURL, cfg.Messenger.AccessToken)
	fetcher := messenger.NewHTTPFetcher(cfg.Messenger.AccessToken)

	seen := dedup.NewMap(cfg.Dedup.TTL)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	seen.Start(sweepCtx, cfg.Dedup.SweepInterval)

	pipe := pipeline.New(pipeline.Options{
		Seen:        seen,
		Agents:      dataStore,
		History:     dataStore,
		Binaries:    dataStore,
		Assembler:   assembler,
		Guards:      guards,
		Completer:   driver,
		Fetcher:     fetcher,
		Messenger:   msgClient,
		ApologyText: cfg.ApologyText,
		AckText:     cfg.AckText,
	})

	h := handlers.New(dataStore, searchSvc, guards, indexer, pipe, registry, cfg.Messenger.ChannelSecret)
	router := api.NewRouter(cfg, h)

	shutdown := func(ctx context.Context) error {
		stopSweep()
		closeVectors()
		return telemetryShutdown(ctx)
	}

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

func buildEmbeddings(cfg *config.Config) (contracts.EmbeddingDriver, *embeddings.Registry) {
	registry := embeddings.NewRegistry()

	openaiDriver := embeddings.NewOpenAIDriver(cfg.OpenAI.APIKey, cfg.Embeddings.OpenAIModel)
	registry.Register(openaiDriver.Kind(), openaiDriver)

	ollamaDriver := embeddings.NewOllamaDriver(cfg.Embeddings.OllamaEndpoint, cfg.Embeddings.OllamaModel)
	registry.Register(ollamaDriver.Kind(), ollamaDriver)

	if cfg.Embeddings.Provider == "ollama" {
		return ollamaDriver, registry
	}
	return openaiDriver, registry
}

func buildVectorStore(ctx context.Context, cfg *config.Config, embedder contracts.EmbeddingDriver) (contracts.VectorStore, func(), error) {
	if cfg.Pgvector.URL != "" {
		pg, err := vectorstore.NewPgvectorStore(ctx, cfg.Pgvector.URL, embedder)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Msg("Pgvector store initialized")
		return pg, pg.Close, nil
	}
	return vectorstore.NewMemoryStore(embedder), func() {}, nil
}
