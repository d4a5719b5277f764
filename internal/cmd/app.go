package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/codeatlas/atlas/internal/analyzer"
	"github.com/codeatlas/atlas/internal/assemble"
	"github.com/codeatlas/atlas/internal/cache"
	"github.com/codeatlas/atlas/internal/config"
	"github.com/codeatlas/atlas/internal/embed"
	"github.com/codeatlas/atlas/internal/graphstore"
	"github.com/codeatlas/atlas/internal/ingest"
	"github.com/codeatlas/atlas/internal/logging"
	"github.com/codeatlas/atlas/internal/query"
	"github.com/codeatlas/atlas/internal/vectorstore"
)

// app bundles the wired components every command needs.
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	graph       *graphstore.Store
	vectors     *vectorstore.Store
	results     *cache.Cache
	embedder    *embed.Client
	sessions    *ingest.SessionStore
	broker      *ingest.Broker
	coordinator *ingest.Coordinator
	engine      *query.Engine
	assembler   *assemble.Assembler
	analyzer    *analyzer.Analyzer
}

// openApp loads configuration and opens every store. Call close when
// done.
func openApp(ctx context.Context) (*app, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load(".")
	}
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	graph, err := graphstore.Open(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("opening graph store: %w", err)
	}

	vectors, err := vectorstore.Open(cfg.Vector, logger)
	if err != nil {
		graph.Close()
		return nil, fmt.Errorf("opening vector store: %w", err)
	}

	results, err := cache.Open(cfg.Cache.Path, cfg.Cache.TTLSeconds)
	if err != nil {
		graph.Close()
		vectors.Close()
		return nil, fmt.Errorf("opening result cache: %w", err)
	}

	provider, err := buildProvider(ctx, cfg.Embedding)
	if err != nil {
		graph.Close()
		vectors.Close()
		results.Close()
		return nil, err
	}
	embedder := embed.NewClient(provider, cfg.Embedding.RatePerMinute, logger)

	sessions, err := ingest.NewSessionStore(cfg.Upload.SessionDir)
	if err != nil {
		graph.Close()
		vectors.Close()
		results.Close()
		embedder.Close()
		return nil, fmt.Errorf("opening session store: %w", err)
	}

	var broker *ingest.Broker
	if cfg.Broker.URL != "" {
		broker = ingest.NewBroker(cfg.Broker.URL, cfg.Broker.Subject, logger)
	}

	coordinator := ingest.NewCoordinator(cfg, graph, vectors, embedder, sessions, results, broker, logger)
	engine := query.New(graph, vectors, embedder, results, cfg.Query, logger)
	assembler := assemble.New(engine, graph, cfg.Query.SearchTopK, logger)
	snippets := analyzer.New(cfg.Analyzer, cfg.Server.Environment, logger)

	return &app{
		cfg:         cfg,
		logger:      logger,
		graph:       graph,
		vectors:     vectors,
		results:     results,
		embedder:    embedder,
		sessions:    sessions,
		broker:      broker,
		coordinator: coordinator,
		engine:      engine,
		assembler:   assembler,
		analyzer:    snippets,
	}, nil
}

func (a *app) close() {
	a.embedder.Close()
	a.results.Close()
	a.vectors.Close()
	a.graph.Close()
	a.logger.Sync()
}

func buildProvider(ctx context.Context, cfg config.EmbeddingConfig) (embed.Provider, error) {
	switch cfg.Provider {
	case "gemini":
		apiKey := os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("embedding provider gemini requires %s to be set", cfg.APIKeyEnv)
		}
		return embed.NewGeminiProvider(ctx, apiKey, cfg.Model, cfg.Dimensions)
	case "local", "ollama":
		timeout := time.Duration(cfg.RequestTimeout) * time.Second
		return embed.NewLocalProvider(cfg.LocalURL, cfg.Model, cfg.Dimensions, timeout), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Provider)
	}
}

// printResult renders a value in the selected output format.
func printResult(v any) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format: %q", outputFormat)
	}
}
