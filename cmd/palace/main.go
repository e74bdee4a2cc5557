package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mnemolabs/palace/internal/adapter/hashembed"
	palacehttp "github.com/mnemolabs/palace/internal/adapter/http"
	palacemcp "github.com/mnemolabs/palace/internal/adapter/mcp"
	"github.com/mnemolabs/palace/internal/adapter/openai"
	"github.com/mnemolabs/palace/internal/adapter/ristretto"
	"github.com/mnemolabs/palace/internal/adapter/sqlite"
	"github.com/mnemolabs/palace/internal/chunker"
	"github.com/mnemolabs/palace/internal/config"
	"github.com/mnemolabs/palace/internal/domain/indexjob"
	"github.com/mnemolabs/palace/internal/logger"
	"github.com/mnemolabs/palace/internal/port/embedding"
	"github.com/mnemolabs/palace/internal/port/llm"
	"github.com/mnemolabs/palace/internal/port/rerank"
	"github.com/mnemolabs/palace/internal/service"
)

const (
	serviceName    = "palace"
	serviceVersion = "0.1.0"

	// Vector cache budget for the remote embedding backends.
	embedCacheBytes = 64 << 20
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Service)
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"mcp_port", cfg.Server.MCPPort,
		"db_path", cfg.Store.Path,
		"embedding_backend", cfg.Embedding.Backend,
		"search_default_mode", cfg.Retrieval.DefaultMode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Store ---

	store, err := sqlite.Open(ctx, sqlite.Options{
		Path:                 cfg.Store.Path,
		MigrationLockFile:    cfg.Store.MigrationLockFile,
		MigrationLockTimeout: cfg.Store.MigrationLockTimeout,
	})
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer func() { _ = store.Close() }()
	log.Info("store opened", "path", cfg.Store.Path)

	// --- Remote adapters ---

	limits := remoteLimits(cfg.Breaker)

	embedder, err := buildEmbedder(cfg, limits, log)
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}

	var reranker rerank.Reranker
	if cfg.Retrieval.RerankerEnabled && cfg.Reranker.APIBase != "" {
		reranker = openai.NewReranker(cfg.Reranker.APIBase, cfg.Reranker.APIKey, cfg.Reranker.Model, limits)
		log.Info("reranker enabled", "model", cfg.Reranker.Model)
	}

	var arbiter llm.Arbiter
	if cfg.Guard.LLMEnabled && cfg.Guard.LLMAPIBase != "" {
		arbiter = openai.NewChat(cfg.Guard.LLMAPIBase, cfg.Guard.LLMAPIKey, cfg.Guard.LLMModel, limits)
		log.Info("write guard arbiter enabled", "model", cfg.Guard.LLMModel)
	}

	var gister llm.Gister
	if cfg.Compact.LLMEnabled && cfg.Compact.LLMAPIBase != "" {
		gister = openai.NewChat(cfg.Compact.LLMAPIBase, cfg.Compact.LLMAPIKey, cfg.Compact.LLMModel, limits)
		log.Info("gist generation enabled", "model", cfg.Compact.LLMModel)
	}

	// --- Services ---

	lane := service.NewWriteLane(cfg.Lane.GlobalConcurrency, cfg.Lane.WaitTimeout)
	resolver := service.NewResolver(store, cfg.Resolver, cfg.Vitality, log)
	guard := service.NewWriteGuard(store, embedder, arbiter, cfg.Guard, log)
	ledger := service.NewLedger(store, lane, log)
	worker := service.NewIndexWorker(store, embedder, cfg.Embedding.Model, cfg.Index, chunker.Options{Size: cfg.Retrieval.ChunkSize, Overlap: cfg.Retrieval.ChunkOverlap}, log)
	retrieval := service.NewRetrieval(store, embedder, reranker, cfg.Retrieval, log)
	memories := service.NewMemories(store, resolver, guard, lane, ledger, worker, retrieval, cfg.Index, log)
	governance := service.NewGovernance(store, lane, cfg.Vitality, log)
	sleep := service.NewSleep(store, lane, gister, cfg.Sleep, log)
	compactor := service.NewCompactor(store, lane, worker, gister, cfg.Compact, cfg.Resolver.ValidDomains[0], log)

	worker.SetSleepHook(sleep.TaskBody())
	ledger.SetReindexHook(func(ctx context.Context, memoryID, reason string) {
		if _, _, err := worker.Enqueue(ctx, indexjob.TaskReindexMemory, memoryID, reason); err != nil {
			log.Warn("rollback reindex enqueue failed", "memory_id", memoryID, "error", err)
		}
	})

	if cfg.Index.Enabled {
		go worker.Run(ctx)
	}
	go governance.Run(ctx)

	// --- Servers ---

	mcpSrv := palacemcp.NewServer(
		palacemcp.ServerConfig{
			Addr:    ":" + cfg.Server.MCPPort,
			Name:    serviceName,
			Version: serviceVersion,
		},
		palacemcp.ServerDeps{
			Resolver:  resolver,
			Memories:  memories,
			Retrieval: retrieval,
			Compactor: compactor,
			Worker:    worker,
			Sleep:     sleep,
		},
		log,
	)
	if err := mcpSrv.Start(); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	handlers := palacehttp.NewHandlers(store, resolver, retrieval, governance, ledger, worker, sleep, *cfg)
	httpSrv := palacehttp.NewServer(cfg.Server.Port, handlers, log)
	httpSrv.Start()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := mcpSrv.Stop(shutdownCtx); err != nil {
		log.Warn("mcp shutdown", "error", err)
	}
	return httpSrv.Stop(shutdownCtx)
}

// buildEmbedder selects the embedding backend. "none" disables semantic
// search entirely; the retrieval pipeline degrades to keyword mode.
func buildEmbedder(cfg *config.Config, limits openai.Limits, log *slog.Logger) (embedding.Embedder, error) {
	switch cfg.Embedding.Backend {
	case "none":
		log.Warn("embedding disabled, semantic search degrades to keyword")
		return nil, nil
	case "hash":
		return hashembed.New(cfg.Embedding.Dim), nil
	case "router", "api":
		cache, err := ristretto.NewVectorCache(embedCacheBytes)
		if err != nil {
			return nil, fmt.Errorf("vector cache: %w", err)
		}
		return openai.NewEmbedder(
			cfg.Embedding.APIBase,
			cfg.Embedding.APIKey,
			cfg.Embedding.Model,
			cfg.Embedding.Dim,
			limits,
			cache,
		), nil
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Embedding.Backend)
	}
}

func remoteLimits(b config.Breaker) openai.Limits {
	return openai.Limits{
		MaxFailures:   b.MaxFailures,
		BreakTimeout:  b.Timeout,
		CallTimeout:   b.CallTimeout,
		MaxRetries:    b.MaxRetries,
		BaseBackoff:   b.BaseBackoff,
		MaxBackoff:    b.MaxBackoff,
		MaxConcurrent: b.MaxConcurrent,
	}
}
