// Package bootstrap wires the retrieval engine together: configuration,
// logging, metrics, the inference client, both searchers, session storage and
// the turn orchestrator. Construction is fail fast; a missing config file or
// an invalid index layout stops the process before it serves a single turn.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/rialtolabs/ragcore/internal/config"
	"github.com/rialtolabs/ragcore/internal/core/ports"
	"github.com/rialtolabs/ragcore/internal/core/usecase"
	"github.com/rialtolabs/ragcore/internal/infrastructure/dense"
	"github.com/rialtolabs/ragcore/internal/infrastructure/inference"
	"github.com/rialtolabs/ragcore/internal/infrastructure/lexical"
	"github.com/rialtolabs/ragcore/internal/infrastructure/resilience"
	"github.com/rialtolabs/ragcore/internal/infrastructure/retrievallog"
	"github.com/rialtolabs/ragcore/internal/infrastructure/session"
	"github.com/rialtolabs/ragcore/internal/infrastructure/shard"
	"github.com/rialtolabs/ragcore/internal/infrastructure/telemetry"
	"github.com/rialtolabs/ragcore/internal/intents"
	"github.com/rialtolabs/ragcore/internal/observability/logging"
	"github.com/rialtolabs/ragcore/internal/observability/metrics"
)

const serviceName = "ragcore"

type App struct {
	Settings config.Settings
	Logger   *slog.Logger
	Metrics  *metrics.EngineMetrics
	Registry *intents.Registry
	Chat     ports.ConversationService

	closeFn func()
}

func New(ctx context.Context, cfg config.Settings) (*App, error) {
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	recorder := metrics.NewEngineMetrics(serviceName)

	compressionCfg, err := config.LoadCompression(cfg.CompressionConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load compression config: %w", err)
	}
	ssiCfg, err := config.LoadSSI(cfg.SSIConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load ssi config: %w", err)
	}
	rerankersCfg, err := config.LoadRerankers(cfg.RerankersConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load rerankers config: %w", err)
	}
	denseCfg, err := config.LoadDense(cfg.DenseConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load dense config: %w", err)
	}
	dedupCfg, err := config.LoadDedup(cfg.DedupConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load dedup config: %w", err)
	}

	resilienceCfg := resilience.DefaultConfig()
	resilienceCfg.CallsPerSecond = cfg.InferenceRPS
	executor := resilience.NewExecutor(resilienceCfg, logger)

	client := inference.New(
		cfg.InferenceURL,
		cfg.GenModel,
		cfg.EmbedModel,
		time.Duration(cfg.InferenceTimeoutMS)*time.Millisecond,
		executor,
		recorder,
		serviceName,
	)
	embedder := inference.NewEmbedder(client)
	generator := inference.NewGenerator(client)
	chunkFilter := inference.NewReranker(client, rerankersCfg.ChunkFilterModel, "chunk_filter")
	crossEncoder := inference.NewReranker(client, cfg.RerankModel, "rerank")
	spanExtractor := inference.NewSpanExtractor(client)

	store := shard.NewStore(cfg.CorpusRoot, cfg.BotProfile, logger)

	denseSearcher, err := dense.NewSearcher(
		store, embedder, chunkFilter, denseCfg, rerankersCfg,
		cfg.ShardConcurrency, logger, recorder, serviceName,
	)
	if err != nil {
		return nil, fmt.Errorf("init dense searcher: %w", err)
	}
	lexicalSearcher, err := lexical.NewSearcher(
		store, rerankersCfg, cfg.ShardConcurrency, logger, recorder, serviceName,
	)
	if err != nil {
		denseSearcher.Close()
		return nil, fmt.Errorf("init lexical searcher: %w", err)
	}

	var db *sql.DB
	var sessions ports.SessionStore
	if cfg.SessionStore == "postgres" {
		db, err = session.OpenDB(cfg.PostgresDSN)
		if err != nil {
			denseSearcher.Close()
			lexicalSearcher.Close()
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		pgStore := session.NewPostgresStore(db)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			denseSearcher.Close()
			lexicalSearcher.Close()
			_ = db.Close()
			return nil, fmt.Errorf("ensure session schema: %w", err)
		}
		sessions = pgStore
	} else {
		sessions = session.NewMemoryStore(cfg.MaxSessions)
	}

	publisher, err := telemetry.New(cfg.NATSURL, cfg.NATSSubject, logger, telemetry.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		denseSearcher.Close()
		lexicalSearcher.Close()
		if db != nil {
			_ = db.Close()
		}
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dumper := retrievallog.NewDumper(cfg.DumpOnLogs, cfg.DumpLogFolder, logger)
	registry := intents.NewRegistry()

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Classifier: usecase.NewClassifier(generator, logger),
		Rewriter:   usecase.NewRewriter(generator, logger),
		Expander:   usecase.NewExpander(generator, logger),
		Dense:      denseSearcher,
		Lexical:    lexicalSearcher,
		Deduper:    usecase.NewDeduper(dedupCfg, logger),
		Spans:      usecase.NewSpanIndexer(ssiCfg, spanExtractor, logger),
		Reranker:   usecase.NewReranker(crossEncoder, rerankersCfg.TopKFusion, logger),
		Compressor: usecase.NewCompressor(compressionCfg, embedder, logger),

		Rerankers:   rerankersCfg,
		GlobalFlags: cfg.GlobalFlags(),
		DominanceOn: cfg.DominanceOn,

		Dumper:   dumper,
		Observer: recorder,
		Service:  serviceName,
		Logger:   logger,
	})

	chat := usecase.NewChatService(usecase.ChatDeps{
		Pipeline:  pipeline,
		Generator: generator,
		Sessions:  sessions,
		Registry:  registry,
		Telemetry: publisher,
		Threshold: cfg.RetrievalScoreThreshold,
		Observer:  recorder,
		Service:   serviceName,
		Logger:    logger,
	})

	logger.Info("bootstrap_complete",
		"corpus_root", cfg.CorpusRoot,
		"profile", cfg.BotProfile,
		"session_store", cfg.SessionStore,
		"threshold", cfg.RetrievalScoreThreshold,
	)

	return &App{
		Settings: cfg,
		Logger:   logger,
		Metrics:  recorder,
		Registry: registry,
		Chat:     chat,

		closeFn: func() {
			denseSearcher.Close()
			lexicalSearcher.Close()
			publisher.Close()
			if db != nil {
				_ = db.Close()
			}
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
