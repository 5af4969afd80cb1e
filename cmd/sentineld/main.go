// Command sentineld runs the full ingest -> detect -> embed -> retrieve
// -> analyze -> persist -> broadcast pipeline described by spec §4: it
// loads configuration, builds every C1-C9 component, and serves the
// ambient HTTP/websocket surface until signalled to stop.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sentineld/sentineld/internal/config"
	"github.com/sentineld/sentineld/internal/configwatch"
	"github.com/sentineld/sentineld/internal/httpserver"
	"github.com/sentineld/sentineld/internal/logging"
	"github.com/sentineld/sentineld/internal/metrics"
	"github.com/sentineld/sentineld/internal/migrations"
	"github.com/sentineld/sentineld/internal/telemetry"
	"github.com/sentineld/sentineld/internal/wsserver"
	"github.com/sentineld/sentineld/pkg/broadcast"
	"github.com/sentineld/sentineld/pkg/correlation"
	"github.com/sentineld/sentineld/pkg/detector"
	"github.com/sentineld/sentineld/pkg/embedding"
	"github.com/sentineld/sentineld/pkg/eventstore"
	"github.com/sentineld/sentineld/pkg/llm"
	"github.com/sentineld/sentineld/pkg/pipeline"
	"github.com/sentineld/sentineld/pkg/pool"
	"github.com/sentineld/sentineld/pkg/source"
	"github.com/sentineld/sentineld/pkg/types"
	"github.com/sentineld/sentineld/pkg/vectorstore"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fw, err := config.NewFileWatcher(*configPath, bootstrapLogger())
	if err != nil {
		bootstrapLogger().WithError(err).Error("failed to load configuration")
		return 1
	}
	defer fw.Stop()

	cfg := fw.Current()
	logger := logging.New(cfg.Logging)

	shutdownTracing, err := telemetry.Init(cfg.Tracing)
	if err != nil {
		logger.WithError(err).Error("failed to initialize tracing")
		return 1
	}
	defer shutdownTracing(context.Background())

	app, err := buildApp(ctx, *cfg, fw, logger)
	if err != nil {
		logger.WithError(err).Error("failed to build application")
		return 1
	}
	defer app.Close()

	watcher, err := configwatch.Watch(*configPath, app.pipeline, app.correlation, logger)
	if err != nil {
		logger.WithError(err).Error("failed to start configuration watcher")
		return 1
	}
	defer watcher.Close()

	g, gctx := errgroup.WithContext(ctx)

	events := make(chan types.LogEvent, 256)
	g.Go(func() error { return app.source.Run(gctx, events) })
	g.Go(func() error { return app.pipeline.Run(gctx, events) })
	g.Go(func() error { return app.correlation.Run(gctx) })
	g.Go(func() error { return app.httpServer.Run(gctx) })

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		logger.WithError(err).Error("fatal pipeline error")
		return 1
	}

	logger.Info("shutdown complete")
	return 0
}

func bootstrapLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger
}

// app bundles every constructed component so main can start, hand off
// to configwatch, and cleanly close resources on shutdown.
type app struct {
	pipeline    *pipeline.Pipeline
	correlation *correlation.Engine
	source      *source.NDJSONSource
	httpServer  *httpserver.Server

	embeddingPool *pool.ConnectionPool
	llmPool       *pool.ConnectionPool
	pgxPool       *pgxpool.Pool
	sqlDB         *sqlx.DB
}

func (a *app) Close() {
	if a.embeddingPool != nil {
		a.embeddingPool.Stop()
	}
	if a.llmPool != nil {
		a.llmPool.Stop()
	}
	if a.pgxPool != nil {
		a.pgxPool.Close()
	}
	if a.sqlDB != nil {
		a.sqlDB.Close()
	}
}

func buildApp(ctx context.Context, cfg config.Config, fw *config.FileWatcher, logger *logrus.Logger) (*app, error) {
	embeddingPool, err := embedding.BuildPool(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build embedding connection pool: %w", err)
	}
	embedder, err := embedding.Build(cfg, embeddingPool)
	if err != nil {
		return nil, fmt.Errorf("build embedder: %w", err)
	}

	llmPool, err := llm.BuildPool(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build llm connection pool: %w", err)
	}
	llmClient, err := llm.Build(ctx, cfg, llmPool)
	if err != nil {
		return nil, fmt.Errorf("build llm client: %w", err)
	}

	pgxPool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect pgvector pool: %w", err)
	}
	vectorStore := vectorstore.Build(pgxPool, cfg, logger)
	if err := vectorStore.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("ensure vector collection: %w", err)
	}

	sqlDB, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect event store database: %w", err)
	}
	if err := migrate(sqlDB.DB); err != nil {
		return nil, fmt.Errorf("run database migrations: %w", err)
	}
	store := eventstore.NewPostgresStore(sqlDB, logger)

	elevatorEngine, err := detector.NewElevatorEngine(ctx, detector.DefaultElevators())
	if err != nil {
		return nil, fmt.Errorf("build elevator engine: %w", err)
	}
	det := detector.NewDetector(detector.DefaultRules(), elevatorEngine)

	broadcaster := broadcast.NewBroadcaster(256)
	go broadcaster.Run(ctx)

	engine := correlation.NewEngine(store, correlation.DefaultDetectors(), cfg.Correlation)

	pipe := pipeline.New(cfg.Pipeline, cfg.IgnorePatterns, pipeline.Deps{
		Detector:    det,
		Embedder:    embedder,
		VectorStore: vectorStore,
		LLMClient:   llmClient,
		Store:       store,
		Broadcaster: broadcaster,
		Logger:      logger,
	})

	ws := wsserver.New(broadcaster, cfg.Server, logger)

	m := metrics.New()
	checkers := []httpserver.HealthChecker{
		pingChecker{name: "postgres", ping: func(ctx context.Context) error { return sqlDB.PingContext(ctx) }},
		pingChecker{name: "pgvector", ping: func(ctx context.Context) error { return pgxPool.Ping(ctx) }},
	}
	httpSrv := httpserver.New(cfg.Server, m, fw, ws, checkers, logger)

	src := source.NewNDJSONSource(cfg.Source.Path, cfg.Source.BookmarkPath,
		time.Duration(cfg.Source.PollIntervalMs)*time.Millisecond, logger)

	return &app{
		pipeline:      pipe,
		correlation:   engine,
		source:        src,
		httpServer:    httpSrv,
		embeddingPool: embeddingPool,
		llmPool:       llmPool,
		pgxPool:       pgxPool,
		sqlDB:         sqlDB,
	}, nil
}

func migrate(db *sql.DB) error {
	return migrations.Migrate(db)
}

// pingChecker adapts a bare ping function to httpserver.HealthChecker.
type pingChecker struct {
	name string
	ping func(ctx context.Context) error
}

func (c pingChecker) Name() string { return c.name }

func (c pingChecker) Healthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.ping(ctx) == nil
}
