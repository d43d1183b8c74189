package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/wiki-character-crawler/internal/api"
	"github.com/JakeFAU/wiki-character-crawler/internal/clock/system"
	"github.com/JakeFAU/wiki-character-crawler/internal/config"
	"github.com/JakeFAU/wiki-character-crawler/internal/crawler"
	"github.com/JakeFAU/wiki-character-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/wiki-character-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/wiki-character-crawler/internal/hash/sha256"
	"github.com/JakeFAU/wiki-character-crawler/internal/id/uuid"
	"github.com/JakeFAU/wiki-character-crawler/internal/logging"
	"github.com/JakeFAU/wiki-character-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/wiki-character-crawler/internal/progress"
	"github.com/JakeFAU/wiki-character-crawler/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/wiki-character-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/wiki-character-crawler/internal/queue/memory"
	gcsstore "github.com/JakeFAU/wiki-character-crawler/internal/storage/gcs"
	localstore "github.com/JakeFAU/wiki-character-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/wiki-character-crawler/internal/storage/memory"
	"github.com/JakeFAU/wiki-character-crawler/internal/storage/postgres"
	"github.com/JakeFAU/wiki-character-crawler/internal/store"
	"github.com/JakeFAU/wiki-character-crawler/internal/telemetry"
)

const closeTimeout = 10 * time.Second

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()
	os.Exit(run(*cfgPath))
}

func run(cfgPath string) int {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return 1
	}
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return 1
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			logger.Error("tracer init failed", zap.Error(err))
			return 1
		}
		closers = append(closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("tracer shutdown failed", zap.Error(err))
			}
		})
	}

	persist, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("character store init failed", zap.Error(err))
		return 1
	}
	closers = append(closers, persist.close)

	blobs, closeBlobs, err := buildArchive(ctx, cfg)
	if err != nil {
		logger.Error("page archive init failed", zap.Error(err))
		return 1
	}
	closers = append(closers, closeBlobs)

	publisher, closePublisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Error("publisher init failed", zap.Error(err))
		return 1
	}
	closers = append(closers, closePublisher)

	hub, err := buildProgress(cfg, persist.runs, logger)
	if err != nil {
		logger.Error("progress hub init failed", zap.Error(err))
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}()

	fetcher, err := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Crawler.UserAgent,
		IgnoreRobots: cfg.Crawler.IgnoreRobots,
		Timeout:      cfg.FetchTimeout(),
		Parallelism:  cfg.Crawler.Concurrency,
		Delay:        cfg.Delay(),
	})
	if err != nil {
		logger.Error("fetcher init failed", zap.Error(err))
		return 1
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Crawler.RequestsPerSecond,
		DefaultBurst: cfg.Crawler.Burst,
	})

	queue := queueMemory.NewQueue(cfg.Crawler.QueueDepth)
	deps := crawler.Deps{
		Fetcher:   ratelimit.NewFetcher(fetcher, limiter),
		Queue:     queue,
		Store:     persist.characters,
		Publisher: publisher,
		Clock:     system.New(),
		IDs:       uuid.New(),
		Emitter:   hub,
	}
	if blobs != nil {
		deps.Blobs = blobs
		deps.Hasher = sha256.New()
	}
	engine, err := crawler.NewEngine(cfg.Engine(), deps, logger.Named("engine"))
	if err != nil {
		logger.Error("engine init failed", zap.Error(err))
		return 1
	}
	pool := dispatcher.NewPool(queue, engine, cfg.Crawler.Concurrency, logger.Named("worker"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pool.Run(gctx)
		return nil
	})
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()
	if cfg.Server.Addr != "" {
		ops := api.NewServer(engine, api.Options{Checks: persist.checks, Events: hub, Runs: persist.runs}, logger.Named("api"))
		g.Go(func() error {
			return ops.ListenAndServe(serverCtx, cfg.Server.Addr)
		})
	}

	summary, runErr := engine.Run(gctx)
	queue.Close()
	stopServer()
	if err := g.Wait(); err != nil {
		logger.Warn("background task failed", zap.Error(err))
	}

	logger.Info("crawl summary",
		zap.String("run_id", engine.RunID()),
		zap.Int64("listed", summary.Listed),
		zap.Int64("dropped", summary.Dropped),
		zap.Int64("detail_failed", summary.DetailFailed),
		zap.Int64("rejected", summary.Rejected),
		zap.Int64("persist_failed", summary.PersistFail),
		zap.Int64("persisted", summary.Persisted),
	)
	switch {
	case runErr == nil:
		return 0
	case errors.Is(runErr, context.Canceled):
		logger.Warn("crawl interrupted by signal", zap.Error(runErr))
		return 0
	default:
		logger.Error("crawl failed", zap.Error(runErr))
		return 1
	}
}

type persistence struct {
	characters crawler.CharacterStore
	// runs is nil when run history is not persisted.
	runs   store.RunRepository
	checks map[string]api.Checker
	close  func()
}

func buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (persistence, error) {
	if cfg.DB.DSN == "" {
		logger.Warn("db.dsn not set, characters are kept in memory only")
		return persistence{characters: memoryStorage.NewCharacterStore(), close: func() {}}, nil
	}
	pg, err := postgres.NewCharacterStore(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		Table:           cfg.DB.Table,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.ConnLifetime(),
	})
	if err != nil {
		return persistence{}, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pg.Ping(ctx); err != nil {
		pg.Close()
		return persistence{}, err
	}
	logger.Info("postgres store ready", zap.String("table", cfg.DB.Table))
	p := persistence{
		characters: pg,
		checks:     map[string]api.Checker{"postgres": pg},
		close:      pg.Close,
	}
	if cfg.DB.RecordRuns {
		p.runs = pg.Runs()
	}
	return p, nil
}

func buildArchive(ctx context.Context, cfg config.Config) (crawler.BlobStore, func(), error) {
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		return memoryStorage.NewBlobStore(), func() {}, nil
	case config.StorageLocal:
		archive, err := localstore.New(localstore.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, nil, fmt.Errorf("local archive: %w", err)
		}
		return archive, func() {}, nil
	case config.StorageGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create gcs client: %w", err)
		}
		archive, err := gcsstore.New(client, gcsstore.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("gcs archive: %w", err)
		}
		return archive, func() { _ = client.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Publisher, func(), error) {
	if cfg.PubSub.TopicName == "" {
		return nil, func() {}, nil
	}
	pub, err := gcppublisher.NewFromProject(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	return pub, func() {
		if err := pub.Close(); err != nil {
			logger.Warn("pubsub close failed", zap.Error(err))
		}
	}, nil
}

func buildProgress(cfg config.Config, runs store.RunRepository, logger *zap.Logger) (*progress.Hub, error) {
	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink: %w", err)
	}
	all := []progress.Sink{promSink}
	if cfg.Progress.LogEvents {
		all = append(all, sinks.NewLogSink(logger.Named("progress")))
	}
	if runs != nil {
		all = append(all, sinks.NewRunSink(runs, logger.Named("runs")))
	}
	return progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   cfg.BatchWait(),
		Logger:         logger.Named("progress"),
	}, all...), nil
}
