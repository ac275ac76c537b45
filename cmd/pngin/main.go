package main

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	exporthandler "github.com/halmakey/pngin/internal/api/handlers/export"
	pathhandler "github.com/halmakey/pngin/internal/api/handlers/path"
	"github.com/halmakey/pngin/internal/api/router"
	"github.com/halmakey/pngin/internal/api/server"
	"github.com/halmakey/pngin/internal/config"
	"github.com/halmakey/pngin/internal/encoder"
	"github.com/halmakey/pngin/internal/infra/kafka/consumer"
	"github.com/halmakey/pngin/internal/infra/kafka/producer"
	"github.com/halmakey/pngin/internal/invalidator"
	exportmsg "github.com/halmakey/pngin/internal/kafka/handlers/export"
	"github.com/halmakey/pngin/internal/repository"
	catalogrepo "github.com/halmakey/pngin/internal/repository/catalog"
	exportrepo "github.com/halmakey/pngin/internal/repository/export"
	pathrepo "github.com/halmakey/pngin/internal/repository/path"
	"github.com/halmakey/pngin/internal/resolver"
	exportsvc "github.com/halmakey/pngin/internal/service/export"
	pathsvc "github.com/halmakey/pngin/internal/service/path"
	"github.com/halmakey/pngin/internal/storage/bucket"
)

func main() {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg := config.MustLoad("./config")

	// Connect to PostgreSQL (master and slaves).
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	// Collect slave DSNs for replica connections.
	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}
	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Apply schema migrations before serving anything.
	if err := repository.Migrate(db); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	// Retry strategy for Kafka and other external calls.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	// Connect to the S3-compatible object store and open the three buckets.
	client, err := bucket.NewClient(cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey, cfg.Storage.UseSSL)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to storage")
	}
	images, err := client.Bucket(ctx, cfg.Storage.ImageBucket)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to open image bucket")
	}
	cache, err := client.Bucket(ctx, cfg.Storage.CacheBucket)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to open cache bucket")
	}
	exports, err := client.Bucket(ctx, cfg.Storage.ExportBucket)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to open export bucket")
	}

	// Initialize repositories, the producer and the export pipeline parts.
	catalogRepo := catalogrepo.NewRepository(db)
	pathRepo := pathrepo.NewRepository(db)
	exportRepo := exportrepo.NewRepository(db)

	p := producer.New(&cfg.Kafka, strategy)

	res := resolver.New(images, cache, cfg.Export.WorkDir)
	enc := encoder.NewFFmpeg(encoder.WithBinary(cfg.Export.FFmpegPath))

	var inv invalidator.Invalidator = invalidator.Noop{}
	if cfg.Export.InvalidateURL != "" {
		inv = invalidator.NewHTTP(cfg.Export.InvalidateURL, strategy)
	}

	pathService := pathsvc.NewService(pathRepo, catalogRepo)
	exportService := exportsvc.NewService(catalogRepo, pathRepo, exportRepo,
		res, exports, enc, inv, p, cfg.Export.WorkDir)

	// Kafka message handler for export requests.
	requestedHandler := exportmsg.NewRequestedHandler(exportService)

	// HTTP handlers for the admin routes.
	pathHandler := pathhandler.NewHandler(pathService)
	exportHandler := exporthandler.NewHandler(exportService)

	// Kafka consumer for processing export request events.
	c := consumer.New(&cfg.Kafka, strategy, requestedHandler)

	// Start Kafka consumer in a separate goroutine.
	var wg sync.WaitGroup
	wg.Add(1)
	go c.Consume(ctx, &wg)

	// Start HTTP server in a separate goroutine.
	r := router.Setup(pathHandler, exportHandler)
	s := server.New(cfg.Server.HTTPPort, r)
	go func() {
		if err := s.ListenAndServe(); err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	// Wait for Kafka consumer goroutine to finish.
	wg.Wait()

	// Wait for pending cache uploads from the resolver.
	res.Flush()

	// Graceful shutdown with timeout for HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	// Close master and slave databases.
	if err := db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}
	for i, slave := range db.Slaves {
		if err := slave.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}

	// Close Kafka producer and consumer clients.
	if err = p.Client.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
	}
	if err = c.Client.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close kafka consumer client")
	}
}
