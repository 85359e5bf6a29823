package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"pixiset/internal/account"
	"pixiset/internal/assetstore"
	"pixiset/internal/config"
	"pixiset/internal/gallery"
	"pixiset/internal/ingest"
	"pixiset/internal/logging"
	"pixiset/internal/publish"
	"pixiset/internal/server"
	"pixiset/internal/statuscache"
	"pixiset/internal/storage"
	"pixiset/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	cache := statuscache.New(rdb, cfg.StatusTTL.Std())

	blobs, err := assetstore.NewDisk(cfg.StoragePath)
	if err != nil {
		log.Fatalf("failed to init asset store: %v", err)
	}

	galleries := gallery.New(db, logger)

	proc, err := worker.NewProcessor(blobs, cfg.MaxUploadBytes, cfg.MaxImageDimPx, cfg.ThumbnailSizePx, cfg.WatermarkText)
	if err != nil {
		log.Fatalf("failed to init processor: %v", err)
	}
	pool := worker.NewPool(proc, galleries, logger, cfg.WorkerCount, cfg.AssetTimeout.Std())

	acctID := uuid.New()
	if cfg.AccountID != "" {
		acctID = uuid.MustParse(cfg.AccountID)
	}
	acct := &account.Static{AccountID: acctID, FreeBytes: cfg.FreeStorageBytes}

	orch := ingest.New(db, cache, acct, pool, logger, ingest.Options{
		MaxBatchSize:   cfg.MaxBatchSize,
		BatchRetention: cfg.BatchRetention.Std(),
		SweepInterval:  cfg.SweepInterval.Std(),
	})

	builder := publish.NewKafkaBuilder(cfg.KafkaBroker, cfg.BuildJobsTopic)
	defer builder.Close()
	machine := publish.New(db, cache, builder, logger, publish.Options{BuildTimeout: cfg.BuildTimeout.Std()})

	// Build completions arrive on the results topic.
	go func() {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers: []string{cfg.KafkaBroker},
			Topic:   cfg.BuildResultsTopic,
			GroupID: "pixiset-build-results",
		})
		defer reader.Close()
		publish.ConsumeBuildResults(ctx, reader, machine, logger)
	}()

	pool.Start(ctx)
	go orch.RunSweeper(ctx)

	srv := server.New(cfg.ServerAddr, orch, galleries, machine, blobs, acct, logger)
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()
	logger.Info("pixiset core started", "addr", cfg.ServerAddr, "workers", cfg.WorkerCount)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.AssetTimeout.Std())
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	pool.Stop()
}
