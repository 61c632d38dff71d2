// Command backfill recomputes sale metrics for every archived cycle once and exits.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mamadbah2/broiler/internal/config"
	"github.com/mamadbah2/broiler/internal/repository/gormdb"
	"github.com/mamadbah2/broiler/internal/repository/mongodb"
	metricssvc "github.com/mamadbah2/broiler/internal/service/metrics"
	"github.com/mamadbah2/broiler/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env", "", "optional .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(logger.Options{Level: cfg.Log.Level, Development: cfg.Log.Development}))
	defer func() { _ = baseLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Scheduler.JobTimeout)
	defer cancel()

	repo, err := gormdb.Open(cfg.Database, baseLogger.Named("repo.gorm"))
	if err != nil {
		baseLogger.Fatal("failed to init database", zap.Error(err))
	}
	defer func() { _ = repo.Close() }()

	var archive metricssvc.RunArchive
	if cfg.MongoDB.URI != "" {
		mongoRepo, err := mongodb.NewRunReportRepository(ctx, cfg.MongoDB.URI, cfg.MongoDB.DBName)
		if err != nil {
			baseLogger.Fatal("failed to init mongodb repository", zap.Error(err))
		}
		defer func() { _ = mongoRepo.Close(context.Background()) }()
		archive = mongoRepo
	}

	svc := metricssvc.NewService(repo, cfg.Pricing, archive, baseLogger.Named("svc.metrics"))
	summary, err := svc.Backfill(ctx)
	if err != nil {
		baseLogger.Fatal("backfill failed", zap.Error(err))
	}

	baseLogger.Info("backfill finished",
		zap.Int("processed", summary.Processed),
		zap.Int("updated", summary.Updated),
		zap.Int("errors", summary.Errors))
	for _, failure := range summary.Failures {
		baseLogger.Warn("history not recalculated", zap.String("error", failure))
	}
	if summary.Errors > 0 {
		return 1
	}
	return 0
}
