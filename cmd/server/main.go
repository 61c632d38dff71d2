package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mamadbah2/broiler/internal/config"
	"github.com/mamadbah2/broiler/internal/lock"
	"github.com/mamadbah2/broiler/internal/repository/gormdb"
	"github.com/mamadbah2/broiler/internal/repository/mongodb"
	"github.com/mamadbah2/broiler/internal/repository/sheets"
	"github.com/mamadbah2/broiler/internal/scheduler"
	"github.com/mamadbah2/broiler/internal/server/handlers"
	"github.com/mamadbah2/broiler/internal/server/router"
	accrualsvc "github.com/mamadbah2/broiler/internal/service/accrual"
	ledgersvc "github.com/mamadbah2/broiler/internal/service/ledger"
	lifecyclesvc "github.com/mamadbah2/broiler/internal/service/lifecycle"
	metricssvc "github.com/mamadbah2/broiler/internal/service/metrics"
	"github.com/mamadbah2/broiler/internal/service/notify"
	salessvc "github.com/mamadbah2/broiler/internal/service/sales"
	whatsappclient "github.com/mamadbah2/broiler/pkg/clients/whatsapp"
	"github.com/mamadbah2/broiler/pkg/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(logger.Options{Level: cfg.Log.Level, Development: cfg.Log.Development}))
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	repo, err := gormdb.Open(cfg.Database, baseLogger.Named("repo.gorm"))
	if err != nil {
		baseLogger.Fatal("failed to init database", zap.Error(err))
	}
	defer func() {
		if err := repo.Close(); err != nil {
			baseLogger.Error("failed to close database", zap.Error(err))
		}
	}()

	// Run reports are optional; a nil archive keeps them in the logs only.
	var archive interface {
		accrualsvc.RunArchive
		metricssvc.RunArchive
		handlers.RunHistory
	}
	if cfg.MongoDB.URI != "" {
		mongoRepo, err := mongodb.NewRunReportRepository(context.Background(), cfg.MongoDB.URI, cfg.MongoDB.DBName)
		if err != nil {
			baseLogger.Fatal("failed to init mongodb repository", zap.Error(err))
		}
		defer func() {
			if err := mongoRepo.Close(context.Background()); err != nil {
				baseLogger.Error("failed to close mongodb connection", zap.Error(err))
			}
		}()
		archive = mongoRepo
	} else {
		baseLogger.Warn("mongodb uri missing, run reports will not be archived")
	}

	var sinks notify.Multi
	if cfg.WhatsApp.Enabled() {
		sinks = append(sinks, notify.NewWhatsAppSink(whatsappclient.NewClient(cfg.WhatsApp), cfg.WhatsApp.GroupID, baseLogger.Named("notify.whatsapp")))
		baseLogger.Info("whatsapp notifications enabled")
	}
	if cfg.Sheets.Enabled() {
		sheetsRepo, err := sheets.NewRepository(context.Background(), cfg.Sheets, baseLogger.Named("repo.sheets"))
		if err != nil {
			baseLogger.Fatal("failed to init sheets repository", zap.Error(err))
		}
		sinks = append(sinks, notify.NewSheetSink(sheetsRepo, cfg.Sheets.NotificationTab))
		baseLogger.Info("sheets notification log enabled")
	}
	var notifier lifecyclesvc.Notifier
	if len(sinks) > 0 {
		notifier = sinks
	}

	var locker lock.Locker
	if cfg.Redis.Address != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password})
		defer func() { _ = rdb.Close() }()
		locker = lock.NewRedisLocker(rdb)
	} else {
		baseLogger.Warn("redis address missing, scheduled jobs run without a distributed lock")
	}

	location, err := cfg.Scheduler.Location()
	if err != nil {
		baseLogger.Fatal("invalid scheduler timezone", zap.Error(err))
	}

	ledgerSvc := ledgersvc.NewService(repo, baseLogger.Named("svc.ledger"))
	metricsSvc := metricssvc.NewService(repo, cfg.Pricing, archive, baseLogger.Named("svc.metrics"))
	accrualSvc := accrualsvc.NewService(repo, archive, location, cfg.Scheduler.Concurrency, baseLogger.Named("svc.accrual"))
	lifecycleSvc := lifecyclesvc.NewService(repo, ledgerSvc, metricsSvc, notifier, baseLogger.Named("svc.lifecycle"))
	salesSvc := salessvc.NewService(repo, metricsSvc, baseLogger.Named("svc.sales"))

	engine := router.New(router.Handlers{
		Farmers: handlers.NewFarmerHandler(ledgerSvc, baseLogger.Named("handlers.farmers")),
		Cycles:  handlers.NewCycleHandler(lifecycleSvc, accrualSvc, metricsSvc, baseLogger.Named("handlers.cycles")),
		Sales:   handlers.NewSaleHandler(salesSvc, baseLogger.Named("handlers.sales")),
		Batch:   handlers.NewBatchHandler(accrualSvc, metricsSvc, archive, baseLogger.Named("handlers.batch")),
	}, cfg.Server, baseLogger.Named("router"))

	sched, err := scheduler.NewScheduler(cfg.Scheduler, cfg.Redis.LockTTL, accrualSvc, metricsSvc, locker, baseLogger.Named("scheduler"))
	if err != nil {
		baseLogger.Fatal("failed to init scheduler", zap.Error(err))
	}
	if err := sched.Start(); err != nil {
		baseLogger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}
}
