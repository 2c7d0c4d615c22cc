// Package main wires together the breachwatch service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/breachwatch/breachwatch/internal/api"
	"github.com/breachwatch/breachwatch/internal/clock/system"
	"github.com/breachwatch/breachwatch/internal/config"
	"github.com/breachwatch/breachwatch/internal/crawler"
	"github.com/breachwatch/breachwatch/internal/id/uuid"
	"github.com/breachwatch/breachwatch/internal/logging"
	"github.com/breachwatch/breachwatch/internal/metrics"
	"github.com/breachwatch/breachwatch/internal/registry"
	"github.com/breachwatch/breachwatch/internal/runner"
	memoryStorage "github.com/breachwatch/breachwatch/internal/storage/memory"
	"github.com/breachwatch/breachwatch/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		jobStore  crawler.JobStore
		fileStore crawler.FileStore
	)
	switch cfg.DB.Provider {
	case "postgres":
		store, err := postgres.NewStore(ctx, postgres.StoreConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
			MinConns: int32(cfg.DB.MinOpenConns),
		})
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		defer store.Close()
		jobStore = store
		fileStore = store
	default:
		store := memoryStorage.NewStore()
		jobStore = store
		fileStore = store
	}

	clock := system.New()
	idGen := uuid.New()
	reg := registry.New()

	jobRunner := runner.New(ctx, runner.Config{
		Workers:            cfg.Crawler.Workers,
		DownloadRoot:       cfg.Crawler.DownloadDir,
		FetchTimeout:       cfg.FetchTimeout(),
		MaxBodyBytes:       cfg.Crawler.MaxBodyBytes,
		StatusPollInterval: cfg.StatusPollInterval(),
		SchedulerInterval:  cfg.SchedulerInterval(),
	}, jobStore, fileStore, reg, nil, clock, idGen, logger.Named("runner"))

	apiServer := api.NewServer(jobStore, fileStore, jobRunner, idGen, clock, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("scheduler started")
		jobRunner.RunScheduler(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
