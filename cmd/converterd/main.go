// Демон конвертера: HTTP-поверхность очереди заданий синхронизации
// receiver-БД в каталог.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"converter/daemon"
	"converter/internal/config"
	"converter/parsers"
	"converter/storage"
	"converter/syncer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	registry := parsers.NewBuiltinRegistry()

	syncOptions := []syncer.Option{
		syncer.WithLogger(logger),
		syncer.WithDBConfig(cfg.DB),
	}
	if cfg.StorageEnabled() {
		storageClient, err := storage.NewClient(storage.Options{
			BaseURL:     cfg.StorageBaseURL,
			APIToken:    cfg.StorageAPIToken,
			Timeout:     cfg.StorageTimeout,
			FailOnError: cfg.StorageFailOnError,
			Logger:      logger,
		})
		if err != nil {
			log.Fatalf("failed to build storage client: %v", err)
		}
		syncOptions = append(syncOptions, syncer.WithStorage(storageClient))
	}

	syncService := syncer.NewService(registry, syncOptions...)

	converterDaemon := daemon.NewDaemon(syncService, cfg.MaxQueueSize, logger)
	converterDaemon.Start()

	router := daemon.NewRouter(converterDaemon, daemon.ServerOptions{
		DefaultReceiverDB: cfg.DefaultReceiverDB,
		DefaultCatalogDB:  cfg.DefaultCatalogDB,
		DefaultParserName: cfg.DefaultParserName,
		DefaultBatchSize:  cfg.DefaultBatchSize,
		DefaultMaxBatches: cfg.DefaultMaxBatches,
		AuthToken:         cfg.AuthToken,
		RateLimit:         cfg.RateLimit,
		RateBurst:         cfg.RateBurst,
	})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		logger.Info("converter daemon listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}

	converterDaemon.Stop(10 * time.Second)
	logger.Info("stopped")
}

func newLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		logLevel = slog.LevelDebug
	case "WARN", "WARNING":
		logLevel = slog.LevelWarn
	case "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}
