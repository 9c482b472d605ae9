package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/breez/quiz-sync/config"
	"github.com/breez/quiz-sync/events"
	"github.com/breez/quiz-sync/logger"
	"github.com/breez/quiz-sync/metrics"
	"github.com/breez/quiz-sync/store"
	"github.com/breez/quiz-sync/store/postgres"
	"github.com/breez/quiz-sync/store/sqlite"
	"github.com/breez/quiz-sync/syncer"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	config, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logger.New(logger.Config{
		Level:       config.LogLevel,
		Environment: config.LogEnvironment,
		ServiceName: "quiz-sync",
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(config, logger); err != nil {
		logger.Error("server stopped", err)
		os.Exit(1)
	}
}

func run(config *config.Config, logger *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := openStorage(config)
	if err != nil {
		return err
	}
	defer func() {
		if err := storage.Close(); err != nil {
			logger.Error("failed to close storage", err)
		}
		logger.Info("storage closed")
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	clock := clockwork.NewRealClock()
	registry := events.NewRegistry(m)
	dispatcher := events.NewDispatcher(registry, clock, logger, m)

	if config.RedisUrl != "" {
		relay, closeRelay, err := startRelay(ctx, config.RedisUrl, dispatcher, logger, m)
		if err != nil {
			return err
		}
		defer closeRelay()
		dispatcher.SetRelay(relay)
		// Runs before closeRelay so queued events are flushed first.
		defer dispatcher.Close()
	}

	coordinator := syncer.NewCoordinator(storage, dispatcher, logger, m)
	syncServer := NewQuizSyncServer(config, coordinator, registry, clock, logger, m, reg)
	s := CreateServer(config, syncServer.Handler())

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("address", config.HttpListenAddress), zap.String("store", config.StoreDriver))
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to serve: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down http server", err)
	}
	// Hijacked websocket connections are not tracked by the http server.
	registry.CloseAll()
	return nil
}

func openStorage(cfg *config.Config) (store.SyncStorage, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return postgres.NewPGSyncStorage(cfg.PgDatabaseUrl, int32(cfg.DBMaxConns), cfg.DBAcquireTimeout)
	default:
		if err := os.MkdirAll(cfg.SQLiteDirPath, 0700); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory %v: %w", cfg.SQLiteDirPath, err)
		}
		return sqlite.NewSQLiteSyncStorage(filepath.Join(cfg.SQLiteDirPath, "quiz.db"), cfg.DBAcquireTimeout)
	}
}

func startRelay(ctx context.Context, redisURL string, dispatcher *events.Dispatcher, logger *logger.Logger, m *metrics.Metrics) (*events.RedisRelay, func(), error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	relay := events.NewRedisRelay(rdb, events.DefaultRelayChannel, dispatcher, logger, m)
	if err := relay.Start(ctx); err != nil {
		rdb.Close()
		return nil, nil, err
	}
	return relay, func() {
		if err := relay.Close(); err != nil {
			logger.Warn("failed to close relay", zap.Error(err))
		}
		rdb.Close()
	}, nil
}

func CreateServer(config *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              config.HttpListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
