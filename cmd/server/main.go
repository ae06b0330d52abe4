package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"marketdata/internal/api"
	"marketdata/internal/app"
	"marketdata/internal/config"
	"marketdata/internal/events"
	"marketdata/internal/events/kafkasink"
	"marketdata/internal/events/redissink"
)

const sinkBuffer = 1024

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("wiring", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	closeSinks := startSinks(ctx, cfg, a.Service.Hub(), logger)
	defer closeSinks()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.NewRouter(a.Service, cfg.RequestTimeout(), logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	go a.Run(ctx)

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	a.Service.Hub().Close()
}

// startSinks mirrors price updates into Redis and Kafka when enabled. The
// returned func releases their clients.
func startSinks(ctx context.Context, cfg config.Config, hub *events.Hub, logger *zap.Logger) func() {
	var closers []func()

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable; sink will retry per write", zap.Error(err))
		}
		sink := redissink.New(rdb, time.Duration(cfg.Redis.SnapshotTTLSec)*time.Second, logger.Named("redis"))
		updates, cancel := hub.Prices.Subscribe(sinkBuffer)
		go sink.Run(ctx, updates)
		closers = append(closers, cancel, func() { _ = rdb.Close() })
	}

	if cfg.Kafka.Enabled {
		w := kafkasink.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		sink := kafkasink.New(w, logger.Named("kafka"))
		updates, cancel := hub.Prices.Subscribe(sinkBuffer)
		go sink.Run(ctx, updates)
		closers = append(closers, cancel, func() { _ = w.Close() })
	}

	return func() {
		for _, c := range closers {
			c()
		}
	}
}
