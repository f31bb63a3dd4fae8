package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bus_pos/config"

	"github.com/redis/go-redis/v9"
)

func initRedis(addr string) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:            addr,
		DisableIdentity: true,
		PoolSize:        1000, // one pub/sub connection per agent
		MinIdleConns:    100,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("Failed to connect to Redis at "+addr, "error", err)
		os.Exit(1)
	}
	return rdb
}

func main() {
	config.Load()
	cfg := config.LoadHub()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	rdb := initRedis(cfg.RedisAddr)
	defer rdb.Close()

	h := newHub(rdb, cfg.PingInterval, slog.Default())
	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           h.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("WebSocket server started", "port", cfg.ServerPort, "redis_addr", cfg.RedisAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}
