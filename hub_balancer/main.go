package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"bus_pos/config"
)

func main() {
	config.Load()
	cfg := config.LoadBalancer()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	if len(cfg.Backends) == 0 {
		slog.Error("No backends configured. Set BACKENDS (comma-separated) environment variable")
		os.Exit(1)
	}

	slog.Info("Configured backends", "count", len(cfg.Backends))
	for i, backend := range cfg.Backends {
		slog.Info("Backend", "index", i+1, "url", backend)
	}

	lb := newLoadBalancer(cfg.Backends, slog.Default())
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           lb.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("WebSocket load balancer starting", "port", cfg.ServerPort)
	if err := server.ListenAndServe(); err != nil {
		slog.Error("Load balancer stopped", "error", err)
		os.Exit(1)
	}
}
