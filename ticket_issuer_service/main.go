package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bus_pos/config"

	_ "github.com/lib/pq"
)

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func setupDatabase(connectionString string) *sql.DB {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		fatal("Failed to connect to database", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		fatal("Failed to ping database", err)
	}
	return db
}

func main() {
	config.Load()
	cfg := config.LoadIssuer()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	db := setupDatabase(cfg.DatabaseURL)
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker := &issuer{db: db, logger: slog.Default()}
	if err := worker.Migrate(ctx); err != nil {
		fatal("Failed to apply database schema", err)
	}

	consumer, err := dialBookingConsumer(cfg.RabbitMQURL, cfg.BookingQueue, cfg.Prefetch)
	if err != nil {
		fatal("Failed to consume bookings", err)
	}
	defer consumer.Close()

	slog.Info("Ticket issuer waiting for bookings", "queue", cfg.BookingQueue, "prefetch", cfg.Prefetch)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		worker.handleBookingCreatedMessages(ctx, consumer.deliveries)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down ticket issuer")
	case <-finished:
		slog.Warn("Booking queue closed")
	}
}
