package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bus_pos/config"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func initRedis(addr string) *redis.Client {
	redisClient := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		fatal("Failed to connect to Redis at "+addr, err)
	}

	slog.Info("Connected to Redis", "addr", addr)
	return redisClient
}

func initEtcd(endpoints []string, dialTimeout time.Duration) *clientv3.Client {
	etcdClient, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		fatal("Failed to connect to etcd", err)
	}

	slog.Info("Connected to etcd cluster", "endpoints", strings.Join(endpoints, ", "))
	return etcdClient
}

func initPostgres(connectionString string) *sql.DB {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		fatal("Failed to connect to database", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		fatal("Failed to ping database", err)
	}

	slog.Info("Connected to PostgreSQL")
	return db
}

func initRabbitMQ(url, queueName string) (*amqp.Connection, *amqp.Channel) {
	conn, err := amqp.Dial(url)
	if err != nil {
		fatal("Failed to connect to RabbitMQ", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		fatal("Failed to open a channel", err)
	}

	if _, err := channel.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		fatal("Failed to declare queue "+queueName, err)
	}

	slog.Info("Connected to RabbitMQ", "queue", queueName)
	return conn, channel
}

func main() {
	config.Load()
	cfg := config.LoadReservation()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))
	slog.Info("Configuration loaded",
		"redis_addr", cfg.RedisAddr,
		"server_port", cfg.ServerPort,
		"default_hold_ttl", cfg.DefaultHoldTTL,
		"booking_queue", cfg.BookingQueue)

	redisClient := initRedis(cfg.RedisAddr)
	defer redisClient.Close()

	etcdClient := initEtcd(cfg.EtcdEndpoints, cfg.EtcdDialTimeout)
	defer etcdClient.Close()

	db := initPostgres(cfg.DatabaseURL)
	defer db.Close()

	store := newPostgresStore(db)
	if err := store.Migrate(context.Background()); err != nil {
		fatal("Failed to apply database schema", err)
	}

	rabbitMQConn, rabbitMQChannel := initRabbitMQ(cfg.RabbitMQURL, cfg.BookingQueue)
	defer rabbitMQConn.Close()
	defer rabbitMQChannel.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := &server{
		holds:      newHoldStore(redisClient),
		ledger:     newEtcdLedger(etcdClient),
		store:      store,
		events:     &redisEventPublisher{rdb: redisClient},
		queue:      &rabbitBookingQueue{channel: rabbitMQChannel, queue: cfg.BookingQueue},
		tickets:    ticketSigner{secret: []byte(cfg.TicketSecret)},
		metrics:    newMetrics(registry),
		logger:     slog.Default(),
		now:        time.Now,
		defaultTTL: cfg.DefaultHoldTTL,
		maxTTL:     cfg.MaxHoldTTL,
		corsOrigin: cfg.CORSOrigin,
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.routes(registry),
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

	slog.Info("Reservation service starting", "port", cfg.ServerPort)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal("Server stopped", err)
	}
}
