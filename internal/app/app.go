// Package app assembles the payment service from its configuration and owns
// every connection it opens.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/dmehra2102/payment-orchestrator/internal/config"
	"github.com/dmehra2102/payment-orchestrator/internal/db"
	merchantapp "github.com/dmehra2102/payment-orchestrator/internal/merchant/application"
	merchant "github.com/dmehra2102/payment-orchestrator/internal/merchant/domain"
	merchantpg "github.com/dmehra2102/payment-orchestrator/internal/merchant/infrastructure/postgres"
	merchantredis "github.com/dmehra2102/payment-orchestrator/internal/merchant/infrastructure/redis"
	"github.com/dmehra2102/payment-orchestrator/internal/payment/application"
	"github.com/dmehra2102/payment-orchestrator/internal/payment/domain"
	paymentgrpc "github.com/dmehra2102/payment-orchestrator/internal/payment/infrastructure/grpc"
	paymenthttp "github.com/dmehra2102/payment-orchestrator/internal/payment/infrastructure/http"
	paymentkafka "github.com/dmehra2102/payment-orchestrator/internal/payment/infrastructure/kafka"
	paymentpg "github.com/dmehra2102/payment-orchestrator/internal/payment/infrastructure/postgres"
	"github.com/dmehra2102/payment-orchestrator/internal/payment/infrastructure/processor"
	paymentredis "github.com/dmehra2102/payment-orchestrator/internal/payment/infrastructure/redis"
	"github.com/dmehra2102/payment-orchestrator/pkg/idempotency"
	"github.com/dmehra2102/payment-orchestrator/pkg/outbox"
	"github.com/dmehra2102/payment-orchestrator/pkg/shutdown"
)

// App is the serve process: HTTP API, gRPC health and the outbox relay.
type App struct {
	cfg     config.Config
	log     *slog.Logger
	closers shutdown.Closers

	Payments *application.Service
	relay    *outbox.Relay
	health   *paymentgrpc.Health
	routes   http.Handler
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if cfg.Migrate {
		if err := db.RunMigrations(cfg.PGURL, log); err != nil {
			return nil, err
		}
	}

	pool, err := db.NewPool(ctx, cfg.PGURL, cfg.PGMaxConns)
	if err != nil {
		return nil, fmt.Errorf("pg connect: %w", err)
	}
	a.closers.Add(func(context.Context) error { pool.Close(); return nil })

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	a.closers.Add(func(context.Context) error { return rdb.Close() })

	writer := paymentkafka.NewWriter(cfg.KafkaBrokers())
	a.closers.Add(func(context.Context) error { return writer.Close() })

	directory := merchantapp.NewDirectory(log, merchantpg.NewSource(log, pool), merchantredis.NewCache(rdb), cfg.MerchantCacheTTL)

	proc, err := newProcessor(cfg.ProcessorConfig)
	if err != nil {
		return nil, err
	}

	// The outbox is written inside each payment transaction; this stage only
	// feeds the log sink and may drop under load.
	events := application.NewAsyncPublisher(log, application.LogPublisher{Log: log},
		cfg.PublishShards, cfg.PublishDepth)
	a.closers.Add(func(context.Context) error { return events.Close() })

	a.Payments = application.NewService(log,
		paymentpg.NewStore(log, pool, cfg.LockTimeout),
		proc, directory, events,
		application.WithFraudGate(application.ThresholdGate{Threshold: cfg.FraudThreshold}),
		application.WithProcessorTimeout(cfg.ProcessorTimeout),
	)

	relayID := cfg.RelayID
	if relayID == "" {
		relayID = defaultRelayID(cfg.ServiceName)
	}
	a.relay = outbox.NewRelay(log,
		paymentpg.NewOutboxStore(log, pool, cfg.OutboxRetries),
		outbox.NewDispatcher(log, writer, cfg.OutTopic),
		relayID,
		outbox.WithBatchSize(cfg.RelayBatch),
		outbox.WithInterval(cfg.RelayInterval),
		outbox.WithLease(cfg.RelayLease),
	)

	a.health = paymentgrpc.NewHealth(log, map[string]paymentgrpc.Check{
		"postgres": pool.Ping,
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})

	r := chi.NewRouter()
	r.Mount("/", paymenthttp.NewHandler(log, a.Payments).Routes())
	a.routes = r
	return a, nil
}

// Run serves until ctx ends or a listener fails, then stops the listeners.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	gs, err := paymentgrpc.Run(a.cfg.GRPCAddr, a.health)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	a.log.Info("grpc listening", "addr", a.cfg.GRPCAddr)

	srv := &http.Server{
		Addr:         a.cfg.HTTPAddr,
		Handler:      a.routes,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: a.cfg.ProcessorTimeout + 5*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.relay.Run(ctx); err != nil {
			a.log.Error("relay stopped with error", "err", err)
		}
	}()
	go a.health.Watch(ctx, a.cfg.HealthInterval)
	go func() {
		a.log.Info("http listening", "addr", a.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	gs.GracefulStop()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close flushes queued events and releases connections. Safe to call twice.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	return a.closers.Close(ctx)
}

// Migrate applies the embedded schema migrations.
func Migrate(cfg config.Config, log *slog.Logger) error {
	return db.RunMigrations(cfg.PGURL, log)
}

// Stream is the realtime fan-out process: Kafka lifecycle topic in, Redis
// channel out, deduplicated per event.
type Stream struct {
	log      *slog.Logger
	consumer *paymentkafka.Consumer
	reader   *kafka.Reader
	rdb      *redis.Client
}

func NewStream(cfg config.Config, log *slog.Logger) *Stream {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	reader := paymentkafka.NewReader(cfg.KafkaBrokers(), cfg.OutTopic, cfg.StreamGroup)
	consumer := paymentkafka.NewConsumer(log, reader,
		paymentredis.NewPublisher(rdb, cfg.RealtimeTopic),
		idempotency.NewStore(rdb, cfg.IdempotencyTTL))
	return &Stream{log: log, consumer: consumer, reader: reader, rdb: rdb}
}

func (s *Stream) Run(ctx context.Context) error {
	s.log.Info("stream consumer started")
	return s.consumer.Run(ctx)
}

func (s *Stream) Close() error {
	return errors.Join(s.reader.Close(), s.rdb.Close())
}

// Seed registers a merchant and one API key for it, and drops any cached
// resolution of that key.
func Seed(ctx context.Context, cfg config.Config, log *slog.Logger, m merchant.Merchant, credential string) error {
	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		return fmt.Errorf("pg connect: %w", err)
	}
	defer pool.Close()
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	src := merchantpg.NewSource(log, pool)
	if err := src.UpsertMerchant(ctx, m); err != nil {
		return fmt.Errorf("upsert merchant: %w", err)
	}
	if err := src.RegisterKey(ctx, uuid.NewString(), m.ID, credential); err != nil {
		return fmt.Errorf("register key: %w", err)
	}
	if err := merchantredis.NewCache(rdb).Invalidate(ctx, merchant.CredentialHash(credential)); err != nil {
		log.Warn("merchant cache invalidation failed", "merchant_id", m.ID, "err", err)
	}
	log.Info("merchant seeded", "merchant_id", m.ID)
	return nil
}

func newProcessor(cfg config.ProcessorConfig) (*processor.Simulated, error) {
	methods := make([]domain.Method, 0, len(cfg.ActionMethods))
	for _, s := range cfg.ActionMethods {
		m, err := domain.ParseMethod(s)
		if err != nil {
			return nil, fmt.Errorf("processor action methods: %w", err)
		}
		methods = append(methods, m)
	}
	return processor.NewSimulated(processor.Config{
		ManualCapture: cfg.ManualCapture,
		DeclineAbove:  cfg.DeclineAbove,
		ActionMethods: methods,
		Latency:       cfg.Latency,
	}), nil
}

func defaultRelayID(service string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = uuid.NewString()[:8]
	}
	return service + "-relay-" + host
}
