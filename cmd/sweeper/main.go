package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "github.com/openlistings/alertd/internal/config/sweeper"
	"github.com/openlistings/alertd/internal/dedup"
	"github.com/openlistings/alertd/internal/gate"
	"github.com/openlistings/alertd/internal/obs"
	"github.com/openlistings/alertd/internal/push"
	"github.com/openlistings/alertd/internal/repository/kafka"
	pg "github.com/openlistings/alertd/internal/repository/postgres"
	redisx "github.com/openlistings/alertd/internal/repository/redis"
	"github.com/openlistings/alertd/internal/services/sweeper"
)

func main() {
	root, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal(err)
	}

	l, err := obs.NewLogger(cfg.Log.AsLoggerConfig())
	if err != nil {
		log.Fatal(err)
	}

	otelCloser, err := obs.SetupOTel(root, cfg.OTEL.AsOTELConfig())
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	db, err := pg.New(root, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	rdb, err := redisx.New(root, cfg.Redis)
	if err != nil {
		l.Fatal("redis connect", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, func(ctx context.Context) error {
		hctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		return db.Pool.Ping(hctx)
	}, l)

	prod := kafka.NewProducer(cfg.Out.Brokers, cfg.Out.Topic).WithLogger(l)
	defer func() { _ = prod.Close() }()
	outcomes := kafka.NewOutcomeEventsKafka(prod, l)

	pushc, err := push.New(cfg.Push, l)
	if err != nil {
		l.Fatal("push client", zap.Error(err))
	}

	devices := pg.NewDeviceRepo(db)
	retries := pg.NewRetryRepo(db)
	limiter := redisx.NewLimiter(rdb, "alertd:push", cfg.Rate, l)

	rd := &sweeper.RetryDrain{
		Retry:   retries,
		Devices: devices,
		Push:    pushc,
		Limiter: limiter,
		Log:     l,
	}
	dd := &sweeper.DeferredDrain{
		Deferred: pg.NewDeferredRepo(db),
		Devices:  devices,
		Retry:    retries,
		Gate:     gate.New(pg.NewPreferenceRepo(db)),
		Dedup:    dedup.New(pg.NewDeliveryRepo(db)),
		Push:     pushc,
		Limiter:  limiter,
		Outcomes: outcomes,
		Tx:       pg.NewTransactor(db, l),

		MaxRetries: cfg.Retry.MaxRetries,
		RetryBase:  cfg.Retry.BaseDelay,

		Log: l,
	}

	lease := redisx.NewLease(rdb, cfg.Lease.Key, cfg.Lease.TTL)
	runner := sweeper.NewRunner(l, cfg.Sweep, lease, rd, dd, devices)

	errCh := make(chan error, 1)
	go func() { errCh <- runner.Run(root) }()

	select {
	case <-root.Done():
	case err = <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("runner error", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
