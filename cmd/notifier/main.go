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

	config "github.com/openlistings/alertd/internal/config/notifier"
	"github.com/openlistings/alertd/internal/dedup"
	"github.com/openlistings/alertd/internal/gate"
	"github.com/openlistings/alertd/internal/mailer"
	"github.com/openlistings/alertd/internal/match"
	"github.com/openlistings/alertd/internal/obs"
	"github.com/openlistings/alertd/internal/push"
	"github.com/openlistings/alertd/internal/repository/kafka"
	pg "github.com/openlistings/alertd/internal/repository/postgres"
	redisx "github.com/openlistings/alertd/internal/repository/redis"
	notifier "github.com/openlistings/alertd/internal/services/notifier"
	notifierrepo "github.com/openlistings/alertd/internal/services/notifier/repo"
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

	cons := kafka.NewConsumer(cfg.In.AsConsumerConfig()).WithLogger(l)
	defer func() { _ = cons.Close() }()

	prod := kafka.NewProducer(cfg.Out.Brokers, cfg.Out.Topic).WithLogger(l)
	defer func() { _ = prod.Close() }()
	outcomes := kafka.NewOutcomeEventsKafka(prod, l)

	pushc, err := push.New(cfg.Push, l)
	if err != nil {
		l.Fatal("push client", zap.Error(err))
	}

	g := gate.New(pg.NewPreferenceRepo(db))
	g.DefaultQuietStart = cfg.Quiet.Start
	g.DefaultQuietEnd = cfg.Quiet.End

	orch := &notifier.Orchestrator{
		Searches:  pg.NewSearchRepo(db),
		Favorites: pg.NewFavoriteRepo(db),
		Users:     pg.NewUserRepo(db),
		Devices:   pg.NewDeviceRepo(db),
		Badges:    pg.NewBadgeRepo(db),
		Retry:     pg.NewRetryRepo(db),
		Deferred:  pg.NewDeferredRepo(db),

		Gate:     g,
		Dedup:    dedup.New(pg.NewDeliveryRepo(db)),
		Scorer:   match.NewScorer(cfg.Match),
		Push:     pushc,
		Limiter:  redisx.NewLimiter(rdb, "alertd:push", cfg.Rate, l),
		Mailer:   mailer.New(cfg.SMTP).WithLogger(l),
		Outcomes: notifierrepo.Outcomes{P: outcomes},

		MaxRetries: cfg.Retry.MaxRetries,
		RetryBase:  cfg.Retry.BaseDelay,

		Log: l,
	}

	runner := notifier.NewRunner(l, cons, orch)

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
