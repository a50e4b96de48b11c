package sweeper

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/openlistings/alertd/internal/domain/device"
)

// DrainLease serializes drains across replicas. Claims in the queue tables
// are already concurrency-safe; the lease just keeps redundant replicas
// from burning the rate budget on empty claims.
type DrainLease interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type Config struct {
	Tick          time.Duration `mapstructure:"tick"`
	RetryBatch    int           `mapstructure:"retry_batch"`
	DeferredBatch int           `mapstructure:"deferred_batch"`
	PurgeEvery    time.Duration `mapstructure:"purge_every"`
	PurgeAfter    time.Duration `mapstructure:"purge_after"`
}

type Runner struct {
	Log      *zap.Logger
	Cfg      Config
	Lease    DrainLease
	Retry    *RetryDrain
	Deferred *DeferredDrain
	Devices  device.Repo

	lastPurge time.Time

	mTicks      prometheus.Counter
	mLeaseBusy  prometheus.Counter
	mRetried    prometheus.Counter
	mDead       prometheus.Counter
	mReleased   prometheus.Counter
	mDeferSkip  prometheus.Counter
	mPurged     prometheus.Counter
	mErrors     prometheus.Counter
	mTickDur    prometheus.Histogram
}

func NewRunner(log *zap.Logger, cfg Config, lease DrainLease, rd *RetryDrain, dd *DeferredDrain, devices device.Repo) *Runner {
	return &Runner{
		Log:      log,
		Cfg:      cfg,
		Lease:    lease,
		Retry:    rd,
		Deferred: dd,
		Devices:  devices,
		mTicks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sweeper_ticks_total", Help: "Sweep passes started",
		}),
		mLeaseBusy: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sweeper_lease_busy_total", Help: "Ticks skipped because another replica holds the lease",
		}),
		mRetried: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sweeper_retries_drained_total", Help: "Retry entries attempted",
		}),
		mDead: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sweeper_dead_letters_total", Help: "Retry entries that exhausted their budget",
		}),
		mReleased: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sweeper_deferred_released_total", Help: "Deferred pushes released",
		}),
		mDeferSkip: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sweeper_deferred_skipped_total", Help: "Deferred pushes dropped at release time",
		}),
		mPurged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sweeper_devices_purged_total", Help: "Inactive device rows purged",
		}),
		mErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sweeper_errors_total", Help: "Errors in sweep passes",
		}),
		mTickDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "sweeper_tick_duration_seconds", Help: "Sweep pass duration",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Cfg.Tick)
	defer ticker.Stop()

	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	r.mTicks.Inc()
	start := time.Now()
	defer func() { r.mTickDur.Observe(time.Since(start).Seconds()) }()

	ok, err := r.Lease.TryAcquire(ctx)
	if err != nil {
		r.mErrors.Inc()
		r.Log.Warn("lease acquire", zap.Error(err))
		return
	}
	if !ok {
		r.mLeaseBusy.Inc()
		return
	}
	defer func() {
		if err := r.Lease.Release(ctx); err != nil {
			r.Log.Warn("lease release", zap.Error(err))
		}
	}()

	rs, err := r.Retry.Drain(ctx, r.Cfg.RetryBatch)
	if err != nil {
		r.mErrors.Inc()
		r.Log.Warn("retry drain", zap.Error(err))
	}
	r.mRetried.Add(float64(rs.Claimed))
	r.mDead.Add(float64(rs.DeadLetters))

	ds, err := r.Deferred.Drain(ctx, r.Cfg.DeferredBatch)
	if err != nil {
		r.mErrors.Inc()
		r.Log.Warn("deferred drain", zap.Error(err))
	}
	r.mReleased.Add(float64(ds.Sent))
	r.mDeferSkip.Add(float64(ds.Skipped))

	if rs.Claimed > 0 || ds.Claimed > 0 {
		r.Log.Info("sweep pass",
			zap.Int("retry_claimed", rs.Claimed),
			zap.Int("retry_delivered", rs.Delivered),
			zap.Int("retry_rescheduled", rs.Rescheduled),
			zap.Int("dead_letters", rs.DeadLetters),
			zap.Int64("retry_expired", rs.Expired),
			zap.Int("deferred_claimed", ds.Claimed),
			zap.Int("deferred_sent", ds.Sent),
			zap.Int("deferred_skipped", ds.Skipped),
			zap.Int("deferred_failed", ds.Failed),
		)
	}

	r.maybePurge(ctx)
}

// maybePurge drops device rows that have been inactive long enough that a
// comeback would re-register anyway.
func (r *Runner) maybePurge(ctx context.Context) {
	if r.Cfg.PurgeEvery <= 0 || r.Cfg.PurgeAfter <= 0 {
		return
	}
	now := time.Now()
	if now.Sub(r.lastPurge) < r.Cfg.PurgeEvery {
		return
	}
	r.lastPurge = now

	n, err := r.Devices.PurgeInactive(ctx, now.Add(-r.Cfg.PurgeAfter))
	if err != nil {
		r.mErrors.Inc()
		r.Log.Warn("purge devices", zap.Error(err))
		return
	}
	if n > 0 {
		r.mPurged.Add(float64(n))
		r.Log.Info("purged inactive devices", zap.Int64("count", n))
	}
}
