package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RateConfig struct {
	CapPerSec    int     `mapstructure:"cap_per_sec"`
	SlowdownFrac float64 `mapstructure:"slowdown_frac"`
	AlertFrac    float64 `mapstructure:"alert_frac"`
	MaxDelayMs   int     `mapstructure:"max_delay_ms"`
}

func DefaultRateConfig() RateConfig {
	return RateConfig{CapPerSec: 500, SlowdownFrac: 0.6, AlertFrac: 0.8, MaxDelayMs: 100}
}

// Limiter paces outbound gateway calls within a shared 1-second window.
// The counter lives in Redis so overlapping job runs in separate processes
// see the same utilization.
type Limiter struct {
	rdb    *redis.Client
	prefix string
	cfg    RateConfig
	log    *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

var (
	mDelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_ratelimit_delayed_total", Help: "Sends delayed by graduated slowdown",
	})
	mBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_ratelimit_blocked_total", Help: "Sends blocked until window rollover",
	})
	mAlerts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_ratelimit_alerts_total", Help: "High-utilization admin alerts fired",
	})
)

func NewLimiter(rdb *redis.Client, prefix string, cfg RateConfig, log *zap.Logger) *Limiter {
	if cfg.CapPerSec <= 0 {
		cfg.CapPerSec = DefaultRateConfig().CapPerSec
	}
	if cfg.SlowdownFrac <= 0 || cfg.SlowdownFrac > 1 {
		cfg.SlowdownFrac = 0.6
	}
	if cfg.AlertFrac <= 0 || cfg.AlertFrac > 1 {
		cfg.AlertFrac = 0.8
	}
	if cfg.MaxDelayMs <= 0 {
		cfg.MaxDelayMs = 100
	}
	if log == nil {
		log = zap.L()
	}
	return &Limiter{
		rdb:    rdb,
		prefix: prefix,
		cfg:    cfg,
		log:    log.With(zap.String("component", "ratelimit")),
		now:    time.Now,
		sleep:  ctxSleep,
	}
}

// Acquire claims one send slot, sleeping as needed. Below the slowdown
// threshold there is no delay; between threshold and cap the delay grows as
// remaining-window / remaining-quota (capped); at the cap it blocks until
// the window rolls over.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		now := l.now()
		sec := now.Unix()
		key := fmt.Sprintf("%s:%d", l.prefix, sec)

		n, err := l.rdb.Incr(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("ratelimit incr: %w", err)
		}
		if n == 1 {
			// First claim of the window owns the expiry.
			l.rdb.Expire(ctx, key, 2*time.Second)
		}

		cap64 := int64(l.cfg.CapPerSec)
		if float64(n) >= l.cfg.AlertFrac*float64(cap64) {
			l.maybeAlert(ctx, n)
		}

		if n > cap64 {
			// Over cap: give the slot back and wait out the window.
			l.rdb.Decr(ctx, key)
			mBlocked.Inc()
			wait := time.Unix(sec+1, 0).Sub(now)
			if err := l.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if float64(n) <= l.cfg.SlowdownFrac*float64(cap64) {
			return nil
		}

		remainingWindow := time.Unix(sec+1, 0).Sub(now)
		remainingQuota := cap64 - n + 1
		delay := remainingWindow / time.Duration(remainingQuota)
		if lim := time.Duration(l.cfg.MaxDelayMs) * time.Millisecond; delay > lim {
			delay = lim
		}
		mDelayed.Inc()
		return l.sleep(ctx, delay)
	}
}

// maybeAlert latches one administrative alert per hour in Redis so a fleet
// of senders does not page for every hot second.
func (l *Limiter) maybeAlert(ctx context.Context, n int64) {
	key := l.prefix + ":alert"
	ok, err := l.rdb.SetNX(ctx, key, l.now().Format(time.RFC3339), time.Hour).Result()
	if err != nil || !ok {
		return
	}
	mAlerts.Inc()
	l.log.Warn("push rate utilization above alert threshold",
		zap.Int64("window_count", n),
		zap.Int("cap_per_sec", l.cfg.CapPerSec),
	)
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
