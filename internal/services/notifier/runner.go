package notifier

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/openlistings/alertd/internal/domain/listing"
	kafkax "github.com/openlistings/alertd/internal/repository/kafka"
)

// Runner glues the change-event consumer to the orchestrator and owns the
// service metrics.
type Runner struct {
	log  *zap.Logger
	cons *kafkax.Consumer
	orch *Orchestrator

	mConsumed  prometheus.Counter
	mInvalid   prometheus.Counter
	mPushed    prometheus.Counter
	mEmailed   prometheus.Counter
	mDeferred  prometheus.Counter
	mRetried   prometheus.Counter
	mSkipped   prometheus.Counter
	mFailed    prometheus.Counter
	mErrors    prometheus.Counter
	mHandleDur prometheus.Histogram
}

func NewRunner(log *zap.Logger, cons *kafkax.Consumer, orch *Orchestrator) *Runner {
	return &Runner{
		log:  log,
		cons: cons,
		orch: orch,
		mConsumed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifier_events_consumed_total", Help: "Change events consumed",
		}),
		mInvalid: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifier_events_invalid_total", Help: "Malformed or unknown-kind events dropped",
		}),
		mPushed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifier_pushes_sent_total", Help: "Users notified over push",
		}),
		mEmailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifier_emails_sent_total", Help: "Users notified over email",
		}),
		mDeferred: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifier_deferred_total", Help: "Pushes deferred to after quiet hours",
		}),
		mRetried: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifier_retries_queued_total", Help: "Device sends handed to the retry queue",
		}),
		mSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifier_skipped_total", Help: "Users skipped (disabled, dedup, no devices)",
		}),
		mFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifier_failed_total", Help: "Users whose delivery failed on every device",
		}),
		mErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notifier_errors_total", Help: "Errors",
		}),
		mHandleDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "notifier_handle_duration_seconds",
			Help:    "Per-event fan-out duration",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (r *Runner) Run(ctx context.Context) error {
	handler := kafkax.JSONHandler(
		func(ctx context.Context, _ []byte, ev *listing.ChangeEvent) error {
			r.mConsumed.Inc()
			if !ev.Kind.Valid() || (ev.ListingID <= 0 && ev.Kind != listing.KindTourRequested) {
				r.mInvalid.Inc()
				r.log.Warn("dropping invalid change event",
					zap.String("kind", string(ev.Kind)),
					zap.Int64("listing_id", ev.ListingID),
				)
				return nil
			}
			return r.handle(ctx, ev)
		},
	)

	if err := r.cons.Consume(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
		r.mErrors.Inc()
		r.log.Warn("kafka consume", zap.Error(err))
		return err
	}
	return ctx.Err()
}

func (r *Runner) handle(ctx context.Context, ev *listing.ChangeEvent) error {
	start := time.Now()
	st, err := r.orch.HandleChange(ctx, ev)
	r.mHandleDur.Observe(time.Since(start).Seconds())

	r.mPushed.Add(float64(st.Pushed))
	r.mEmailed.Add(float64(st.Emailed))
	r.mDeferred.Add(float64(st.Deferred))
	r.mRetried.Add(float64(st.Retried))
	r.mSkipped.Add(float64(st.Skipped))
	r.mFailed.Add(float64(st.Failed))

	if err != nil {
		r.mErrors.Inc()
		return err
	}
	return nil
}
