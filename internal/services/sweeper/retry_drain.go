package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openlistings/alertd/internal/domain/device"
	"github.com/openlistings/alertd/internal/domain/retryq"
	"github.com/openlistings/alertd/internal/push"
)

type Pusher interface {
	Push(ctx context.Context, token string, sandbox bool, body []byte) (push.Result, error)
}

type Limiter interface {
	Acquire(ctx context.Context) error
}

// RetryDrain redelivers transient transport failures. Each claimed entry
// gets exactly one attempt per drain pass; the backoff between attempts
// lives in next_retry_at.
type RetryDrain struct {
	Retry   retryq.Repo
	Devices device.Repo
	Push    Pusher
	Limiter Limiter
	Log     *zap.Logger
	Clock   func() time.Time
}

type RetryStats struct {
	Claimed     int
	Delivered   int
	Rescheduled int
	DeadLetters int
	Rejected    int
	Expired     int64
}

func (d *RetryDrain) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

func (d *RetryDrain) Drain(ctx context.Context, limit int) (RetryStats, error) {
	var st RetryStats
	now := d.now()

	entries, err := d.Retry.ClaimDue(ctx, now, limit)
	if err != nil {
		return st, err
	}
	st.Claimed = len(entries)

	for _, e := range entries {
		if err := d.Limiter.Acquire(ctx); err != nil {
			return st, err
		}
		res, _ := d.Push.Push(ctx, e.Token, e.Sandbox, e.Payload)

		switch res.Outcome {
		case push.OutcomeDelivered:
			st.Delivered++
			if err := d.Retry.MarkCompleted(ctx, e.ID); err != nil {
				d.Log.Warn("mark completed", zap.Int64("retry_id", e.ID), zap.Error(err))
			}
			if err := d.Devices.TouchLastUsed(ctx, []int64{e.DeviceID}); err != nil {
				d.Log.Warn("touch last_used", zap.Int64("device_id", e.DeviceID), zap.Error(err))
			}

		case push.OutcomePermanent:
			if err := d.Devices.Deactivate(ctx, e.DeviceID); err != nil {
				d.Log.Warn("deactivate device", zap.Int64("device_id", e.DeviceID), zap.Error(err))
			}
			if err := d.Retry.MarkFailed(ctx, e.ID, res.Reason); err != nil {
				d.Log.Warn("mark failed", zap.Int64("retry_id", e.ID), zap.Error(err))
			}
			st.Rejected++

		case push.OutcomeRejected:
			if err := d.Retry.MarkFailed(ctx, e.ID, res.Reason); err != nil {
				d.Log.Warn("mark failed", zap.Int64("retry_id", e.ID), zap.Error(err))
			}
			st.Rejected++

		case push.OutcomeRetriable:
			count := e.RetryCount + 1
			if count >= e.MaxRetries {
				st.DeadLetters++
				d.Log.Error("retry budget exhausted",
					zap.Int64("retry_id", e.ID),
					zap.Int64("user_id", e.UserID),
					zap.String("token", push.Redact(e.Token)),
					zap.String("reason", res.Reason),
				)
				if err := d.Retry.MarkFailed(ctx, e.ID, res.Reason); err != nil {
					d.Log.Warn("mark failed", zap.Int64("retry_id", e.ID), zap.Error(err))
				}
				continue
			}
			st.Rescheduled++
			next := now.Add(retryq.NextDelay(count))
			if err := d.Retry.Reschedule(ctx, e.ID, count, res.Reason, next); err != nil {
				d.Log.Warn("reschedule", zap.Int64("retry_id", e.ID), zap.Error(err))
			}
		}
	}

	// Entries stuck pending for a day are hopeless; close them out.
	expired, err := d.Retry.ExpireStale(ctx, now.Add(-24*time.Hour))
	if err != nil {
		d.Log.Warn("expire stale retries", zap.Error(err))
	}
	st.Expired = expired
	return st, nil
}
