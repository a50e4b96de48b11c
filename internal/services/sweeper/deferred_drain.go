package sweeper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openlistings/alertd/internal/dedup"
	deferredq "github.com/openlistings/alertd/internal/domain/deferred"
	"github.com/openlistings/alertd/internal/domain/delivery"
	"github.com/openlistings/alertd/internal/domain/device"
	"github.com/openlistings/alertd/internal/domain/preference"
	"github.com/openlistings/alertd/internal/domain/retryq"
	"github.com/openlistings/alertd/internal/gate"
	"github.com/openlistings/alertd/internal/push"
	"github.com/openlistings/alertd/internal/repository/postgres"
)

type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, ev *delivery.OutcomeEvent) error
}

// DeferredDrain releases pushes held back by quiet hours. Preference
// toggles are re-validated at send time because they may have changed while
// the notification waited; quiet hours are not, deliver_after already
// encodes the window end.
type DeferredDrain struct {
	Deferred deferredq.Repo
	Devices  device.Repo
	Retry    retryq.Repo

	Gate     *gate.Gate
	Dedup    *dedup.Tracker
	Push     Pusher
	Limiter  Limiter
	Outcomes OutcomePublisher
	Tx       postgres.Transactor

	// Retry policy; zero values fall back to the retryq defaults.
	MaxRetries int
	RetryBase  time.Duration

	Log   *zap.Logger
	Clock func() time.Time
}

type DeferredStats struct {
	Claimed int
	Sent    int
	Skipped int
	Failed  int
}

func (d *DeferredDrain) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

func (d *DeferredDrain) maxRetries() int {
	if d.MaxRetries > 0 {
		return d.MaxRetries
	}
	return retryq.DefaultMaxRetries
}

func (d *DeferredDrain) retryBase() time.Duration {
	if d.RetryBase > 0 {
		return d.RetryBase
	}
	return retryq.BaseDelay
}

func (d *DeferredDrain) Drain(ctx context.Context, limit int) (DeferredStats, error) {
	var st DeferredStats
	now := d.now()

	claimed, err := d.Deferred.ClaimDue(ctx, now, limit)
	if err != nil {
		return st, err
	}
	st.Claimed = len(claimed)
	if len(claimed) == 0 {
		return st, nil
	}

	sentByUser, err := d.batchSent(ctx, claimed)
	if err != nil {
		return st, err
	}

	for _, n := range claimed {
		key := delivery.TypeListing{Type: string(n.Type), ListingID: n.ListingID}.Key()
		if sentByUser[n.UserID][key] {
			st.Skipped++
			d.markStatus(ctx, n.ID, deferredq.StatusSkipped)
			continue
		}

		prefs, err := d.Gate.Load(ctx, n.UserID)
		if err != nil {
			st.Failed++
			d.Log.Warn("load preferences", zap.Int64("user_id", n.UserID), zap.Error(err))
			d.markStatus(ctx, n.ID, deferredq.StatusFailed)
			continue
		}
		if !prefs.EnabledFor(n.Type, preference.ChannelPush) {
			st.Skipped++
			d.markStatus(ctx, n.ID, deferredq.StatusSkipped)
			d.publishOutcome(ctx, n, delivery.StatusSkipped, "disabled")
			continue
		}

		if err := d.deliver(ctx, n, &st); err != nil {
			return st, err
		}
	}
	return st, nil
}

// batchSent collapses the dedup re-check into one query per user.
func (d *DeferredDrain) batchSent(ctx context.Context, claimed []*deferredq.Notification) (map[int64]map[string]bool, error) {
	pairsByUser := make(map[int64][]delivery.TypeListing)
	for _, n := range claimed {
		pairsByUser[n.UserID] = append(pairsByUser[n.UserID], delivery.TypeListing{
			Type:      string(n.Type),
			ListingID: n.ListingID,
		})
	}
	out := make(map[int64]map[string]bool, len(pairsByUser))
	for userID, pairs := range pairsByUser {
		m, err := d.Dedup.BatchCheckSent(ctx, userID, pairs, dedup.CrossRunWindow)
		if err != nil {
			return nil, err
		}
		out[userID] = m
	}
	return out, nil
}

func (d *DeferredDrain) deliver(ctx context.Context, n *deferredq.Notification, st *DeferredStats) error {
	devices, err := d.Devices.ListActiveByUser(ctx, n.UserID)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		st.Skipped++
		d.markStatus(ctx, n.ID, deferredq.StatusSkipped)
		d.publishOutcome(ctx, n, delivery.StatusSkipped, "no_devices")
		return nil
	}

	now := d.now()
	var delivered, queued int
	var touched []int64
	lastReason := ""

	for _, dev := range devices {
		if err := d.Limiter.Acquire(ctx); err != nil {
			return err
		}
		res, _ := d.Push.Push(ctx, dev.Token, dev.Sandbox, n.Payload)

		switch res.Outcome {
		case push.OutcomeDelivered:
			delivered++
			touched = append(touched, dev.ID)
		case push.OutcomePermanent:
			if err := d.Devices.Deactivate(ctx, dev.ID); err != nil {
				d.Log.Warn("deactivate device", zap.Int64("device_id", dev.ID), zap.Error(err))
			}
			lastReason = res.Reason
		case push.OutcomeRetriable:
			qerr := d.Retry.Enqueue(ctx, &retryq.Entry{
				UserID:      n.UserID,
				DeviceID:    dev.ID,
				Token:       dev.Token,
				Sandbox:     dev.Sandbox,
				Payload:     n.Payload,
				MaxRetries:  d.maxRetries(),
				NextRetryAt: now.Add(d.retryBase()),
				Status:      retryq.StatusPending,
			})
			if qerr != nil {
				d.Log.Warn("enqueue retry", zap.Int64("device_id", dev.ID), zap.Error(qerr))
				lastReason = res.Reason
			} else {
				queued++
			}
		case push.OutcomeRejected:
			lastReason = res.Reason
			d.Log.Error("deferred push rejected",
				zap.Int64("user_id", n.UserID),
				zap.Int("status", res.StatusCode),
				zap.String("reason", res.Reason),
			)
		}
	}

	if len(touched) > 0 {
		if err := d.Devices.TouchLastUsed(ctx, touched); err != nil {
			d.Log.Warn("touch last_used", zap.Error(err))
		}
	}

	status := delivery.StatusSent
	qStatus := deferredq.StatusSent
	reason := ""
	if delivered == 0 && queued == 0 {
		status = delivery.StatusFailed
		qStatus = deferredq.StatusFailed
		reason = lastReason
		st.Failed++
	} else {
		st.Sent++
	}

	// The queue key has no time component; the delivery-log signature is
	// computed at send time so the hour bucket reflects the actual release.
	entry := &delivery.Entry{
		UserID:    n.UserID,
		Type:      n.Type,
		ListingID: n.ListingID,
		Title:     n.Title,
		Channel:   "push",
		Status:    status,
		Reason:    reason,
	}
	// Status flip and log row commit together, or a crash between them
	// would strand the notification in processing with a sent row.
	finalize := func(ctx context.Context) error {
		if err := d.Deferred.MarkStatus(ctx, n.ID, qStatus); err != nil {
			return err
		}
		return d.Dedup.RecordSent(ctx, entry)
	}
	if d.Tx != nil {
		err = d.Tx.WithTx(ctx, finalize)
	} else {
		err = finalize(ctx)
	}
	if err != nil {
		d.Log.Warn("finalize deferred", zap.Int64("user_id", n.UserID), zap.Error(err))
	}
	d.publishOutcome(ctx, n, status, reason)
	return nil
}

func (d *DeferredDrain) markStatus(ctx context.Context, id int64, s deferredq.Status) {
	if err := d.Deferred.MarkStatus(ctx, id, s); err != nil {
		d.Log.Warn("mark deferred status", zap.Int64("id", id), zap.String("status", string(s)), zap.Error(err))
	}
}

func (d *DeferredDrain) publishOutcome(ctx context.Context, n *deferredq.Notification, status delivery.Status, reason string) {
	if d.Outcomes == nil {
		return
	}
	out := &delivery.OutcomeEvent{
		EventID:   uuid.NewString(),
		UserID:    n.UserID,
		ListingID: n.ListingID,
		Type:      n.Type,
		Channel:   "push",
		Status:    status,
		Reason:    reason,
		At:        d.now().UTC(),
	}
	if err := d.Outcomes.PublishOutcome(ctx, out); err != nil {
		d.Log.Warn("publish outcome", zap.Int64("user_id", n.UserID), zap.Error(err))
	}
}
