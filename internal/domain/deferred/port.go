package deferred

import (
	"context"
	"time"
)

type Repo interface {
	// Enqueue drops the insert silently when an equal dedup key was queued
	// within the last 24h.
	Enqueue(ctx context.Context, n *Notification) (queued bool, err error)
	// ClaimDue picks pending entries whose deliver_after has elapsed,
	// FIFO by deliver_after then creation time.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Notification, error)
	MarkStatus(ctx context.Context, id int64, status Status) error
}
