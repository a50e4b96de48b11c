package retryq

import (
	"context"
	"time"
)

type Repo interface {
	Enqueue(ctx context.Context, e *Entry) error
	// ClaimDue flips due pending entries to processing and returns them,
	// FIFO by next_retry_at then creation time. Claims are safe under
	// concurrent drains.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Entry, error)
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, lastErr string) error
	Reschedule(ctx context.Context, id int64, retryCount int, lastErr string, nextAt time.Time) error
	// ExpireStale marks entries stuck pending since before the cutoff.
	ExpireStale(ctx context.Context, cutoff time.Time) (int64, error)
}
