package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/openlistings/alertd/internal/domain/listing"
	"github.com/openlistings/alertd/internal/domain/retryq"
)

var _ retryq.Repo = (*RetryRepoImpl)(nil)

type RetryRepoImpl struct{ db *DB }

func NewRetryRepo(db *DB) *RetryRepoImpl { return &RetryRepoImpl{db: db} }

const (
	qRetryEnqueue = `
INSERT INTO retry_queue (user_id, device_id, token, sandbox, payload, retry_count, max_retries, last_error, next_retry_at, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending')
RETURNING id, created_at, updated_at;
`

	// The processing arm takes over claims whose drain died mid-batch: a
	// healthy drain finishes or reschedules well inside the reclaim TTL.
	qRetryClaimDue = `
WITH cand AS (
  SELECT id FROM retry_queue
  WHERE (status = 'pending' AND next_retry_at <= $1)
     OR (status = 'processing' AND updated_at < $1 - $3::interval)
  ORDER BY next_retry_at, created_at
  FOR UPDATE SKIP LOCKED
  LIMIT $2
)
UPDATE retry_queue r
SET status = 'processing', updated_at = NOW()
FROM cand
WHERE r.id = cand.id
RETURNING r.id, r.user_id, r.device_id, r.token, r.sandbox, r.payload,
          r.retry_count, r.max_retries, r.last_error, r.next_retry_at, r.created_at, r.updated_at;
`

	qRetryMarkCompleted = `
UPDATE retry_queue SET status = 'completed', updated_at = NOW() WHERE id = $1;
`

	qRetryMarkFailed = `
UPDATE retry_queue SET status = 'failed', last_error = $2, updated_at = NOW() WHERE id = $1;
`

	qRetryReschedule = `
UPDATE retry_queue
SET status = 'pending', retry_count = $2, last_error = $3, next_retry_at = $4, updated_at = NOW()
WHERE id = $1;
`

	// Entries stuck pending or processing for a day are written off.
	qRetryExpire = `
UPDATE retry_queue
SET status = 'expired', updated_at = NOW()
WHERE status IN ('pending', 'processing') AND created_at < $1;
`
)

// reclaimTTL bounds how long a claimed row may sit in processing before
// another drain takes it over.
const reclaimTTL = 5 * time.Minute

func reclaimInterval() string {
	return fmt.Sprintf("%f seconds", reclaimTTL.Seconds())
}

func (r *RetryRepoImpl) Enqueue(ctx context.Context, e *retryq.Entry) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if e.MaxRetries <= 0 {
		e.MaxRetries = retryq.DefaultMaxRetries
	}
	if err := r.db.Pool.QueryRow(ctx, qRetryEnqueue,
		e.UserID, e.DeviceID, e.Token, e.Sandbox, e.Payload,
		e.RetryCount, e.MaxRetries, e.LastError, e.NextRetryAt,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return fmt.Errorf("enqueue retry: %w", err)
	}
	e.Status = retryq.StatusPending
	return nil
}

func (r *RetryRepoImpl) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*retryq.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qRetryClaimDue, now, limit, reclaimInterval())
	if err != nil {
		return nil, fmt.Errorf("claim retries: %w", err)
	}
	defer rows.Close()

	var out []*retryq.Entry
	for rows.Next() {
		var e retryq.Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.DeviceID, &e.Token, &e.Sandbox, &e.Payload,
			&e.RetryCount, &e.MaxRetries, &e.LastError, &e.NextRetryAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan retry: %w", err)
		}
		e.Status = retryq.StatusProcessing
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *RetryRepoImpl) MarkCompleted(ctx context.Context, id int64) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	if _, err := r.db.Pool.Exec(ctx, qRetryMarkCompleted, id); err != nil {
		return fmt.Errorf("complete retry: %w", err)
	}
	return nil
}

func (r *RetryRepoImpl) MarkFailed(ctx context.Context, id int64, lastErr string) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	if _, err := r.db.Pool.Exec(ctx, qRetryMarkFailed, id, lastErr); err != nil {
		return fmt.Errorf("fail retry: %w", err)
	}
	return nil
}

func (r *RetryRepoImpl) Reschedule(ctx context.Context, id int64, retryCount int, lastErr string, nextAt time.Time) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	if _, err := r.db.Pool.Exec(ctx, qRetryReschedule, id, retryCount, lastErr, nextAt); err != nil {
		return fmt.Errorf("reschedule retry: %w", err)
	}
	return nil
}

func (r *RetryRepoImpl) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()
	cmd, err := r.db.Pool.Exec(ctx, qRetryExpire, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire retries: %w", err)
	}
	return cmd.RowsAffected(), nil
}

// kindFromColumn narrows a raw type column into the domain kind.
func kindFromColumn(s string) listing.ChangeKind { return listing.ChangeKind(s) }
