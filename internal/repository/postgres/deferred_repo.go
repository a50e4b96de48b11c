package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openlistings/alertd/internal/domain/deferred"
)

var _ deferred.Repo = (*DeferredRepoImpl)(nil)

type DeferredRepoImpl struct{ db *DB }

func NewDeferredRepo(db *DB) *DeferredRepoImpl { return &DeferredRepoImpl{db: db} }

const (
	// One instance per (user, type, listing) per rolling 24h: the insert
	// loses silently against an existing pending-or-recent row.
	qDeferredEnqueue = `
INSERT INTO deferred_notifications (user_id, type, listing_id, title, payload, deliver_after, status, dedup_key)
SELECT $1, $2, NULLIF($3, 0), $4, $5, $6, 'pending', $7
WHERE NOT EXISTS (
  SELECT 1 FROM deferred_notifications
  WHERE dedup_key = $7 AND created_at > NOW() - INTERVAL '24 hours'
)
RETURNING id, created_at;
`

	// A processing row whose claim went quiet for longer than the reclaim
	// TTL belongs to a crashed drain and is picked up again.
	qDeferredClaimDue = `
WITH cand AS (
  SELECT id FROM deferred_notifications
  WHERE (status = 'pending' AND deliver_after <= $1)
     OR (status = 'processing' AND updated_at < $1 - $3::interval)
  ORDER BY deliver_after, created_at
  FOR UPDATE SKIP LOCKED
  LIMIT $2
)
UPDATE deferred_notifications d
SET status = 'processing', updated_at = NOW()
FROM cand
WHERE d.id = cand.id
RETURNING d.id, d.user_id, d.type, COALESCE(d.listing_id, 0), d.title, d.payload, d.deliver_after, d.dedup_key, d.created_at;
`

	qDeferredMark = `
UPDATE deferred_notifications
SET status = $2, updated_at = NOW()
WHERE id = $1;
`
)

func (r *DeferredRepoImpl) Enqueue(ctx context.Context, n *deferred.Notification) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	err := r.db.Pool.QueryRow(ctx, qDeferredEnqueue,
		n.UserID, string(n.Type), n.ListingID, n.Title, n.Payload, n.DeliverAfter, n.DedupKey,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("enqueue deferred: %w", err)
	}
	n.Status = deferred.StatusPending
	return true, nil
}

func (r *DeferredRepoImpl) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*deferred.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qDeferredClaimDue, now, limit, reclaimInterval())
	if err != nil {
		return nil, fmt.Errorf("claim deferred: %w", err)
	}
	defer rows.Close()

	var out []*deferred.Notification
	for rows.Next() {
		var n deferred.Notification
		var typ string
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.ListingID, &n.Title, &n.Payload, &n.DeliverAfter, &n.DedupKey, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan deferred: %w", err)
		}
		n.Type = kindFromColumn(typ)
		n.Status = deferred.StatusProcessing
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *DeferredRepoImpl) MarkStatus(ctx context.Context, id int64, status deferred.Status) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.execQueryer(ctx).Exec(ctx, qDeferredMark, id, string(status)); err != nil {
		return fmt.Errorf("mark deferred: %w", err)
	}
	return nil
}
