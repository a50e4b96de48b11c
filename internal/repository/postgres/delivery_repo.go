package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openlistings/alertd/internal/domain/delivery"
)

var _ delivery.Repo = (*DeliveryRepoImpl)(nil)

// DeliveryRepoImpl owns the append-only delivery log. The partial unique
// index on dedup_key for sent/failed rows is the engine's at-most-once
// invariant; inserts never race past it.
type DeliveryRepoImpl struct{ db *DB }

func NewDeliveryRepo(db *DB) *DeliveryRepoImpl { return &DeliveryRepoImpl{db: db} }

const (
	qDeliveryInsert = `
INSERT INTO delivery_log (user_id, type, listing_id, title, channel, status, reason, dedup_key)
VALUES ($1, $2, NULLIF($3, 0), $4, $5, $6, $7, $8)
ON CONFLICT (dedup_key) WHERE status IN ('sent', 'failed') DO NOTHING
RETURNING id, created_at;
`

	qDeliverySentSince = `
SELECT EXISTS (
  SELECT 1 FROM delivery_log
  WHERE user_id = $1 AND type = $2 AND listing_id = $3
    AND status = 'sent' AND created_at > $4
);
`

	qDeliverySentSinceBatch = `
SELECT DISTINCT type, listing_id
FROM delivery_log
WHERE user_id = $1
  AND status = 'sent'
  AND created_at > $2
  AND (type, listing_id) IN (SELECT unnest($3::text[]), unnest($4::bigint[]));
`
)

func (r *DeliveryRepoImpl) Insert(ctx context.Context, e *delivery.Entry) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	err := eq.QueryRow(ctx, qDeliveryInsert,
		e.UserID, string(e.Type), e.ListingID, e.Title, e.Channel, string(e.Status), e.Reason, e.DedupKey,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		// DO NOTHING yields no row; the signature already exists and the
		// notification is already accounted for.
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert delivery log: %w", err)
	}
	return true, nil
}

func (r *DeliveryRepoImpl) SentSince(ctx context.Context, userID int64, typ string, listingID int64, since time.Time) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var exists bool
	if err := r.db.Pool.QueryRow(ctx, qDeliverySentSince, userID, typ, listingID, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("query delivery log: %w", err)
	}
	return exists, nil
}

func (r *DeliveryRepoImpl) ListSentSince(ctx context.Context, userID int64, pairs []delivery.TypeListing, since time.Time) (map[string]bool, error) {
	out := make(map[string]bool, len(pairs))
	if len(pairs) == 0 {
		return out, nil
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	types := make([]string, len(pairs))
	ids := make([]int64, len(pairs))
	for i, p := range pairs {
		types[i] = p.Type
		ids[i] = p.ListingID
	}

	rows, err := r.db.Pool.Query(ctx, qDeliverySentSinceBatch, userID, since, types, ids)
	if err != nil {
		return nil, fmt.Errorf("query delivery log batch: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var typ string
		var id int64
		if err := rows.Scan(&typ, &id); err != nil {
			return nil, fmt.Errorf("scan delivery pair: %w", err)
		}
		out[delivery.TypeListing{Type: typ, ListingID: id}.Key()] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
