package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/openlistings/alertd/internal/domain/delivery"
)

var _ delivery.BadgeRepo = (*BadgeRepoImpl)(nil)

type BadgeRepoImpl struct{ db *DB }

func NewBadgeRepo(db *DB) *BadgeRepoImpl { return &BadgeRepoImpl{db: db} }

const (
	// Upsert-increment: concurrent writers never lose an update.
	qBadgeIncrement = `
INSERT INTO badge_counters (user_id, count)
VALUES ($1, 1)
ON CONFLICT (user_id) DO UPDATE SET count = badge_counters.count + 1
RETURNING count;
`

	qBadgeReset = `
UPDATE badge_counters SET count = 0 WHERE user_id = $1;
`

	qBadgeGet = `
SELECT count FROM badge_counters WHERE user_id = $1;
`
)

func (r *BadgeRepoImpl) Increment(ctx context.Context, userID int64) (int, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var count int
	if err := r.db.Pool.QueryRow(ctx, qBadgeIncrement, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("increment badge: %w", err)
	}
	return count, nil
}

func (r *BadgeRepoImpl) Reset(ctx context.Context, userID int64) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, qBadgeReset, userID); err != nil {
		return fmt.Errorf("reset badge: %w", err)
	}
	return nil
}

func (r *BadgeRepoImpl) Get(ctx context.Context, userID int64) (int, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var count int
	if err := r.db.Pool.QueryRow(ctx, qBadgeGet, userID).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get badge: %w", err)
	}
	return count, nil
}
