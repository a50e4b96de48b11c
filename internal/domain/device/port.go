package device

import (
	"context"
	"time"
)

type Repo interface {
	ListActiveByUser(ctx context.Context, userID int64) ([]*Endpoint, error)
	// Register upserts on (user_id, token) and reactivates nothing: a row
	// that was deactivated stays deactivated unless the token re-registers.
	Register(ctx context.Context, e *Endpoint) error
	Deactivate(ctx context.Context, id int64) error
	TouchLastUsed(ctx context.Context, ids []int64) error
	PurgeInactive(ctx context.Context, unusedSince time.Time) (int64, error)
}
