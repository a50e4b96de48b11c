package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/openlistings/alertd/internal/domain/preference"
)

var _ preference.Repo = (*PreferenceRepoImpl)(nil)

type PreferenceRepoImpl struct{ db *DB }

func NewPreferenceRepo(db *DB) *PreferenceRepoImpl { return &PreferenceRepoImpl{db: db} }

const qPrefGet = `
SELECT user_id,
       push_new_listing, push_price_change, push_status_change, push_open_house, push_saved_search,
       email_new_listing, email_price_change, email_status_change, email_open_house, email_saved_search,
       quiet_enabled, quiet_start, quiet_end, timezone
FROM notification_preferences
WHERE user_id = $1;
`

func (r *PreferenceRepoImpl) Get(ctx context.Context, userID int64) (*preference.Preferences, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var p preference.Preferences
	if err := r.db.Pool.QueryRow(ctx, qPrefGet, userID).Scan(
		&p.UserID,
		&p.PushNewListing,
		&p.PushPriceChange,
		&p.PushStatusChange,
		&p.PushOpenHouse,
		&p.PushSavedSearch,
		&p.EmailNewListing,
		&p.EmailPriceChange,
		&p.EmailStatusChange,
		&p.EmailOpenHouse,
		&p.EmailSavedSearch,
		&p.QuietEnabled,
		&p.QuietStart,
		&p.QuietEnd,
		&p.Timezone,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan preferences: %w", err)
	}
	return &p, nil
}
