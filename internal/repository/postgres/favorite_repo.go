package postgres

import (
	"context"
	"fmt"

	"github.com/openlistings/alertd/internal/domain/favorite"
)

var _ favorite.Repo = (*FavoriteRepoImpl)(nil)

type FavoriteRepoImpl struct{ db *DB }

func NewFavoriteRepo(db *DB) *FavoriteRepoImpl { return &FavoriteRepoImpl{db: db} }

const qFavoriteUsersByListing = `
SELECT user_id FROM favorites WHERE listing_id = $1 ORDER BY user_id;
`

func (r *FavoriteRepoImpl) ListUserIDsByListing(ctx context.Context, listingID int64) ([]int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qFavoriteUsersByListing, listingID)
	if err != nil {
		return nil, fmt.Errorf("query favorites: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
