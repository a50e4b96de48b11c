package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/openlistings/alertd/internal/domain/search"
)

var _ search.Repo = (*SearchRepoImpl)(nil)

type SearchRepoImpl struct{ db *DB }

func NewSearchRepo(db *DB) *SearchRepoImpl { return &SearchRepoImpl{db: db} }

const (
	qSearchCols = `
id, user_id, name, min_price, max_price, min_beds, min_baths, min_sqft, max_sqft,
property_types, cities, zips, center_lat, center_lon, radius_km,
keywords, min_school_rating, frequency, active, created_at, updated_at`

	qSearchListActive = `
SELECT ` + qSearchCols + `
FROM saved_searches
WHERE active = TRUE
ORDER BY id;
`

	qSearchByID = `
SELECT ` + qSearchCols + `
FROM saved_searches
WHERE id = $1;
`
)

func scanSearch(row pgx.Row, s *search.SavedSearch) error {
	if err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.Name,
		&s.MinPrice,
		&s.MaxPrice,
		&s.MinBeds,
		&s.MinBaths,
		&s.MinSqft,
		&s.MaxSqft,
		&s.PropertyTypes,
		&s.Cities,
		&s.Zips,
		&s.CenterLat,
		&s.CenterLon,
		&s.RadiusKm,
		&s.Keywords,
		&s.MinSchoolRating,
		&s.Frequency,
		&s.Active,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan saved search: %w", err)
	}
	return nil
}

func (r *SearchRepoImpl) ListActive(ctx context.Context) ([]*search.SavedSearch, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qSearchListActive)
	if err != nil {
		return nil, fmt.Errorf("query saved searches: %w", err)
	}
	defer rows.Close()

	var out []*search.SavedSearch
	for rows.Next() {
		var s search.SavedSearch
		if err := scanSearch(rows, &s); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *SearchRepoImpl) GetByID(ctx context.Context, id int64) (*search.SavedSearch, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var s search.SavedSearch
	if err := scanSearch(r.db.Pool.QueryRow(ctx, qSearchByID, id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}
