package search

import "time"

// SavedSearch is a user's persisted filter criteria. The engine only reads
// these; the management UI owns writes.
type SavedSearch struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`

	MinPrice int64 `json:"min_price"`
	MaxPrice int64 `json:"max_price"`
	MinBeds  int   `json:"min_beds"`
	MinBaths int   `json:"min_baths"`
	MinSqft  int   `json:"min_sqft"`
	MaxSqft  int   `json:"max_sqft"`

	PropertyTypes []string `json:"property_types"`
	Cities        []string `json:"cities"`
	Zips          []string `json:"zips"`
	CenterLat     float64  `json:"center_lat"`
	CenterLon     float64  `json:"center_lon"`
	RadiusKm      float64  `json:"radius_km"`

	Keywords        []string `json:"keywords"`
	MinSchoolRating float64  `json:"min_school_rating"`

	Frequency string `json:"frequency"`
	Active    bool   `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
