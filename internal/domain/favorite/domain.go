package favorite

import "time"

// Favorite marks a user watching a specific listing; price and status
// changes notify watchers even without a matching saved search.
type Favorite struct {
	UserID    int64     `json:"user_id"`
	ListingID int64     `json:"listing_id"`
	CreatedAt time.Time `json:"created_at"`
}
