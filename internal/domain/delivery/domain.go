package delivery

import (
	"fmt"
	"time"

	"github.com/openlistings/alertd/internal/domain/listing"
)

type Status string

const (
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Entry is one append-only delivery-log row. The dedup key over sent and
// failed rows is the at-most-once invariant for the whole engine.
type Entry struct {
	ID        int64              `json:"id"`
	UserID    int64              `json:"user_id"`
	Type      listing.ChangeKind `json:"type"`
	ListingID int64              `json:"listing_id,omitempty"`
	Title     string             `json:"title,omitempty"`
	Channel   string             `json:"channel"`
	Status    Status             `json:"status"`
	Reason    string             `json:"reason,omitempty"`
	DedupKey  string             `json:"dedup_key"`
	CreatedAt time.Time          `json:"created_at"`
}

// DedupKey builds the composite signature (user, type, listing-or-title,
// hour bucket). Listings with no id fall back to the title so ad hoc
// notifications still dedup.
func DedupKey(userID int64, kind listing.ChangeKind, listingID int64, title string, at time.Time) string {
	ref := fmt.Sprintf("l%d", listingID)
	if listingID == 0 {
		ref = "t" + title
	}
	bucket := at.UTC().Truncate(time.Hour)
	return fmt.Sprintf("u%d|%s|%s|%s", userID, kind, ref, bucket.Format("2006-01-02T15"))
}

// OutcomeEvent is the JSON record published to the outcomes topic for
// downstream analytics. Not consumed by the engine itself.
type OutcomeEvent struct {
	EventID   string             `json:"event_id"`
	UserID    int64              `json:"user_id"`
	ListingID int64              `json:"listing_id,omitempty"`
	Type      listing.ChangeKind `json:"type"`
	Channel   string             `json:"channel"`
	Status    Status             `json:"status"`
	Reason    string             `json:"reason,omitempty"`
	At        time.Time          `json:"at"`
}
