package deferred

import (
	"fmt"
	"time"

	"github.com/openlistings/alertd/internal/domain/listing"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// Notification is a push held back by quiet hours. Payload is the serialized
// gateway body built at enqueue time; DedupKey keeps one instance per
// (user, type, listing) per rolling 24h.
type Notification struct {
	ID           int64              `json:"id"`
	UserID       int64              `json:"user_id"`
	Type         listing.ChangeKind `json:"type"`
	ListingID    int64              `json:"listing_id,omitempty"`
	Title        string             `json:"title,omitempty"`
	Payload      []byte             `json:"payload"`
	DeliverAfter time.Time          `json:"deliver_after"`
	Status       Status             `json:"status"`
	DedupKey     string             `json:"dedup_key"`
	CreatedAt    time.Time          `json:"created_at"`
}

// DedupKey identifies one queued instance of a change for a user. Unlike the
// delivery log's hour-bucketed signature there is no time component: the
// repository's rolling 24h guard supplies the window, so a redelivered event
// crossing an hour boundary still collapses onto the queued row.
func DedupKey(userID int64, kind listing.ChangeKind, listingID int64, title string) string {
	ref := fmt.Sprintf("l%d", listingID)
	if listingID == 0 {
		ref = "t" + title
	}
	return fmt.Sprintf("u%d|%s|%s", userID, kind, ref)
}
