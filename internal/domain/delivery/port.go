package delivery

import (
	"context"
	"strconv"
	"time"
)

type Repo interface {
	// Insert is idempotent on the dedup key: a conflicting insert reports
	// inserted=false and no error, because the row already means "sent".
	Insert(ctx context.Context, e *Entry) (inserted bool, err error)
	// SentSince reports whether a sent row exists for (user, type, listing)
	// newer than the cutoff.
	SentSince(ctx context.Context, userID int64, typ string, listingID int64, since time.Time) (bool, error)
	// ListSentSince is the batch form; returned keys are TypeListing.Key().
	ListSentSince(ctx context.Context, userID int64, pairs []TypeListing, since time.Time) (map[string]bool, error)
}

type TypeListing struct {
	Type      string
	ListingID int64
}

func (p TypeListing) Key() string {
	return p.Type + ":" + strconv.FormatInt(p.ListingID, 10)
}

// BadgeRepo is the per-user unread counter. Increment is an atomic upsert
// and returns the new count for the push payload.
type BadgeRepo interface {
	Increment(ctx context.Context, userID int64) (int, error)
	Reset(ctx context.Context, userID int64) error
	Get(ctx context.Context, userID int64) (int, error)
}
