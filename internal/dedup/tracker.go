package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/openlistings/alertd/internal/domain/delivery"
	"github.com/openlistings/alertd/internal/domain/listing"
)

const (
	// CrossRunWindow suppresses re-sends between overlapping scheduled runs.
	CrossRunWindow = 24 * time.Hour
	// SignatureWindow is the hour bucket baked into the dedup key.
	SignatureWindow = time.Hour
)

// Tracker enforces at-most-one notification per (user, change, bucket) on
// top of the delivery log's unique dedup signature.
type Tracker struct {
	Log   delivery.Repo
	Clock func() time.Time
}

func New(log delivery.Repo) *Tracker {
	return &Tracker{Log: log, Clock: time.Now}
}

func (t *Tracker) now() time.Time {
	if t.Clock != nil {
		return t.Clock()
	}
	return time.Now()
}

// WasSent reports whether an equivalent notification went out within the
// window.
func (t *Tracker) WasSent(ctx context.Context, userID int64, listingID int64, kind listing.ChangeKind, window time.Duration) (bool, error) {
	if window <= 0 {
		window = CrossRunWindow
	}
	sent, err := t.Log.SentSince(ctx, userID, string(kind), listingID, t.now().Add(-window))
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	return sent, nil
}

// BatchCheckSent collapses the per-pair lookups of a whole match batch into
// one query. Keys in the result follow delivery.TypeListing.Key().
func (t *Tracker) BatchCheckSent(ctx context.Context, userID int64, pairs []delivery.TypeListing, window time.Duration) (map[string]bool, error) {
	if len(pairs) == 0 {
		return map[string]bool{}, nil
	}
	if window <= 0 {
		window = CrossRunWindow
	}
	out, err := t.Log.ListSentSince(ctx, userID, pairs, t.now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("dedup batch check: %w", err)
	}
	return out, nil
}

// RecordSent writes the sent row. Idempotent: a duplicate signature is
// success, the row already represents "sent".
func (t *Tracker) RecordSent(ctx context.Context, e *delivery.Entry) error {
	if e.DedupKey == "" {
		e.DedupKey = delivery.DedupKey(e.UserID, e.Type, e.ListingID, e.Title, t.now())
	}
	if _, err := t.Log.Insert(ctx, e); err != nil {
		return fmt.Errorf("record sent: %w", err)
	}
	return nil
}
