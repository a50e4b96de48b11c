package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlistings/alertd/internal/domain/delivery"
	"github.com/openlistings/alertd/internal/domain/listing"
)

type logStub struct {
	entries []*delivery.Entry
	sent    map[string]time.Time // "user|type|listing" -> sent at
}

func newLogStub() *logStub {
	return &logStub{sent: map[string]time.Time{}}
}

func key(userID int64, typ string, listingID int64) string {
	return delivery.DedupKey(userID, listing.ChangeKind(typ), listingID, "", time.Time{})
}

func (s *logStub) Insert(_ context.Context, e *delivery.Entry) (bool, error) {
	for _, prev := range s.entries {
		if prev.DedupKey == e.DedupKey && prev.Status != delivery.StatusSkipped {
			return false, nil
		}
	}
	s.entries = append(s.entries, e)
	return true, nil
}

func (s *logStub) SentSince(_ context.Context, userID int64, typ string, listingID int64, since time.Time) (bool, error) {
	at, ok := s.sent[key(userID, typ, listingID)]
	return ok && at.After(since), nil
}

func (s *logStub) ListSentSince(ctx context.Context, userID int64, pairs []delivery.TypeListing, since time.Time) (map[string]bool, error) {
	out := map[string]bool{}
	for _, p := range pairs {
		ok, _ := s.SentSince(ctx, userID, p.Type, p.ListingID, since)
		if ok {
			out[p.Key()] = true
		}
	}
	return out, nil
}

func TestWasSent_Window(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	log := newLogStub()
	log.sent[key(7, "new_listing", 101)] = now.Add(-2 * time.Hour)

	tr := New(log)
	tr.Clock = func() time.Time { return now }

	sent, err := tr.WasSent(context.Background(), 7, 101, listing.KindNewListing, CrossRunWindow)
	require.NoError(t, err)
	assert.True(t, sent)

	// Same signature but outside the window.
	log.sent[key(7, "new_listing", 101)] = now.Add(-25 * time.Hour)
	sent, err = tr.WasSent(context.Background(), 7, 101, listing.KindNewListing, CrossRunWindow)
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestWasSent_ZeroWindowDefaults(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	log := newLogStub()
	log.sent[key(7, "price_change", 101)] = now.Add(-23 * time.Hour)

	tr := New(log)
	tr.Clock = func() time.Time { return now }

	sent, err := tr.WasSent(context.Background(), 7, 101, listing.KindPriceChange, 0)
	require.NoError(t, err)
	assert.True(t, sent)
}

func TestBatchCheckSent(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	log := newLogStub()
	log.sent[key(7, "new_listing", 101)] = now.Add(-time.Hour)

	tr := New(log)
	tr.Clock = func() time.Time { return now }

	pairs := []delivery.TypeListing{
		{Type: "new_listing", ListingID: 101},
		{Type: "new_listing", ListingID: 202},
	}
	got, err := tr.BatchCheckSent(context.Background(), 7, pairs, CrossRunWindow)
	require.NoError(t, err)
	assert.True(t, got[pairs[0].Key()])
	assert.False(t, got[pairs[1].Key()])

	got, err = tr.BatchCheckSent(context.Background(), 7, nil, CrossRunWindow)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecordSent_FillsDedupKey(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)
	log := newLogStub()

	tr := New(log)
	tr.Clock = func() time.Time { return now }

	e := &delivery.Entry{
		UserID:    7,
		Type:      listing.KindNewListing,
		ListingID: 101,
		Channel:   "push",
		Status:    delivery.StatusSent,
	}
	require.NoError(t, tr.RecordSent(context.Background(), e))
	assert.Equal(t, delivery.DedupKey(7, listing.KindNewListing, 101, "", now), e.DedupKey)

	// Same signature again inside the hour bucket: idempotent success.
	dup := &delivery.Entry{UserID: 7, Type: listing.KindNewListing, ListingID: 101, Channel: "push", Status: delivery.StatusSent}
	require.NoError(t, tr.RecordSent(context.Background(), dup))
	assert.Len(t, log.entries, 1)
}

func TestDedupKey_Shape(t *testing.T) {
	at := time.Date(2026, 3, 10, 14, 45, 0, 0, time.UTC)

	k := delivery.DedupKey(7, listing.KindPriceChange, 101, "", at)
	assert.Equal(t, "u7|price_change|l101|2026-03-10T14", k)

	// No listing id falls back to the title.
	byTitle := delivery.DedupKey(7, listing.KindOpenHouse, 0, "12 Main St", at)
	assert.Equal(t, "u7|open_house|t12 Main St|2026-03-10T14", byTitle)

	// Different hour bucket, different key.
	later := delivery.DedupKey(7, listing.KindPriceChange, 101, "", at.Add(time.Hour))
	assert.NotEqual(t, k, later)
}
