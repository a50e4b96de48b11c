package kafka

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlistings/alertd/internal/domain/listing"
)

func TestJSONHandler_DecodesChangeEvent(t *testing.T) {
	var got *listing.ChangeEvent
	h := JSONHandler(func(_ context.Context, key []byte, ev *listing.ChangeEvent) error {
		got = ev
		return nil
	})

	raw := []byte(`{"listing_id":101,"kind":"price_change","old_price":650000,"new_price":600000,"listing":{"listing_id":101,"title":"12 Main St"}}`)
	require.NoError(t, h(context.Background(), []byte("101"), raw))

	require.NotNil(t, got)
	assert.Equal(t, int64(101), got.ListingID)
	assert.Equal(t, listing.KindPriceChange, got.Kind)
	assert.Equal(t, int64(650_000), got.OldPrice)
	assert.Equal(t, "12 Main St", got.Listing.Title)
}

func TestJSONHandler_MalformedValue(t *testing.T) {
	called := false
	h := JSONHandler(func(_ context.Context, _ []byte, _ *listing.ChangeEvent) error {
		called = true
		return nil
	})

	err := h(context.Background(), nil, []byte(`{not json`))
	assert.Error(t, err)
	assert.False(t, called)
}
