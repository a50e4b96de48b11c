package gate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlistings/alertd/internal/domain/listing"
	"github.com/openlistings/alertd/internal/domain/preference"
	"github.com/openlistings/alertd/internal/repository/postgres"
)

type prefsStub struct {
	p   *preference.Preferences
	err error
}

func (s prefsStub) Get(context.Context, int64) (*preference.Preferences, error) {
	return s.p, s.err
}

func nightOwl() *preference.Preferences {
	p := preference.Default(42)
	p.QuietEnabled = true
	p.QuietStart = "22:00"
	p.QuietEnd = "08:00"
	p.Timezone = "America/New_York"
	return p
}

func atNY(hour, min int) time.Time {
	loc, _ := time.LoadLocation("America/New_York")
	return time.Date(2026, 3, 9, hour, min, 0, 0, loc)
}

func TestInQuietHours_OvernightWrap(t *testing.T) {
	p := nightOwl()

	assert.True(t, InQuietHours(p, atNY(23, 30)))
	assert.True(t, InQuietHours(p, atNY(3, 0)))
	assert.True(t, InQuietHours(p, atNY(22, 0))) // inclusive start
	assert.False(t, InQuietHours(p, atNY(8, 0))) // exclusive end
	assert.False(t, InQuietHours(p, atNY(12, 0)))
	assert.False(t, InQuietHours(p, atNY(21, 59)))
}

func TestInQuietHours_SameDayWindow(t *testing.T) {
	p := nightOwl()
	p.QuietStart = "13:00"
	p.QuietEnd = "15:00"

	assert.True(t, InQuietHours(p, atNY(14, 0)))
	assert.False(t, InQuietHours(p, atNY(16, 0)))
}

func TestInQuietHours_Disabled(t *testing.T) {
	p := nightOwl()
	p.QuietEnabled = false
	assert.False(t, InQuietHours(p, atNY(23, 0)))
}

func TestInQuietHours_BadWindowIgnored(t *testing.T) {
	p := nightOwl()
	p.QuietStart = "junk"
	assert.False(t, InQuietHours(p, atNY(23, 0)))

	p = nightOwl()
	p.QuietStart, p.QuietEnd = "10:00", "10:00"
	assert.False(t, InQuietHours(p, atNY(10, 0)))
}

func TestInQuietHours_HonorsUserTimezone(t *testing.T) {
	p := nightOwl()
	// 03:00 UTC is 22:00 or 23:00 in New York depending on DST; either way
	// inside the overnight window.
	assert.True(t, InQuietHours(p, time.Date(2026, 3, 9, 3, 30, 0, 0, time.UTC)))
}

func TestNextQuietEnd_AfterMidnight(t *testing.T) {
	p := nightOwl()
	got := NextQuietEnd(p, atNY(3, 0))
	assert.True(t, got.Equal(atNY(8, 0)))
}

func TestNextQuietEnd_BeforeMidnight(t *testing.T) {
	p := nightOwl()
	got := NextQuietEnd(p, atNY(23, 0))
	want := atNY(8, 0).AddDate(0, 0, 1)
	assert.True(t, got.Equal(want))
}

func TestShouldSendNow_Decisions(t *testing.T) {
	ctx := context.Background()

	g := New(prefsStub{p: nightOwl()})
	g.Clock = func() time.Time { return atNY(23, 0) }

	d, _, err := g.ShouldSendNow(ctx, 42, listing.KindNewListing, preference.ChannelPush)
	require.NoError(t, err)
	assert.Equal(t, QuietHours, d)

	// Email ignores quiet hours.
	d, _, err = g.ShouldSendNow(ctx, 42, listing.KindNewListing, preference.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, Allow, d)

	g.Clock = func() time.Time { return atNY(12, 0) }
	d, _, err = g.ShouldSendNow(ctx, 42, listing.KindNewListing, preference.ChannelPush)
	require.NoError(t, err)
	assert.Equal(t, Allow, d)
}

func TestShouldSendNow_DisabledKind(t *testing.T) {
	p := nightOwl()
	p.QuietEnabled = false
	p.PushPriceChange = false

	g := New(prefsStub{p: p})
	d, _, err := g.ShouldSendNow(context.Background(), 42, listing.KindPriceChange, preference.ChannelPush)
	require.NoError(t, err)
	assert.Equal(t, Disabled, d)
}

func TestShouldSendNow_TourRidesOpenHouseToggle(t *testing.T) {
	p := nightOwl()
	p.QuietEnabled = false
	p.PushOpenHouse = false

	g := New(prefsStub{p: p})
	d, _, err := g.ShouldSendNow(context.Background(), 42, listing.KindTourRequested, preference.ChannelPush)
	require.NoError(t, err)
	assert.Equal(t, Disabled, d)
}

func TestLoad_FillsDefaultQuietWindow(t *testing.T) {
	p := nightOwl()
	p.QuietStart, p.QuietEnd = "", ""

	g := New(prefsStub{p: p})
	g.DefaultQuietStart, g.DefaultQuietEnd = "21:00", "07:00"

	got, err := g.Load(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, "21:00", got.QuietStart)
	assert.Equal(t, "07:00", got.QuietEnd)
}

func TestLoad_MissingRowDefaults(t *testing.T) {
	g := New(prefsStub{err: postgres.ErrNotFound})
	p, err := g.Load(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.UserID)
	assert.True(t, p.PushNewListing)
	assert.False(t, p.QuietEnabled)
}
