package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlistings/alertd/internal/domain/listing"
	"github.com/openlistings/alertd/internal/domain/search"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
}

func testScorer() *Scorer {
	s := NewScorer(DefaultWeights())
	s.Now = fixedNow
	return s
}

func bostonCondo() *listing.Snapshot {
	return &listing.Snapshot{
		ListingID:    101,
		Title:        "Sunny 2BR in Back Bay",
		Price:        600_000,
		City:         "Boston",
		Zip:          "02116",
		Beds:         2,
		Baths:        1,
		Sqft:         900,
		PropertyType: "condo",
		Status:       "active",
		ListedAt:     fixedNow().AddDate(0, -1, 0),
	}
}

func bostonSearch() *search.SavedSearch {
	return &search.SavedSearch{
		ID:            1,
		UserID:        7,
		MinPrice:      500_000,
		MaxPrice:      800_000,
		MinBeds:       2,
		MinBaths:      1,
		PropertyTypes: []string{"condo"},
		Cities:        []string{"Boston"},
		Active:        true,
	}
}

func TestScore_FullMatch(t *testing.T) {
	r := testScorer().Score(bostonCondo(), bostonSearch())

	require.True(t, r.Matches)
	assert.InDelta(t, 1.0, r.Score, 1e-9)
	assert.Contains(t, r.Reasons, "Within your price range")
	assert.Contains(t, r.Reasons, "Located in Boston")
	assert.Contains(t, r.Reasons, "Property type: condo")
}

func TestScore_PriceAboveMax_HardFail(t *testing.T) {
	l := bostonCondo()
	l.Price = 900_000

	r := testScorer().Score(l, bostonSearch())
	assert.False(t, r.Matches)
	assert.Zero(t, r.Score)
	assert.Empty(t, r.Reasons)
}

func TestScore_WrongCity_HardFail(t *testing.T) {
	l := bostonCondo()
	l.City = "Cambridge"
	l.Zip = "02139"

	r := testScorer().Score(l, bostonSearch())
	assert.False(t, r.Matches)
	assert.Zero(t, r.Score)
}

func TestScore_CityCaseInsensitive(t *testing.T) {
	l := bostonCondo()
	l.City = "BOSTON"

	r := testScorer().Score(l, bostonSearch())
	assert.True(t, r.Matches)
}

func TestScore_WrongPropertyType_HardFail(t *testing.T) {
	l := bostonCondo()
	l.PropertyType = "single_family"

	r := testScorer().Score(l, bostonSearch())
	assert.False(t, r.Matches)
	assert.Zero(t, r.Score)
}

func TestScore_OneBedShort_HalfCredit(t *testing.T) {
	l := bostonCondo()
	l.Beds = 1

	r := testScorer().Score(l, bostonSearch())
	require.True(t, r.Matches)
	// Full score minus half of the beds weight.
	assert.InDelta(t, 1.0-DefaultWeights().Beds/2, r.Score, 1e-9)
}

func TestScore_TwoBedsShort_NoCredit(t *testing.T) {
	l := bostonCondo()
	l.Beds = 0

	r := testScorer().Score(l, bostonSearch())
	assert.InDelta(t, 1.0-DefaultWeights().Beds, r.Score, 1e-9)
}

func TestScore_SqftWithinTolerance(t *testing.T) {
	q := bostonSearch()
	q.MinSqft = 1000

	l := bostonCondo()
	l.Sqft = 950 // inside the 10% band below min

	r := testScorer().Score(l, q)
	assert.InDelta(t, 1.0-DefaultWeights().Size/2, r.Score, 1e-9)
}

func TestScore_Bonuses_Reasons(t *testing.T) {
	l := bostonCondo()
	l.ListedAt = fixedNow().Add(-48 * time.Hour)
	l.OriginalPrice = 700_000
	l.Features = []string{"pool", "renovated kitchen"}
	l.AreaAvgPrice = 800_000 // ratio 0.75, deep under market

	r := testScorer().Score(l, bostonSearch())
	require.True(t, r.Matches)
	assert.InDelta(t, 1.0, r.Score, 1e-9) // clamped
	assert.Contains(t, r.Reasons, "New this week")
	assert.Contains(t, r.Reasons, "Price reduced")
	assert.Contains(t, r.Reasons, "Premium features")
	assert.Contains(t, r.Reasons, "Well under market value")
}

func TestScore_UnderMarket_NotDeep(t *testing.T) {
	l := bostonCondo()
	l.AreaAvgPrice = 680_000 // ratio ~0.88

	r := testScorer().Score(l, bostonSearch())
	assert.Contains(t, r.Reasons, "Under market value")
	assert.NotContains(t, r.Reasons, "Well under market value")
}

func TestScore_KeywordFraction(t *testing.T) {
	q := bostonSearch()
	q.Keywords = []string{"balcony", "parking"}

	l := bostonCondo()
	l.Features = []string{"private balcony"}

	r := testScorer().Score(l, q)
	// One of two keywords hits: half the features weight is lost.
	assert.InDelta(t, 1.0-DefaultWeights().Features/2, r.Score, 1e-9)
}

func TestScore_ZipMatchSatisfiesGeography(t *testing.T) {
	q := bostonSearch()
	q.Cities = nil
	q.Zips = []string{"02116"}

	r := testScorer().Score(bostonCondo(), q)
	assert.True(t, r.Matches)
}

func TestRadiusChecker(t *testing.T) {
	q := &search.SavedSearch{CenterLat: 42.3601, CenterLon: -71.0589, RadiusKm: 10}

	assert.True(t, RadiusChecker(42.3467, -71.0972, q))  // ~3.5 km out
	assert.False(t, RadiusChecker(42.3736, -71.8023, q)) // Worcester, ~60 km
	assert.False(t, RadiusChecker(42.3601, -71.0589, &search.SavedSearch{}))
}

func TestScore_RadiusGeography(t *testing.T) {
	q := bostonSearch()
	q.Cities = nil
	q.CenterLat, q.CenterLon, q.RadiusKm = 42.3601, -71.0589, 10

	l := bostonCondo()
	l.City = "Somerville"
	l.Lat, l.Lon = 42.3876, -71.0995

	r := testScorer().Score(l, q)
	assert.True(t, r.Matches)
}
