package match

import (
	"fmt"
	"strings"
	"time"

	"github.com/openlistings/alertd/internal/domain/listing"
	"github.com/openlistings/alertd/internal/domain/search"
)

// Threshold above which a scored pair counts as a match.
const Threshold = 0.3

// Weights are the scoring constants. The base weights sum to 1.0; bonuses
// stack on top before the final clamp. Under-market ratios are tuned
// business numbers and stay configurable.
type Weights struct {
	Price        float64 `mapstructure:"price"`
	Location     float64 `mapstructure:"location"`
	Size         float64 `mapstructure:"size"`
	Beds         float64 `mapstructure:"beds"`
	Baths        float64 `mapstructure:"baths"`
	PropertyType float64 `mapstructure:"property_type"`
	Features     float64 `mapstructure:"features"`
	School       float64 `mapstructure:"school"`

	BonusNewWeek         float64 `mapstructure:"bonus_new_week"`
	BonusPriceReduced    float64 `mapstructure:"bonus_price_reduced"`
	BonusKeywords        float64 `mapstructure:"bonus_keywords"`
	BonusUnderMarket     float64 `mapstructure:"bonus_under_market"`
	BonusDeepUnderMarket float64 `mapstructure:"bonus_deep_under_market"`

	UnderMarketRatio     float64 `mapstructure:"under_market_ratio"`
	DeepUnderMarketRatio float64 `mapstructure:"deep_under_market_ratio"`
}

func DefaultWeights() Weights {
	return Weights{
		Price:        0.25,
		Location:     0.20,
		Size:         0.15,
		Beds:         0.10,
		Baths:        0.10,
		PropertyType: 0.10,
		Features:     0.05,
		School:       0.05,

		BonusNewWeek:         0.10,
		BonusPriceReduced:    0.05,
		BonusKeywords:        0.03,
		BonusUnderMarket:     0.05,
		BonusDeepUnderMarket: 0.08,

		UnderMarketRatio:     0.90,
		DeepUnderMarketRatio: 0.85,
	}
}

// PremiumKeywords are listing features that earn the keyword bonus when a
// search does not name its own keywords.
var PremiumKeywords = []string{"renovated", "updated", "pool", "view", "waterfront", "garage"}

// Result is ephemeral, computed per (listing, search) pair.
type Result struct {
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
	Matches bool     `json:"matches"`
}

// RegionChecker answers point-in-region for searches that define geography
// by radius or polygon. The scorer treats it as a black box.
type RegionChecker func(lat, lon float64, s *search.SavedSearch) bool

type Scorer struct {
	W        Weights
	InRegion RegionChecker
	Now      func() time.Time
}

func NewScorer(w Weights) *Scorer {
	return &Scorer{W: w, InRegion: RadiusChecker, Now: time.Now}
}

// Score evaluates one listing snapshot against one saved search. Hard
// filters (price range, geography, property type) short-circuit to a zero
// score; soft filters earn partial credit through tolerance bands.
func (sc *Scorer) Score(l *listing.Snapshot, q *search.SavedSearch) Result {
	var r Result

	// Hard filters first.
	if q.MinPrice > 0 && l.Price < q.MinPrice {
		return r
	}
	if q.MaxPrice > 0 && l.Price > q.MaxPrice {
		return r
	}
	if !sc.inGeography(l, q) {
		return r
	}
	if len(q.PropertyTypes) > 0 && !containsFold(q.PropertyTypes, l.PropertyType) {
		return r
	}

	w := sc.W
	score := 0.0

	if q.MinPrice > 0 || q.MaxPrice > 0 {
		score += w.Price
		r.Reasons = append(r.Reasons, "Within your price range")
	} else {
		// No price criteria still earns the weight: the listing cannot
		// violate a constraint the search never set.
		score += w.Price
	}

	score += w.Location
	if len(q.Cities) > 0 {
		r.Reasons = append(r.Reasons, fmt.Sprintf("Located in %s", l.City))
	}

	if len(q.PropertyTypes) > 0 {
		score += w.PropertyType
		r.Reasons = append(r.Reasons, fmt.Sprintf("Property type: %s", l.PropertyType))
	} else {
		score += w.PropertyType
	}

	if c := sizeCredit(l.Sqft, q.MinSqft, q.MaxSqft); c > 0 {
		score += w.Size * c
		if c == 1 && q.MinSqft > 0 {
			r.Reasons = append(r.Reasons, fmt.Sprintf("%d sqft fits your size range", l.Sqft))
		}
	}

	if c := countCredit(l.Beds, q.MinBeds); c > 0 {
		score += w.Beds * c
		if c == 1 && q.MinBeds > 0 {
			r.Reasons = append(r.Reasons, fmt.Sprintf("%d bedrooms", l.Beds))
		}
	}

	if c := countCredit(l.Baths, q.MinBaths); c > 0 {
		score += w.Baths * c
		if c == 1 && q.MinBaths > 0 {
			r.Reasons = append(r.Reasons, fmt.Sprintf("%d bathrooms", l.Baths))
		}
	}

	if c := featureCredit(l, q.Keywords); c > 0 {
		score += w.Features * c
		r.Reasons = append(r.Reasons, "Has features you look for")
	}

	if c := schoolCredit(l.SchoolRating, q.MinSchoolRating); c > 0 {
		score += w.School * c
		if c == 1 && q.MinSchoolRating > 0 {
			r.Reasons = append(r.Reasons, fmt.Sprintf("School rating %.1f", l.SchoolRating))
		}
	}

	// Bonuses.
	now := time.Now()
	if sc.Now != nil {
		now = sc.Now()
	}
	if !l.ListedAt.IsZero() && now.Sub(l.ListedAt) <= 7*24*time.Hour {
		score += w.BonusNewWeek
		r.Reasons = append(r.Reasons, "New this week")
	}
	if l.OriginalPrice > 0 && l.Price < l.OriginalPrice {
		score += w.BonusPriceReduced
		r.Reasons = append(r.Reasons, "Price reduced")
	}
	if hasPremiumKeyword(l) {
		score += w.BonusKeywords
		r.Reasons = append(r.Reasons, "Premium features")
	}
	if l.AreaAvgPrice > 0 {
		ratio := float64(l.Price) / float64(l.AreaAvgPrice)
		switch {
		case ratio <= w.DeepUnderMarketRatio:
			score += w.BonusDeepUnderMarket
			r.Reasons = append(r.Reasons, "Well under market value")
		case ratio <= w.UnderMarketRatio:
			score += w.BonusUnderMarket
			r.Reasons = append(r.Reasons, "Under market value")
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	r.Score = score
	r.Matches = score > Threshold
	return r
}

func (sc *Scorer) inGeography(l *listing.Snapshot, q *search.SavedSearch) bool {
	hasCity := len(q.Cities) > 0
	hasZip := len(q.Zips) > 0
	hasRadius := q.RadiusKm > 0

	if !hasCity && !hasZip && !hasRadius {
		return true
	}
	if hasCity && containsFold(q.Cities, l.City) {
		return true
	}
	if hasZip && containsFold(q.Zips, l.Zip) {
		return true
	}
	if hasRadius && sc.InRegion != nil && sc.InRegion(l.Lat, l.Lon, q) {
		return true
	}
	return false
}

// sizeCredit gives full credit inside [min,max] and half credit within 10%
// outside either bound.
func sizeCredit(sqft, min, max int) float64 {
	if min == 0 && max == 0 {
		return 1
	}
	if sqft == 0 {
		return 0
	}
	if (min == 0 || sqft >= min) && (max == 0 || sqft <= max) {
		return 1
	}
	if min > 0 && sqft >= int(float64(min)*0.9) && (max == 0 || sqft <= max) {
		return 0.5
	}
	if max > 0 && sqft <= int(float64(max)*1.1) && (min == 0 || sqft >= min) {
		return 0.5
	}
	return 0
}

// countCredit: meeting the minimum is full credit, one short is half.
func countCredit(have, min int) float64 {
	if min == 0 {
		return 1
	}
	switch {
	case have >= min:
		return 1
	case have == min-1:
		return 0.5
	}
	return 0
}

func featureCredit(l *listing.Snapshot, keywords []string) float64 {
	if len(keywords) == 0 {
		return 1
	}
	hay := strings.ToLower(l.Title + " " + strings.Join(l.Features, " "))
	hits := 0
	for _, k := range keywords {
		if strings.Contains(hay, strings.ToLower(k)) {
			hits++
		}
	}
	return float64(hits) / float64(len(keywords))
}

func schoolCredit(rating, min float64) float64 {
	if min == 0 {
		return 1
	}
	switch {
	case rating >= min:
		return 1
	case rating >= min-1:
		return 0.5
	}
	return 0
}

func hasPremiumKeyword(l *listing.Snapshot) bool {
	hay := strings.ToLower(l.Title + " " + strings.Join(l.Features, " "))
	for _, k := range PremiumKeywords {
		if strings.Contains(hay, k) {
			return true
		}
	}
	return false
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
