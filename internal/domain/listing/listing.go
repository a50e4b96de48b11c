package listing

import "time"

// ChangeKind is the kind of listing change an upstream ingestion run emitted.
type ChangeKind string

const (
	KindNewListing    ChangeKind = "new_listing"
	KindPriceChange   ChangeKind = "price_change"
	KindStatusChange  ChangeKind = "status_change"
	KindOpenHouse     ChangeKind = "open_house"
	KindTourRequested ChangeKind = "tour_requested"
)

func (k ChangeKind) Valid() bool {
	switch k {
	case KindNewListing, KindPriceChange, KindStatusChange, KindOpenHouse, KindTourRequested:
		return true
	}
	return false
}

// Snapshot is the listing state after the change, as the matcher sees it.
type Snapshot struct {
	ListingID     int64     `json:"listing_id"`
	Title         string    `json:"title"`
	Price         int64     `json:"price"`
	OriginalPrice int64     `json:"original_price"`
	City          string    `json:"city"`
	Zip           string    `json:"zip"`
	Lat           float64   `json:"lat"`
	Lon           float64   `json:"lon"`
	Beds          int       `json:"beds"`
	Baths         int       `json:"baths"`
	Sqft          int       `json:"sqft"`
	PropertyType  string    `json:"property_type"`
	Features      []string  `json:"features"`
	SchoolRating  float64   `json:"school_rating"`
	AreaAvgPrice  int64     `json:"area_avg_price"`
	Status        string    `json:"status"`
	ImageURL      string    `json:"image_url"`
	ListedAt      time.Time `json:"listed_at"`
}

// ChangeEvent is one message on the listing.changes topic.
type ChangeEvent struct {
	ListingID int64      `json:"listing_id"`
	Kind      ChangeKind `json:"kind"`
	Listing   Snapshot   `json:"listing"`

	// Set per kind; zero values otherwise.
	OldPrice      int64     `json:"old_price,omitempty"`
	NewPrice      int64     `json:"new_price,omitempty"`
	OldStatus     string    `json:"old_status,omitempty"`
	NewStatus     string    `json:"new_status,omitempty"`
	OpenHouseAt   time.Time `json:"open_house_at,omitempty"`
	AppointmentID int64     `json:"appointment_id,omitempty"`

	// TargetUserID addresses kinds that name their recipient directly
	// (tour_requested); ignored for broadcast kinds.
	TargetUserID int64 `json:"target_user_id,omitempty"`

	At time.Time `json:"at"`
}
