package preference

import "github.com/openlistings/alertd/internal/domain/listing"

type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
)

// Preferences is one row per user. A missing row means Default().
type Preferences struct {
	UserID int64 `json:"user_id"`

	PushNewListing   bool `json:"push_new_listing"`
	PushPriceChange  bool `json:"push_price_change"`
	PushStatusChange bool `json:"push_status_change"`
	PushOpenHouse    bool `json:"push_open_house"`
	PushSavedSearch  bool `json:"push_saved_search"`

	EmailNewListing   bool `json:"email_new_listing"`
	EmailPriceChange  bool `json:"email_price_change"`
	EmailStatusChange bool `json:"email_status_change"`
	EmailOpenHouse    bool `json:"email_open_house"`
	EmailSavedSearch  bool `json:"email_saved_search"`

	QuietEnabled bool   `json:"quiet_enabled"`
	QuietStart   string `json:"quiet_start"` // "HH:MM"
	QuietEnd     string `json:"quiet_end"`   // "HH:MM"
	Timezone     string `json:"timezone"`    // IANA name
}

// Default is what an absent row means: everything on, quiet hours off.
func Default(userID int64) *Preferences {
	return &Preferences{
		UserID:           userID,
		PushNewListing:   true,
		PushPriceChange:  true,
		PushStatusChange: true,
		PushOpenHouse:    true,
		PushSavedSearch:  true,

		EmailNewListing:   true,
		EmailPriceChange:  true,
		EmailStatusChange: true,
		EmailOpenHouse:    true,
		EmailSavedSearch:  true,

		Timezone: "UTC",
	}
}

// EnabledFor resolves the per-kind toggle for a channel. tour_requested is
// appointment traffic and rides the open_house toggles.
func (p *Preferences) EnabledFor(kind listing.ChangeKind, ch Channel) bool {
	push := ch == ChannelPush
	switch kind {
	case listing.KindNewListing:
		if push {
			return p.PushNewListing
		}
		return p.EmailNewListing
	case listing.KindPriceChange:
		if push {
			return p.PushPriceChange
		}
		return p.EmailPriceChange
	case listing.KindStatusChange:
		if push {
			return p.PushStatusChange
		}
		return p.EmailStatusChange
	case listing.KindOpenHouse, listing.KindTourRequested:
		if push {
			return p.PushOpenHouse
		}
		return p.EmailOpenHouse
	}
	if push {
		return p.PushSavedSearch
	}
	return p.EmailSavedSearch
}
