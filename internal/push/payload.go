package push

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openlistings/alertd/internal/domain/listing"
)

type Alert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type APS struct {
	Alert          Alert  `json:"alert"`
	Badge          int    `json:"badge"`
	Sound          string `json:"sound"`
	Category       string `json:"category"`
	ThreadID       string `json:"thread-id"`
	MutableContent int    `json:"mutable-content"`
}

// Payload is the per-kind discriminated body. Each kind carries only the
// deep-link fields its client screen needs.
type Payload interface {
	Kind() listing.ChangeKind
}

type NewListingPayload struct {
	APS       APS    `json:"aps"`
	ListingID int64  `json:"listing_id"`
	ImageURL  string `json:"image_url,omitempty"`
}

func (NewListingPayload) Kind() listing.ChangeKind { return listing.KindNewListing }

type PriceChangePayload struct {
	APS       APS    `json:"aps"`
	ListingID int64  `json:"listing_id"`
	OldPrice  int64  `json:"old_price"`
	NewPrice  int64  `json:"new_price"`
	ImageURL  string `json:"image_url,omitempty"`
}

func (PriceChangePayload) Kind() listing.ChangeKind { return listing.KindPriceChange }

type StatusChangePayload struct {
	APS       APS    `json:"aps"`
	ListingID int64  `json:"listing_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

func (StatusChangePayload) Kind() listing.ChangeKind { return listing.KindStatusChange }

type OpenHousePayload struct {
	APS       APS       `json:"aps"`
	ListingID int64     `json:"listing_id"`
	StartsAt  time.Time `json:"starts_at"`
}

func (OpenHousePayload) Kind() listing.ChangeKind { return listing.KindOpenHouse }

type TourRequestedPayload struct {
	APS           APS   `json:"aps"`
	ListingID     int64 `json:"listing_id"`
	AppointmentID int64 `json:"appointment_id"`
}

func (TourRequestedPayload) Kind() listing.ChangeKind { return listing.KindTourRequested }

// Build assembles the payload for one change event with the user's current
// badge count and the match reasons as alert body context.
func Build(ev *listing.ChangeEvent, badge int, reasons []string) Payload {
	aps := APS{
		Badge:          badge,
		Sound:          "default",
		Category:       string(ev.Kind),
		ThreadID:       fmt.Sprintf("listing-%d", ev.ListingID),
		MutableContent: 1,
	}

	body := ev.Listing.Title
	if len(reasons) > 0 {
		body = fmt.Sprintf("%s — %s", ev.Listing.Title, reasons[0])
	}

	switch ev.Kind {
	case listing.KindPriceChange:
		aps.Alert = Alert{
			Title: "Price drop",
			Body:  fmt.Sprintf("%s: $%d → $%d", ev.Listing.Title, ev.OldPrice, ev.NewPrice),
		}
		return PriceChangePayload{APS: aps, ListingID: ev.ListingID, OldPrice: ev.OldPrice, NewPrice: ev.NewPrice, ImageURL: ev.Listing.ImageURL}
	case listing.KindStatusChange:
		aps.Alert = Alert{
			Title: "Status change",
			Body:  fmt.Sprintf("%s is now %s", ev.Listing.Title, ev.NewStatus),
		}
		return StatusChangePayload{APS: aps, ListingID: ev.ListingID, OldStatus: ev.OldStatus, NewStatus: ev.NewStatus}
	case listing.KindOpenHouse:
		aps.Alert = Alert{
			Title: "Open house",
			Body:  fmt.Sprintf("%s, %s", ev.Listing.Title, ev.OpenHouseAt.Format("Mon Jan 2 15:04")),
		}
		return OpenHousePayload{APS: aps, ListingID: ev.ListingID, StartsAt: ev.OpenHouseAt}
	case listing.KindTourRequested:
		aps.Alert = Alert{
			Title: "Tour requested",
			Body:  ev.Listing.Title,
		}
		return TourRequestedPayload{APS: aps, ListingID: ev.ListingID, AppointmentID: ev.AppointmentID}
	default:
		aps.Alert = Alert{Title: "New listing for you", Body: body}
		return NewListingPayload{APS: aps, ListingID: ev.ListingID, ImageURL: ev.Listing.ImageURL}
	}
}

// Encode marshals a payload for the wire and for queue storage.
func Encode(p Payload) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}
