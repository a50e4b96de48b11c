package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openlistings/alertd/internal/domain/listing"
	"github.com/openlistings/alertd/internal/domain/preference"
	"github.com/openlistings/alertd/internal/repository/postgres"
)

// Decision is why a send proceeds or not.
type Decision string

const (
	Allow      Decision = "allow"
	Disabled   Decision = "disabled"
	QuietHours Decision = "quiet_hours"
)

// Gate answers "may this user get this notification on this channel right
// now". Email is never deferred, so quiet hours only suppress push.
type Gate struct {
	Prefs preference.Repo
	Clock func() time.Time

	// Window applied when a user enabled quiet hours without setting times.
	DefaultQuietStart string
	DefaultQuietEnd   string
}

func New(prefs preference.Repo) *Gate {
	return &Gate{Prefs: prefs, Clock: time.Now}
}

func (g *Gate) now() time.Time {
	if g.Clock != nil {
		return g.Clock()
	}
	return time.Now()
}

// Load fetches the user's preferences, defaulting when no row exists.
func (g *Gate) Load(ctx context.Context, userID int64) (*preference.Preferences, error) {
	p, err := g.Prefs.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return preference.Default(userID), nil
		}
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	if p.QuietEnabled && (p.QuietStart == "" || p.QuietEnd == "") {
		p.QuietStart, p.QuietEnd = g.DefaultQuietStart, g.DefaultQuietEnd
	}
	return p, nil
}

// ShouldSendNow gates one (user, kind, channel) triple.
func (g *Gate) ShouldSendNow(ctx context.Context, userID int64, kind listing.ChangeKind, ch preference.Channel) (Decision, *preference.Preferences, error) {
	p, err := g.Load(ctx, userID)
	if err != nil {
		return Disabled, nil, err
	}
	if !p.EnabledFor(kind, ch) {
		return Disabled, p, nil
	}
	if ch == preference.ChannelPush && InQuietHours(p, g.now()) {
		return QuietHours, p, nil
	}
	return Allow, p, nil
}

// InQuietHours converts now into the user's zone and checks [start, end).
// start > end wraps midnight: suppressed when now >= start OR now < end.
func InQuietHours(p *preference.Preferences, now time.Time) bool {
	if p == nil || !p.QuietEnabled {
		return false
	}
	start, okS := parseHHMM(p.QuietStart)
	end, okE := parseHHMM(p.QuietEnd)
	if !okS || !okE || start == end {
		return false
	}
	local := now.In(userLocation(p))
	cur := local.Hour()*60 + local.Minute()
	if start > end {
		return cur >= start || cur < end
	}
	return cur >= start && cur < end
}

// NextQuietEnd computes the deliver_after for a deferred push: the next
// boundary crossing of the quiet-hours end time. Inside an overnight window
// past midnight the end is today; before midnight it is tomorrow.
func NextQuietEnd(p *preference.Preferences, now time.Time) time.Time {
	end, ok := parseHHMM(p.QuietEnd)
	if !ok {
		return now
	}
	loc := userLocation(p)
	local := now.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), end/60, end%60, 0, 0, loc)
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func userLocation(p *preference.Preferences) *time.Location {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil || p.Timezone == "" {
		return time.UTC
	}
	return loc
}

// parseHHMM returns minutes since midnight.
func parseHHMM(s string) (int, bool) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
