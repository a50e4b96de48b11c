package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openlistings/alertd/internal/dedup"
	deferredq "github.com/openlistings/alertd/internal/domain/deferred"
	"github.com/openlistings/alertd/internal/domain/delivery"
	"github.com/openlistings/alertd/internal/domain/device"
	"github.com/openlistings/alertd/internal/domain/favorite"
	"github.com/openlistings/alertd/internal/domain/listing"
	"github.com/openlistings/alertd/internal/domain/preference"
	"github.com/openlistings/alertd/internal/domain/retryq"
	"github.com/openlistings/alertd/internal/domain/search"
	"github.com/openlistings/alertd/internal/domain/user"
	"github.com/openlistings/alertd/internal/gate"
	"github.com/openlistings/alertd/internal/match"
	"github.com/openlistings/alertd/internal/obs"
	"github.com/openlistings/alertd/internal/push"
)

// Pusher is the transport seam; the real implementation is push.Client.
type Pusher interface {
	Push(ctx context.Context, token string, sandbox bool, body []byte) (push.Result, error)
}

// Limiter throttles outbound pushes. Acquire blocks until a slot is free
// or ctx is done.
type Limiter interface {
	Acquire(ctx context.Context) error
}

type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, ev *delivery.OutcomeEvent) error
}

// Stats is the per-event accounting the runner turns into metrics.
type Stats struct {
	Candidates int
	Pushed     int
	Emailed    int
	Deferred   int
	Retried    int
	Skipped    int
	Failed     int
}

// Orchestrator fans one listing change event out to every eligible user:
// candidate selection, preference and quiet-hours gating, dedup, the push
// fan-out per device, and the email channel. All state lives behind ports.
type Orchestrator struct {
	Searches  search.Repo
	Favorites favorite.Repo
	Users     user.Repo
	Devices   device.Repo
	Badges    delivery.BadgeRepo
	Retry     retryq.Repo
	Deferred  deferredq.Repo

	Gate     *gate.Gate
	Dedup    *dedup.Tracker
	Scorer   *match.Scorer
	Push     Pusher
	Limiter  Limiter
	Mailer   EmailSender
	Outcomes OutcomePublisher

	// Retry policy; zero values fall back to the retryq defaults.
	MaxRetries int
	RetryBase  time.Duration

	Log   *zap.Logger
	Clock func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now()
}

func (o *Orchestrator) maxRetries() int {
	if o.MaxRetries > 0 {
		return o.MaxRetries
	}
	return retryq.DefaultMaxRetries
}

func (o *Orchestrator) retryBase() time.Duration {
	if o.RetryBase > 0 {
		return o.RetryBase
	}
	return retryq.BaseDelay
}

type candidate struct {
	userID  int64
	reasons []string
}

// HandleChange is the entry point for one consumed change event.
func (o *Orchestrator) HandleChange(ctx context.Context, ev *listing.ChangeEvent) (Stats, error) {
	var st Stats
	if !ev.Kind.Valid() {
		return st, fmt.Errorf("unknown change kind %q", ev.Kind)
	}
	log := obs.WithTrace(ctx, o.Log).With(
		zap.String("kind", string(ev.Kind)),
		zap.Int64("listing_id", ev.ListingID),
	)

	cands, err := o.selectCandidates(ctx, ev)
	if err != nil {
		return st, err
	}
	st.Candidates = len(cands)
	if len(cands) == 0 {
		log.Debug("no candidates")
		return st, nil
	}

	for _, c := range cands {
		if err := o.notifyUser(ctx, ev, c, &st); err != nil {
			// One bad user never poisons the rest of the fan-out.
			st.Failed++
			log.Warn("notify user", zap.Int64("user_id", c.userID), zap.Error(err))
		}
	}
	log.Info("event handled",
		zap.Int("candidates", st.Candidates),
		zap.Int("pushed", st.Pushed),
		zap.Int("emailed", st.Emailed),
		zap.Int("deferred", st.Deferred),
		zap.Int("retried", st.Retried),
		zap.Int("skipped", st.Skipped),
		zap.Int("failed", st.Failed),
	)
	return st, nil
}

// selectCandidates maps the event kind to its audience: matcher hits for
// market-wide changes, favorite owners for changes on a saved home, the
// named user for a tour request.
func (o *Orchestrator) selectCandidates(ctx context.Context, ev *listing.ChangeEvent) ([]candidate, error) {
	switch ev.Kind {
	case listing.KindNewListing, listing.KindOpenHouse:
		return o.matchCandidates(ctx, ev)
	case listing.KindPriceChange, listing.KindStatusChange:
		ids, err := o.Favorites.ListUserIDsByListing(ctx, ev.ListingID)
		if err != nil {
			return nil, fmt.Errorf("list favorite owners: %w", err)
		}
		reason := "Update on a home you saved"
		if ev.Kind == listing.KindPriceChange && ev.NewPrice < ev.OldPrice {
			reason = "Price dropped on a home you saved"
		}
		out := make([]candidate, 0, len(ids))
		for _, id := range ids {
			out = append(out, candidate{userID: id, reasons: []string{reason}})
		}
		return out, nil
	case listing.KindTourRequested:
		if ev.TargetUserID == 0 {
			return nil, errors.New("tour_requested without target user")
		}
		return []candidate{{userID: ev.TargetUserID, reasons: []string{"Tour requested"}}}, nil
	}
	return nil, nil
}

// matchCandidates scores the listing against every active saved search and
// keeps, per user, the reasons of their best-scoring search.
func (o *Orchestrator) matchCandidates(ctx context.Context, ev *listing.ChangeEvent) ([]candidate, error) {
	searches, err := o.Searches.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active searches: %w", err)
	}

	best := make(map[int64]match.Result)
	order := make([]int64, 0)
	for _, s := range searches {
		r := o.Scorer.Score(&ev.Listing, s)
		if !r.Matches {
			continue
		}
		if prev, ok := best[s.UserID]; !ok {
			best[s.UserID] = r
			order = append(order, s.UserID)
		} else if r.Score > prev.Score {
			best[s.UserID] = r
		}
	}

	out := make([]candidate, 0, len(order))
	for _, id := range order {
		out = append(out, candidate{userID: id, reasons: best[id].Reasons})
	}
	return out, nil
}

func (o *Orchestrator) notifyUser(ctx context.Context, ev *listing.ChangeEvent, c candidate, st *Stats) error {
	// Dedup runs before any gating: a change already delivered in the window
	// is dropped outright, and its skipped/disabled rows were written on the
	// first pass. Gating first would re-log those rows on every redelivery.
	sent, err := o.Dedup.WasSent(ctx, c.userID, ev.ListingID, ev.Kind, dedup.CrossRunWindow)
	if err != nil {
		return err
	}
	if sent {
		st.Skipped++
		return nil
	}

	if err := o.pushChannel(ctx, ev, c, st); err != nil {
		return err
	}
	return o.emailChannel(ctx, ev, c, st)
}

func (o *Orchestrator) pushChannel(ctx context.Context, ev *listing.ChangeEvent, c candidate, st *Stats) error {
	decision, prefs, err := o.Gate.ShouldSendNow(ctx, c.userID, ev.Kind, preference.ChannelPush)
	if err != nil {
		return err
	}

	switch decision {
	case gate.Disabled:
		st.Skipped++
		o.recordSkip(ctx, ev, c.userID, "push", "disabled")
		return nil

	case gate.QuietHours:
		badge, err := o.Badges.Get(ctx, c.userID)
		if err != nil {
			badge = 0
		}
		body, err := push.Encode(push.Build(ev, badge+1, c.reasons))
		if err != nil {
			return err
		}
		queued, err := o.Deferred.Enqueue(ctx, &deferredq.Notification{
			UserID:       c.userID,
			Type:         ev.Kind,
			ListingID:    ev.ListingID,
			Title:        ev.Listing.Title,
			Payload:      body,
			DeliverAfter: gate.NextQuietEnd(prefs, o.now()),
			Status:       deferredq.StatusPending,
			DedupKey:     deferredq.DedupKey(c.userID, ev.Kind, ev.ListingID, ev.Listing.Title),
		})
		if err != nil {
			return fmt.Errorf("defer push: %w", err)
		}
		if queued {
			st.Deferred++
		} else {
			st.Skipped++
		}
		return nil
	}

	return o.sendPush(ctx, ev, c, st)
}

// sendPush fans out to every active device. The user is considered notified
// when at least one device accepted the payload or a transient failure was
// queued for redelivery.
func (o *Orchestrator) sendPush(ctx context.Context, ev *listing.ChangeEvent, c candidate, st *Stats) error {
	devices, err := o.Devices.ListActiveByUser(ctx, c.userID)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	if len(devices) == 0 {
		st.Skipped++
		o.recordSkip(ctx, ev, c.userID, "push", "no_devices")
		return nil
	}

	badge, err := o.Badges.Increment(ctx, c.userID)
	if err != nil {
		return fmt.Errorf("increment badge: %w", err)
	}
	body, err := push.Encode(push.Build(ev, badge, c.reasons))
	if err != nil {
		return err
	}

	now := o.now()
	var delivered, queued int
	var touched []int64
	lastReason := ""

	for _, d := range devices {
		if err := o.Limiter.Acquire(ctx); err != nil {
			return err
		}

		res, _ := o.Push.Push(ctx, d.Token, d.Sandbox, body)
		switch res.Outcome {
		case push.OutcomeDelivered:
			delivered++
			touched = append(touched, d.ID)

		case push.OutcomePermanent:
			if derr := o.Devices.Deactivate(ctx, d.ID); derr != nil {
				o.Log.Warn("deactivate device", zap.Int64("device_id", d.ID), zap.Error(derr))
			}
			lastReason = res.Reason

		case push.OutcomeRetriable:
			qerr := o.Retry.Enqueue(ctx, &retryq.Entry{
				UserID:      c.userID,
				DeviceID:    d.ID,
				Token:       d.Token,
				Sandbox:     d.Sandbox,
				Payload:     body,
				MaxRetries:  o.maxRetries(),
				NextRetryAt: now.Add(o.retryBase()),
				Status:      retryq.StatusPending,
			})
			if qerr != nil {
				o.Log.Warn("enqueue retry", zap.Int64("device_id", d.ID), zap.Error(qerr))
				lastReason = res.Reason
			} else {
				queued++
			}

		case push.OutcomeRejected:
			lastReason = res.Reason
			o.Log.Error("push rejected",
				zap.Int64("user_id", c.userID),
				zap.Int("status", res.StatusCode),
				zap.String("reason", res.Reason),
			)
		}
	}

	if len(touched) > 0 {
		if err := o.Devices.TouchLastUsed(ctx, touched); err != nil {
			o.Log.Warn("touch last_used", zap.Error(err))
		}
	}

	status := delivery.StatusSent
	reason := ""
	if delivered == 0 && queued == 0 {
		status = delivery.StatusFailed
		reason = lastReason
		st.Failed++
	} else {
		st.Pushed++
		st.Retried += queued
	}

	entry := &delivery.Entry{
		UserID:    c.userID,
		Type:      ev.Kind,
		ListingID: ev.ListingID,
		Title:     ev.Listing.Title,
		Channel:   "push",
		Status:    status,
		Reason:    reason,
	}
	if err := o.Dedup.RecordSent(ctx, entry); err != nil {
		return err
	}
	o.publishOutcome(ctx, ev, c.userID, "push", status, reason)
	return nil
}

func (o *Orchestrator) emailChannel(ctx context.Context, ev *listing.ChangeEvent, c candidate, st *Stats) error {
	if o.Mailer == nil {
		return nil
	}
	decision, _, err := o.Gate.ShouldSendNow(ctx, c.userID, ev.Kind, preference.ChannelEmail)
	if err != nil {
		return err
	}
	if decision != gate.Allow {
		return nil
	}

	u, err := o.Users.GetByID(ctx, c.userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	subject, body := emailContent(ev, c.reasons)
	status := delivery.StatusSent
	reason := ""
	if err := o.Mailer.Send(ctx, u.Email, subject, body); err != nil {
		status = delivery.StatusFailed
		reason = err.Error()
		st.Failed++
	} else {
		st.Emailed++
	}

	// The email row carries its own dedup suffix so it coexists with the
	// push row for the same change.
	entry := &delivery.Entry{
		UserID:    c.userID,
		Type:      ev.Kind,
		ListingID: ev.ListingID,
		Title:     ev.Listing.Title,
		Channel:   "email",
		Status:    status,
		Reason:    reason,
		DedupKey:  delivery.DedupKey(c.userID, ev.Kind, ev.ListingID, ev.Listing.Title, o.now()) + "|email",
	}
	if err := o.Dedup.RecordSent(ctx, entry); err != nil {
		return err
	}
	o.publishOutcome(ctx, ev, c.userID, "email", status, reason)
	return nil
}

func (o *Orchestrator) recordSkip(ctx context.Context, ev *listing.ChangeEvent, userID int64, channel, why string) {
	entry := &delivery.Entry{
		UserID:    userID,
		Type:      ev.Kind,
		ListingID: ev.ListingID,
		Title:     ev.Listing.Title,
		Channel:   channel,
		Status:    delivery.StatusSkipped,
		Reason:    why,
	}
	if err := o.Dedup.RecordSent(ctx, entry); err != nil {
		o.Log.Warn("record skip", zap.Int64("user_id", userID), zap.Error(err))
	}
	o.publishOutcome(ctx, ev, userID, channel, delivery.StatusSkipped, why)
}

func (o *Orchestrator) publishOutcome(ctx context.Context, ev *listing.ChangeEvent, userID int64, channel string, status delivery.Status, reason string) {
	if o.Outcomes == nil {
		return
	}
	out := &delivery.OutcomeEvent{
		EventID:   uuid.NewString(),
		UserID:    userID,
		ListingID: ev.ListingID,
		Type:      ev.Kind,
		Channel:   channel,
		Status:    status,
		Reason:    reason,
		At:        o.now().UTC(),
	}
	if err := o.Outcomes.PublishOutcome(ctx, out); err != nil {
		o.Log.Warn("publish outcome", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func emailContent(ev *listing.ChangeEvent, reasons []string) (subject, body string) {
	switch ev.Kind {
	case listing.KindPriceChange:
		subject = fmt.Sprintf("Price change: %s", ev.Listing.Title)
		body = fmt.Sprintf("The price of %s changed from $%d to $%d.", ev.Listing.Title, ev.OldPrice, ev.NewPrice)
	case listing.KindStatusChange:
		subject = fmt.Sprintf("Status update: %s", ev.Listing.Title)
		body = fmt.Sprintf("%s is now %s.", ev.Listing.Title, ev.NewStatus)
	case listing.KindOpenHouse:
		subject = fmt.Sprintf("Open house: %s", ev.Listing.Title)
		body = fmt.Sprintf("Open house at %s on %s.", ev.Listing.Title, ev.OpenHouseAt.Format("Mon Jan 2 15:04"))
	case listing.KindTourRequested:
		subject = "Tour requested"
		body = fmt.Sprintf("A tour was requested for %s.", ev.Listing.Title)
	default:
		subject = fmt.Sprintf("New listing for you: %s", ev.Listing.Title)
		body = fmt.Sprintf("%s, %s — $%d.", ev.Listing.Title, ev.Listing.City, ev.Listing.Price)
	}
	if len(reasons) > 0 {
		body += "\n\nWhy you got this:\n"
		for _, r := range reasons {
			body += "  - " + r + "\n"
		}
	}
	return subject, body
}
