package notifier

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openlistings/alertd/internal/dedup"
	deferredq "github.com/openlistings/alertd/internal/domain/deferred"
	"github.com/openlistings/alertd/internal/domain/delivery"
	"github.com/openlistings/alertd/internal/domain/device"
	"github.com/openlistings/alertd/internal/domain/listing"
	"github.com/openlistings/alertd/internal/domain/preference"
	"github.com/openlistings/alertd/internal/domain/retryq"
	"github.com/openlistings/alertd/internal/domain/search"
	"github.com/openlistings/alertd/internal/domain/user"
	"github.com/openlistings/alertd/internal/gate"
	"github.com/openlistings/alertd/internal/match"
	"github.com/openlistings/alertd/internal/push"
)

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

// --- fakes ---

type fakeSearches struct{ list []*search.SavedSearch }

func (f *fakeSearches) ListActive(context.Context) ([]*search.SavedSearch, error) { return f.list, nil }
func (f *fakeSearches) GetByID(context.Context, int64) (*search.SavedSearch, error) {
	return nil, errors.New("not implemented")
}

type fakeFavorites struct{ owners map[int64][]int64 }

func (f *fakeFavorites) ListUserIDsByListing(_ context.Context, listingID int64) ([]int64, error) {
	return f.owners[listingID], nil
}

type fakeUsers struct{}

func (fakeUsers) GetByID(_ context.Context, id int64) (*user.User, error) {
	return &user.User{ID: id, Email: "user@example.com"}, nil
}

type fakeDevices struct {
	byUser      map[int64][]*device.Endpoint
	deactivated []int64
	touched     []int64
}

func (f *fakeDevices) ListActiveByUser(_ context.Context, userID int64) ([]*device.Endpoint, error) {
	return f.byUser[userID], nil
}
func (f *fakeDevices) Register(context.Context, *device.Endpoint) error { return nil }
func (f *fakeDevices) Deactivate(_ context.Context, id int64) error {
	f.deactivated = append(f.deactivated, id)
	return nil
}
func (f *fakeDevices) TouchLastUsed(_ context.Context, ids []int64) error {
	f.touched = append(f.touched, ids...)
	return nil
}
func (f *fakeDevices) PurgeInactive(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeBadges struct{ counts map[int64]int }

func (f *fakeBadges) Increment(_ context.Context, userID int64) (int, error) {
	if f.counts == nil {
		f.counts = map[int64]int{}
	}
	f.counts[userID]++
	return f.counts[userID], nil
}
func (f *fakeBadges) Reset(_ context.Context, userID int64) error {
	if f.counts != nil {
		f.counts[userID] = 0
	}
	return nil
}
func (f *fakeBadges) Get(_ context.Context, userID int64) (int, error) { return f.counts[userID], nil }

type fakeRetry struct{ entries []*retryq.Entry }

func (f *fakeRetry) Enqueue(_ context.Context, e *retryq.Entry) error {
	f.entries = append(f.entries, e)
	return nil
}
func (f *fakeRetry) ClaimDue(context.Context, time.Time, int) ([]*retryq.Entry, error) {
	return nil, nil
}
func (f *fakeRetry) MarkCompleted(context.Context, int64) error             { return nil }
func (f *fakeRetry) MarkFailed(context.Context, int64, string) error        { return nil }
func (f *fakeRetry) Reschedule(context.Context, int64, int, string, time.Time) error { return nil }
func (f *fakeRetry) ExpireStale(context.Context, time.Time) (int64, error)  { return 0, nil }

type fakeDeferred struct {
	queued []*deferredq.Notification
	seen   map[string]bool
}

// Duplicate keys lose silently, mirroring the rolling-window guard in the
// real repository.
func (f *fakeDeferred) Enqueue(_ context.Context, n *deferredq.Notification) (bool, error) {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[n.DedupKey] {
		return false, nil
	}
	f.seen[n.DedupKey] = true
	f.queued = append(f.queued, n)
	return true, nil
}
func (f *fakeDeferred) ClaimDue(context.Context, time.Time, int) ([]*deferredq.Notification, error) {
	return nil, nil
}
func (f *fakeDeferred) MarkStatus(context.Context, int64, deferredq.Status) error { return nil }

type fakePrefs struct{ byUser map[int64]*preference.Preferences }

func (f *fakePrefs) Get(_ context.Context, userID int64) (*preference.Preferences, error) {
	if p, ok := f.byUser[userID]; ok {
		return p, nil
	}
	return preference.Default(userID), nil
}

type fakeLog struct {
	entries []*delivery.Entry
	sent    map[string]bool
}

func logKey(userID int64, typ string, listingID int64) string {
	return strconv.FormatInt(userID, 10) + "@" + delivery.TypeListing{Type: typ, ListingID: listingID}.Key()
}

func (f *fakeLog) Insert(_ context.Context, e *delivery.Entry) (bool, error) {
	f.entries = append(f.entries, e)
	return true, nil
}
func (f *fakeLog) SentSince(_ context.Context, userID int64, typ string, listingID int64, _ time.Time) (bool, error) {
	return f.sent[logKey(userID, typ, listingID)], nil
}
func (f *fakeLog) ListSentSince(ctx context.Context, userID int64, pairs []delivery.TypeListing, since time.Time) (map[string]bool, error) {
	out := map[string]bool{}
	for _, p := range pairs {
		if ok, _ := f.SentSince(ctx, userID, p.Type, p.ListingID, since); ok {
			out[p.Key()] = true
		}
	}
	return out, nil
}

type fakePusher struct {
	results map[string]push.Result // by token
	sent    []string
}

func (f *fakePusher) Push(_ context.Context, token string, _ bool, _ []byte) (push.Result, error) {
	f.sent = append(f.sent, token)
	if r, ok := f.results[token]; ok {
		if r.Outcome == push.OutcomeRetriable && r.Reason == "network" {
			return r, errors.New("dial timeout")
		}
		return r, nil
	}
	return push.Result{Outcome: push.OutcomeDelivered, StatusCode: 200}, nil
}

type fakeLimiter struct{ acquired int }

func (f *fakeLimiter) Acquire(context.Context) error {
	f.acquired++
	return nil
}

type fakeMailer struct {
	to      []string
	subject []string
	err     error
}

func (f *fakeMailer) Send(_ context.Context, to, subject, _ string) error {
	f.to = append(f.to, to)
	f.subject = append(f.subject, subject)
	return f.err
}

type fakeOutcomes struct{ events []*delivery.OutcomeEvent }

func (f *fakeOutcomes) PublishOutcome(_ context.Context, ev *delivery.OutcomeEvent) error {
	f.events = append(f.events, ev)
	return nil
}

// --- fixture ---

type fixture struct {
	orch     *Orchestrator
	searches *fakeSearches
	favs     *fakeFavorites
	devices  *fakeDevices
	badges   *fakeBadges
	retry    *fakeRetry
	deferred *fakeDeferred
	prefs    *fakePrefs
	log      *fakeLog
	pusher   *fakePusher
	limiter  *fakeLimiter
	mailer   *fakeMailer
	outcomes *fakeOutcomes
}

func newFixture() *fixture {
	f := &fixture{
		searches: &fakeSearches{},
		favs:     &fakeFavorites{owners: map[int64][]int64{}},
		devices:  &fakeDevices{byUser: map[int64][]*device.Endpoint{}},
		badges:   &fakeBadges{},
		retry:    &fakeRetry{},
		deferred: &fakeDeferred{},
		prefs:    &fakePrefs{byUser: map[int64]*preference.Preferences{}},
		log:      &fakeLog{sent: map[string]bool{}},
		pusher:   &fakePusher{results: map[string]push.Result{}},
		limiter:  &fakeLimiter{},
		mailer:   &fakeMailer{},
		outcomes: &fakeOutcomes{},
	}

	g := gate.New(f.prefs)
	g.Clock = func() time.Time { return testNow }
	tr := dedup.New(f.log)
	tr.Clock = func() time.Time { return testNow }
	sc := match.NewScorer(match.DefaultWeights())
	sc.Now = func() time.Time { return testNow }

	f.orch = &Orchestrator{
		Searches:  f.searches,
		Favorites: f.favs,
		Users:     fakeUsers{},
		Devices:   f.devices,
		Badges:    f.badges,
		Retry:     f.retry,
		Deferred:  f.deferred,
		Gate:      g,
		Dedup:     tr,
		Scorer:    sc,
		Push:      f.pusher,
		Limiter:   f.limiter,
		Mailer:    f.mailer,
		Outcomes:  f.outcomes,
		Log:       zap.NewNop(),
		Clock:     func() time.Time { return testNow },
	}
	return f
}

func newListingEvent() *listing.ChangeEvent {
	return &listing.ChangeEvent{
		ListingID: 101,
		Kind:      listing.KindNewListing,
		Listing: listing.Snapshot{
			ListingID:    101,
			Title:        "12 Main St",
			Price:        600_000,
			City:         "Boston",
			PropertyType: "condo",
			Beds:         2,
			Baths:        1,
			ListedAt:     testNow.AddDate(0, -1, 0),
		},
		At: testNow,
	}
}

func matchingSearch(userID int64) *search.SavedSearch {
	return &search.SavedSearch{
		ID:       1,
		UserID:   userID,
		MinPrice: 500_000,
		MaxPrice: 800_000,
		Cities:   []string{"Boston"},
		Active:   true,
	}
}

// --- tests ---

func TestHandleChange_NewListing_PushAndEmail(t *testing.T) {
	f := newFixture()
	f.searches.list = []*search.SavedSearch{matchingSearch(7)}
	f.devices.byUser[7] = []*device.Endpoint{{ID: 1, UserID: 7, Token: "tok-a"}}

	st, err := f.orch.HandleChange(context.Background(), newListingEvent())
	require.NoError(t, err)

	assert.Equal(t, 1, st.Candidates)
	assert.Equal(t, 1, st.Pushed)
	assert.Equal(t, 1, st.Emailed)
	assert.Zero(t, st.Failed)

	assert.Equal(t, []string{"tok-a"}, f.pusher.sent)
	assert.Equal(t, 1, f.limiter.acquired)
	assert.Equal(t, 1, f.badges.counts[7])
	assert.Equal(t, []int64{1}, f.devices.touched)
	assert.Equal(t, []string{"user@example.com"}, f.mailer.to)

	require.Len(t, f.log.entries, 2) // push row + email row
	assert.Equal(t, delivery.StatusSent, f.log.entries[0].Status)
	assert.Equal(t, "push", f.log.entries[0].Channel)
	assert.Equal(t, "email", f.log.entries[1].Channel)
	assert.NotEqual(t, f.log.entries[0].DedupKey, f.log.entries[1].DedupKey)

	require.Len(t, f.outcomes.events, 2)
	assert.Equal(t, delivery.StatusSent, f.outcomes.events[0].Status)
}

func TestHandleChange_NoMatch_NoCandidates(t *testing.T) {
	f := newFixture()
	s := matchingSearch(7)
	s.MaxPrice = 500_000 // listing at 600k fails the hard filter
	f.searches.list = []*search.SavedSearch{s}

	st, err := f.orch.HandleChange(context.Background(), newListingEvent())
	require.NoError(t, err)
	assert.Zero(t, st.Candidates)
	assert.Empty(t, f.pusher.sent)
}

func TestHandleChange_DedupSkips(t *testing.T) {
	f := newFixture()
	f.searches.list = []*search.SavedSearch{matchingSearch(7)}
	f.log.sent[logKey(7, "new_listing", 101)] = true

	st, err := f.orch.HandleChange(context.Background(), newListingEvent())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Skipped)
	assert.Empty(t, f.pusher.sent)
	assert.Empty(t, f.mailer.to)
	assert.Empty(t, f.log.entries)
}

func TestHandleChange_QuietHours_Defers(t *testing.T) {
	f := newFixture()
	f.searches.list = []*search.SavedSearch{matchingSearch(7)}
	p := preference.Default(7)
	p.QuietEnabled = true
	p.QuietStart, p.QuietEnd = "14:00", "16:00" // testNow is 15:00 UTC
	p.Timezone = "UTC"
	f.prefs.byUser[7] = p

	st, err := f.orch.HandleChange(context.Background(), newListingEvent())
	require.NoError(t, err)

	assert.Equal(t, 1, st.Deferred)
	assert.Empty(t, f.pusher.sent)
	require.Len(t, f.deferred.queued, 1)

	n := f.deferred.queued[0]
	assert.Equal(t, int64(7), n.UserID)
	assert.Equal(t, listing.KindNewListing, n.Type)
	assert.Equal(t, "12 Main St", n.Title)
	assert.True(t, n.DeliverAfter.Equal(time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC)))
	assert.NotEmpty(t, n.Payload)
	assert.Equal(t, "u7|new_listing|l101", n.DedupKey)

	// Email still goes out during quiet hours.
	assert.Equal(t, 1, st.Emailed)
}

func TestHandleChange_QuietHours_OneQueuedInstanceAcrossHourBoundary(t *testing.T) {
	f := newFixture()
	f.searches.list = []*search.SavedSearch{matchingSearch(7)}
	p := preference.Default(7)
	p.QuietEnabled = true
	p.QuietStart, p.QuietEnd = "14:00", "16:00"
	p.Timezone = "UTC"
	p.EmailNewListing = false
	f.prefs.byUser[7] = p

	cur := time.Date(2026, 3, 10, 14, 59, 0, 0, time.UTC)
	clock := func() time.Time { return cur }
	f.orch.Clock = clock
	f.orch.Gate.Clock = clock
	f.orch.Dedup.Clock = clock

	st1, err := f.orch.HandleChange(context.Background(), newListingEvent())
	require.NoError(t, err)
	assert.Equal(t, 1, st1.Deferred)

	// The same change redelivered a couple of minutes later, in the next
	// hour, must collapse onto the already queued instance.
	cur = time.Date(2026, 3, 10, 15, 1, 0, 0, time.UTC)
	st2, err := f.orch.HandleChange(context.Background(), newListingEvent())
	require.NoError(t, err)

	assert.Zero(t, st2.Deferred)
	assert.Equal(t, 1, st2.Skipped)
	require.Len(t, f.deferred.queued, 1)
	assert.Equal(t, "u7|new_listing|l101", f.deferred.queued[0].DedupKey)
}

func TestHandleChange_DisabledKind_RecordsSkip(t *testing.T) {
	f := newFixture()
	f.searches.list = []*search.SavedSearch{matchingSearch(7)}
	p := preference.Default(7)
	p.PushNewListing = false
	p.EmailNewListing = false
	f.prefs.byUser[7] = p

	st, err := f.orch.HandleChange(context.Background(), newListingEvent())
	require.NoError(t, err)

	assert.Equal(t, 1, st.Skipped)
	assert.Empty(t, f.pusher.sent)
	assert.Empty(t, f.mailer.to)

	require.Len(t, f.log.entries, 1)
	assert.Equal(t, delivery.StatusSkipped, f.log.entries[0].Status)
	assert.Equal(t, "disabled", f.log.entries[0].Reason)
}

func TestHandleChange_UnregisteredDeviceDeactivated(t *testing.T) {
	f := newFixture()
	f.searches.list = []*search.SavedSearch{matchingSearch(7)}
	f.devices.byUser[7] = []*device.Endpoint{{ID: 1, UserID: 7, Token: "dead"}}
	f.pusher.results["dead"] = push.Result{Outcome: push.OutcomePermanent, StatusCode: 410, Reason: "Unregistered"}

	st, err := f.orch.HandleChange(context.Background(), newListingEvent())
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, f.devices.deactivated)
	assert.Equal(t, 1, st.Failed)
	assert.Empty(t, f.retry.entries)

	var pushRow *delivery.Entry
	for _, e := range f.log.entries {
		if e.Channel == "push" {
			pushRow = e
		}
	}
	require.NotNil(t, pushRow)
	assert.Equal(t, delivery.StatusFailed, pushRow.Status)
	assert.Equal(t, "Unregistered", pushRow.Reason)
}

func TestHandleChange_RetriableQueuesRedelivery(t *testing.T) {
	f := newFixture()
	f.searches.list = []*search.SavedSearch{matchingSearch(7)}
	f.devices.byUser[7] = []*device.Endpoint{{ID: 1, UserID: 7, Token: "flaky", Sandbox: true}}
	f.pusher.results["flaky"] = push.Result{Outcome: push.OutcomeRetriable, StatusCode: 503, Reason: "ServiceUnavailable"}

	st, err := f.orch.HandleChange(context.Background(), newListingEvent())
	require.NoError(t, err)

	assert.Equal(t, 1, st.Pushed) // queued counts as notified
	assert.Equal(t, 1, st.Retried)
	require.Len(t, f.retry.entries, 1)

	e := f.retry.entries[0]
	assert.Equal(t, int64(7), e.UserID)
	assert.Equal(t, "flaky", e.Token)
	assert.True(t, e.Sandbox)
	assert.Equal(t, retryq.DefaultMaxRetries, e.MaxRetries)
	assert.True(t, e.NextRetryAt.Equal(testNow.Add(retryq.BaseDelay)))
}

func TestHandleChange_NoDevices_SkipsPush(t *testing.T) {
	f := newFixture()
	f.searches.list = []*search.SavedSearch{matchingSearch(7)}

	st, err := f.orch.HandleChange(context.Background(), newListingEvent())
	require.NoError(t, err)

	assert.Equal(t, 1, st.Skipped)
	assert.Equal(t, 1, st.Emailed)
	require.NotEmpty(t, f.log.entries)
	assert.Equal(t, "no_devices", f.log.entries[0].Reason)
}

func TestHandleChange_PriceChange_NotifiesFavoriteOwners(t *testing.T) {
	f := newFixture()
	f.favs.owners[101] = []int64{7, 8}
	f.devices.byUser[7] = []*device.Endpoint{{ID: 1, UserID: 7, Token: "a"}}
	f.devices.byUser[8] = []*device.Endpoint{{ID: 2, UserID: 8, Token: "b"}}

	ev := newListingEvent()
	ev.Kind = listing.KindPriceChange
	ev.OldPrice, ev.NewPrice = 650_000, 600_000

	st, err := f.orch.HandleChange(context.Background(), ev)
	require.NoError(t, err)

	assert.Equal(t, 2, st.Candidates)
	assert.Equal(t, 2, st.Pushed)
	assert.ElementsMatch(t, []string{"a", "b"}, f.pusher.sent)
}

func TestHandleChange_TourRequested_TargetsNamedUser(t *testing.T) {
	f := newFixture()
	f.devices.byUser[9] = []*device.Endpoint{{ID: 3, UserID: 9, Token: "agent"}}

	ev := newListingEvent()
	ev.Kind = listing.KindTourRequested
	ev.TargetUserID = 9
	ev.AppointmentID = 555

	st, err := f.orch.HandleChange(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Candidates)
	assert.Equal(t, []string{"agent"}, f.pusher.sent)
}

func TestHandleChange_TourRequested_WithoutTargetFails(t *testing.T) {
	f := newFixture()
	ev := newListingEvent()
	ev.Kind = listing.KindTourRequested

	_, err := f.orch.HandleChange(context.Background(), ev)
	assert.Error(t, err)
}

func TestHandleChange_UnknownKind(t *testing.T) {
	f := newFixture()
	ev := newListingEvent()
	ev.Kind = "bogus"

	_, err := f.orch.HandleChange(context.Background(), ev)
	assert.Error(t, err)
}

func TestHandleChange_BestSearchWinsPerUser(t *testing.T) {
	f := newFixture()
	weak := matchingSearch(7)
	strong := matchingSearch(7)
	strong.ID = 2
	strong.MinBeds = 2
	strong.PropertyTypes = []string{"condo"}
	f.searches.list = []*search.SavedSearch{weak, strong}
	f.devices.byUser[7] = []*device.Endpoint{{ID: 1, UserID: 7, Token: "tok"}}

	st, err := f.orch.HandleChange(context.Background(), newListingEvent())
	require.NoError(t, err)

	// Two searches, one user, one notification.
	assert.Equal(t, 1, st.Candidates)
	assert.Len(t, f.pusher.sent, 1)
}
