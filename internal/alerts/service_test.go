package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propsignal/backend/internal/bus"
	"github.com/propsignal/backend/internal/domain"
	"github.com/propsignal/backend/internal/events"
	"github.com/propsignal/backend/internal/store/memory"
	"github.com/propsignal/backend/internal/underwrite"
)

type captureBus struct {
	mu     sync.Mutex
	events []*events.Envelope
}

func (c *captureBus) Publish(_ context.Context, ev *events.Envelope) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return nil
}

func (c *captureBus) Subscribe(bus.Subscription) (func(), error) { return func() {}, nil }
func (c *captureBus) DeadLetters() <-chan *events.Envelope       { return nil }
func (c *captureBus) Close(context.Context) error                { return nil }

func (c *captureBus) count(topic events.Topic) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Type == topic {
			n++
		}
	}
	return n
}

type fixture struct {
	svc      *Service
	bus      *captureBus
	listings *memory.ListingStore
	results  *memory.UnderwritingStore
	searches *memory.SearchStore
	alerts   *memory.AlertStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := &captureBus{}
	listings := memory.NewListingStore()
	results := memory.NewUnderwritingStore()
	searches := memory.NewSearchStore()
	alertStore := memory.NewAlertStore()
	dispatcher := NewDispatcher(alertStore, []Sender{NewLogSender(domain.ChannelEmail, zerolog.Nop())}, nil, zerolog.Nop())
	t.Cleanup(dispatcher.Close)
	ref := underwrite.ReferenceBin{DownPct: 0.20, RateBps: 550, AmortMonths: 360}
	svc := New(listings, results, searches, alertStore, b, dispatcher, ref, nil, zerolog.Nop())
	return &fixture{svc: svc, bus: b, listings: listings, results: results, searches: searches, alerts: alertStore}
}

func (f *fixture) seedListing(t *testing.T, price float64) {
	t.Helper()
	_, _, err := f.listings.Upsert(context.Background(), &domain.Listing{
		ID: "L-1", Status: domain.StatusActive,
		PropertyType: domain.PropertyCondo,
		Address:      domain.Address{City: "Toronto", Province: "ON", PostalCode: "M5H1A1"},
		Beds:         2, Baths: 2,
		ListPrice: price,
		UpdatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func (f *fixture) seedReferenceRow(t *testing.T, m domain.Metrics) {
	t.Helper()
	err := f.results.UpsertGridRows(context.Background(), []domain.GridRow{{
		ListingID:      "L-1",
		ListingVersion: 1,
		RentScenario:   domain.ScenarioP50,
		DownPctBin:     0.20,
		RateBpsBin:     550,
		AmortMonths:    360,
		Metrics:        m,
	}})
	require.NoError(t, err)
}

func (f *fixture) seedSearch(t *testing.T, s domain.SavedSearch) {
	t.Helper()
	if s.ID == "" {
		s.ID = "s-1"
	}
	if s.UserID == "" {
		s.UserID = "u-1"
	}
	s.IsActive = true
	if len(s.Notify.Channels) == 0 {
		s.Notify.Channels = []domain.Channel{domain.ChannelEmail}
	}
	require.NoError(t, f.searches.Create(context.Background(), &s))
}

func fl(v float64) *float64 { return &v }

func torontoCondoSearch() domain.SavedSearch {
	maxPrice := 800000.0
	ptype := domain.PropertyCondo
	return domain.SavedSearch{
		Name: "toronto condos",
		Filter: domain.SearchFilter{
			City:         "Toronto",
			PropertyType: &ptype,
			MaxPrice:     &maxPrice,
		},
		Thresholds: domain.Thresholds{
			MinDSCR:              fl(1.2),
			MinCoC:               fl(8),
			RequireNonNegativeCF: true,
		},
	}
}

func gridCompleted(t *testing.T) *events.Envelope {
	t.Helper()
	score := 62.0
	ev, err := events.New(events.TopicUnderwriteCompleted, "L-1", events.UnderwriteCompleted{
		ID:       "L-1",
		ResultID: "grid:L-1:v1",
		Source:   "grid",
		Score:    &score,
	})
	require.NoError(t, err)
	return ev
}

func TestCompletedFiresMatchingAlert(t *testing.T) {
	f := newFixture(t)
	f.seedListing(t, 750000)
	f.seedReferenceRow(t, domain.Metrics{
		Price: 750000, DSCR: 1.4, CashOnCashPct: 9.5, CashFlowAnnual: 2800, CapRatePct: 5.2,
	})
	f.seedSearch(t, torontoCondoSearch())

	require.NoError(t, f.svc.handleCompleted(context.Background(), gridCompleted(t)))

	alerts, err := f.alerts.ListByUser(context.Background(), "u-1", 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, "L-1", a.ListingID)
	assert.Equal(t, "grid:L-1:v1", a.ResultID)
	assert.Contains(t, a.Payload.Matched, "dscr>=1.2")
	assert.Contains(t, a.Payload.Matched, "coc>=8")
	assert.Contains(t, a.Payload.Matched, "cf>=0")
	assert.Equal(t, 1, f.bus.count(events.TopicAlertFired))
}

func TestCompletedFilterMismatchIsSilent(t *testing.T) {
	f := newFixture(t)
	f.seedListing(t, 950000) // above the search's max price
	f.seedReferenceRow(t, domain.Metrics{
		Price: 950000, DSCR: 1.4, CashOnCashPct: 9.5, CashFlowAnnual: 2800,
	})
	f.seedSearch(t, torontoCondoSearch())

	require.NoError(t, f.svc.handleCompleted(context.Background(), gridCompleted(t)))

	alerts, err := f.alerts.ListByUser(context.Background(), "u-1", 10)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Equal(t, 0, f.bus.count(events.TopicAlertFired))
}

func TestCompletedThresholdMissIsSilent(t *testing.T) {
	f := newFixture(t)
	f.seedListing(t, 750000)
	f.seedReferenceRow(t, domain.Metrics{
		Price: 750000, DSCR: 1.05, CashOnCashPct: 9.5, CashFlowAnnual: 2800,
	})
	f.seedSearch(t, torontoCondoSearch())

	require.NoError(t, f.svc.handleCompleted(context.Background(), gridCompleted(t)))

	alerts, err := f.alerts.ListByUser(context.Background(), "u-1", 10)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestRedeliveredCompletionFiresOnce(t *testing.T) {
	f := newFixture(t)
	f.seedListing(t, 750000)
	f.seedReferenceRow(t, domain.Metrics{
		Price: 750000, DSCR: 1.4, CashOnCashPct: 9.5, CashFlowAnnual: 2800,
	})
	f.seedSearch(t, torontoCondoSearch())

	ev := gridCompleted(t)
	require.NoError(t, f.svc.handleCompleted(context.Background(), ev))
	require.NoError(t, f.svc.handleCompleted(context.Background(), ev))

	alerts, err := f.alerts.ListByUser(context.Background(), "u-1", 10)
	require.NoError(t, err)
	assert.Len(t, alerts, 1, "one alert per (user, listing, result)")
	assert.Equal(t, 1, f.bus.count(events.TopicAlertFired))
}

func TestCompletedMissingMetricsIsDropped(t *testing.T) {
	f := newFixture(t)
	f.seedListing(t, 750000)
	f.seedSearch(t, torontoCondoSearch())

	// No grid rows for the referenced result: skipped, not retried.
	assert.NoError(t, f.svc.handleCompleted(context.Background(), gridCompleted(t)))
}

func TestMatchFilterBounds(t *testing.T) {
	ptype := domain.PropertyCondo
	minBeds, maxPrice := 2, 800000.0
	filter := domain.SearchFilter{
		City:         "toronto",
		Province:     "on",
		PropertyType: &ptype,
		MinBeds:      &minBeds,
		MaxPrice:     &maxPrice,
	}
	snap := domain.ListingSnapshot{
		ListingID: "L-1", City: "Toronto", Province: "ON",
		PropertyType: domain.PropertyCondo, Beds: 2, Price: 800000,
	}
	assert.True(t, MatchFilter(filter, snap), "bounds are inclusive, city match is case-insensitive")

	snap.Beds = 1
	assert.False(t, MatchFilter(filter, snap))

	snap.Beds = 2
	snap.Price = 800000.01
	assert.False(t, MatchFilter(filter, snap))
}

func TestMatchThresholdsLabels(t *testing.T) {
	score := 70.0
	m := domain.Metrics{DSCR: 1.25, CashOnCashPct: 8.4, CapRatePct: 5.5, CashFlowAnnual: 100}

	matched, ok := MatchThresholds(domain.Thresholds{
		MinDSCR: fl(1.2), MinCoC: fl(8), MinScore: fl(60), RequireNonNegativeCF: true,
	}, m, &score)
	require.True(t, ok)
	assert.Equal(t, []string{"dscr>=1.2", "coc>=8", "score>=60", "cf>=0"}, matched)

	// One failing gate suppresses the whole match.
	_, ok = MatchThresholds(domain.Thresholds{
		MinDSCR: fl(1.2), MinCapRate: fl(6),
	}, m, &score)
	assert.False(t, ok)

	// A score gate with no score available cannot pass.
	_, ok = MatchThresholds(domain.Thresholds{MinScore: fl(60)}, m, nil)
	assert.False(t, ok)
}
