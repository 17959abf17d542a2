package rentest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propsignal/backend/internal/apperr"
	"github.com/propsignal/backend/internal/bus"
	"github.com/propsignal/backend/internal/config"
	"github.com/propsignal/backend/internal/debounce"
	"github.com/propsignal/backend/internal/domain"
	"github.com/propsignal/backend/internal/events"
	"github.com/propsignal/backend/internal/infra"
	"github.com/propsignal/backend/internal/store/memory"
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

// emptyComps never returns candidates, forcing the fallback ladder.
type emptyComps struct{}

func (emptyComps) CompsNear(context.Context, *domain.Listing, float64, int) ([]domain.Comp, error) {
	return nil, nil
}

// failingComps simulates an unavailable comp source.
type failingComps struct{}

func (failingComps) CompsNear(context.Context, *domain.Listing, float64, int) ([]domain.Comp, error) {
	return nil, apperr.Transient(errors.New("comp source down"))
}

func rentCfg() config.RentConfig {
	return config.RentConfig{
		EstimatorVersion: "v1",
		MinComps:         3,
		MaxDistanceKm:    2.0,
		MaxAgeDays:       120,
	}
}

func newTestService(t *testing.T, comps CompSource) (*Service, *captureBus, *memory.ListingStore, *memory.EnrichmentStore) {
	t.Helper()
	b := &captureBus{}
	listings := memory.NewListingStore()
	enrichments := memory.NewEnrichmentStore()
	estimates := memory.NewRentEstimateStore()
	gate := debounce.New(infra.NewMemoryKV(), "debounce:rent:", 30*time.Second)
	svc := New(listings, enrichments, estimates, b, gate, comps, rentCfg(), zerolog.Nop())
	return svc, b, listings, enrichments
}

func seedListing(t *testing.T, listings *memory.ListingStore, beds int) *domain.Listing {
	t.Helper()
	l := &domain.Listing{
		ID:           "L-1",
		Status:       domain.StatusActive,
		PropertyType: domain.PropertyCondo,
		Address: domain.Address{
			City: "Toronto", Province: "ON", PostalCode: "M5H1A1",
		},
		Beds: beds, Baths: 2,
		ListPrice: 749000,
		UpdatedAt: time.Now().UTC(),
	}
	_, _, err := listings.Upsert(context.Background(), l)
	require.NoError(t, err)
	return l
}

func TestEstimateUsesCompsWhenEnough(t *testing.T) {
	svc, _, listings, _ := newTestService(t, StaticComps{})
	seedListing(t, listings, 2)

	require.NoError(t, svc.Estimate(context.Background(), "L-1"))

	got, err := svc.estimates.Get(context.Background(), "L-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RentMethodComps, got.Method)
	require.NotNil(t, got.P25)
	require.NotNil(t, got.P75)
	assert.LessOrEqual(t, *got.P25, got.P50)
	assert.LessOrEqual(t, got.P50, *got.P75)
}

func TestEstimateFallsBackToPriors(t *testing.T) {
	svc, _, listings, enrichments := newTestService(t, emptyComps{})
	l := seedListing(t, listings, 2)

	_, err := enrichments.Upsert(context.Background(), &domain.Enrichment{
		ListingID:         l.ID,
		ListingVersion:    1,
		EnrichmentVersion: "enrich-v1",
		RentPriors: &domain.RentPriors{
			P25: 2200, P50: 2500, P75: 2850,
			Source: domain.PriorsCMHC, AsOf: "2025-10",
		},
		ComputedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	require.NoError(t, svc.Estimate(context.Background(), "L-1"))

	got, err := svc.estimates.Get(context.Background(), "L-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RentMethodPriors, got.Method)
	assert.Equal(t, 2500.0, got.P50)
}

func TestEstimateFallsBackToFormula(t *testing.T) {
	svc, _, listings, _ := newTestService(t, emptyComps{})
	seedListing(t, listings, 3)

	require.NoError(t, svc.Estimate(context.Background(), "L-1"))

	got, err := svc.estimates.Get(context.Background(), "L-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RentMethodModel, got.Method)
	assert.Equal(t, 1200.0+3*400, got.P50)
}

func TestEstimateSurvivesCompSourceFailure(t *testing.T) {
	svc, _, listings, _ := newTestService(t, failingComps{})
	seedListing(t, listings, 1)

	require.NoError(t, svc.Estimate(context.Background(), "L-1"))

	got, err := svc.estimates.Get(context.Background(), "L-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RentMethodModel, got.Method)
}

func TestEstimatePublishesUnderwriteRequestOnMaterialChange(t *testing.T) {
	svc, b, listings, enrichments := newTestService(t, emptyComps{})
	l := seedListing(t, listings, 2)

	require.NoError(t, svc.Estimate(context.Background(), "L-1"))
	assert.Equal(t, 1, b.count(events.TopicUnderwriteRequested), "first estimate is always material")

	// Unchanged recompute publishes nothing.
	require.NoError(t, svc.Estimate(context.Background(), "L-1"))
	assert.Equal(t, 1, b.count(events.TopicUnderwriteRequested))

	// A method switch is material regardless of magnitude.
	_, err := enrichments.Upsert(context.Background(), &domain.Enrichment{
		ListingID:         l.ID,
		ListingVersion:    1,
		EnrichmentVersion: "enrich-v1",
		RentPriors: &domain.RentPriors{
			P25: 1850, P50: 2010, P75: 2250,
			Source: domain.PriorsCMHC, AsOf: "2025-10",
		},
		ComputedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	require.NoError(t, svc.Estimate(context.Background(), "L-1"))
	assert.Equal(t, 2, b.count(events.TopicUnderwriteRequested))
}

func TestMaterialChangeThreshold(t *testing.T) {
	base := &domain.RentEstimate{Method: domain.RentMethodComps, P50: 2000}

	within := &domain.RentEstimate{Method: domain.RentMethodComps, P50: 2059}
	assert.False(t, MaterialChange(base, within), "2.95% shift is not material")

	at := &domain.RentEstimate{Method: domain.RentMethodComps, P50: 2060}
	assert.True(t, MaterialChange(base, at), "3% shift is material")

	assert.True(t, MaterialChange(nil, base), "first estimate is material")

	method := &domain.RentEstimate{Method: domain.RentMethodPriors, P50: 2000}
	assert.True(t, MaterialChange(base, method), "method switch is material")
}

func TestFilterCompsEnvelope(t *testing.T) {
	sqft := func(v int) *int { return &v }
	l := &domain.Listing{
		ID:           "L-1",
		PropertyType: domain.PropertyCondo,
		Beds:         2, Baths: 2,
		Sqft:    sqft(800),
		Address: domain.Address{City: "Toronto", PostalCode: "M5H1A1"},
	}
	keep := domain.Comp{
		MonthlyRent: 2500, Beds: 2, Baths: 2, Sqft: sqft(820),
		PropertyType: domain.PropertyCondo, City: "toronto",
		DistanceKm: 1.0, AgeDays: 30,
	}
	comps := []domain.Comp{
		keep,
		func() domain.Comp { c := keep; c.DistanceKm = 3.5; return c }(),
		func() domain.Comp { c := keep; c.AgeDays = 200; return c }(),
		func() domain.Comp { c := keep; c.PropertyType = domain.PropertyHouse; return c }(),
		func() domain.Comp { c := keep; c.Beds = 4; return c }(),
		func() domain.Comp { c := keep; c.Baths = 4; return c }(),
		func() domain.Comp { c := keep; c.Sqft = sqft(1100); return c }(),
		func() domain.Comp { c := keep; c.City = "Ottawa"; c.FSA = "K1A"; return c }(),
	}

	kept := FilterComps(l, comps, rentCfg())
	require.Len(t, kept, 1)
	assert.Equal(t, 2500.0, kept[0].MonthlyRent)
}

func listingChangedEvent(t *testing.T, dirty ...domain.DirtyField) *events.Envelope {
	t.Helper()
	ev, err := events.New(events.TopicListingChanged, "L-1", events.ListingChanged{
		ID:        "L-1",
		UpdatedAt: time.Now().UTC(),
		Change:    domain.ChangeUpdate,
		Source:    "mock",
		Dirty:     dirty,
	})
	require.NoError(t, err)
	return ev
}

func TestHandleListingChangedDebouncesWithinWindow(t *testing.T) {
	svc, b, listings, _ := newTestService(t, emptyComps{})
	seedListing(t, listings, 2)
	ctx := context.Background()

	require.NoError(t, svc.handleListingChanged(ctx, listingChangedEvent(t, domain.DirtyPrice)))
	got, err := svc.estimates.Get(ctx, "L-1")
	require.NoError(t, err)
	assert.Equal(t, 2000.0, got.P50)
	assert.Equal(t, 1, b.count(events.TopicUnderwriteRequested))

	// A second change inside the window is coalesced: the bed count moved
	// but the estimate stays stale.
	seedListing(t, listings, 3)
	require.NoError(t, svc.handleListingChanged(ctx, listingChangedEvent(t, domain.DirtyPrice)))
	got, err = svc.estimates.Get(ctx, "L-1")
	require.NoError(t, err)
	assert.Equal(t, 2000.0, got.P50)
	assert.Equal(t, 1, b.count(events.TopicUnderwriteRequested))
}

func TestHandleListingChangedAddressBypassesGate(t *testing.T) {
	svc, b, listings, _ := newTestService(t, emptyComps{})
	seedListing(t, listings, 2)
	ctx := context.Background()

	require.NoError(t, svc.handleListingChanged(ctx, listingChangedEvent(t, domain.DirtyPrice)))
	seedListing(t, listings, 3)

	require.NoError(t, svc.handleListingChanged(ctx, listingChangedEvent(t, domain.DirtyAddress)))
	got, err := svc.estimates.Get(ctx, "L-1")
	require.NoError(t, err)
	assert.Equal(t, 2400.0, got.P50)
	assert.Equal(t, 2, b.count(events.TopicUnderwriteRequested))
}
