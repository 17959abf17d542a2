package underwrite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propsignal/backend/internal/bus"
	"github.com/propsignal/backend/internal/config"
	"github.com/propsignal/backend/internal/domain"
	"github.com/propsignal/backend/internal/events"
	"github.com/propsignal/backend/internal/store"
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

type fixture struct {
	svc       *Service
	bus       *captureBus
	listings  *memory.ListingStore
	estimates *memory.RentEstimateStore
	results   *memory.UnderwritingStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := &captureBus{}
	listings := memory.NewListingStore()
	enrichments := memory.NewEnrichmentStore()
	estimates := memory.NewRentEstimateStore()
	results := memory.NewUnderwritingStore()
	loader := NewBaseInputsLoader(listings, enrichments, estimates, 100)
	bins := BinsFrom(config.UnderwriteConfig{})
	svc := New(loader, results, b, bins, nil, zerolog.Nop())
	return &fixture{svc: svc, bus: b, listings: listings, estimates: estimates, results: results}
}

func (f *fixture) seed(t *testing.T, price, rentP50 float64) {
	t.Helper()
	ctx := context.Background()
	taxes := 6300.0
	l := &domain.Listing{
		ID: "L-1", Status: domain.StatusActive,
		PropertyType: domain.PropertyCondo,
		Address:      domain.Address{City: "Toronto", Province: "ON", PostalCode: "M5H1A1"},
		Beds:         2, Baths: 2,
		ListPrice:   price,
		TaxesAnnual: &taxes,
		UpdatedAt:   time.Now().UTC(),
	}
	_, _, err := f.listings.Upsert(ctx, l)
	require.NoError(t, err)

	current, err := f.listings.Get(ctx, "L-1")
	require.NoError(t, err)
	_, _, err = f.estimates.Upsert(ctx, &domain.RentEstimate{
		ListingID:        "L-1",
		ListingVersion:   current.ListingVersion,
		EstimatorVersion: "v1",
		Method:           domain.RentMethodComps,
		P50:              rentP50,
		ComputedAt:       time.Now().UTC(),
	})
	require.NoError(t, err)
}

func validAssumptions() domain.Assumptions {
	return domain.Assumptions{
		DownPct: 0.20, RateBps: 500, AmortMonths: 360,
		RentScenario: domain.ScenarioP50,
	}
}

func TestComputeExactCachesByContentHash(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1_000_000, 4500)
	ctx := context.Background()

	first, err := f.svc.ComputeExact(ctx, "L-1", validAssumptions())
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.NotEmpty(t, first.ResultID)

	second, err := f.svc.ComputeExact(ctx, "L-1", validAssumptions())
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.ResultID, second.ResultID)
	assert.Equal(t, first.Metrics, second.Metrics)
}

func TestComputeExactDifferentAssumptionsMiss(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1_000_000, 4500)
	ctx := context.Background()

	first, err := f.svc.ComputeExact(ctx, "L-1", validAssumptions())
	require.NoError(t, err)

	other := validAssumptions()
	other.RateBps = 525
	second, err := f.svc.ComputeExact(ctx, "L-1", other)
	require.NoError(t, err)
	assert.False(t, second.FromCache)
	assert.NotEqual(t, first.ResultID, second.ResultID)
}

func TestComputeExactVersionBumpInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1_000_000, 4500)
	ctx := context.Background()

	first, err := f.svc.ComputeExact(ctx, "L-1", validAssumptions())
	require.NoError(t, err)

	// Reprice the listing and refresh the estimate for the new version.
	f.seed(t, 950_000, 4500)
	l, err := f.listings.Get(ctx, "L-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), l.ListingVersion)

	second, err := f.svc.ComputeExact(ctx, "L-1", validAssumptions())
	require.NoError(t, err)
	assert.False(t, second.FromCache, "a new listing version never reads the old cache")
	assert.NotEqual(t, first.ResultID, second.ResultID)
}

func TestComputeExactRejectsInvalidAssumptions(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1_000_000, 4500)

	bad := validAssumptions()
	bad.DownPct = 0.02
	_, err := f.svc.ComputeExact(context.Background(), "L-1", bad)
	assert.Error(t, err)
}

func TestCanonicalHashIgnoresUnsetOptionals(t *testing.T) {
	a := validAssumptions()
	b := validAssumptions()

	ha, err := CanonicalHash(a)
	require.NoError(t, err)
	hb, err := CanonicalHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	mgmt := 0.08
	b.MgmtPct = &mgmt
	hb, err = CanonicalHash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb, "a supplied optional changes the hash")

	// Zero-valued optional still differs from absent.
	zero := 0.0
	c := validAssumptions()
	c.MgmtPct = &zero
	hc, err := CanonicalHash(c)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func TestComputeGridWritesEveryBin(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1_000_000, 4500)
	ctx := context.Background()

	resultID, score, err := f.svc.ComputeGrid(ctx, "L-1")
	require.NoError(t, err)
	assert.Equal(t, "grid:L-1:v1", resultID)
	require.NotNil(t, score)
	assert.GreaterOrEqual(t, *score, 0.0)
	assert.LessOrEqual(t, *score, 100.0)

	// The canonical reference bin is readable back.
	bins := BinsFrom(config.UnderwriteConfig{})
	row, err := f.results.GetGridRow(ctx, store.GridKey{
		ListingID:      "L-1",
		ListingVersion: 1,
		RentScenario:   domain.ScenarioP50,
		DownPctBin:     0.20,
		RateBpsBin:     bins.RateBps[len(bins.RateBps)/2],
		AmortMonths:    360,
	})
	require.NoError(t, err)
	assert.Equal(t, 1_000_000.0, row.Metrics.Price)

	// Re-running the same version overwrites rows in place.
	again, _, err := f.svc.ComputeGrid(ctx, "L-1")
	require.NoError(t, err)
	assert.Equal(t, resultID, again)
}

func TestGridBinsDefaults(t *testing.T) {
	bins := BinsFrom(config.UnderwriteConfig{})

	require.NotEmpty(t, bins.DownPct)
	assert.Equal(t, 0.05, bins.DownPct[0])
	assert.Equal(t, 0.35, bins.DownPct[len(bins.DownPct)-1])
	assert.Len(t, bins.DownPct, 31)

	assert.Equal(t, 300, bins.RateBps[0])
	assert.Equal(t, 800, bins.RateBps[len(bins.RateBps)-1])
	assert.Len(t, bins.RateBps, 101)

	assert.Equal(t, []int{240, 300, 360}, bins.AmortMonths)
	assert.Equal(t, 31*101*3*3, bins.Size())
}

func TestReferenceBinSnapsToConfiguredAxes(t *testing.T) {
	t.Run("defaults hit the ideal point", func(t *testing.T) {
		ref := BinsFrom(config.UnderwriteConfig{}).Reference()
		assert.Equal(t, 0.20, ref.DownPct)
		assert.Equal(t, 550, ref.RateBps)
		assert.Equal(t, 360, ref.AmortMonths)
	})

	t.Run("narrow axes snap to the nearest bin", func(t *testing.T) {
		bins := BinsFrom(config.UnderwriteConfig{
			DownPctMin:  0.25,
			DownPctMax:  0.35,
			DownPctStep: 0.05,
			RateBpsMin:  600,
			RateBpsMax:  700,
			RateBpsStep: 50,
			AmortMonths: []int{240, 300},
		})
		ref := bins.Reference()
		assert.Equal(t, 0.25, ref.DownPct)
		assert.Contains(t, bins.RateBps, ref.RateBps)
		assert.Equal(t, 300, ref.AmortMonths)
	})
}

func TestReferenceBinRowExistsForNarrowGrid(t *testing.T) {
	bins := BinsFrom(config.UnderwriteConfig{
		DownPctMin:  0.25,
		DownPctMax:  0.30,
		DownPctStep: 0.05,
		RateBpsMin:  600,
		RateBpsMax:  650,
		RateBpsStep: 50,
		AmortMonths: []int{300},
	})
	base := baseFor(1_000_000, 50_000)
	rows := ComputeGrid(base, bins, NewAFCache())
	ref := bins.Reference()

	found := false
	for _, row := range rows {
		if row.RentScenario == domain.ScenarioP50 &&
			row.DownPctBin == ref.DownPct &&
			row.RateBpsBin == ref.RateBps &&
			row.AmortMonths == ref.AmortMonths {
			found = true
		}
	}
	assert.True(t, found, "reference bin must be one of the computed rows")
}

func TestHandleRequestedPublishesCompleted(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1_000_000, 4500)
	ctx := context.Background()

	ev, err := events.New(events.TopicUnderwriteRequested, "L-1", events.UnderwriteRequested{ID: "L-1"})
	require.NoError(t, err)
	require.NoError(t, f.svc.handleRequested(ctx, ev))

	var completed []*events.Envelope
	f.bus.mu.Lock()
	for _, e := range f.bus.events {
		if e.Type == events.TopicUnderwriteCompleted {
			completed = append(completed, e)
		}
	}
	f.bus.mu.Unlock()
	require.Len(t, completed, 1)

	var payload events.UnderwriteCompleted
	require.NoError(t, completed[0].Decode(&payload))
	assert.Equal(t, "grid:L-1:v1", payload.ResultID)
	assert.Equal(t, "grid", payload.Source)
	require.NotNil(t, payload.Score)
}

func TestHandleRequestedMissingListingIsDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev, err := events.New(events.TopicUnderwriteRequested, "ghost", events.UnderwriteRequested{ID: "ghost"})
	require.NoError(t, err)
	assert.NoError(t, f.svc.handleRequested(ctx, ev), "vanished listings are skipped, not retried")
}
