package enrich

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propsignal/backend/internal/bus"
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

func (c *captureBus) topics() []events.Topic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Topic, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Type)
	}
	return out
}

func lat(v float64) *float64 { return &v }

func newTestService(t *testing.T) (*Service, *captureBus, *memory.ListingStore) {
	t.Helper()
	b := &captureBus{}
	listings := memory.NewListingStore()
	enrichments := memory.NewEnrichmentStore()
	gate := debounce.New(infra.NewMemoryKV(), "debounce:enrich:", time.Minute)
	svc := New(listings, enrichments, b, gate,
		StaticGeocoder{}, StaticScores{}, StaticPriors{},
		zerolog.Nop())
	return svc, b, listings
}

func seedListing(t *testing.T, listings *memory.ListingStore) *domain.Listing {
	t.Helper()
	l := &domain.Listing{
		ID:           "L-1",
		Status:       domain.StatusActive,
		PropertyType: domain.PropertyCondo,
		Address: domain.Address{
			Street: "1 King St", City: "Toronto", Province: "ON",
			PostalCode: "M5H1A1", Country: "CA",
			Lat: lat(43.65), Lng: lat(-79.38),
		},
		Beds: 2, Baths: 2,
		ListPrice: 749000,
		UpdatedAt: time.Now().UTC(),
	}
	_, _, err := listings.Upsert(context.Background(), l)
	require.NoError(t, err)
	return l
}

func TestEnrichPublishesDataEnrichedAndUnderwriteRequest(t *testing.T) {
	svc, b, listings := newTestService(t)
	seedListing(t, listings)

	err := svc.Enrich(context.Background(), "L-1", []domain.DirtyField{domain.DirtyPrice})
	require.NoError(t, err)

	topics := b.topics()
	assert.Contains(t, topics, events.TopicDataEnriched)
	assert.Contains(t, topics, events.TopicUnderwriteRequested,
		"financial enrichment change on a price-dirty listing requests underwriting")
}

func TestEnrichNonFinancialDirtyDoesNotRequestUnderwrite(t *testing.T) {
	svc, b, listings := newTestService(t)
	seedListing(t, listings)

	err := svc.Enrich(context.Background(), "L-1", []domain.DirtyField{domain.DirtyMedia})
	require.NoError(t, err)

	topics := b.topics()
	assert.Contains(t, topics, events.TopicDataEnriched)
	assert.NotContains(t, topics, events.TopicUnderwriteRequested)
}

func TestEnrichUnchangedRowIsSilent(t *testing.T) {
	svc, b, listings := newTestService(t)
	seedListing(t, listings)

	require.NoError(t, svc.Enrich(context.Background(), "L-1", []domain.DirtyField{domain.DirtyPrice}))
	before := len(b.topics())

	// Same listing version, same derived values: the upsert reports no
	// change and nothing is published.
	require.NoError(t, svc.Enrich(context.Background(), "L-1", []domain.DirtyField{domain.DirtyPrice}))
	assert.Len(t, b.topics(), before)
}

func TestEnrichMissingListingIsSkipped(t *testing.T) {
	svc, b, _ := newTestService(t)

	err := svc.Enrich(context.Background(), "ghost", []domain.DirtyField{domain.DirtyPrice})
	require.NoError(t, err)
	assert.Empty(t, b.topics())
}

func TestEnrichUsesExactTaxWhenListed(t *testing.T) {
	svc, _, listings := newTestService(t)
	l := seedListing(t, listings)
	taxes := 4200.0
	l.TaxesAnnual = &taxes
	l.UpdatedAt = l.UpdatedAt.Add(time.Minute)
	_, _, err := listings.Upsert(context.Background(), l)
	require.NoError(t, err)

	require.NoError(t, svc.Enrich(context.Background(), "L-1", []domain.DirtyField{domain.DirtyTax}))

	e, err := svc.enrichments.Get(context.Background(), "L-1")
	require.NoError(t, err)
	require.NotNil(t, e.Taxes)
	assert.Equal(t, domain.TaxExact, e.Taxes.Method)
	assert.Equal(t, 4200.0, e.Taxes.AnnualEstimate)
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

func countTopic(topics []events.Topic, topic events.Topic) int {
	n := 0
	for _, tp := range topics {
		if tp == topic {
			n++
		}
	}
	return n
}

func TestHandleListingChangedDebouncesWithinWindow(t *testing.T) {
	svc, b, listings := newTestService(t)
	l := seedListing(t, listings)
	ctx := context.Background()

	require.NoError(t, svc.handleListingChanged(ctx, listingChangedEvent(t, domain.DirtyPrice)))
	require.Equal(t, 1, countTopic(b.topics(), events.TopicDataEnriched))

	// Reprice inside the window: the gate coalesces the event away and
	// the enrichment keeps the old tax estimate.
	l.ListPrice = 899000
	l.UpdatedAt = l.UpdatedAt.Add(time.Second)
	_, _, err := listings.Upsert(ctx, l)
	require.NoError(t, err)

	require.NoError(t, svc.handleListingChanged(ctx, listingChangedEvent(t, domain.DirtyPrice)))
	assert.Equal(t, 1, countTopic(b.topics(), events.TopicDataEnriched))

	// An address change bypasses the gate and re-enriches immediately.
	require.NoError(t, svc.handleListingChanged(ctx, listingChangedEvent(t, domain.DirtyAddress)))
	assert.Equal(t, 2, countTopic(b.topics(), events.TopicDataEnriched))
}
