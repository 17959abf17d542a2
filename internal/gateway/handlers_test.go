package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propsignal/backend/internal/bus"
	"github.com/propsignal/backend/internal/config"
	"github.com/propsignal/backend/internal/domain"
	"github.com/propsignal/backend/internal/events"
	"github.com/propsignal/backend/internal/metrics"
	"github.com/propsignal/backend/internal/store/memory"
	"github.com/propsignal/backend/internal/underwrite"
)

type nopBus struct{}

func (nopBus) Publish(context.Context, *events.Envelope) error { return nil }
func (nopBus) Subscribe(bus.Subscription) (func(), error)      { return func() {}, nil }
func (nopBus) DeadLetters() <-chan *events.Envelope            { return nil }
func (nopBus) Close(context.Context) error                     { return nil }

func testMetrics() *metrics.Metrics { return metrics.New(prometheus.NewRegistry()) }

type fixture struct {
	router    http.Handler
	listings  *memory.ListingStore
	estimates *memory.RentEstimateStore
	searches  *memory.SearchStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	listings := memory.NewListingStore()
	enrichments := memory.NewEnrichmentStore()
	estimates := memory.NewRentEstimateStore()
	results := memory.NewUnderwritingStore()
	searches := memory.NewSearchStore()
	alerts := memory.NewAlertStore()

	loader := underwrite.NewBaseInputsLoader(listings, enrichments, estimates, 100)
	bins := underwrite.BinsFrom(config.UnderwriteConfig{})
	uw := underwrite.New(loader, results, nopBus{}, bins, nil, zerolog.Nop())

	srv := NewServer(listings, enrichments, estimates, results, searches, alerts, uw, nil,
		[]HealthCheck{{Name: "store", Probe: func(context.Context) error { return nil }}},
		zerolog.Nop())

	cfg := config.Config{}
	cfg.Gateway.CacheTTL = 30 * time.Second
	router := Router(srv, nil, cfg, testMetrics(), zerolog.Nop())
	return &fixture{router: router, listings: listings, estimates: estimates, searches: searches}
}

func (f *fixture) seedListing(t *testing.T, id string, price float64) {
	t.Helper()
	_, _, err := f.listings.Upsert(context.Background(), &domain.Listing{
		ID: id, Status: domain.StatusActive,
		PropertyType: domain.PropertyCondo,
		Address:      domain.Address{City: "Toronto", Province: "ON", PostalCode: "M5H1A1"},
		Beds:         2, Baths: 2,
		ListPrice: price,
		UpdatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	_, _, err = f.estimates.Upsert(context.Background(), &domain.RentEstimate{
		ListingID: id, ListingVersion: 1, EstimatorVersion: "v1",
		Method: domain.RentMethodComps, P50: 4500,
		ComputedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
}

func TestHealthDegradesOnProbeFailure(t *testing.T) {
	srv := NewServer(memory.NewListingStore(), memory.NewEnrichmentStore(),
		memory.NewRentEstimateStore(), memory.NewUnderwritingStore(),
		memory.NewSearchStore(), memory.NewAlertStore(), nil, nil,
		[]HealthCheck{{Name: "db", Probe: func(context.Context) error { return errors.New("down") }}},
		zerolog.Nop())
	router := Router(srv, nil, config.Config{}, testMetrics(), zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSearchProperties(t *testing.T) {
	f := newFixture(t)
	f.seedListing(t, "L-1", 749000)
	f.seedListing(t, "L-2", 1200000)

	rec := f.do(t, http.MethodGet, "/api/v1/properties?city=Toronto&maxPrice=800000", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Listings []domain.Listing `json:"listings"`
		Total    int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Listings, 1)
	assert.Equal(t, "L-1", body.Listings[0].ID)
	assert.Equal(t, 1, body.Total)
}

func TestPropertyDetail(t *testing.T) {
	f := newFixture(t)
	f.seedListing(t, "L-1", 749000)

	rec := f.do(t, http.MethodGet, "/api/v1/properties/L-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "listing")
	assert.Contains(t, body, "rentEstimate")
}

func TestPropertyDetailNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/properties/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnderwriteEndpoint(t *testing.T) {
	f := newFixture(t)
	f.seedListing(t, "L-1", 1000000)

	body := map[string]interface{}{
		"listingId": "L-1",
		"assumptions": domain.Assumptions{
			DownPct: 0.20, RateBps: 500, AmortMonths: 360,
			RentScenario: domain.ScenarioP50,
		},
	}
	rec := f.do(t, http.MethodPost, "/api/v1/underwrite", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var outcome underwrite.ExactOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.NotEmpty(t, outcome.ResultID)
	assert.False(t, outcome.FromCache)
	assert.Greater(t, outcome.Metrics.DSCR, 0.0)

	// Same request again is served from the cache.
	rec = f.do(t, http.MethodPost, "/api/v1/underwrite", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.True(t, outcome.FromCache)
}

func TestUnderwriteRejectsBadAssumptions(t *testing.T) {
	f := newFixture(t)
	f.seedListing(t, "L-1", 1000000)

	rec := f.do(t, http.MethodPost, "/api/v1/underwrite", map[string]interface{}{
		"listingId": "L-1",
		"assumptions": domain.Assumptions{
			DownPct: 0.02, RateBps: 500, AmortMonths: 360,
			RentScenario: domain.ScenarioP50,
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnderwriteUnknownListing(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/underwrite", map[string]interface{}{
		"listingId": "ghost",
		"assumptions": domain.Assumptions{
			DownPct: 0.20, RateBps: 500, AmortMonths: 360,
			RentScenario: domain.ScenarioP50,
		},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchCRUD(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/searches", domain.SavedSearch{
		UserID: "u-1",
		Name:   "toronto condos",
		Filter: domain.SearchFilter{City: "Toronto"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created domain.SavedSearch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)

	rec = f.do(t, http.MethodGet, "/api/v1/searches/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	created.Name = "renamed"
	rec = f.do(t, http.MethodPut, "/api/v1/searches/"+created.ID, created)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/searches?userId=u-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Searches []domain.SavedSearch `json:"searches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Searches, 1)
	assert.Equal(t, "renamed", list.Searches[0].Name)

	rec = f.do(t, http.MethodDelete, "/api/v1/searches/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/searches/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSearchesRequiresUserID(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/searches", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimiterRejectsAfterLimit(t *testing.T) {
	f := newFixture(t)
	cfg := config.Config{}
	cfg.Features.RateLimitEnabled = true
	cfg.Gateway.RateLimit = 3
	cfg.Gateway.RateLimitWindow = time.Minute

	srv := NewServer(f.listings, memory.NewEnrichmentStore(), f.estimates,
		memory.NewUnderwritingStore(), f.searches, memory.NewAlertStore(), nil, nil,
		nil, zerolog.Nop())
	limited := Router(srv, nil, cfg, testMetrics(), zerolog.Nop())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/properties", nil)
		req.RemoteAddr = "10.0.0.9:1234"
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, fmt.Sprintf("request %d under the limit", i+1))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/properties", nil)
	req.RemoteAddr = "10.0.0.9:1234"
	rec := httptest.NewRecorder()
	limited.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// A different client is unaffected.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/properties", nil)
	req.RemoteAddr = "10.0.0.10:1234"
	rec = httptest.NewRecorder()
	limited.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
