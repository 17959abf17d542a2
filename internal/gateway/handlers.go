package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/propsignal/backend/internal/apperr"
	"github.com/propsignal/backend/internal/domain"
	"github.com/propsignal/backend/internal/store"
	"github.com/propsignal/backend/internal/underwrite"
)

const maxPageSize = 100

// Underwriter is the synchronous exact-underwrite surface the gateway
// forwards to.
type Underwriter interface {
	ComputeExact(ctx context.Context, listingID string, a domain.Assumptions) (*underwrite.ExactOutcome, error)
}

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Server holds the gateway's dependency set.
type Server struct {
	listings    store.ListingStore
	enrichments store.EnrichmentStore
	estimates   store.RentEstimateStore
	results     store.UnderwritingStore
	searches    store.SearchStore
	alerts      store.AlertStore
	underwriter Underwriter
	cache       *ResponseCache
	checks      []HealthCheck
	log         zerolog.Logger
}

func NewServer(
	listings store.ListingStore,
	enrichments store.EnrichmentStore,
	estimates store.RentEstimateStore,
	results store.UnderwritingStore,
	searches store.SearchStore,
	alerts store.AlertStore,
	underwriter Underwriter,
	cache *ResponseCache,
	checks []HealthCheck,
	log zerolog.Logger,
) *Server {
	return &Server{
		listings:    listings,
		enrichments: enrichments,
		estimates:   estimates,
		results:     results,
		searches:    searches,
		alerts:      alerts,
		underwriter: underwriter,
		cache:       cache,
		checks:      checks,
		log:         log.With().Str("service", "gateway").Logger(),
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encoding response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= 500 {
		s.log.Error().Err(err).Msg("request failed")
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleHealth probes every dependency; any failure degrades to 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]string, len(s.checks))
	for _, check := range s.checks {
		if err := check.Probe(ctx); err != nil {
			components[check.Name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			components[check.Name] = "ok"
		}
	}
	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}
	s.writeJSON(w, status, map[string]interface{}{
		"status":     state,
		"components": components,
	})
}

func (s *Server) handleSearchProperties(w http.ResponseWriter, r *http.Request) {
	key := Fingerprint(r.URL.Path, r.URL.Query())
	if body := s.cache.Get(r.Context(), key); body != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
		return
	}

	q, err := parseListingQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	items, total, err := s.listings.Search(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if items == nil {
		items = []domain.Listing{}
	}
	body, err := json.Marshal(map[string]interface{}{
		"listings": items,
		"total":    total,
		"offset":   q.Offset,
		"limit":    q.Limit,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.cache.Put(r.Context(), key, body)
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// handlePropertyDetail composes listing + enrichment + rent estimate +
// underwriting + recent alerts.
func (s *Server) handlePropertyDetail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	key := Fingerprint(r.URL.Path, r.URL.Query())
	if body := s.cache.Get(r.Context(), key); body != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
		return
	}

	listing, err := s.listings.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	detail := map[string]interface{}{"listing": listing}
	if enrichment, err := s.enrichments.Get(r.Context(), id); err == nil {
		detail["enrichment"] = enrichment
	}
	if estimate, err := s.estimates.Get(r.Context(), id); err == nil {
		detail["rentEstimate"] = estimate
	}
	if results, err := s.results.ListExactByListing(r.Context(), id, listing.ListingVersion); err == nil && len(results) > 0 {
		detail["underwriting"] = results
	} else {
		detail["underwriting"] = []domain.ExactResult{}
	}
	if alerts, err := s.alerts.ListByListing(r.Context(), id, 20); err == nil && len(alerts) > 0 {
		detail["alerts"] = alerts
	} else {
		detail["alerts"] = []domain.Alert{}
	}

	body, err := json.Marshal(detail)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.cache.Put(r.Context(), key, body)
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (s *Server) handleUnderwrite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ListingID   string             `json:"listingId"`
		Assumptions domain.Assumptions `json:"assumptions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.Invalid("malformed body: %v", err))
		return
	}
	if req.ListingID == "" {
		s.writeError(w, apperr.Invalid("listingId required"))
		return
	}

	outcome, err := s.underwriter.ComputeExact(r.Context(), req.ListingID, req.Assumptions)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleGridRow(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	version, err := strconv.ParseInt(q.Get("listingVersion"), 10, 64)
	if err != nil {
		s.writeError(w, apperr.Invalid("listingVersion required"))
		return
	}
	downPct, err := strconv.ParseFloat(q.Get("downPct"), 64)
	if err != nil {
		s.writeError(w, apperr.Invalid("downPct required"))
		return
	}
	rateBps, err := strconv.Atoi(q.Get("rateBps"))
	if err != nil {
		s.writeError(w, apperr.Invalid("rateBps required"))
		return
	}
	amort, err := strconv.Atoi(q.Get("amortMonths"))
	if err != nil {
		s.writeError(w, apperr.Invalid("amortMonths required"))
		return
	}

	row, err := s.results.GetGridRow(r.Context(), store.GridKey{
		ListingID:      q.Get("listingId"),
		ListingVersion: version,
		RentScenario:   domain.RentScenario(q.Get("rentScenario")),
		DownPctBin:     underwrite.RoundDownPct(downPct),
		RateBpsBin:     rateBps,
		AmortMonths:    amort,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleCreateSearch(w http.ResponseWriter, r *http.Request) {
	var search domain.SavedSearch
	if err := json.NewDecoder(r.Body).Decode(&search); err != nil {
		s.writeError(w, apperr.Invalid("malformed body: %v", err))
		return
	}
	if search.UserID == "" {
		s.writeError(w, apperr.Invalid("userId required"))
		return
	}
	search.ID = uuid.New().String()
	search.IsActive = true
	search.CreatedAt = time.Now().UTC()

	if err := s.searches.Create(r.Context(), &search); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, search)
}

func (s *Server) handleGetSearch(w http.ResponseWriter, r *http.Request) {
	search, err := s.searches.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, search)
}

func (s *Server) handleUpdateSearch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	existing, err := s.searches.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var update domain.SavedSearch
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.writeError(w, apperr.Invalid("malformed body: %v", err))
		return
	}
	update.ID = existing.ID
	update.CreatedAt = existing.CreatedAt
	if update.UserID == "" {
		update.UserID = existing.UserID
	}

	if err := s.searches.Update(r.Context(), &update); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, update)
}

func (s *Server) handleDeleteSearch(w http.ResponseWriter, r *http.Request) {
	if err := s.searches.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSearches(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		s.writeError(w, apperr.Invalid("userId required"))
		return
	}
	searches, err := s.searches.ListByUser(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if searches == nil {
		searches = []domain.SavedSearch{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"searches": searches})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		s.writeError(w, apperr.Invalid("userId required"))
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	alerts, err := s.alerts.ListByUser(r.Context(), userID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

func parseListingQuery(r *http.Request) (store.ListingQuery, error) {
	q := r.URL.Query()
	out := store.ListingQuery{
		City:         q.Get("city"),
		Province:     q.Get("province"),
		PropertyType: domain.PropertyType(q.Get("propertyType")),
		Status:       domain.ListingStatus(q.Get("status")),
		Limit:        25,
	}

	intPtr := func(name string) (*int, error) {
		v := q.Get(name)
		if v == "" {
			return nil, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, apperr.Invalid("%s must be an integer", name)
		}
		return &n, nil
	}
	floatPtr := func(name string) (*float64, error) {
		v := q.Get(name)
		if v == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, apperr.Invalid("%s must be a number", name)
		}
		return &f, nil
	}

	var err error
	if out.MinBeds, err = intPtr("minBeds"); err != nil {
		return out, err
	}
	if out.MaxBeds, err = intPtr("maxBeds"); err != nil {
		return out, err
	}
	if out.MinPrice, err = floatPtr("minPrice"); err != nil {
		return out, err
	}
	if out.MaxPrice, err = floatPtr("maxPrice"); err != nil {
		return out, err
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return out, apperr.Invalid("limit must be a positive integer")
		}
		if n > maxPageSize {
			n = maxPageSize
		}
		out.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return out, apperr.Invalid("offset must be a non-negative integer")
		}
		out.Offset = n
	}
	return out, nil
}
