package enrich

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/propsignal/backend/internal/apperr"
	"github.com/propsignal/backend/internal/bus"
	"github.com/propsignal/backend/internal/debounce"
	"github.com/propsignal/backend/internal/domain"
	"github.com/propsignal/backend/internal/events"
	"github.com/propsignal/backend/internal/store"
)

// Version stamps the enrichment logic revision on every row. Bump it
// when derivation rules change so rows recompute on the next event.
const Version = "enrich-v1"

// Service derives enrichment rows from listing_changed events.
type Service struct {
	listings    store.ListingStore
	enrichments store.EnrichmentStore
	bus         bus.Bus
	gate        *debounce.Gate
	geocoder    Geocoder
	scores      ScoreProvider
	priors      PriorsProvider
	log         zerolog.Logger
}

func New(
	listings store.ListingStore,
	enrichments store.EnrichmentStore,
	b bus.Bus,
	gate *debounce.Gate,
	geocoder Geocoder,
	scores ScoreProvider,
	priors PriorsProvider,
	log zerolog.Logger,
) *Service {
	return &Service{
		listings:    listings,
		enrichments: enrichments,
		bus:         b,
		gate:        gate,
		geocoder:    geocoder,
		scores:      scores,
		priors:      priors,
		log:         log.With().Str("service", "enrich").Logger(),
	}
}

// Subscription declares the listing_changed consumer.
func (s *Service) Subscription() bus.Subscription {
	return bus.Subscription{
		Topic:   events.TopicListingChanged,
		Group:   "enrich",
		Handler: s.handleListingChanged,
	}
}

func (s *Service) handleListingChanged(ctx context.Context, ev *events.Envelope) error {
	var payload events.ListingChanged
	if err := ev.Decode(&payload); err != nil {
		return apperr.Invalid("listing_changed: %v", err)
	}

	// Address changes bypass the debounce window: stale coordinates
	// poison every downstream sub-object.
	if domain.HasDirty(payload.Dirty, domain.DirtyAddress) {
		s.gate.Reset(ctx, payload.ID)
	} else if !s.gate.Allow(ctx, payload.ID) {
		s.log.Debug().Str("entity", payload.ID).Msg("debounced")
		return nil
	}

	return s.Enrich(ctx, payload.ID, payload.Dirty)
}

// Enrich recomputes the enrichment row for a listing and publishes
// data_enriched when it changed. Each provider call is best-effort; a
// failure drops that sub-object only.
func (s *Service) Enrich(ctx context.Context, listingID string, dirty []domain.DirtyField) error {
	start := time.Now()
	listing, err := s.listings.Get(ctx, listingID)
	if err != nil {
		if apperr.IsNotFound(err) {
			s.log.Warn().Str("entity", listingID).Msg("listing vanished before enrichment")
			return nil
		}
		return err
	}

	e := &domain.Enrichment{
		ListingID:         listing.ID,
		ListingVersion:    listing.ListingVersion,
		EnrichmentVersion: Version,
		ComputedAt:        time.Now().UTC(),
	}
	e.Geo = s.resolveGeo(ctx, listing)
	e.Taxes = s.resolveTaxes(listing)
	e.Fees = CheckFees(listing)
	e.CostRules = CostRulesFor(listing)
	if e.Geo != nil {
		if scores, err := s.scores.Scores(ctx, e.Geo.Lat, e.Geo.Lng); err == nil {
			e.LocationScores = scores
		} else {
			s.log.Warn().Err(err).Str("entity", listing.ID).Msg("score lookup failed")
		}
	}
	if priors, err := s.priors.Priors(ctx, listing.Address.City, listing.Address.FSA(), listing.Beds, listing.PropertyType); err == nil {
		e.RentPriors = priors
	} else if !apperr.IsNotFound(err) {
		s.log.Warn().Err(err).Str("entity", listing.ID).Msg("priors lookup failed")
	}

	changedTypes, err := s.enrichments.Upsert(ctx, e)
	if err != nil {
		return err
	}
	if len(changedTypes) == 0 {
		return nil
	}

	ev, err := events.New(events.TopicDataEnriched, listing.ID, events.DataEnriched{
		ID:              listing.ID,
		EnrichmentTypes: changedTypes,
		UpdatedAt:       e.ComputedAt,
	})
	if err != nil {
		return err
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		return err
	}

	if s.shouldRequestUnderwrite(changedTypes, dirty) {
		req, err := events.New(events.TopicUnderwriteRequested, listing.ID, events.UnderwriteRequested{ID: listing.ID})
		if err != nil {
			return err
		}
		if err := s.bus.Publish(ctx, req); err != nil {
			return err
		}
	}

	s.log.Info().
		Str("entity", listing.ID).
		Strs("changed", changedTypes).
		Dur("durationMs", time.Since(start)).
		Msg("enriched")
	return nil
}

func (s *Service) resolveGeo(ctx context.Context, l *domain.Listing) *domain.Geo {
	if l.Address.Lat != nil && l.Address.Lng != nil {
		return &domain.Geo{
			Lat:    *l.Address.Lat,
			Lng:    *l.Address.Lng,
			FSA:    l.Address.FSA(),
			Source: domain.GeoFromListing,
		}
	}
	lat, lng, hood, err := s.geocoder.Geocode(ctx, l.Address)
	if err != nil {
		if !apperr.IsNotFound(err) {
			s.log.Warn().Err(err).Str("entity", l.ID).Msg("geocode failed")
		}
		return nil
	}
	return &domain.Geo{
		Lat:          lat,
		Lng:          lng,
		FSA:          l.Address.FSA(),
		Neighborhood: hood,
		Source:       domain.GeoFromGeocoder,
	}
}

func (s *Service) resolveTaxes(l *domain.Listing) *domain.TaxEstimate {
	if l.TaxesAnnual != nil && *l.TaxesAnnual > 0 {
		return &domain.TaxEstimate{AnnualEstimate: *l.TaxesAnnual, Method: domain.TaxExact}
	}
	est := EstimateAnnualTax(l.Address.City, l.Address.Province, l.ListPrice)
	return &est
}

// shouldRequestUnderwrite holds when a financially relevant sub-object
// changed and the triggering listing change touched financial fields.
func (s *Service) shouldRequestUnderwrite(changedTypes []string, dirty []domain.DirtyField) bool {
	financial := false
	for _, t := range changedTypes {
		switch t {
		case "taxes", "fees", "rentPriors", "geo":
			financial = true
		}
	}
	return financial && domain.HasDirty(dirty, domain.FinancialDirtyFields...)
}
