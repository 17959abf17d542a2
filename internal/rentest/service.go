package rentest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/propsignal/backend/internal/apperr"
	"github.com/propsignal/backend/internal/bus"
	"github.com/propsignal/backend/internal/config"
	"github.com/propsignal/backend/internal/debounce"
	"github.com/propsignal/backend/internal/domain"
	"github.com/propsignal/backend/internal/events"
	"github.com/propsignal/backend/internal/store"
)

// Service computes rent estimates on listing and enrichment changes.
type Service struct {
	listings    store.ListingStore
	enrichments store.EnrichmentStore
	estimates   store.RentEstimateStore
	bus         bus.Bus
	gate        *debounce.Gate
	comps       CompSource
	cfg         config.RentConfig
	log         zerolog.Logger
}

func New(
	listings store.ListingStore,
	enrichments store.EnrichmentStore,
	estimates store.RentEstimateStore,
	b bus.Bus,
	gate *debounce.Gate,
	comps CompSource,
	cfg config.RentConfig,
	log zerolog.Logger,
) *Service {
	return &Service{
		listings:    listings,
		enrichments: enrichments,
		estimates:   estimates,
		bus:         b,
		gate:        gate,
		comps:       comps,
		cfg:         cfg,
		log:         log.With().Str("service", "rentest").Logger(),
	}
}

// Subscriptions declares both consumers. listing_changed is debounced;
// data_enriched always processes because it is already change-gated
// upstream.
func (s *Service) Subscriptions() []bus.Subscription {
	return []bus.Subscription{
		{
			Topic:   events.TopicListingChanged,
			Group:   "rentest",
			Handler: s.handleListingChanged,
		},
		{
			Topic:   events.TopicDataEnriched,
			Group:   "rentest",
			Handler: s.handleDataEnriched,
		},
	}
}

func (s *Service) handleListingChanged(ctx context.Context, ev *events.Envelope) error {
	var payload events.ListingChanged
	if err := ev.Decode(&payload); err != nil {
		return apperr.Invalid("listing_changed: %v", err)
	}
	if domain.HasDirty(payload.Dirty, domain.DirtyAddress) {
		s.gate.Reset(ctx, payload.ID)
	} else if !s.gate.Allow(ctx, payload.ID) {
		s.log.Debug().Str("entity", payload.ID).Msg("debounced")
		return nil
	}
	return s.Estimate(ctx, payload.ID)
}

func (s *Service) handleDataEnriched(ctx context.Context, ev *events.Envelope) error {
	var payload events.DataEnriched
	if err := ev.Decode(&payload); err != nil {
		return apperr.Invalid("data_enriched: %v", err)
	}
	return s.Estimate(ctx, payload.ID)
}

// Estimate recomputes the rent estimate for a listing and publishes
// underwrite_requested when the estimate moved materially.
func (s *Service) Estimate(ctx context.Context, listingID string) error {
	start := time.Now()
	listing, err := s.listings.Get(ctx, listingID)
	if err != nil {
		if apperr.IsNotFound(err) {
			s.log.Warn().Str("entity", listingID).Msg("listing vanished before estimate")
			return nil
		}
		return err
	}

	estimate := s.compute(ctx, listing)
	prev, changed, err := s.estimates.Upsert(ctx, estimate)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	material := MaterialChange(prev, estimate)
	if material {
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
		Str("method", string(estimate.Method)).
		Float64("p50", estimate.P50).
		Bool("material", material).
		Dur("durationMs", time.Since(start)).
		Msg("rent estimated")
	return nil
}

// compute walks the strategy ladder: comps, then priors, then formula.
func (s *Service) compute(ctx context.Context, listing *domain.Listing) *domain.RentEstimate {
	now := time.Now().UTC()

	if s.comps != nil {
		candidates, err := s.comps.CompsNear(ctx, listing, s.cfg.MaxDistanceKm, s.cfg.MaxAgeDays)
		if err != nil {
			s.log.Warn().Err(err).Str("entity", listing.ID).Msg("comp lookup failed")
		} else if kept := FilterComps(listing, candidates, s.cfg); len(kept) >= s.cfg.MinComps {
			return estimateFromComps(listing, kept, s.cfg.EstimatorVersion, now)
		}
	}

	if enrichment, err := s.enrichments.Get(ctx, listing.ID); err == nil &&
		enrichment.RentPriors != nil && enrichment.RentPriors.Source != domain.PriorsNone {
		return estimateFromPriors(listing, enrichment.RentPriors, s.cfg.EstimatorVersion, now)
	}

	return estimateFromFormula(listing, s.cfg.EstimatorVersion, now)
}
