package underwrite

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/propsignal/backend/internal/apperr"
	"github.com/propsignal/backend/internal/bus"
	"github.com/propsignal/backend/internal/domain"
	"github.com/propsignal/backend/internal/events"
	"github.com/propsignal/backend/internal/metrics"
	"github.com/propsignal/backend/internal/store"
)

// ExactOutcome is the result of an exact underwrite.
type ExactOutcome struct {
	ResultID  string         `json:"resultId"`
	Metrics   domain.Metrics `json:"metrics"`
	FromCache bool           `json:"fromCache"`
}

// Service is the underwriting engine.
type Service struct {
	loader  *BaseInputsLoader
	results store.UnderwritingStore
	bus     bus.Bus
	afs     *AFCache
	bins    Bins
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func New(
	loader *BaseInputsLoader,
	results store.UnderwritingStore,
	b bus.Bus,
	bins Bins,
	m *metrics.Metrics,
	log zerolog.Logger,
) *Service {
	return &Service{
		loader:  loader,
		results: results,
		bus:     b,
		afs:     NewAFCache(),
		bins:    bins,
		metrics: m,
		log:     log.With().Str("service", "underwrite").Logger(),
	}
}

// Subscriptions declares both consumers.
func (s *Service) Subscriptions() []bus.Subscription {
	return []bus.Subscription{
		{
			Topic:   events.TopicUnderwriteRequested,
			Group:   "underwrite",
			Handler: s.handleRequested,
		},
		{
			Topic:   events.TopicListingChanged,
			Group:   "underwrite",
			Handler: s.handleListingChanged,
		},
	}
}

func (s *Service) handleRequested(ctx context.Context, ev *events.Envelope) error {
	var payload events.UnderwriteRequested
	if err := ev.Decode(&payload); err != nil {
		return apperr.Invalid("underwrite_requested: %v", err)
	}

	if payload.AssumptionsID == "" {
		return s.runGrid(ctx, payload.ID)
	}

	set, err := s.results.GetAssumptionSet(ctx, payload.AssumptionsID)
	if err != nil {
		if apperr.IsNotFound(err) {
			s.log.Warn().Str("entity", payload.ID).Str("assumptionsId", payload.AssumptionsID).
				Msg("assumption set not found")
			return nil
		}
		return err
	}
	outcome, err := s.ComputeExact(ctx, payload.ID, set.Assumptions)
	if err != nil {
		if apperr.IsNotFound(err) || apperr.IsInvalid(err) {
			s.log.Warn().Err(err).Str("entity", payload.ID).Msg("exact underwrite skipped")
			return nil
		}
		return err
	}
	score := Score(outcome.Metrics)
	return s.publishCompleted(ctx, payload.ID, outcome.ResultID, "exact", &score)
}

// handleListingChanged recomputes the grid only for financially relevant
// changes.
func (s *Service) handleListingChanged(ctx context.Context, ev *events.Envelope) error {
	var payload events.ListingChanged
	if err := ev.Decode(&payload); err != nil {
		return apperr.Invalid("listing_changed: %v", err)
	}
	if !domain.HasDirty(payload.Dirty, domain.FinancialDirtyFields...) {
		return nil
	}
	return s.runGrid(ctx, payload.ID)
}

func (s *Service) runGrid(ctx context.Context, listingID string) error {
	resultID, score, err := s.ComputeGrid(ctx, listingID)
	if err != nil {
		if apperr.IsNotFound(err) {
			// Base inputs missing: the listing recomputes once enrichment
			// and the rent estimator catch up.
			s.log.Info().Str("entity", listingID).Msg("base inputs not ready, skipping grid")
			return nil
		}
		return err
	}
	return s.publishCompleted(ctx, listingID, resultID, "grid", score)
}

// ComputeGrid evaluates the full bin grid for the listing's current
// version and bulk-upserts the rows. Re-running against identical base
// inputs rewrites identical rows.
func (s *Service) ComputeGrid(ctx context.Context, listingID string) (string, *float64, error) {
	start := time.Now()
	base, err := s.loader.Load(ctx, listingID)
	if err != nil {
		return "", nil, err
	}
	if err := ctx.Err(); err != nil {
		return "", nil, apperr.Transient(err)
	}

	rows := ComputeGrid(base, s.bins, s.afs)
	if err := s.results.UpsertGridRows(ctx, rows); err != nil {
		return "", nil, err
	}
	if s.metrics != nil {
		s.metrics.GridRowsWritten.Add(float64(len(rows)))
		s.metrics.GridDuration.Observe(time.Since(start).Seconds())
	}

	resultID := GridResultID(base.ListingID, base.ListingVersion)
	score := s.referenceScore(base)
	s.log.Info().
		Str("entity", listingID).
		Int64("listingVersion", base.ListingVersion).
		Int("rows", len(rows)).
		Dur("durationMs", time.Since(start)).
		Msg("grid computed")
	return resultID, score, nil
}

// GridResultID is the deterministic id carried by grid-sourced
// underwrite_completed events.
func GridResultID(listingID string, listingVersion int64) string {
	return fmt.Sprintf("grid:%s:v%d", listingID, listingVersion)
}

// referenceScore scores the canonical reference bin (P50 rent, 20% down,
// mid-range rate, 360 months) so grid completions carry a comparable
// headline number.
func (s *Service) referenceScore(base domain.BaseInputs) *float64 {
	if len(s.bins.RateBps) == 0 {
		return nil
	}
	ref := s.bins.Reference()
	m := ComputeMetrics(base, domain.Assumptions{
		DownPct:      ref.DownPct,
		RateBps:      ref.RateBps,
		AmortMonths:  ref.AmortMonths,
		RentScenario: domain.ScenarioP50,
	}, s.afs.Get(ref.RateBps, ref.AmortMonths))
	score := Score(m)
	return &score
}

// ComputeExact validates, hashes and serves the assumptions from the
// content-addressed cache, computing and inserting on miss.
func (s *Service) ComputeExact(ctx context.Context, listingID string, a domain.Assumptions) (*ExactOutcome, error) {
	if err := ValidateAssumptions(a); err != nil {
		return nil, err
	}
	base, err := s.loader.Load(ctx, listingID)
	if err != nil {
		return nil, err
	}
	hash, err := CanonicalHash(a)
	if err != nil {
		return nil, err
	}

	if cached, err := s.results.GetExact(ctx, listingID, base.ListingVersion, hash); err == nil {
		if s.metrics != nil {
			s.metrics.RecordExactCache(true)
		}
		return &ExactOutcome{ResultID: cached.ResultID, Metrics: cached.Metrics, FromCache: true}, nil
	} else if !apperr.IsNotFound(err) {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, apperr.Transient(err)
	}
	m := ComputeMetrics(base, a, s.afs.Get(a.RateBps, a.AmortMonths))
	// A lost insert race still returns the winner's id; the metrics are
	// identical by construction.
	resultID, _, err := s.results.InsertExact(ctx, &domain.ExactResult{
		ListingID:       listingID,
		ListingVersion:  base.ListingVersion,
		AssumptionsHash: hash,
		Metrics:         m,
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordExactCache(false)
	}
	return &ExactOutcome{ResultID: resultID, Metrics: m, FromCache: false}, nil
}

func (s *Service) publishCompleted(ctx context.Context, listingID, resultID, source string, score *float64) error {
	if err := ctx.Err(); err != nil {
		// A cancelled handler must not announce completion.
		return apperr.Transient(err)
	}
	ev, err := events.New(events.TopicUnderwriteCompleted, listingID, events.UnderwriteCompleted{
		ID:       listingID,
		ResultID: resultID,
		Source:   source,
		Score:    score,
	})
	if err != nil {
		return err
	}
	return s.bus.Publish(ctx, ev)
}
