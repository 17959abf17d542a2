package alerts

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/propsignal/backend/internal/apperr"
	"github.com/propsignal/backend/internal/bus"
	"github.com/propsignal/backend/internal/domain"
	"github.com/propsignal/backend/internal/events"
	"github.com/propsignal/backend/internal/metrics"
	"github.com/propsignal/backend/internal/store"
	"github.com/propsignal/backend/internal/underwrite"
)

// Service matches underwriting completions against saved searches. Grid
// completions are evaluated at the reference bin the engine scored, so
// the bin is guaranteed to exist in the computed grid.
type Service struct {
	listings   store.ListingStore
	results    store.UnderwritingStore
	searches   store.SearchStore
	alerts     store.AlertStore
	bus        bus.Bus
	dispatcher *Dispatcher
	ref        underwrite.ReferenceBin
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

func New(
	listings store.ListingStore,
	results store.UnderwritingStore,
	searches store.SearchStore,
	alerts store.AlertStore,
	b bus.Bus,
	dispatcher *Dispatcher,
	ref underwrite.ReferenceBin,
	m *metrics.Metrics,
	log zerolog.Logger,
) *Service {
	return &Service{
		listings:   listings,
		results:    results,
		searches:   searches,
		alerts:     alerts,
		bus:        b,
		dispatcher: dispatcher,
		ref:        ref,
		metrics:    m,
		log:        log.With().Str("service", "alerts").Logger(),
	}
}

// Subscription declares the underwrite_completed consumer.
func (s *Service) Subscription() bus.Subscription {
	return bus.Subscription{
		Topic:   events.TopicUnderwriteCompleted,
		Group:   "alerts",
		Handler: s.handleCompleted,
	}
}

func (s *Service) handleCompleted(ctx context.Context, ev *events.Envelope) error {
	var payload events.UnderwriteCompleted
	if err := ev.Decode(&payload); err != nil {
		return apperr.Invalid("underwrite_completed: %v", err)
	}

	listing, err := s.listings.Get(ctx, payload.ID)
	if err != nil {
		if apperr.IsNotFound(err) {
			s.log.Warn().Str("entity", payload.ID).Msg("listing vanished before alert match")
			return nil
		}
		return err
	}
	snap := snapshotOf(listing)

	m, err := s.resolveMetrics(ctx, payload)
	if err != nil {
		if apperr.IsNotFound(err) {
			s.log.Warn().Str("entity", payload.ID).Str("result", payload.ResultID).
				Msg("referenced metrics missing")
			return nil
		}
		return err
	}

	searches, err := s.searches.ListActive(ctx)
	if err != nil {
		return err
	}

	fired := 0
	for i := range searches {
		search := &searches[i]
		if !MatchFilter(search.Filter, snap) {
			continue
		}
		matched, ok := MatchThresholds(search.Thresholds, *m, payload.Score)
		if !ok {
			continue
		}
		created, err := s.fire(ctx, search, snap, *m, payload, matched)
		if err != nil {
			return err
		}
		if created {
			fired++
		}
	}
	if fired > 0 {
		s.log.Info().Str("entity", payload.ID).Int("alerts", fired).Msg("alerts fired")
	}
	return nil
}

// resolveMetrics loads the metrics the completion names: the reference
// grid bin for grid results, the cached row for exact results. Grid ids
// encode the version the grid was computed for, so a stale completion
// still evaluates against its own version's rows.
func (s *Service) resolveMetrics(ctx context.Context, payload events.UnderwriteCompleted) (*domain.Metrics, error) {
	if payload.Source == "grid" {
		version, err := parseGridVersion(payload.ResultID)
		if err != nil {
			return nil, err
		}
		row, err := s.results.GetGridRow(ctx, store.GridKey{
			ListingID:      payload.ID,
			ListingVersion: version,
			RentScenario:   domain.ScenarioP50,
			DownPctBin:     s.ref.DownPct,
			RateBpsBin:     s.ref.RateBps,
			AmortMonths:    s.ref.AmortMonths,
		})
		if err != nil {
			return nil, err
		}
		return &row.Metrics, nil
	}
	result, err := s.results.GetExactByID(ctx, payload.ResultID)
	if err != nil {
		return nil, err
	}
	return &result.Metrics, nil
}

// fire upserts the alert and enqueues channel deliveries. The unique
// (userId, listingId, resultId) key makes a redelivered completion a
// no-op.
func (s *Service) fire(
	ctx context.Context,
	search *domain.SavedSearch,
	snap domain.ListingSnapshot,
	m domain.Metrics,
	payload events.UnderwriteCompleted,
	matched []string,
) (bool, error) {
	alert := &domain.Alert{
		ID:            uuid.New().String(),
		UserID:        search.UserID,
		SavedSearchID: search.ID,
		ListingID:     payload.ID,
		ResultID:      payload.ResultID,
		Payload: domain.AlertPayload{
			Snapshot: snap,
			Metrics:  m,
			Score:    payload.Score,
			Matched:  matched,
		},
		TriggeredAt: time.Now().UTC(),
	}
	for _, ch := range search.Notify.Channels {
		alert.Delivery = append(alert.Delivery, domain.ChannelDelivery{
			Channel: ch,
			State:   domain.DeliveryPending,
		})
	}

	created, err := s.alerts.Upsert(ctx, alert)
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}

	for _, ch := range search.Notify.Channels {
		if s.metrics != nil {
			s.metrics.AlertsFired.WithLabelValues(string(ch)).Inc()
		}
		ev, err := events.New(events.TopicAlertFired, alert.ListingID, events.AlertFired{
			UserID:    alert.UserID,
			ListingID: alert.ListingID,
			ResultID:  alert.ResultID,
			Channel:   ch,
		})
		if err != nil {
			return true, err
		}
		if err := s.bus.Publish(ctx, ev); err != nil {
			return true, err
		}
		s.dispatcher.Enqueue(ctx, alert, ch)
	}
	return true, nil
}

func snapshotOf(l *domain.Listing) domain.ListingSnapshot {
	return domain.ListingSnapshot{
		ListingID:    l.ID,
		City:         l.Address.City,
		Province:     l.Address.Province,
		PropertyType: l.PropertyType,
		Beds:         l.Beds,
		Baths:        l.Baths,
		Price:        l.ListPrice,
	}
}

func parseGridVersion(resultID string) (int64, error) {
	idx := strings.LastIndex(resultID, ":v")
	if !strings.HasPrefix(resultID, "grid:") || idx < 0 {
		return 0, apperr.Invalid("malformed grid result id %q", resultID)
	}
	version, err := strconv.ParseInt(resultID[idx+2:], 10, 64)
	if err != nil {
		return 0, apperr.Invalid("malformed grid result id %q", resultID)
	}
	return version, nil
}
