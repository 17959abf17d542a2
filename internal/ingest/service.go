package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/propsignal/backend/internal/bus"
	"github.com/propsignal/backend/internal/config"
	"github.com/propsignal/backend/internal/events"
	"github.com/propsignal/backend/internal/store"
)

const fetchRetries = 3

// Service is the feed ingestor. It polls the upstream feed from a
// watermark, diff-upserts normalized listings and publishes
// listing_changed for rows that actually changed.
type Service struct {
	listings store.ListingStore
	bus      bus.Bus
	feed     FeedClient
	cfg      config.IngestConfig
	log      zerolog.Logger
}

func New(listings store.ListingStore, b bus.Bus, feed FeedClient, cfg config.IngestConfig, log zerolog.Logger) *Service {
	return &Service{
		listings: listings,
		bus:      b,
		feed:     feed,
		cfg:      cfg,
		log:      log.With().Str("service", "ingest").Logger(),
	}
}

// RunOnce performs one poll cycle. The watermark advances only after
// every page processed cleanly, so a failed cycle is re-read in full;
// diff-and-bump absorbs the duplicates.
func (s *Service) RunOnce(ctx context.Context) error {
	source := s.feed.Source()
	watermark, err := s.listings.Watermark(ctx, source)
	if err != nil {
		return err
	}

	var (
		token      string
		maxUpdated = watermark
		seen       int
		published  int
	)
	for {
		page, err := s.fetchPage(ctx, watermark, token)
		if err != nil {
			return err
		}
		for _, item := range page.Items {
			n, err := s.processItem(ctx, item, source)
			if err != nil {
				return err
			}
			seen++
			published += n
		}
		for _, item := range page.Items {
			if t, err := parseFeedTime(item.UpdatedAt); err == nil && t.After(maxUpdated) {
				maxUpdated = t
			}
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}

	if maxUpdated.After(watermark) {
		if err := s.listings.SetWatermark(ctx, source, maxUpdated); err != nil {
			return err
		}
	}
	s.log.Info().
		Str("source", source).
		Int("items", seen).
		Int("events", published).
		Time("watermark", maxUpdated).
		Msg("poll cycle complete")
	return nil
}

// fetchPage retries transient fetch failures with exponential backoff.
func (s *Service) fetchPage(ctx context.Context, since time.Time, token string) (FeedPage, error) {
	var lastErr error
	for attempt := 0; attempt < fetchRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return FeedPage{}, ctx.Err()
			case <-time.After(time.Duration(1<<attempt) * 500 * time.Millisecond):
			}
		}
		page, err := s.feed.FetchUpdatedSince(ctx, since, token, s.cfg.PageSize)
		if err == nil {
			return page, nil
		}
		lastErr = err
		s.log.Warn().Err(err).Int("attempt", attempt+1).Msg("feed fetch failed")
	}
	return FeedPage{}, lastErr
}

// processItem returns the number of events published (0 or 1).
func (s *Service) processItem(ctx context.Context, item FeedItem, source string) (int, error) {
	listing, err := Normalize(item, source)
	if err != nil {
		// Malformed upstream rows are logged and skipped, never retried.
		s.log.Warn().Err(err).Str("item", item.ID).Msg("dropping malformed feed item")
		return 0, nil
	}

	prev, changed, err := s.listings.Upsert(ctx, listing)
	if err != nil {
		return 0, err
	}
	if !changed {
		return 0, nil
	}

	change, dirty := DiffListing(prev, listing)
	ev, err := events.New(events.TopicListingChanged, listing.ID, events.ListingChanged{
		ID:        listing.ID,
		UpdatedAt: listing.UpdatedAt,
		Change:    change,
		Source:    source,
		Dirty:     dirty,
	})
	if err != nil {
		return 0, err
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		return 0, err
	}
	s.log.Debug().
		Str("entity", listing.ID).
		Str("change", string(change)).
		Interface("dirty", dirty).
		Msg("listing changed")
	return 1, nil
}
