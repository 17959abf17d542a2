package alerts

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/propsignal/backend/internal/domain"
	"github.com/propsignal/backend/internal/store"
)

const sweepBatch = 100

// Sweep re-enqueues failed channel deliveries. It runs on the cron
// schedule and gives up on a channel after maxAttempts.
type Sweep struct {
	alerts      store.AlertStore
	dispatcher  *Dispatcher
	maxAttempts int
	log         zerolog.Logger
}

func NewSweep(alerts store.AlertStore, dispatcher *Dispatcher, log zerolog.Logger) *Sweep {
	return &Sweep{
		alerts:      alerts,
		dispatcher:  dispatcher,
		maxAttempts: 5,
		log:         log.With().Str("service", "alerts.sweep").Logger(),
	}
}

// Run performs one sweep pass.
func (s *Sweep) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	failed, err := s.alerts.ListFailedDeliveries(ctx, sweepBatch)
	if err != nil {
		s.log.Error().Err(err).Msg("listing failed deliveries")
		return
	}

	retried := 0
	for i := range failed {
		alert := &failed[i]
		for _, d := range alert.Delivery {
			if d.State != domain.DeliveryFailed {
				continue
			}
			if d.Attempts >= s.maxAttempts {
				continue
			}
			s.dispatcher.Enqueue(ctx, alert, d.Channel)
			retried++
		}
	}
	if retried > 0 {
		s.log.Info().Int("deliveries", retried).Msg("retry sweep enqueued")
	}
}
