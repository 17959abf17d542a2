package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/propsignal/backend/internal/domain"
	"github.com/propsignal/backend/internal/metrics"
	"github.com/propsignal/backend/internal/store"
)

const (
	dispatchWorkers = 4
	dispatchDepth   = 256
	sendTimeout     = 5 * time.Second
)

type dispatchJob struct {
	alert   *domain.Alert
	channel domain.Channel
}

// Dispatcher fans alert deliveries out to per-channel senders through a
// bounded worker pool. Outcomes land on the alert's per-channel delivery
// state; failures are retried by the sweep, never lost.
type Dispatcher struct {
	alerts  store.AlertStore
	senders map[domain.Channel]Sender
	jobs    chan dispatchJob
	metrics *metrics.Metrics
	log     zerolog.Logger

	wg   sync.WaitGroup
	once sync.Once
}

func NewDispatcher(alerts store.AlertStore, senders []Sender, m *metrics.Metrics, log zerolog.Logger) *Dispatcher {
	byChannel := make(map[domain.Channel]Sender, len(senders))
	for _, s := range senders {
		byChannel[s.Channel()] = s
	}
	d := &Dispatcher{
		alerts:  alerts,
		senders: byChannel,
		jobs:    make(chan dispatchJob, dispatchDepth),
		metrics: m,
		log:     log.With().Str("service", "alerts.dispatch").Logger(),
	}
	for i := 0; i < dispatchWorkers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Enqueue queues one channel delivery. Dispatch is not awaited; a full
// queue marks the channel failed so the sweep picks it up.
func (d *Dispatcher) Enqueue(ctx context.Context, alert *domain.Alert, channel domain.Channel) {
	select {
	case d.jobs <- dispatchJob{alert: alert, channel: channel}:
	default:
		d.log.Warn().Str("alert", alert.ID).Str("channel", string(channel)).
			Msg("dispatch queue full")
		d.record(ctx, alert.ID, channel, domain.DeliveryFailed, "dispatch queue full")
	}
}

// Close stops the workers after the queue drains.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.jobs) })
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.jobs {
		d.deliver(job)
	}
}

func (d *Dispatcher) deliver(job dispatchJob) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	sender, ok := d.senders[job.channel]
	if !ok {
		d.record(ctx, job.alert.ID, job.channel, domain.DeliveryFailed, "no sender for channel")
		return
	}

	err := sender.Send(ctx, job.alert)
	if d.metrics != nil {
		d.metrics.RecordAlertDelivery(string(job.channel), err == nil)
	}
	if err != nil {
		d.log.Warn().Err(err).Str("alert", job.alert.ID).Str("channel", string(job.channel)).
			Msg("delivery failed")
		d.record(ctx, job.alert.ID, job.channel, domain.DeliveryFailed, err.Error())
		return
	}
	d.record(ctx, job.alert.ID, job.channel, domain.DeliveryDelivered, "")
}

func (d *Dispatcher) record(ctx context.Context, alertID string, channel domain.Channel, state domain.DeliveryState, lastError string) {
	if err := d.alerts.UpdateDelivery(ctx, alertID, channel, state, lastError); err != nil {
		d.log.Error().Err(err).Str("alert", alertID).Msg("recording delivery state failed")
	}
}
