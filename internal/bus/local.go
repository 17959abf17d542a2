package bus

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/propsignal/backend/internal/apperr"
	"github.com/propsignal/backend/internal/events"
)

const (
	defaultMaxRetries = 3
	defaultWorkers    = 4
	defaultTimeout    = 10 * time.Second
	queueDepth        = 256
	deadLetterDepth   = 128
)

// LocalBus is the in-process implementation. Each consumer group runs a
// pool of workers; an entity key always hashes to the same worker, so
// events for one key are handled in publish order.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[events.Topic][]*groupSub
	dead   chan *events.Envelope
	closed bool
	log    zerolog.Logger
	obs    Observer
}

type groupSub struct {
	cfg    Subscription
	queues []chan *events.Envelope
	quit   chan struct{}
	wg     sync.WaitGroup
	state  atomic.Int32
}

func (g *groupSub) setState(s SubscriptionState) { g.state.Store(int32(s)) }
func (g *groupSub) getState() SubscriptionState  { return SubscriptionState(g.state.Load()) }

// NewLocalBus creates an in-process bus. obs may be nil.
func NewLocalBus(log zerolog.Logger, obs Observer) *LocalBus {
	return &LocalBus{
		subs: make(map[events.Topic][]*groupSub),
		dead: make(chan *events.Envelope, deadLetterDepth),
		log:  log.With().Str("component", "bus").Logger(),
		obs:  obs,
	}
}

// Subscribe registers a consumer group and starts its worker pool.
func (b *LocalBus) Subscribe(sub Subscription) (func(), error) {
	if sub.Handler == nil {
		return nil, ErrNoHandler
	}
	if sub.Group == "" {
		return nil, ErrNoGroup
	}
	if sub.MaxRetries <= 0 {
		sub.MaxRetries = defaultMaxRetries
	}
	if sub.Workers <= 0 {
		sub.Workers = defaultWorkers
	}
	if sub.Timeout <= 0 {
		sub.Timeout = defaultTimeout
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	for _, existing := range b.subs[sub.Topic] {
		if existing.cfg.Group == sub.Group {
			return nil, ErrAlreadyDefined
		}
	}

	gs := &groupSub{
		cfg:    sub,
		queues: make([]chan *events.Envelope, sub.Workers),
		quit:   make(chan struct{}),
	}
	gs.setState(StateStarting)
	for i := range gs.queues {
		gs.queues[i] = make(chan *events.Envelope, queueDepth)
		gs.wg.Add(1)
		go b.worker(gs, gs.queues[i])
	}
	gs.setState(StateRunning)
	b.subs[sub.Topic] = append(b.subs[sub.Topic], gs)

	b.log.Info().
		Str("topic", string(sub.Topic)).
		Str("group", sub.Group).
		Int("workers", sub.Workers).
		Msg("subscription registered")

	return func() { b.unsubscribe(sub.Topic, gs) }, nil
}

func (b *LocalBus) unsubscribe(topic events.Topic, gs *groupSub) {
	b.mu.Lock()
	list := b.subs[topic]
	for i, s := range list {
		if s == gs {
			b.subs[topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	b.drain(gs)
}

func (b *LocalBus) drain(gs *groupSub) {
	if !gs.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		return
	}
	close(gs.quit)
	gs.wg.Wait()
	gs.setState(StateClosed)
}

// Publish fans an event out to every consumer group on its topic.
func (b *LocalBus) Publish(ctx context.Context, ev *events.Envelope) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	groups := b.subs[ev.Type]
	b.mu.RUnlock()

	if b.obs != nil {
		b.obs.EventPublished(ev.Type)
	}

	for _, gs := range groups {
		if gs.getState() != StateRunning {
			continue
		}
		idx := keyIndex(ev, len(gs.queues))
		select {
		case gs.queues[idx] <- ev:
		case <-gs.quit:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// keyIndex picks the worker for an event. Events sharing a key always
// land on the same worker.
func keyIndex(ev *events.Envelope, n int) int {
	key := ev.Key
	if key == "" {
		key = ev.ID
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func (b *LocalBus) worker(gs *groupSub, q chan *events.Envelope) {
	defer gs.wg.Done()
	for {
		select {
		case ev := <-q:
			b.dispatch(gs, ev)
		case <-gs.quit:
			// Drain what is already queued, then exit.
			for {
				select {
				case ev := <-q:
					b.dispatch(gs, ev)
				default:
					return
				}
			}
		}
	}
}

func (b *LocalBus) dispatch(gs *groupSub, ev *events.Envelope) {
	start := time.Now()
	outcome := "ok"

	var err error
	for attempt := 1; attempt <= gs.cfg.MaxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), gs.cfg.Timeout)
		err = gs.cfg.Handler(ctx, ev)
		cancel()

		if err == nil {
			break
		}
		if apperr.IsNotFound(err) || apperr.IsInvalid(err) {
			// Terminal: log without retry.
			b.log.Warn().
				Str("topic", string(ev.Type)).
				Str("group", gs.cfg.Group).
				Str("entity_id", ev.Key).
				Err(err).
				Msg("event dropped")
			outcome = "dropped"
			err = nil
			break
		}
		if attempt < gs.cfg.MaxRetries {
			backoff := time.Duration(attempt) * 50 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-gs.quit:
			}
		}
	}

	if err != nil {
		outcome = "dead_letter"
		b.log.Error().
			Str("topic", string(ev.Type)).
			Str("group", gs.cfg.Group).
			Str("entity_id", ev.Key).
			Err(err).
			Msg("retries exhausted, parking event")
		if b.obs != nil {
			b.obs.EventDeadLettered(ev.Type)
		}
		select {
		case b.dead <- ev:
		default:
			b.log.Error().Str("topic", string(ev.Type)).Msg("dead-letter channel full, event lost")
		}
	}

	if b.obs != nil {
		b.obs.EventConsumed(ev.Type, gs.cfg.Group, outcome, time.Since(start))
	}
}

// DeadLetters returns the parked-event channel.
func (b *LocalBus) DeadLetters() <-chan *events.Envelope {
	return b.dead
}

// Close drains all subscriptions within the ctx deadline.
func (b *LocalBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*groupSub
	for _, list := range b.subs {
		all = append(all, list...)
	}
	b.subs = make(map[events.Topic][]*groupSub)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, gs := range all {
			b.drain(gs)
		}
		close(done)
	}()

	select {
	case <-done:
		b.log.Info().Msg("bus drained")
		return nil
	case <-ctx.Done():
		b.log.Warn().Msg("bus drain timed out, force closing")
		return ctx.Err()
	}
}

var _ Bus = (*LocalBus)(nil)
