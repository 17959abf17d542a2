package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/propsignal/backend/internal/events"
	"github.com/propsignal/backend/internal/infra"
)

// RedisBus distributes events across pods using Redis Pub/Sub. Locally
// it delegates to a LocalBus, so co-located consumer groups keep per-key
// ordering and the retry/dead-letter behavior.
//
// A channel is subscribed once per topic; incoming messages feed the
// local dispatch path so remote and local publishes are indistinguishable
// to handlers.
type RedisBus struct {
	local  *LocalBus
	pubsub infra.PubSub
	prefix string
	log    zerolog.Logger

	mu         sync.Mutex
	topicsSeen map[events.Topic]bool
	unsubFuncs []func()
}

// NewRedisBus creates a Redis-backed bus. channelPrefix namespaces the
// Redis channels, e.g. "propsignal:events:".
func NewRedisBus(pubsub infra.PubSub, channelPrefix string, log zerolog.Logger, obs Observer) *RedisBus {
	if channelPrefix == "" {
		channelPrefix = "propsignal:events:"
	}
	return &RedisBus{
		local:      NewLocalBus(log, obs),
		pubsub:     pubsub,
		prefix:     channelPrefix,
		log:        log.With().Str("component", "redis-bus").Logger(),
		topicsSeen: make(map[events.Topic]bool),
	}
}

// Publish sends the event to Redis so every pod receives it. On publish
// failure it falls back to local-only delivery.
func (b *RedisBus) Publish(ctx context.Context, ev *events.Envelope) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	channel := b.prefix + string(ev.Type)
	if err := b.pubsub.Publish(ctx, channel, data); err != nil {
		b.log.Warn().Str("topic", string(ev.Type)).Err(err).
			Msg("redis publish failed, falling back to local delivery")
		return b.local.Publish(ctx, ev)
	}
	return nil
}

// Subscribe registers the group locally and ensures a single Redis
// subscription per topic feeds the local dispatcher.
func (b *RedisBus) Subscribe(sub Subscription) (func(), error) {
	unsubLocal, err := b.local.Subscribe(sub)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.topicsSeen[sub.Topic] {
		channel := b.prefix + string(sub.Topic)
		unsub, err := b.pubsub.Subscribe(context.Background(), channel, func(data []byte) {
			var ev events.Envelope
			if err := json.Unmarshal(data, &ev); err != nil {
				b.log.Warn().Err(err).Msg("failed to unmarshal bus event")
				return
			}
			if err := b.local.Publish(context.Background(), &ev); err != nil {
				b.log.Warn().Str("topic", string(ev.Type)).Err(err).Msg("local delivery failed")
			}
		})
		if err != nil {
			b.log.Warn().Str("topic", string(sub.Topic)).Err(err).
				Msg("redis subscribe failed, local-only mode")
		} else {
			b.unsubFuncs = append(b.unsubFuncs, unsub)
			b.topicsSeen[sub.Topic] = true
		}
	}

	return unsubLocal, nil
}

// DeadLetters exposes the local dead-letter channel.
func (b *RedisBus) DeadLetters() <-chan *events.Envelope {
	return b.local.DeadLetters()
}

// Close detaches from Redis and drains local subscriptions.
func (b *RedisBus) Close(ctx context.Context) error {
	b.mu.Lock()
	for _, unsub := range b.unsubFuncs {
		unsub()
	}
	b.unsubFuncs = nil
	b.mu.Unlock()

	return b.local.Close(ctx)
}

var _ Bus = (*RedisBus)(nil)
