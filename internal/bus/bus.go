// Package bus provides topic pub/sub with at-least-once delivery per
// consumer group. Ordering is guaranteed per entity key within a
// subscription; cross-key ordering is not. Exactly-once semantics come
// from downstream idempotency, not from the bus.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/propsignal/backend/internal/events"
)

// Handler processes one event. Returning a transient error triggers a
// bounded retry; other errors are logged and dropped.
type Handler func(ctx context.Context, ev *events.Envelope) error

// SubscriptionState tracks a subscription's lifecycle.
type SubscriptionState int32

const (
	StateStarting SubscriptionState = iota
	StateRunning
	StateDraining
	StateClosed
)

func (s SubscriptionState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return "closed"
	}
}

// Subscription declares a topic consumer as data: topic, consumer group,
// handler, and retry policy.
type Subscription struct {
	Topic      events.Topic
	Group      string
	Handler    Handler
	MaxRetries int           // bounded retries for transient errors; default 3
	Workers    int           // per-key-serialized worker count; default 4
	Timeout    time.Duration // per-delivery handler deadline; default 10s
}

// Bus is the transport contract. LocalBus serves single-process
// deployments; RedisBus distributes across pods.
type Bus interface {
	// Publish sends an event to every consumer group subscribed to its
	// topic.
	Publish(ctx context.Context, ev *events.Envelope) error

	// Subscribe registers a consumer group handler. Returns an
	// unsubscribe function that drains the group's in-flight work.
	Subscribe(sub Subscription) (unsubscribe func(), err error)

	// DeadLetters exposes events that exhausted their retries.
	DeadLetters() <-chan *events.Envelope

	// Close drains in-flight handlers until ctx expires, then force
	// closes.
	Close(ctx context.Context) error
}

// Observer receives bus telemetry. The prometheus metrics struct
// implements it; a nil observer is valid.
type Observer interface {
	EventPublished(topic events.Topic)
	EventConsumed(topic events.Topic, group, outcome string, elapsed time.Duration)
	EventDeadLettered(topic events.Topic)
}

var (
	ErrBusClosed      = errors.New("event bus is closed")
	ErrNoHandler      = errors.New("subscription requires a handler")
	ErrNoGroup        = errors.New("subscription requires a consumer group")
	ErrAlreadyDefined = errors.New("consumer group already subscribed to topic")
)
