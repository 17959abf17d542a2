package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propsignal/backend/internal/apperr"
	"github.com/propsignal/backend/internal/events"
)

func newTestBus(t *testing.T) *LocalBus {
	t.Helper()
	b := NewLocalBus(zerolog.Nop(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.Close(ctx)
	})
	return b
}

func mustEvent(t *testing.T, topic events.Topic, key string) *events.Envelope {
	t.Helper()
	ev, err := events.New(topic, key, map[string]string{"id": key})
	require.NoError(t, err)
	return ev
}

func TestLocalBusDeliversToEveryGroup(t *testing.T) {
	b := newTestBus(t)
	got := make(chan string, 4)

	for _, group := range []string{"alpha", "beta"} {
		group := group
		_, err := b.Subscribe(Subscription{
			Topic: events.TopicListingChanged,
			Group: group,
			Handler: func(context.Context, *events.Envelope) error {
				got <- group
				return nil
			},
		})
		require.NoError(t, err)
	}

	require.NoError(t, b.Publish(context.Background(), mustEvent(t, events.TopicListingChanged, "L-1")))

	seen := map[string]int{}
	for i := 0; i < 2; i++ {
		select {
		case g := <-got:
			seen[g]++
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}
	assert.Equal(t, map[string]int{"alpha": 1, "beta": 1}, seen)
}

func TestLocalBusRetriesTransientThenSucceeds(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})
	_, err := b.Subscribe(Subscription{
		Topic:      events.TopicUnderwriteRequested,
		Group:      "engine",
		MaxRetries: 3,
		Handler: func(context.Context, *events.Envelope) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts < 3 {
				return apperr.Transient(errors.New("db deadlock"))
			}
			close(done)
			return nil
		},
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), mustEvent(t, events.TopicUnderwriteRequested, "L-2")))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never succeeded")
	}
	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()
}

func TestLocalBusDeadLettersAfterExhaustedRetries(t *testing.T) {
	b := newTestBus(t)

	_, err := b.Subscribe(Subscription{
		Topic:      events.TopicDataEnriched,
		Group:      "rentest",
		MaxRetries: 2,
		Handler: func(context.Context, *events.Envelope) error {
			return apperr.Transient(errors.New("redis down"))
		},
	})
	require.NoError(t, err)

	ev := mustEvent(t, events.TopicDataEnriched, "L-3")
	require.NoError(t, b.Publish(context.Background(), ev))

	select {
	case dead := <-b.DeadLetters():
		assert.Equal(t, ev.ID, dead.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("event never dead-lettered")
	}
}

func TestLocalBusDropsTerminalErrorsWithoutRetry(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	attempts := 0
	_, err := b.Subscribe(Subscription{
		Topic:      events.TopicListingChanged,
		Group:      "enrich",
		MaxRetries: 3,
		Handler: func(context.Context, *events.Envelope) error {
			mu.Lock()
			attempts++
			mu.Unlock()
			return apperr.NotFound("listing gone")
		},
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), mustEvent(t, events.TopicListingChanged, "L-4")))
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, attempts, "terminal errors must not be retried")
	mu.Unlock()
	select {
	case <-b.DeadLetters():
		t.Fatal("terminal errors must not dead-letter")
	default:
	}
}

func TestLocalBusPerKeyOrdering(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	order := make(map[string][]int)
	total := 0
	done := make(chan struct{})

	_, err := b.Subscribe(Subscription{
		Topic:   events.TopicListingChanged,
		Group:   "ordered",
		Workers: 4,
		Handler: func(_ context.Context, ev *events.Envelope) error {
			var payload struct {
				Seq int `json:"seq"`
			}
			if err := ev.Decode(&payload); err != nil {
				return err
			}
			mu.Lock()
			order[ev.Key] = append(order[ev.Key], payload.Seq)
			total++
			if total == 30 {
				close(done)
			}
			mu.Unlock()
			return nil
		},
	})
	require.NoError(t, err)

	keys := []string{"L-a", "L-b", "L-c"}
	for seq := 0; seq < 10; seq++ {
		for _, key := range keys {
			ev, err := events.New(events.TopicListingChanged, key, map[string]int{"seq": seq})
			require.NoError(t, err)
			require.NoError(t, b.Publish(context.Background(), ev))
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, key := range keys {
		require.Len(t, order[key], 10)
		for i, seq := range order[key] {
			assert.Equal(t, i, seq, "key %s processed out of order", key)
		}
	}
}

func TestLocalBusSubscribeValidation(t *testing.T) {
	b := newTestBus(t)

	_, err := b.Subscribe(Subscription{Topic: events.TopicAlertFired, Group: "g"})
	assert.ErrorIs(t, err, ErrNoHandler)

	handler := func(context.Context, *events.Envelope) error { return nil }
	_, err = b.Subscribe(Subscription{Topic: events.TopicAlertFired, Handler: handler})
	assert.ErrorIs(t, err, ErrNoGroup)

	_, err = b.Subscribe(Subscription{Topic: events.TopicAlertFired, Group: "g", Handler: handler})
	require.NoError(t, err)
	_, err = b.Subscribe(Subscription{Topic: events.TopicAlertFired, Group: "g", Handler: handler})
	assert.ErrorIs(t, err, ErrAlreadyDefined)
}

func TestLocalBusCloseRejectsFurtherPublishes(t *testing.T) {
	b := NewLocalBus(zerolog.Nop(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.Close(ctx))

	err := b.Publish(context.Background(), mustEvent(t, events.TopicListingChanged, "L-9"))
	assert.ErrorIs(t, err, ErrBusClosed)
}
