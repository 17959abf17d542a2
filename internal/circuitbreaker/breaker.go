// Package circuitbreaker guards outbound provider calls: repeated
// failures open the circuit and short-circuit further calls until a
// probe succeeds.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State of the breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without invoking the call while the circuit is
// open. Callers treat it as a transient delivery failure.
var ErrOpen = errors.New("circuit open")

// Config tunes one breaker.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a half-open
	// probe is allowed.
	Cooldown time.Duration
	// now is injectable for tests.
	now func() time.Time
}

func defaults(cfg Config) Config {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return cfg
}

// Breaker is a consecutive-failure circuit breaker. Closed passes calls
// through, open rejects them until the cooldown elapses, half-open lets
// one probe through and closes on success.
type Breaker struct {
	name string
	cfg  Config
	log  zerolog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

func New(name string, cfg Config, log zerolog.Logger) *Breaker {
	return &Breaker{
		name: name,
		cfg:  defaults(cfg),
		log:  log.With().Str("breaker", name).Logger(),
	}
}

// State returns the current state, transitioning open to half-open when
// the cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && b.cfg.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.transition(StateHalfOpen)
	}
	return b.state
}

// Do invokes fn under the breaker. While open it returns ErrOpen
// without calling fn; in half-open a single probe is admitted.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	switch b.stateLocked() {
	case StateOpen:
		b.mu.Unlock()
		return ErrOpen
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probing = true
	}
	b.mu.Unlock()

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	if err != nil {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
			b.openedAt = b.cfg.now()
		}
		return err
	}
	b.failures = 0
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
	return nil
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.log.Warn().
		Str("from", b.state.String()).
		Str("to", to.String()).
		Msg("circuit state change")
	b.state = to
}
