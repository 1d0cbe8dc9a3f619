// Package resilience shields the streaming pipeline from a misbehaving
// correction backend. The central type is [Breaker], a three-state circuit
// breaker (closed → open → half-open); [GuardCorrector] wraps a transcript
// corrector with one so sessions skip correction immediately while the LLM
// is down instead of burning a timeout per segment.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned without calling the guarded function while the
// breaker is open and the cooldown has not elapsed.
var ErrOpen = errors.New("resilience: breaker open")

const (
	// DefaultMaxFailures is the consecutive-failure count that trips the
	// breaker.
	DefaultMaxFailures = 3

	// DefaultCooldown is how long a tripped breaker rejects calls before
	// letting a probe through.
	DefaultCooldown = 30 * time.Second
)

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// BreakerConfig tunes a [Breaker]. Zero fields fall back to the package
// defaults.
type BreakerConfig struct {
	// Name labels the breaker in logs.
	Name string

	// MaxFailures is the number of consecutive failures before the
	// breaker opens.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
}

// Breaker trips after consecutive failures and rejects calls until a
// cooldown passes, then lets a single probe through. A successful probe
// closes it again; a failed one restarts the cooldown.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration

	mu       sync.Mutex
	state    state
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a [Breaker] from cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
	}
}

// Do runs fn unless the breaker is open, in which case it returns
// [ErrOpen] without calling it.
func (b *Breaker) Do(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn()
	b.settle(probe, err)
	return err
}

// admit decides whether a call may proceed and whether it is the
// half-open probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return false, ErrOpen
		}
		b.state = stateHalfOpen
		b.probing = true
		slog.Info("breaker probing", "name", b.name)
		return true, nil

	case stateHalfOpen:
		if b.probing {
			// A probe is already in flight.
			return false, ErrOpen
		}
		b.probing = true
		return true, nil
	}
	return false, nil
}

// settle records the call outcome.
func (b *Breaker) settle(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}

	if err == nil {
		if b.state != stateClosed {
			slog.Info("breaker closed", "name", b.name)
		}
		b.state = stateClosed
		b.failures = 0
		return
	}

	if b.state == stateHalfOpen {
		b.state = stateOpen
		b.openedAt = time.Now()
		slog.Warn("breaker re-opened after failed probe", "name", b.name)
		return
	}

	b.failures++
	if b.failures >= b.maxFailures {
		b.state = stateOpen
		b.openedAt = time.Now()
		slog.Warn("breaker opened", "name", b.name, "failures", b.failures)
	}
}

// Open reports whether calls would currently be rejected.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateOpen && time.Since(b.openedAt) < b.cooldown
}

// Reset forces the breaker closed and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.failures = 0
	b.probing = false
}
