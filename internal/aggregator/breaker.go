package aggregator

import (
	"sync"
	"time"

	"github.com/dlin-quant/solarb/internal/domain"
)

// Breaker is a per-venue circuit breaker. After Failures consecutive errors a
// venue's circuit opens and its quotes are excluded from aggregation. Once
// the cooldown elapses the circuit moves to half-open and a single probe call
// is allowed; the probe's outcome closes or re-opens the circuit.
type Breaker struct {
	failures int
	cooldown time.Duration
	emitter  domain.Emitter

	mu     sync.Mutex
	venues map[domain.Venue]*domain.VenueHealth
	// probing marks venues with an in-flight half-open probe so only one
	// caller gets through.
	probing map[domain.Venue]bool
	now     func() time.Time
}

// NewBreaker creates a breaker that opens after failures consecutive errors
// and allows a probe after cooldown.
func NewBreaker(failures int, cooldown time.Duration, emitter domain.Emitter) *Breaker {
	if emitter == nil {
		emitter = domain.NopEmitter{}
	}
	return &Breaker{
		failures: failures,
		cooldown: cooldown,
		emitter:  emitter,
		venues:   make(map[domain.Venue]*domain.VenueHealth),
		probing:  make(map[domain.Venue]bool),
		now:      time.Now,
	}
}

func (b *Breaker) health(venue domain.Venue) *domain.VenueHealth {
	h, ok := b.venues[venue]
	if !ok {
		h = &domain.VenueHealth{Venue: venue, State: domain.CircuitClosed}
		b.venues[venue] = h
	}
	return h
}

// Allow reports whether a call to venue may proceed. When the circuit is open
// and the cooldown has elapsed, the first caller is admitted as the half-open
// probe and all others are refused until the probe resolves.
func (b *Breaker) Allow(venue domain.Venue) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.health(venue)
	switch h.State {
	case domain.CircuitClosed:
		return true
	case domain.CircuitOpen:
		if b.now().Sub(h.OpenedAt) < b.cooldown {
			return false
		}
		h.State = domain.CircuitHalfOpen
		b.probing[venue] = true
		return true
	case domain.CircuitHalfOpen:
		if b.probing[venue] {
			return false
		}
		b.probing[venue] = true
		return true
	}
	return false
}

// RecordSuccess notes a successful venue call, closing the circuit if it was
// half-open and resetting the failure count.
func (b *Breaker) RecordSuccess(venue domain.Venue) {
	b.mu.Lock()
	h := b.health(venue)
	prev := h.State
	h.ConsecutiveFailures = 0
	h.LastSuccessAt = b.now()
	h.State = domain.CircuitClosed
	delete(b.probing, venue)
	b.mu.Unlock()

	if prev != domain.CircuitClosed {
		b.emitter.Emit(domain.Event{
			Name:   domain.EventCircuitClosed,
			At:     time.Now().UTC(),
			Fields: map[string]any{"venue": string(venue)},
		})
	}
}

// RecordFailure notes a failed venue call. The circuit opens after the
// configured consecutive-failure count, or immediately when a half-open probe
// fails.
func (b *Breaker) RecordFailure(venue domain.Venue) {
	b.mu.Lock()
	h := b.health(venue)
	prev := h.State
	h.ConsecutiveFailures++
	delete(b.probing, venue)

	opened := false
	if prev == domain.CircuitHalfOpen || h.ConsecutiveFailures >= b.failures {
		h.State = domain.CircuitOpen
		h.OpenedAt = b.now()
		opened = prev != domain.CircuitOpen
	}
	b.mu.Unlock()

	if opened {
		b.emitter.Emit(domain.Event{
			Name:   domain.EventCircuitOpened,
			At:     time.Now().UTC(),
			Fields: map[string]any{"venue": string(venue)},
		})
	}
}

// State returns the current circuit state for venue.
func (b *Breaker) State(venue domain.Venue) domain.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.health(venue).State
}

// Tripped reports whether venue is currently excluded from aggregation. Any
// state other than Closed excludes: an Open circuit past its cooldown and a
// HalfOpen circuit mid-probe both stay out until a probe succeeds.
func (b *Breaker) Tripped(venue domain.Venue) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.health(venue).State != domain.CircuitClosed
}
