// Package circuitbreaker trips the runner's stream read loop after a run
// of consecutive read failures, so a down Redis is polled gently instead
// of hammered every poll interval.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/cheqlabs/dCheque/internal/metrics"
)

// ErrOpen is returned by Allow while the breaker is rejecting reads.
var ErrOpen = errors.New("read circuit open")

// State is the breaker's position in its closed/open/half-open cycle.
type State int

const (
	Closed   State = iota // reads flow normally
	Open                  // reads rejected until the open window lapses
	HalfOpen              // probing: a few reads allowed through
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Config tunes the breaker. The defaults assume the runner's 2s poll
// loop: five straight failures (~10s of a dead source) open the circuit,
// the open window skips roughly fifteen polls, and two clean probe reads
// close it again.
type Config struct {
	FailureThreshold int           // consecutive read failures before opening (default 5)
	SuccessThreshold int           // clean half-open reads before closing (default 2)
	OpenTimeout      time.Duration // rejection window before probing resumes (default 30s)
	OnStateChange    func(from, to State)
}

// Breaker gates source reads. Not safe to share across runners; each
// runner owns one.
type Breaker struct {
	cfg Config

	mu           sync.Mutex
	state        State
	failures     int // consecutive, reset by any success
	probeHits    int // clean reads while half-open
	rejectsUntil time.Time
	nowFn        func() time.Time
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	return &Breaker{
		cfg:   cfg,
		state: Closed,
		nowFn: time.Now,
	}
}

// Allow reports whether the next read may proceed, moving an expired open
// window to half-open as a side effect.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if b.nowFn().Before(b.rejectsUntil) {
			return ErrOpen
		}
		b.transition(HalfOpen)
	}
	return nil
}

// Success records a clean read.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == HalfOpen {
		b.probeHits++
		if b.probeHits >= b.cfg.SuccessThreshold {
			b.transition(Closed)
		}
	}
}

// Failure records a failed read. A half-open probe failure reopens the
// circuit immediately.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.probeHits = 0
	if b.state == HalfOpen || (b.state == Closed && b.failures >= b.cfg.FailureThreshold) {
		b.rejectsUntil = b.nowFn().Add(b.cfg.OpenTimeout)
		b.transition(Open)
	}
}

// Current returns the breaker state, moving an expired open window to
// half-open first.
func (b *Breaker) Current() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open && !b.nowFn().Before(b.rejectsUntil) {
		b.transition(HalfOpen)
	}
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.probeHits = 0
	if to == Closed {
		b.failures = 0
	}
	metrics.SourceBreakerState.Set(float64(to))
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
