// Package circuitbreaker stops calling an upstream API after repeated
// transport-level failures and probes it again after a cool-down.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is matched by errors.Is for every rejection from an open breaker.
var ErrOpen = errors.New("circuit breaker is open")

// OpenError reports which breaker rejected the call.
type OpenError struct {
	Name  string
	State State
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// Config controls when a Breaker trips and recovers.
type Config struct {
	Name         string
	MaxFailures  uint32
	ResetTimeout time.Duration
	// HalfOpenProbes is the number of consecutive successes needed to close
	// again; defaults to 1.
	HalfOpenProbes uint32
	// IsFailure decides whether an error counts against the breaker. Nil
	// counts every error. Channel rejections (bad credentials, duplicate
	// posts) are answers, not outages, and should return false here.
	IsFailure func(error) bool
	Logger    *logrus.Logger
	Now       func() time.Time
}

// Breaker is safe for concurrent use.
type Breaker struct {
	cfg Config

	mu          sync.Mutex
	state       State
	failures    uint32
	probes      uint32
	inFlight    uint32
	openedAt    time.Time
	requests    uint64
	rejections  uint64
	lastFailure error
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 1
	}
	if cfg.HalfOpenProbes == 0 {
		cfg.HalfOpenProbes = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests++
	b.advance()

	switch b.state {
	case StateOpen:
		b.rejections++
		return &OpenError{Name: b.cfg.Name, State: b.state}
	case StateHalfOpen:
		if b.inFlight >= b.cfg.HalfOpenProbes {
			b.rejections++
			return &OpenError{Name: b.cfg.Name, State: b.state}
		}
	}
	b.inFlight++
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inFlight > 0 {
		b.inFlight--
	}

	failed := err != nil && (b.cfg.IsFailure == nil || b.cfg.IsFailure(err))
	if !failed {
		b.onSuccess()
		return
	}

	b.lastFailure = err
	b.failures++
	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.MaxFailures {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.probes++
		if b.probes >= b.cfg.HalfOpenProbes {
			b.transition(StateClosed)
		}
	}
}

// advance moves an open breaker to half-open once the reset timeout elapsed.
// Caller holds mu.
func (b *Breaker) advance() {
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.transition(StateHalfOpen)
	}
}

// Caller holds mu.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.probes = 0

	fields := logrus.Fields{
		"circuit_breaker": b.cfg.Name,
		"from":            from.String(),
		"to":              to.String(),
	}
	switch to {
	case StateOpen:
		b.openedAt = b.cfg.Now()
		fields["failures"] = b.failures
		if b.lastFailure != nil {
			fields["last_error"] = b.lastFailure.Error()
		}
		b.cfg.Logger.WithFields(fields).Warn("Circuit breaker opened")
	case StateHalfOpen:
		b.inFlight = 0
		b.cfg.Logger.WithFields(fields).Info("Circuit breaker half-open, probing upstream")
	case StateClosed:
		b.failures = 0
		b.cfg.Logger.WithFields(fields).Info("Circuit breaker closed")
	}
}

// State returns the current state, applying any pending open to half-open
// transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Stats is a point-in-time snapshot for the metrics endpoint.
type Stats struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	Failures   uint32 `json:"failures"`
	Requests   uint64 `json:"requests"`
	Rejections uint64 `json:"rejections"`
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:       b.cfg.Name,
		State:      b.state.String(),
		Failures:   b.failures,
		Requests:   b.requests,
		Rejections: b.rejections,
	}
}
