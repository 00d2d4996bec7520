// Package breaker implements the circuit breaker that gates reconnect
// attempts on the node's uplink and broker links.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"fieldnode-go/errcode"
)

// State is the breaker position.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config holds the breaker thresholds.
type Config struct {
	Name             string        `mapstructure:"name"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
	HalfOpenTimeout  time.Duration `mapstructure:"half_open_timeout"`
}

// Uplink and Broker are the stock settings for the two link breakers.
var (
	Uplink = Config{Name: "uplink", FailureThreshold: 10, RecoveryTimeout: 60 * time.Second, HalfOpenTimeout: 15 * time.Second}
	Broker = Config{Name: "broker", FailureThreshold: 5, RecoveryTimeout: 30 * time.Second, HalfOpenTimeout: 10 * time.Second}
)

// Snapshot is a point-in-time view for status reporting.
type Snapshot struct {
	Name     string
	State    State
	Failures int
	OpenedAt time.Time
}

type Option func(*Breaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// Breaker is safe for concurrent use.
type Breaker struct {
	cfg Config
	now func() time.Time
	log *zap.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trialAt  time.Time
	trial    bool
}

func New(cfg Config, log *zap.Logger, opts ...Option) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	b := &Breaker{
		cfg:   cfg,
		now:   time.Now,
		log:   log.With(zap.String("breaker", cfg.Name)),
		state: Closed,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.cfg.Name }

// Allow reports whether an attempt may proceed. In half_open exactly one
// trial is admitted; a trial that reports nothing within HalfOpenTimeout
// counts as a failure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.expireTrial(now)
	switch b.state {
	case Closed:
		return nil
	case Open:
		if now.Sub(b.openedAt) < b.cfg.RecoveryTimeout {
			return errcode.New(errcode.BreakerOpen, b.cfg.Name, "waiting for recovery")
		}
		b.transition(HalfOpen)
		b.trial, b.trialAt = true, now
		return nil
	default:
		if b.trial {
			return errcode.New(errcode.BreakerOpen, b.cfg.Name, "trial in flight")
		}
		b.trial, b.trialAt = true, now
		return nil
	}
}

// Success records a successful attempt. Only a real success closes the
// breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trial = false
	if b.state != Closed {
		b.transition(Closed)
	}
}

// Failure records a failed attempt.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.failures++
	switch b.state {
	case Closed:
		if b.failures >= b.cfg.FailureThreshold {
			b.trip(now)
		}
	case HalfOpen:
		b.trip(now)
	case Open:
		// Late result from a trial already expired; the timer stays.
	}
}

// Do runs fn if allowed and records its outcome.
func (b *Breaker) Do(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.Failure()
		return err
	}
	b.Success()
	return nil
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireTrial(b.now())
	return b.state
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expireTrial(b.now())
	return Snapshot{Name: b.cfg.Name, State: b.state, Failures: b.failures, OpenedAt: b.openedAt}
}

func (b *Breaker) expireTrial(now time.Time) {
	if b.state == HalfOpen && b.trial && now.Sub(b.trialAt) >= b.cfg.HalfOpenTimeout {
		b.log.Warn("half-open trial timed out")
		b.failures++
		b.trip(now)
	}
}

func (b *Breaker) trip(now time.Time) {
	b.trial = false
	b.openedAt = now
	b.transition(Open)
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.log.Info("breaker state change",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("failures", b.failures))
}
