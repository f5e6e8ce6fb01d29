// Package resilience implements a circuit breaker guarding outbound LLM
// calls, so a vendor outage degrades one worker's response quality (via
// fallback) rather than letting every in-flight request hang out to its
// full timeout against a backend that is already down.
//
// Grounded on gomind's resilience.CircuitBreaker: the same three-state
// machine (closed/open/half-open), a consecutive-failure threshold to
// trip open, a sleep window before probing again, and a classifier that
// only counts infrastructure failures against the threshold. Pared down
// to a simple consecutive-failure counter rather than a sliding-window
// error-rate estimator or per-call execution tokens — this module's call
// volume per worker is low enough that the simpler counter is the right
// fit, and platform.MetricsSink already covers the metrics this would
// otherwise need a separate collector interface for.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/facilitycore/orchestrator/platform"
)

// State is one of the circuit breaker's three states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// ErrOpen is returned by Execute when the circuit is open and the sleep
// window has not yet elapsed.
var ErrOpen = errors.New("circuit breaker is open")

// Classifier reports whether a non-nil err should count toward the
// failure threshold. Errors a caller should not retry past (bad input, a
// cancelled context) should return false; a nil err is always a success
// regardless of the classifier.
type Classifier func(error) bool

// Config tunes a Breaker's thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive classified failures
	// that trips the circuit open.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes
	// needed to close the circuit again.
	SuccessThreshold int
	// SleepWindow is how long the circuit stays open before it moves to
	// half-open, where calls are let through again as probes.
	SleepWindow time.Duration
	// Classifier selects which errors count as failures. Defaults to
	// counting every non-nil error.
	Classifier Classifier
}

// DefaultConfig returns thresholds sized for a single-process worker's
// call volume.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		SleepWindow:      30 * time.Second,
		Classifier:       func(err error) bool { return err != nil },
	}
}

// Breaker is a single named circuit breaker. Safe for concurrent use.
type Breaker struct {
	name    string
	cfg     Config
	logger  platform.Logger
	metrics platform.MetricsSink

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	consecutiveSuccess  int
	openedAt            time.Time
}

// New constructs a Breaker in the closed state.
func New(name string, cfg Config, logger platform.Logger, metrics platform.MetricsSink) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	if cfg.SleepWindow <= 0 {
		cfg.SleepWindow = DefaultConfig().SleepWindow
	}
	if cfg.Classifier == nil {
		cfg.Classifier = DefaultConfig().Classifier
	}
	if logger == nil {
		logger = platform.NoOpLogger{}
	}
	if metrics == nil {
		metrics = platform.NoOpMetricsSink{}
	}
	return &Breaker{name: name, cfg: cfg, logger: logger, metrics: metrics, state: StateClosed}
}

// Allow reports whether a call should be attempted right now, transitioning
// Open -> HalfOpen once the sleep window has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.cfg.SleepWindow {
			return false
		}
		b.transition(StateHalfOpen)
		return true
	default:
		return true
	}
}

// RecordResult updates the circuit's state from the outcome of a call
// that Allow had just permitted.
func (b *Breaker) RecordResult(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.consecutiveFailures = 0
		if b.state == StateHalfOpen {
			b.consecutiveSuccess++
			if b.consecutiveSuccess >= b.cfg.SuccessThreshold {
				b.transition(StateClosed)
			}
		}
		return
	}

	if !b.cfg.Classifier(err) {
		return
	}

	b.consecutiveSuccess = 0
	b.consecutiveFailures++
	if b.state == StateHalfOpen || b.consecutiveFailures >= b.cfg.FailureThreshold {
		b.transition(StateOpen)
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateOpen {
		b.openedAt = time.Now()
	}
	if to == StateClosed {
		b.consecutiveFailures = 0
		b.consecutiveSuccess = 0
	}
	b.logger.Info("circuit breaker state transition", map[string]interface{}{
		"breaker": b.name,
		"from":    from.String(),
		"to":      to.String(),
	})
	b.metrics.Counter("resilience.circuit.transitions", "breaker", b.name, "to", to.String())
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn if the circuit allows it, recording the outcome. It
// returns ErrOpen without calling fn when the circuit is open.
func (b *Breaker) Execute(fn func() (string, error)) (string, error) {
	if !b.Allow() {
		b.metrics.Counter("resilience.circuit.rejected", "breaker", b.name)
		return "", ErrOpen
	}
	result, err := fn()
	b.RecordResult(err)
	return result, err
}
