// Package breaker wraps calls to degrading dependencies in a three-state
// circuit breaker. State is per-process: each replica tracks its own view
// of dependency health, trading cross-replica precision for independence
// from shared infrastructure.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Settings configures one breaker instance.
type Settings struct {
	// Name identifies the wrapped dependency.
	Name string
	// FailureThreshold opens the circuit once this many qualifying
	// failures accumulate within the monitoring period.
	FailureThreshold uint32
	// RecoveryTimeout is how long the circuit stays open before a single
	// probe call is let through.
	RecoveryTimeout time.Duration
	// MonitoringPeriod bounds how long failures are remembered while the
	// circuit is closed.
	MonitoringPeriod time.Duration
	// ExpectedErrors, when non-empty, restricts failure accounting to
	// errors matching one of these (via errors.Is). Other errors still
	// propagate to the caller but do not move the breaker.
	ExpectedErrors []error
}

// DefaultSettings returns the settings used for the identity subsystem
// unless configured otherwise.
func DefaultSettings(name string) Settings {
	return Settings{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		MonitoringPeriod: time.Minute,
	}
}

// Stats is a point-in-time snapshot of a breaker's health, suitable for
// operational introspection.
type Stats struct {
	Name          string     `json:"name"`
	State         string     `json:"state"`
	Failures      uint32     `json:"failures"`
	Successes     uint32     `json:"successes"`
	TotalRequests uint64     `json:"total_requests"`
	LastFailure   *time.Time `json:"last_failure,omitempty"`
	LastSuccess   *time.Time `json:"last_success,omitempty"`
	Uptime        string     `json:"uptime"`
}

// OpenError is returned when a call fails fast because the circuit is
// open, carrying the dependency name and current stats so callers can
// choose a degraded path instead of surfacing a generic failure.
type OpenError struct {
	Dependency string
	Stats      Stats
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for dependency %q", e.Dependency)
}

// IsOpen reports whether err indicates a fast-failed call.
func IsOpen(err error) bool {
	var openErr *OpenError
	return errors.As(err, &openErr)
}

// Breaker wraps one dependency. The state machine is sony/gobreaker;
// this type layers request accounting and last-failure/success times on
// top of it.
type Breaker struct {
	name    string
	cb      *gobreaker.CircuitBreaker[any]
	logger  *zap.Logger
	started time.Time

	mu            sync.RWMutex
	lastFailure   time.Time
	lastSuccess   time.Time
	totalRequests uint64
}

// New creates a breaker for one named dependency.
func New(settings Settings, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = 5
	}

	b := &Breaker{
		name:    settings.Name,
		logger:  logger,
		started: time.Now(),
	}

	expected := settings.ExpectedErrors
	b.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name: settings.Name,
		// A single probe decides the half-open outcome.
		MaxRequests: 1,
		Interval:    settings.MonitoringPeriod,
		Timeout:     settings.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= settings.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if len(expected) == 0 {
				return false
			}
			for _, e := range expected {
				if errors.Is(err, e) {
					return false
				}
			}
			// Unexpected error kinds propagate without counting against
			// the dependency's health.
			return true
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state transition",
				zap.String("dependency", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return b
}

// Name returns the wrapped dependency's name.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn under breaker protection. When the circuit is open the
// call fails fast with *OpenError and fn is never invoked.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	b.mu.Lock()
	b.totalRequests++
	b.mu.Unlock()

	result, err := b.cb.Execute(fn)
	now := time.Now()

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &OpenError{Dependency: b.name, Stats: b.Stats()}
		}
		b.mu.Lock()
		b.lastFailure = now
		b.mu.Unlock()
		return nil, err
	}

	b.mu.Lock()
	b.lastSuccess = now
	b.mu.Unlock()
	return result, nil
}

// State returns the current breaker state as a string (closed, half-open,
// open).
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Stats returns a snapshot of the breaker's counters.
func (b *Breaker) Stats() Stats {
	counts := b.cb.Counts()

	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Stats{
		Name:          b.name,
		State:         b.cb.State().String(),
		Failures:      counts.TotalFailures,
		Successes:     counts.TotalSuccesses,
		TotalRequests: b.totalRequests,
		Uptime:        time.Since(b.started).Round(time.Second).String(),
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		s.LastFailure = &t
	}
	if !b.lastSuccess.IsZero() {
		t := b.lastSuccess
		s.LastSuccess = &t
	}
	return s
}

// ===============================
// MANAGER
// ===============================

// Manager holds every breaker in the process, keyed by dependency name,
// so operational endpoints can enumerate dependency health.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	logger   *zap.Logger
}

// NewManager creates an empty breaker manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		breakers: make(map[string]*Breaker),
		logger:   logger,
	}
}

// Get returns the breaker for the named dependency, creating it with the
// given settings on first use. Settings are fixed at creation.
func (m *Manager) Get(settings Settings) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[settings.Name]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[settings.Name]; ok {
		return b
	}
	b = New(settings, m.logger)
	m.breakers[settings.Name] = b
	return b
}

// Health returns stats for every registered breaker, keyed by dependency
// name.
func (m *Manager) Health() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Stats, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = b.Stats()
	}
	return out
}
