// Package breaker wraps a circuit breaker around field-device endpoints.
// After a run of consecutive failures the breaker opens and calls fail
// fast until a cooldown elapses, at which point a single trial call is
// allowed through.
package breaker

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/hydroworks/aquapilot/errors"
)

// Config controls when a breaker opens and how long it stays open.
type Config struct {
	Name                string
	ConsecutiveFailures uint32        // Failures in a row before opening
	Cooldown            time.Duration // Open duration before a trial call
}

// DefaultConfig matches the executor's dispatch policy: open after five
// consecutive failures and allow a trial call after thirty seconds.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		ConsecutiveFailures: 5,
		Cooldown:            30 * time.Second,
	}
}

// Breaker guards calls to a single endpoint.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
}

// New creates a breaker for one endpoint. State transitions are logged
// so operators can see an endpoint being quarantined.
func New(cfg Config, logger *slog.Logger) *Breaker {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1, // Single trial call while half-open
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"endpoint", name,
				"from", from.String(),
				"to", to.String())
		},
	}

	return &Breaker{
		cb:     gobreaker.NewCircuitBreaker(settings),
		logger: logger,
	}
}

// Do runs fn through the breaker. When the breaker is open the call is
// rejected immediately with ErrCircuitOpen.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return errors.WrapTransient(errors.ErrCircuitOpen, "Breaker", "Do", b.cb.Name())
	}
	return err
}

// State reports the breaker state as a string (closed, half-open, open).
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Name returns the endpoint name this breaker guards.
func (b *Breaker) Name() string {
	return b.cb.Name()
}
