// Package executor delivers planned control commands to field-device
// endpoints over HTTP. Every dispatch is wrapped in bounded retry with
// exponential backoff and a per-endpoint circuit breaker, so a dead
// endpoint is quarantined instead of stalling the control cycle.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hydroworks/aquapilot/config"
	"github.com/hydroworks/aquapilot/errors"
	"github.com/hydroworks/aquapilot/metric"
	"github.com/hydroworks/aquapilot/pkg/breaker"
	"github.com/hydroworks/aquapilot/pkg/retry"
	"github.com/hydroworks/aquapilot/types"
)

// Outcome is the per-command dispatch result. Err is nil on success.
type Outcome struct {
	Command  types.ControlCommand
	Endpoint string
	Attempts int
	Duration time.Duration
	Err      error
}

// Success reports whether the command reached its endpoint.
func (o Outcome) Success() bool {
	return o.Err == nil
}

// Executor posts commands to field-device endpoints. An endpoint is
// resolved per target id with a fallback default, and each endpoint
// gets its own breaker so one failing device does not quarantine the
// rest.
type Executor struct {
	cfg       config.ExecutorConfig
	client    *http.Client
	endpoints map[string]string
	fallback  string
	logger    *slog.Logger
	metrics   *metric.Metrics

	mu       sync.Mutex
	breakers map[string]*breaker.Breaker
}

// New creates an executor. endpoints maps a command target id to its
// device endpoint URL; targets without an entry use the fallback URL.
func New(cfg config.ExecutorConfig, endpoints map[string]string, fallback string,
	logger *slog.Logger, metrics *metric.Metrics) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.ConcurrentDispatch <= 0 {
		cfg.ConcurrentDispatch = 4
	}
	return &Executor{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.DispatchTimeout},
		endpoints: endpoints,
		fallback:  fallback,
		logger:    logger,
		metrics:   metrics,
		breakers:  make(map[string]*breaker.Breaker),
	}
}

// DispatchAll sends every command concurrently, bounded by the
// configured dispatch parallelism. Each command's outcome is captured
// independently; one command's failure never aborts its siblings. The
// returned error is non-nil when at least one command failed.
func (e *Executor) DispatchAll(ctx context.Context, cmds []types.ControlCommand) ([]Outcome, error) {
	outcomes := make([]Outcome, len(cmds))

	var g errgroup.Group
	g.SetLimit(e.cfg.ConcurrentDispatch)

	for i, cmd := range cmds {
		g.Go(func() error {
			outcomes[i] = e.Dispatch(ctx, cmd)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return outcomes, errors.WrapTransient(errors.ErrDispatchFailed, "Executor", "DispatchAll",
			fmt.Sprintf("%d of %d commands failed", failed, len(cmds)))
	}
	return outcomes, nil
}

// Dispatch delivers one command: validate, resolve the endpoint, then
// post through the endpoint's breaker with retry. A rejected command
// value or an unknown target fails without touching the network.
func (e *Executor) Dispatch(ctx context.Context, cmd types.ControlCommand) Outcome {
	start := time.Now()
	out := Outcome{Command: cmd}

	if err := validate(cmd); err != nil {
		out.Err = err
		out.Duration = time.Since(start)
		e.record(out)
		return out
	}

	endpoint, ok := e.endpoints[cmd.TargetID]
	if !ok {
		endpoint = e.fallback
	}
	if endpoint == "" {
		out.Err = errors.WrapInvalid(errors.ErrUnknownTarget, "Executor", "Dispatch", cmd.TargetID)
		out.Duration = time.Since(start)
		e.record(out)
		return out
	}
	out.Endpoint = endpoint

	br := e.breakerFor(endpoint)
	cfg := retry.Config{
		MaxAttempts:  e.cfg.MaxAttempts,
		InitialDelay: e.cfg.InitialBackoff,
		MaxDelay:     e.cfg.MaxBackoff,
		Multiplier:   2.0,
	}

	err := retry.Do(ctx, cfg, func() error {
		out.Attempts++
		err := br.Do(func() error {
			return e.post(ctx, endpoint, cmd)
		})
		if stderrors.Is(err, errors.ErrCircuitOpen) || errors.IsInvalid(err) {
			// Open breaker and rejected values do not improve with retries.
			return retry.NonRetryable(err)
		}
		return err
	})
	if err != nil {
		out.Err = errors.Wrap(err, "Executor", "Dispatch", cmd.TargetID)
	}
	out.Duration = time.Since(start)

	e.recordBreaker(br)
	e.record(out)
	return out
}

// BreakerState reports the breaker state for an endpoint, or "closed"
// when the endpoint has never been dispatched to.
func (e *Executor) BreakerState(endpoint string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if br, ok := e.breakers[endpoint]; ok {
		return br.State()
	}
	return "closed"
}

func (e *Executor) breakerFor(endpoint string) *breaker.Breaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	if br, ok := e.breakers[endpoint]; ok {
		return br
	}
	br := breaker.New(breaker.Config{
		Name:                endpoint,
		ConsecutiveFailures: e.cfg.BreakerFailures,
		Cooldown:            e.cfg.BreakerCooldown,
	}, e.logger)
	e.breakers[endpoint] = br
	return br
}

// post performs the actual network call. Device rejections (4xx) are
// invalid and not retried; server and transport failures are transient.
func (e *Executor) post(ctx context.Context, endpoint string, cmd types.ControlCommand) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return errors.WrapInvalid(err, "Executor", "post", cmd.TargetID)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.DispatchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.WrapInvalid(err, "Executor", "post", endpoint)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "Executor", "post", endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: endpoint returned %d: %s", errors.ErrDispatchFailed, resp.StatusCode, snippet),
			"Executor", "post", endpoint)
	}
	return errors.WrapTransient(
		fmt.Errorf("%w: endpoint returned %d: %s", errors.ErrDispatchFailed, resp.StatusCode, snippet),
		"Executor", "post", endpoint)
}

func validate(cmd types.ControlCommand) error {
	if cmd.TargetID == "" {
		return errors.WrapInvalid(errors.ErrUnknownTarget, "Executor", "validate", "empty target")
	}
	if cmd.CommandType == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Executor", "validate",
			fmt.Sprintf("command for %s has no command type", cmd.TargetID))
	}
	if math.IsNaN(cmd.Value) || math.IsInf(cmd.Value, 0) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Executor", "validate",
			fmt.Sprintf("command for %s has non-finite value", cmd.TargetID))
	}
	return nil
}

func (e *Executor) record(out Outcome) {
	if out.Err != nil {
		e.logger.Error("command dispatch failed",
			"target", out.Command.TargetID,
			"command_type", out.Command.CommandType,
			"endpoint", out.Endpoint,
			"attempts", out.Attempts,
			"error", out.Err)
	} else {
		e.logger.Info("command dispatched",
			"target", out.Command.TargetID,
			"command_type", out.Command.CommandType,
			"value", out.Command.Value,
			"endpoint", out.Endpoint,
			"attempts", out.Attempts,
			"duration", out.Duration)
	}

	if e.metrics == nil {
		return
	}
	status := "dispatched"
	if out.Err != nil {
		status = "failed"
		e.metrics.RecordError("executor", "dispatch")
	}
	e.metrics.RecordCommand(out.Command.CommandType, status)
	if out.Endpoint != "" {
		e.metrics.RecordDispatch(out.Endpoint, out.Duration)
	}
}

func (e *Executor) recordBreaker(br *breaker.Breaker) {
	if e.metrics == nil {
		return
	}
	state := 0
	switch br.State() {
	case "half-open":
		state = 1
	case "open":
		state = 2
	}
	e.metrics.RecordBreakerState(br.Name(), state)
}
