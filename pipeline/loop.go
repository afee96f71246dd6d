package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/hydroworks/aquapilot/types"
)

// Loop runs one pipeline periodically: cycle, sleep the interval, cycle
// again. A failed cycle sleeps the error backoff instead, and a cycle
// ending in the EMERGENCY_CRITICAL state triggers the emergency
// pipeline immediately, before the next scheduled cycle. Runs ending in
// NORMAL can periodically hand over to an optimization pipeline.
type Loop struct {
	orch         *Orchestrator
	pipeline     string
	emergency    string
	optimization string
	optimizeEach int
	interval     time.Duration
	errorBackoff time.Duration
	logger       *slog.Logger
}

// LoopOption customizes the loop runner.
type LoopOption func(*Loop)

// WithEmergencyPipeline names the pipeline escalated to when a cycle
// ends in EMERGENCY_CRITICAL.
func WithEmergencyPipeline(name string) LoopOption {
	return func(l *Loop) { l.emergency = name }
}

// WithOptimizationPipeline names the pipeline run after every nth
// healthy cycle. A cycle counts as healthy when it completes with the
// system in the NORMAL state.
func WithOptimizationPipeline(name string, every int) LoopOption {
	return func(l *Loop) {
		l.optimization = name
		if every < 1 {
			every = 1
		}
		l.optimizeEach = every
	}
}

// WithErrorBackoff sets the sleep after a failed cycle.
func WithErrorBackoff(d time.Duration) LoopOption {
	return func(l *Loop) { l.errorBackoff = d }
}

// NewLoop creates the periodic runner for the named pipeline.
func NewLoop(orch *Orchestrator, pipeline string, interval time.Duration,
	logger *slog.Logger, opts ...LoopOption) *Loop {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		orch:         orch,
		pipeline:     pipeline,
		interval:     interval,
		errorBackoff: interval,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run drives cycles until the context is cancelled. Each cycle runs to
// completion or to its error-policy resolution; cancellation takes
// effect at the sleep between cycles.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("control loop started",
		"pipeline", l.pipeline,
		"interval", l.interval)

	healthy := 0
	for {
		sleep := l.interval

		pc, err := l.orch.Run(ctx, l.pipeline, nil)
		switch {
		case err != nil:
			l.logger.Error("cycle failed", "pipeline", l.pipeline, "error", err)
			sleep = l.errorBackoff
		case l.emergency != "" && pc.Analysis.State == types.StateEmergencyCritical:
			healthy = 0
			l.logger.Warn("escalating to emergency pipeline", "cycle_id", pc.CycleID)
			if _, err := l.orch.Run(ctx, l.emergency, map[string]any{
				"escalated_from": pc.CycleID,
			}); err != nil {
				l.logger.Error("emergency cycle failed", "error", err)
			}
		case l.optimization != "" && pc.Analysis.State == types.StateNormal:
			healthy++
			if healthy%l.optimizeEach == 0 {
				l.logger.Info("running optimization pipeline", "after_cycles", healthy)
				if _, err := l.orch.Run(ctx, l.optimization, map[string]any{
					"triggered_by": pc.CycleID,
				}); err != nil {
					l.logger.Error("optimization cycle failed", "error", err)
				}
			}
		}

		select {
		case <-ctx.Done():
			l.logger.Info("control loop stopped")
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}
