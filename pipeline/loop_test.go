package pipeline

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydroworks/aquapilot/types"
)

// countingStages counts full cycles and lets the body set the analysis
// state.
type countingStages struct {
	cycles atomic.Int32
	state  types.SystemState
	err    error
}

func (c *countingStages) Monitor(_ context.Context, _ *Context) error { return c.err }
func (c *countingStages) Analyze(_ context.Context, pc *Context) error {
	if c.state != "" {
		pc.Analysis.State = c.state
	}
	return nil
}
func (c *countingStages) Plan(_ context.Context, _ *Context) error    { return nil }
func (c *countingStages) Execute(_ context.Context, _ *Context) error { return nil }
func (c *countingStages) UpdateKnowledge(_ context.Context, _ *Context) error {
	c.cycles.Add(1)
	return nil
}

func TestLoopRunsUntilCancelled(t *testing.T) {
	stages := &countingStages{}
	orch := NewOrchestrator(10, nil)
	orch.Register(NewTemplate("standard", stages, PolicyContinue))

	loop := NewLoop(orch, "standard", 5*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	err := loop.Run(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, stages.cycles.Load(), int32(2))
}

func TestLoopEscalatesToEmergencyPipeline(t *testing.T) {
	standard := &countingStages{state: types.StateEmergencyCritical}
	emergency := &countingStages{}

	orch := NewOrchestrator(10, nil)
	orch.Register(NewTemplate("standard", standard, PolicyContinue))
	orch.Register(NewTemplate("emergency", emergency, PolicyContinue))

	loop := NewLoop(orch, "standard", 5*time.Millisecond, nil,
		WithEmergencyPipeline("emergency"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = loop.Run(ctx)

	assert.GreaterOrEqual(t, emergency.cycles.Load(), int32(1),
		"EMERGENCY_CRITICAL cycles trigger the emergency pipeline")
}

func TestLoopSurvivesCycleFailures(t *testing.T) {
	stages := &countingStages{err: stderrors.New("monitor down")}
	orch := NewOrchestrator(10, nil)
	orch.Register(NewTemplate("standard", stages, PolicyAbort))

	loop := NewLoop(orch, "standard", 5*time.Millisecond, nil,
		WithErrorBackoff(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	err := loop.Run(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The loop kept cycling despite every cycle aborting.
	assert.GreaterOrEqual(t, len(orch.History()), 2)
}

func TestLoopRunsOptimizationAfterHealthyCycles(t *testing.T) {
	standard := &countingStages{state: types.StateNormal}
	optimization := &countingStages{}

	orch := NewOrchestrator(20, nil)
	orch.Register(NewTemplate("standard", standard, PolicyContinue))
	orch.Register(NewTemplate("optimization", optimization, PolicyContinue))

	loop := NewLoop(orch, "standard", 2*time.Millisecond, nil,
		WithOptimizationPipeline("optimization", 2))

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	_ = loop.Run(ctx)

	std := standard.cycles.Load()
	opt := optimization.cycles.Load()
	require.GreaterOrEqual(t, std, int32(4))
	assert.GreaterOrEqual(t, opt, int32(1), "every 2nd healthy cycle optimizes")
	assert.LessOrEqual(t, opt, std/2+1)
}

func TestLoopDegradedCyclesDoNotOptimize(t *testing.T) {
	standard := &countingStages{state: types.StateWarning}
	optimization := &countingStages{}

	orch := NewOrchestrator(20, nil)
	orch.Register(NewTemplate("standard", standard, PolicyContinue))
	orch.Register(NewTemplate("optimization", optimization, PolicyContinue))

	loop := NewLoop(orch, "standard", 2*time.Millisecond, nil,
		WithOptimizationPipeline("optimization", 1))

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()
	_ = loop.Run(ctx)

	assert.Zero(t, optimization.cycles.Load())
}
