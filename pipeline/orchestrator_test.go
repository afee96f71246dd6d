package pipeline

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/hydroworks/aquapilot/errors"
)

func TestOrchestratorRunUnknownPipeline(t *testing.T) {
	orch := NewOrchestrator(10, nil)
	_, err := orch.Run(context.Background(), "ghost", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrPipelineNotFound)
	assert.True(t, pkgerrors.IsInvalid(err))
}

func TestOrchestratorTracksHistory(t *testing.T) {
	orch := NewOrchestrator(10, nil)
	orch.Register(NewTemplate("alpha", newScriptStages(), PolicyContinue))
	orch.Register(NewTemplate("beta", newScriptStages(), PolicyContinue))

	_, err := orch.Run(context.Background(), "alpha", nil)
	require.NoError(t, err)
	_, err = orch.Run(context.Background(), "alpha", nil)
	require.NoError(t, err)
	_, err = orch.Run(context.Background(), "beta", nil)
	require.NoError(t, err)

	history := orch.History()
	require.Len(t, history, 3)
	assert.Equal(t, "alpha", history[0].Pipeline)
	assert.Equal(t, "beta", history[2].Pipeline)

	assert.ElementsMatch(t, []string{"alpha", "beta"}, orch.Names())
}

func TestOrchestratorHistoryKeepsFailedCycles(t *testing.T) {
	stages := newScriptStages()
	stages.fail[StageMonitor] = stderrors.New("collection failure")
	orch := NewOrchestrator(10, nil)
	orch.Register(NewTemplate("failing", stages, PolicyAbort))

	_, err := orch.Run(context.Background(), "failing", nil)
	require.Error(t, err)

	history := orch.History()
	require.Len(t, history, 1)
	m, ok := history[0].StageMetric(StageMonitor)
	require.True(t, ok)
	assert.False(t, m.Success)
}

func TestOrchestratorHistoryBounded(t *testing.T) {
	orch := NewOrchestrator(2, nil)
	orch.Register(NewTemplate("alpha", newScriptStages(), PolicyContinue))

	var last *Context
	for i := 0; i < 4; i++ {
		pc, err := orch.Run(context.Background(), "alpha", nil)
		require.NoError(t, err)
		last = pc
	}

	history := orch.History()
	require.Len(t, history, 2)
	assert.Equal(t, last.CycleID, history[1].CycleID)
}

func TestOrchestratorSummary(t *testing.T) {
	ok := newScriptStages()
	bad := newScriptStages()
	bad.fail[StagePlan] = stderrors.New("plan failure")

	orch := NewOrchestrator(10, nil)
	orch.Register(NewTemplate("healthy", ok, PolicyContinue))
	orch.Register(NewTemplate("flaky", bad, PolicyContinue))

	for i := 0; i < 2; i++ {
		_, err := orch.Run(context.Background(), "healthy", nil)
		require.NoError(t, err)
	}
	_, err := orch.Run(context.Background(), "flaky", nil)
	require.NoError(t, err)

	summary := orch.Summary()
	require.Contains(t, summary, "healthy")
	require.Contains(t, summary, "flaky")

	assert.Equal(t, 2, summary["healthy"].Executions)
	assert.Equal(t, 1.0, summary["healthy"].SuccessRate)

	// One failed stage attempt out of five.
	assert.Equal(t, 1, summary["flaky"].Executions)
	assert.InDelta(t, 0.8, summary["flaky"].SuccessRate, 1e-9)
}
