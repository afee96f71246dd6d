package pipeline

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/hydroworks/aquapilot/errors"
	"github.com/hydroworks/aquapilot/eventbus"
	"github.com/hydroworks/aquapilot/executor"
	"github.com/hydroworks/aquapilot/gateway"
	"github.com/hydroworks/aquapilot/types"
)

// fakeDispatcher records dispatched commands and fails the targets
// listed in failTargets.
type fakeDispatcher struct {
	mu          sync.Mutex
	commands    []types.ControlCommand
	failTargets map[string]bool
}

func (f *fakeDispatcher) DispatchAll(_ context.Context, cmds []types.ControlCommand) ([]executor.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	outcomes := make([]executor.Outcome, len(cmds))
	failed := 0
	for i, cmd := range cmds {
		f.commands = append(f.commands, cmd)
		outcomes[i] = executor.Outcome{Command: cmd, Endpoint: "http://device/" + cmd.TargetID}
		if f.failTargets[cmd.TargetID] {
			outcomes[i].Err = stderrors.New("device unreachable")
			failed++
		}
	}
	var err error
	if failed > 0 {
		err = pkgerrors.ErrDispatchFailed
	}
	return outcomes, err
}

func (f *fakeDispatcher) dispatched() []types.ControlCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.ControlCommand(nil), f.commands...)
}

func emergencyDeps(t *testing.T, source *fakeSource) (EmergencyDeps, *fakeDispatcher, *fakeArchive) {
	t.Helper()
	dispatcher := &fakeDispatcher{failTargets: map[string]bool{}}
	archive := &fakeArchive{}
	deps := EmergencyDeps{
		Source:     source,
		Gateway:    gateway.New(5*time.Minute, 10, nil, nil),
		Analyzer:   testAnalyzer(t),
		Scenario:   normalScenario,
		Dispatcher: dispatcher,
		Archive:    archive,
		Bus:        eventbus.New(32, nil, nil),
	}
	return deps, dispatcher, archive
}

func TestEmergencyCycleDispatchesResponseProtocol(t *testing.T) {
	source := &fakeSource{readings: []types.SensorReading{
		reading("pressure_01", types.SensorPressure, 0.5),
		reading("flow_01", types.SensorFlow, 220),
	}}
	deps, dispatcher, archive := emergencyDeps(t, source)

	tpl := NewEmergency(deps)
	pc, err := tpl.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, types.StateEmergencyCritical, pc.Analysis.State)
	assert.NotEmpty(t, pc.Analysis.CriticalViolations())

	targets := map[string]string{}
	for _, cmd := range dispatcher.dispatched() {
		targets[cmd.TargetID] = cmd.CommandType
	}
	assert.Equal(t, "emergency_pump_activation", targets["backup_pump_system"])
	assert.Equal(t, "emergency_flow_isolation", targets["zone_flow_01"])

	for _, rec := range pc.Executed {
		assert.NoError(t, rec.Err)
	}

	// The incident was recorded.
	recs := archive.saved()
	require.Len(t, recs, 1)
	assert.Equal(t, "EMERGENCY_CRITICAL", recs[0].SystemState)
}

func TestEmergencyMonitorRetriesSampling(t *testing.T) {
	source := &fakeSource{
		failures: 2,
		readings: []types.SensorReading{reading("pressure_01", types.SensorPressure, 2.0)},
	}
	deps, _, _ := emergencyDeps(t, source)

	tpl := NewEmergency(deps)
	pc, err := tpl.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, source.reads)
	assert.Equal(t, types.StateEmergencyMonitoring, pc.Analysis.State)
	assert.Empty(t, pc.Actions, "no critical violations, monitoring only")
}

func TestEmergencyAbortsWhenAllSamplingFails(t *testing.T) {
	source := &fakeSource{err: stderrors.New("total fieldbus failure")}
	deps, dispatcher, _ := emergencyDeps(t, source)

	tpl := NewEmergency(deps)
	pc, err := tpl.Run(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrStageFailed)
	assert.Equal(t, 3, source.reads)
	assert.Empty(t, dispatcher.dispatched())

	m, ok := pc.StageMetric(StageMonitor)
	require.True(t, ok)
	assert.False(t, m.Success)
}

func TestEmergencyExecuteToleratesPartialDelivery(t *testing.T) {
	source := &fakeSource{readings: []types.SensorReading{
		reading("pressure_01", types.SensorPressure, 0.5),
		reading("flow_01", types.SensorFlow, 220),
	}}
	deps, dispatcher, _ := emergencyDeps(t, source)
	dispatcher.failTargets["backup_pump_system"] = true

	tpl := NewEmergency(deps)
	pc, err := tpl.Run(context.Background(), nil)
	require.NoError(t, err, "partial delivery is acceptable")

	delivered := 0
	for _, rec := range pc.Executed {
		if rec.Err == nil {
			delivered++
		}
	}
	assert.Equal(t, 1, delivered)
}

func TestEmergencyExecuteFailsWhenNothingDelivered(t *testing.T) {
	source := &fakeSource{readings: []types.SensorReading{
		reading("flow_01", types.SensorFlow, 220),
	}}
	deps, dispatcher, _ := emergencyDeps(t, source)
	dispatcher.failTargets["zone_flow_01"] = true

	tpl := NewEmergency(deps)
	_, err := tpl.Run(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrDispatchFailed)
}

func TestEmergencyPublishesAlerts(t *testing.T) {
	source := &fakeSource{readings: []types.SensorReading{
		reading("flow_01", types.SensorFlow, 220),
	}}
	deps, _, _ := emergencyDeps(t, source)
	bus := deps.Bus

	tpl := NewEmergency(deps)
	_, err := tpl.Run(context.Background(), nil)
	require.NoError(t, err)

	alerts := bus.History(eventbus.EventAlert)
	require.NotEmpty(t, alerts)
	// Activation alert plus the critical-violation alert at minimum.
	assert.GreaterOrEqual(t, len(alerts), 2)
}
