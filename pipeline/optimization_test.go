package pipeline

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydroworks/aquapilot/gateway"
	"github.com/hydroworks/aquapilot/planner"
	"github.com/hydroworks/aquapilot/types"
)

// fakeRecommender serves a scripted recommendation list.
type fakeRecommender struct {
	recs []planner.Recommendation
	err  error
}

func (f *fakeRecommender) Recommendations(_ context.Context, _ []types.SensorReading,
	_ types.AnalysisResult) ([]planner.Recommendation, error) {
	return f.recs, f.err
}

func optimizationDeps(t *testing.T, source *fakeSource, rec *fakeRecommender) (OptimizationDeps, *fakeDispatcher, *fakeArchive) {
	t.Helper()
	dispatcher := &fakeDispatcher{failTargets: map[string]bool{}}
	archive := &fakeArchive{}
	deps := OptimizationDeps{
		Source:        source,
		Gateway:       gateway.New(5*time.Minute, 10, nil, nil),
		Analyzer:      testAnalyzer(t),
		Scenario:      normalScenario,
		Recommender:   rec,
		Dispatcher:    dispatcher,
		Archive:       archive,
		Stabilization: time.Millisecond,
	}
	return deps, dispatcher, archive
}

func normalReadings() []types.SensorReading {
	return []types.SensorReading{
		reading("flow_01", types.SensorFlow, 50),
		reading("pressure_01", types.SensorPressure, 3.0),
	}
}

func TestOptimizationRunsSafeTopRecommendations(t *testing.T) {
	rec := &fakeRecommender{recs: []planner.Recommendation{
		{Action: "tune_pump_speed", Target: "main_pump", Value: 0.9,
			ImpactScore: 0.4, FeasibilityScore: 0.9, SafetyScore: 0.95},
		{Action: "rebalance_zones", Target: "zone_controller", Value: 1.0,
			ImpactScore: 0.3, FeasibilityScore: 0.8, SafetyScore: 0.9},
		{Action: "dangerous_bypass", Target: "main_bypass", Value: 1.0,
			ImpactScore: 0.9, FeasibilityScore: 0.9, SafetyScore: 0.4},
	}}
	source := &fakeSource{readings: normalReadings()}
	deps, dispatcher, archive := optimizationDeps(t, source, rec)

	tpl := NewOptimization(deps)
	pc, err := tpl.Run(context.Background(), nil)
	require.NoError(t, err)

	// The unsafe action was filtered out despite its top rank.
	require.Len(t, pc.Recommendations, 2)
	dispatched := dispatcher.dispatched()
	require.Len(t, dispatched, 2)
	assert.Equal(t, "main_pump", dispatched[0].TargetID)
	assert.Equal(t, "zone_controller", dispatched[1].TargetID)

	// Mean of the delivered actions' impact scores.
	assert.InDelta(t, 0.35, pc.Improvement, 1e-9)
	assert.Equal(t, true, pc.Metadata["parameters_updated"])

	assert.Len(t, archive.saved(), 1)
}

func TestOptimizationSkipsDegradedSystem(t *testing.T) {
	rec := &fakeRecommender{recs: []planner.Recommendation{
		{Action: "tune_pump_speed", Target: "main_pump",
			ImpactScore: 0.4, FeasibilityScore: 0.9, SafetyScore: 0.95},
	}}
	// Two breaches push the system to WARNING.
	source := &fakeSource{readings: []types.SensorReading{
		reading("flow_01", types.SensorFlow, 110),
		reading("pressure_01", types.SensorPressure, 4.5),
	}}
	deps, dispatcher, _ := optimizationDeps(t, source, rec)

	tpl := NewOptimization(deps)
	pc, err := tpl.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Empty(t, pc.Recommendations)
	assert.Empty(t, dispatcher.dispatched())
}

func TestOptimizationCreditsOnlyDeliveredActions(t *testing.T) {
	rec := &fakeRecommender{recs: []planner.Recommendation{
		{Action: "tune_pump_speed", Target: "main_pump",
			ImpactScore: 0.4, FeasibilityScore: 0.9, SafetyScore: 0.95},
		{Action: "rebalance_zones", Target: "zone_controller",
			ImpactScore: 0.2, FeasibilityScore: 0.8, SafetyScore: 0.9},
	}}
	source := &fakeSource{readings: normalReadings()}
	deps, dispatcher, _ := optimizationDeps(t, source, rec)
	dispatcher.failTargets["zone_controller"] = true

	tpl := NewOptimization(deps)
	pc, err := tpl.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.InDelta(t, 0.2, pc.Improvement, 1e-9, "failed action contributes nothing")
	assert.Equal(t, true, pc.Metadata["parameters_updated"])
}

func TestOptimizationInsignificantImprovementKeepsNothing(t *testing.T) {
	rec := &fakeRecommender{recs: []planner.Recommendation{
		{Action: "minor_trim", Target: "main_pump",
			ImpactScore: 0.03, FeasibilityScore: 0.9, SafetyScore: 0.95},
	}}
	source := &fakeSource{readings: normalReadings()}
	deps, _, _ := optimizationDeps(t, source, rec)

	tpl := NewOptimization(deps)
	pc, err := tpl.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.InDelta(t, 0.03, pc.Improvement, 1e-9)
	_, updated := pc.Metadata["parameters_updated"]
	assert.False(t, updated)
}

func TestOptimizationContinuesPastRecommenderFailure(t *testing.T) {
	rec := &fakeRecommender{err: stderrors.New("model service offline")}
	source := &fakeSource{readings: normalReadings()}
	deps, dispatcher, archive := optimizationDeps(t, source, rec)

	tpl := NewOptimization(deps)
	pc, err := tpl.Run(context.Background(), nil)
	require.NoError(t, err, "continue policy keeps the cycle alive")

	m, ok := pc.StageMetric(StagePlan)
	require.True(t, ok)
	assert.False(t, m.Success)
	assert.Empty(t, dispatcher.dispatched())
	assert.Len(t, archive.saved(), 1)
}
