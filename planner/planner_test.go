package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/hydroworks/aquapilot/errors"
	"github.com/hydroworks/aquapilot/knowledge"
	"github.com/hydroworks/aquapilot/types"
)

// fakePlanSource serves canned plan rows.
type fakePlanSource struct {
	byState map[string][]knowledge.Plan
	err     error
}

func (f *fakePlanSource) ByState(_ context.Context, state string) ([]knowledge.Plan, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byState[state], nil
}

func (f *fakePlanSource) ByCode(_ context.Context, planCode, assetID string) (knowledge.Plan, error) {
	for _, plans := range f.byState {
		for _, p := range plans {
			if p.PlanCode == planCode && p.AssetID == assetID {
				return p, nil
			}
		}
	}
	plan := knowledge.NoAction
	plan.AssetID = assetID
	return plan, nil
}

func TestPlanNormalStateNeedsNoAction(t *testing.T) {
	p := New(&fakePlanSource{}, nil)
	actions, err := p.Plan(context.Background(), types.AnalysisResult{State: types.StateNormal})
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestPlanMapsPlansToCommands(t *testing.T) {
	source := &fakePlanSource{byState: map[string][]knowledge.Plan{
		"EMERGENCY_CRITICAL": {
			{PlanCode: "EM001", AssetID: "main_pump", State: "EMERGENCY_CRITICAL",
				Command: "adjust_pressure", Parameters: map[string]float64{"value": 4.5}, Priority: 1},
			{PlanCode: "EM002", AssetID: "main_valve", State: "EMERGENCY_CRITICAL",
				Command: "adjust_flow", Parameters: map[string]float64{"value": 150}, Priority: 2},
		},
	}}
	p := New(source, nil)

	actions, err := p.Plan(context.Background(), types.AnalysisResult{
		State:     types.StateEmergencyCritical,
		RiskScore: 0.9,
	})
	require.NoError(t, err)
	require.Len(t, actions, 2)

	assert.Equal(t, "main_pump", actions[0].Command.TargetID)
	assert.Equal(t, "adjust_pressure", actions[0].Command.CommandType)
	assert.Equal(t, 4.5, actions[0].Command.Value)
	assert.Equal(t, "EM001", actions[0].Command.Metadata["plan_code"])
	assert.Empty(t, actions[0].Prerequisites)

	// The second action waits for the first.
	assert.Equal(t, []string{"EM001"}, actions[1].Prerequisites)
	assert.Equal(t, 150.0, actions[1].Command.Value)
}

func TestPlanSkipsNoActionRows(t *testing.T) {
	source := &fakePlanSource{byState: map[string][]knowledge.Plan{
		"WARNING": {
			{PlanCode: "NONE", AssetID: "plant", State: "WARNING", Command: "no_action", Priority: 99},
		},
	}}
	p := New(source, nil)

	actions, err := p.Plan(context.Background(), types.AnalysisResult{State: types.StateWarning})
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestValidatePrerequisitesUnknownReference(t *testing.T) {
	actions := []Action{
		{Plan: knowledge.Plan{PlanCode: "A"}, Prerequisites: []string{"GHOST"}},
	}
	err := ValidatePrerequisites(actions)
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrPrerequisiteNotMet)
}

func TestValidatePrerequisitesDetectsCycle(t *testing.T) {
	actions := []Action{
		{Plan: knowledge.Plan{PlanCode: "A"}, Prerequisites: []string{"B"}},
		{Plan: knowledge.Plan{PlanCode: "B"}, Prerequisites: []string{"C"}},
		{Plan: knowledge.Plan{PlanCode: "C"}, Prerequisites: []string{"A"}},
	}
	err := ValidatePrerequisites(actions)
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrPrerequisiteNotMet)
	assert.Contains(t, err.Error(), "cycle")
}

func TestValidatePrerequisitesAcceptsDAG(t *testing.T) {
	actions := []Action{
		{Plan: knowledge.Plan{PlanCode: "A"}},
		{Plan: knowledge.Plan{PlanCode: "B"}, Prerequisites: []string{"A"}},
		{Plan: knowledge.Plan{PlanCode: "C"}, Prerequisites: []string{"A", "B"}},
	}
	require.NoError(t, ValidatePrerequisites(actions))
}

func TestRankRecommendations(t *testing.T) {
	recs := []Recommendation{
		{Action: "low_impact", ImpactScore: 0.2, FeasibilityScore: 0.9, SafetyScore: 0.95},
		{Action: "best", ImpactScore: 0.9, FeasibilityScore: 0.9, SafetyScore: 0.9},
		{Action: "unsafe", ImpactScore: 0.95, FeasibilityScore: 0.95, SafetyScore: 0.5},
		{Action: "second", ImpactScore: 0.7, FeasibilityScore: 0.8, SafetyScore: 0.85},
	}

	selected := RankRecommendations(recs, 3)
	require.Len(t, selected, 2, "unsafe action filtered despite top rank")
	assert.Equal(t, "best", selected[0].Action)
	assert.Equal(t, "second", selected[1].Action)
}

func TestRankRecommendationsLimit(t *testing.T) {
	var recs []Recommendation
	for i := 0; i < 6; i++ {
		recs = append(recs, Recommendation{
			Action:           string(rune('a' + i)),
			ImpactScore:      float64(i) / 10,
			FeasibilityScore: 1,
			SafetyScore:      0.9,
			Duration:         time.Minute,
		})
	}
	selected := RankRecommendations(recs, 3)
	require.Len(t, selected, 3)
	assert.Equal(t, "f", selected[0].Action)
}
