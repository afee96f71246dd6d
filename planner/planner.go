// Package planner turns an analysis result into an executable set of
// control commands by consulting the knowledge base's plan table. It
// also owns prerequisite-graph validation and the optimization
// recommendation ranking used by the optimization pipeline.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hydroworks/aquapilot/errors"
	"github.com/hydroworks/aquapilot/knowledge"
	"github.com/hydroworks/aquapilot/types"
)

// Action is one planned control action with its prerequisite plan
// codes. Prerequisites reference other actions of the same plan set by
// plan code.
type Action struct {
	Plan          knowledge.Plan
	Command       types.ControlCommand
	Prerequisites []string
}

// PlanSource is the slice of the knowledge base the planner consults.
type PlanSource interface {
	ByState(ctx context.Context, state string) ([]knowledge.Plan, error)
	ByCode(ctx context.Context, planCode, assetID string) (knowledge.Plan, error)
}

// Planner selects corrective plans for an analysis result.
type Planner struct {
	plans  PlanSource
	logger *slog.Logger
}

// New creates a planner over a plan source.
func New(plans PlanSource, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{plans: plans, logger: logger}
}

// Plan maps the analysis result to the plan table's actions for the
// resulting state. A state with no declared plans yields an empty
// action set, not an error. Actions within one plan set chain
// sequentially: each action's prerequisite is the one before it, so
// urgent actions complete before less urgent ones start.
func (p *Planner) Plan(ctx context.Context, result types.AnalysisResult) ([]Action, error) {
	if result.State == types.StateNormal {
		p.logger.Debug("system normal, no corrective plan needed")
		return nil, nil
	}

	plans, err := p.plans.ByState(ctx, string(result.State))
	if err != nil {
		return nil, errors.Wrap(err, "Planner", "Plan", string(result.State))
	}

	now := time.Now()
	actions := make([]Action, 0, len(plans))
	for i, plan := range plans {
		if plan.Command == knowledge.NoAction.Command {
			continue
		}
		action := Action{
			Plan: plan,
			Command: types.ControlCommand{
				TargetID:    plan.AssetID,
				CommandType: plan.Command,
				Value:       plan.Parameters["value"],
				Timestamp:   now,
				Priority:    plan.Priority,
				Metadata: map[string]any{
					"plan_code": plan.PlanCode,
					"state":     string(result.State),
				},
			},
		}
		if i > 0 {
			action.Prerequisites = []string{plans[i-1].PlanCode}
		}
		actions = append(actions, action)
	}

	if err := ValidatePrerequisites(actions); err != nil {
		return nil, err
	}

	p.logger.Info("plan selected",
		"state", string(result.State),
		"actions", len(actions),
		"risk_score", result.RiskScore)
	return actions, nil
}

// ValidatePrerequisites checks that every prerequisite references a
// plan code in the set and that the graph is acyclic.
func ValidatePrerequisites(actions []Action) error {
	graph := make(map[string][]string, len(actions))
	for _, a := range actions {
		graph[a.Plan.PlanCode] = a.Prerequisites
	}

	for _, a := range actions {
		for _, pre := range a.Prerequisites {
			if _, ok := graph[pre]; !ok {
				return errors.WrapInvalid(errors.ErrPrerequisiteNotMet, "Planner", "ValidatePrerequisites",
					fmt.Sprintf("plan %s requires unknown plan %s", a.Plan.PlanCode, pre))
			}
		}
	}

	// Depth-first cycle detection over the prerequisite edges.
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(graph))
	var visit func(code string) error
	visit = func(code string) error {
		switch state[code] {
		case visiting:
			return errors.WrapInvalid(errors.ErrPrerequisiteNotMet, "Planner", "ValidatePrerequisites",
				fmt.Sprintf("prerequisite cycle through plan %s", code))
		case done:
			return nil
		}
		state[code] = visiting
		for _, pre := range graph[code] {
			if err := visit(pre); err != nil {
				return err
			}
		}
		state[code] = done
		return nil
	}
	for code := range graph {
		if err := visit(code); err != nil {
			return err
		}
	}
	return nil
}

// Recommendation is one candidate optimization action scored by the
// optimization service.
type Recommendation struct {
	Action           string
	Target           string
	Value            float64
	ImpactScore      float64
	FeasibilityScore float64
	SafetyScore      float64
	Duration         time.Duration
}

// RankRecommendations orders candidates by impact times feasibility,
// takes the top limit, and keeps only those whose safety score exceeds
// the safety cutoff of 0.8.
func RankRecommendations(recs []Recommendation, limit int) []Recommendation {
	if limit <= 0 {
		limit = 3
	}

	ranked := make([]Recommendation, len(recs))
	copy(ranked, recs)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].ImpactScore*ranked[i].FeasibilityScore >
			ranked[j].ImpactScore*ranked[j].FeasibilityScore
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	selected := ranked[:0]
	for _, r := range ranked {
		if r.SafetyScore > 0.8 {
			selected = append(selected, r)
		}
	}
	return selected
}
