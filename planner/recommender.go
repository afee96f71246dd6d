package planner

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/hydroworks/aquapilot/types"
)

// SetpointRule describes the efficiency setpoint for one sensor and the
// corrective action that steers it back. Span scales the deviation into
// an impact score; a deviation of Span or more saturates at full impact.
type SetpointRule struct {
	SensorID    string
	Target      string
	Action      string
	Optimal     float64
	Span        float64
	Deadband    float64
	Feasibility float64
	Safety      float64
	Duration    time.Duration
}

// SetpointRecommender proposes optimization actions by comparing the
// latest readings against configured efficiency setpoints. Each rule
// whose sensor drifted past its deadband yields one recommendation
// steering the parameter back to the optimum; impact scales with the
// size of the drift.
type SetpointRecommender struct {
	rules  []SetpointRule
	logger *slog.Logger
}

// NewSetpointRecommender creates a recommender over a fixed rule set.
func NewSetpointRecommender(rules []SetpointRule, logger *slog.Logger) *SetpointRecommender {
	if logger == nil {
		logger = slog.Default()
	}
	return &SetpointRecommender{rules: rules, logger: logger}
}

// DefaultSetpointRules are the built-in efficiency targets for a
// distribution network running near nominal load.
func DefaultSetpointRules() []SetpointRule {
	return []SetpointRule{
		{
			SensorID:    "pressure_01",
			Target:      "main_pump",
			Action:      "adjust_pressure",
			Optimal:     2.8,
			Span:        1.5,
			Deadband:    0.2,
			Feasibility: 0.9,
			Safety:      0.95,
			Duration:    2 * time.Minute,
		},
		{
			SensorID:    "flow_01",
			Target:      "main_valve",
			Action:      "adjust_flow",
			Optimal:     55.0,
			Span:        40.0,
			Deadband:    5.0,
			Feasibility: 0.85,
			Safety:      0.9,
			Duration:    5 * time.Minute,
		},
		{
			SensorID:    "temperature_01",
			Target:      "treatment_unit",
			Action:      "adjust_flow",
			Optimal:     15.0,
			Span:        12.0,
			Deadband:    4.0,
			Feasibility: 0.6,
			Safety:      0.85,
			Duration:    10 * time.Minute,
		},
	}
}

// Recommendations scores the configured rules against the latest
// readings. A rule without a matching reading, or whose drift stays
// inside the deadband, contributes nothing.
func (s *SetpointRecommender) Recommendations(ctx context.Context,
	readings []types.SensorReading, analysis types.AnalysisResult) ([]Recommendation, error) {

	latest := make(map[string]types.SensorReading, len(readings))
	for _, r := range readings {
		if prev, ok := latest[r.SensorID]; !ok || r.Timestamp.After(prev.Timestamp) {
			latest[r.SensorID] = r
		}
	}

	var recs []Recommendation
	for _, rule := range s.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		reading, ok := latest[rule.SensorID]
		if !ok {
			continue
		}

		drift := math.Abs(reading.Value - rule.Optimal)
		if drift <= rule.Deadband {
			continue
		}

		impact := drift / rule.Span
		if impact > 1 {
			impact = 1
		}

		recs = append(recs, Recommendation{
			Action:           rule.Action,
			Target:           rule.Target,
			Value:            rule.Optimal,
			ImpactScore:      impact,
			FeasibilityScore: rule.Feasibility,
			SafetyScore:      rule.Safety,
			Duration:         rule.Duration,
		})
		s.logger.Debug("setpoint drift detected",
			"sensor", rule.SensorID,
			"value", reading.Value,
			"optimal", rule.Optimal,
			"impact", impact)
	}
	return recs, nil
}
