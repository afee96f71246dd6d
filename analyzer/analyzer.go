// Package analyzer maps one cycle's sensor readings to an assessed
// system state. A ScenarioAnalyzer selects the strategy registered for
// the context's scenario; there is no fallback strategy, an unknown
// scenario fails the analyze stage outright.
package analyzer

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/hydroworks/aquapilot/errors"
	"github.com/hydroworks/aquapilot/metric"
	"github.com/hydroworks/aquapilot/types"
)

// ScenarioAnalyzer dispatches analysis to the strategy registered for
// the active scenario.
type ScenarioAnalyzer struct {
	strategies map[types.Scenario]Strategy
	logger     *slog.Logger
	metrics    *metric.Metrics
}

// New creates an analyzer with the four built-in strategies registered.
func New(logger *slog.Logger, metrics *metric.Metrics) *ScenarioAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	a := &ScenarioAnalyzer{
		strategies: make(map[types.Scenario]Strategy),
		logger:     logger,
		metrics:    metrics,
	}
	a.Register(NormalOperationStrategy{})
	a.Register(PeakDemandStrategy{})
	a.Register(EmergencyResponseStrategy{})
	a.Register(DroughtConditionsStrategy{})
	return a
}

// Register adds or replaces the strategy for its scenario.
func (a *ScenarioAnalyzer) Register(s Strategy) {
	a.strategies[s.Name()] = s
}

// Scenarios returns the registered scenarios in stable order.
func (a *ScenarioAnalyzer) Scenarios() []types.Scenario {
	out := make([]types.Scenario, 0, len(a.strategies))
	for s := range a.strategies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Analyze scores the readings with the strategy selected by the
// context's scenario. The result is deterministic for a given reading
// set and context.
func (a *ScenarioAnalyzer) Analyze(readings []types.SensorReading, ctx types.AnalysisContext) (types.AnalysisResult, error) {
	strategy, ok := a.strategies[ctx.Scenario]
	if !ok {
		return types.AnalysisResult{}, errors.WrapFatal(errors.ErrUnknownScenario,
			"ScenarioAnalyzer", "Analyze", fmt.Sprintf("scenario %q", ctx.Scenario))
	}

	result := strategy.Analyze(readings, ctx)

	if a.metrics != nil {
		a.metrics.RecordQualityScore(string(ctx.Scenario), result.QualityScore)
		for _, v := range result.Violations {
			a.metrics.RecordViolation(string(ctx.Scenario), string(v.Kind))
		}
	}

	a.logger.Debug("analysis complete",
		"scenario", string(ctx.Scenario),
		"state", string(result.State),
		"violations", len(result.Violations),
		"quality_score", result.QualityScore,
		"risk_score", result.RiskScore)

	return result, nil
}
