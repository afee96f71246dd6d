package analyzer

import (
	"math"

	"github.com/hydroworks/aquapilot/types"
)

// NormalOperationStrategy scores readings against the static baseline
// envelopes used during routine operation.
type NormalOperationStrategy struct{}

func (NormalOperationStrategy) Name() types.Scenario { return types.ScenarioNormalOperation }

const normalBreachPenalty = 0.15

func (s NormalOperationStrategy) Analyze(readings []types.SensorReading, ctx types.AnalysisContext) types.AnalysisResult {
	var violations []types.Violation
	penalty := 0.0

	for _, r := range readings {
		if missing(r) {
			violations = append(violations, missingViolation(r))
			penalty += missingValuePenalty
			continue
		}
		for _, v := range checkEnvelope(r, s.Thresholds(r.SensorType, ctx)) {
			violations = append(violations, v)
			penalty += normalBreachPenalty
		}
	}

	quality := clampScore(1.0 - penalty)
	return types.AnalysisResult{
		State:           determineState(violations, quality),
		Violations:      violations,
		QualityScore:    quality,
		RiskScore:       s.RiskScore(violations, ctx),
		StrategyUsed:    s.Name(),
		SensorsAnalyzed: len(readings),
	}
}

func (NormalOperationStrategy) Thresholds(sensorType types.SensorType, _ types.AnalysisContext) Envelope {
	switch sensorType {
	case types.SensorFlow:
		return Envelope{Min: 0, Max: 100, Defined: true}
	case types.SensorPressure:
		return Envelope{Min: 0, Max: 4.0, Defined: true}
	case types.SensorQuality:
		return Envelope{Min: 6.0, Max: 10.0, Defined: true}
	case types.SensorTemperature:
		return Envelope{Min: 5.0, Max: 25.0, Defined: true}
	default:
		return Envelope{}
	}
}

func (NormalOperationStrategy) RiskScore(violations []types.Violation, _ types.AnalysisContext) float64 {
	return math.Min(1.0, float64(len(violations))*0.2)
}
