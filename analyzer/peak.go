package analyzer

import (
	"math"

	"github.com/hydroworks/aquapilot/types"
)

// PeakDemandStrategy widens the flow ceiling and tightens the pressure
// ceiling in proportion to system load. Heavy load itself degrades the
// quality score even without violations.
type PeakDemandStrategy struct{}

func (PeakDemandStrategy) Name() types.Scenario { return types.ScenarioPeakDemand }

const peakBreachPenalty = 0.20

func (s PeakDemandStrategy) Analyze(readings []types.SensorReading, ctx types.AnalysisContext) types.AnalysisResult {
	var violations []types.Violation
	penalty := 0.0
	loadFactor := ctx.LoadFactor()

	for _, r := range readings {
		if missing(r) {
			violations = append(violations, missingViolation(r))
			penalty += missingValuePenalty
			continue
		}
		for _, v := range checkEnvelope(r, s.Thresholds(r.SensorType, ctx)) {
			violations = append(violations, v)
			penalty += peakBreachPenalty
		}
	}

	loadPenalty := math.Max(0, (loadFactor-0.8)*0.2)
	quality := clampScore(1.0 - penalty - loadPenalty)

	return types.AnalysisResult{
		State:           determineState(violations, quality),
		Violations:      violations,
		QualityScore:    quality,
		RiskScore:       s.RiskScore(violations, ctx),
		StrategyUsed:    s.Name(),
		SensorsAnalyzed: len(readings),
		Detail: map[string]any{
			"system_load_factor":       loadFactor,
			"load_adjusted_thresholds": true,
		},
	}
}

func (PeakDemandStrategy) Thresholds(sensorType types.SensorType, ctx types.AnalysisContext) Envelope {
	loadFactor := ctx.LoadFactor()
	switch sensorType {
	case types.SensorFlow:
		// Higher demand tolerates higher flow.
		return Envelope{Min: 0, Max: 100 * (1.0 + loadFactor*0.3), Defined: true}
	case types.SensorPressure:
		// Pressure headroom shrinks as the network loads up.
		return Envelope{Min: 0, Max: 4.0 * (1.0 - loadFactor*0.1), Defined: true}
	case types.SensorQuality:
		return Envelope{Min: 6.0 * (1.0 + loadFactor*0.05), Max: 10.0, Defined: true}
	case types.SensorTemperature:
		return Envelope{Min: 5.0, Max: 25.0 + loadFactor*5, Defined: true}
	default:
		return Envelope{}
	}
}

func (PeakDemandStrategy) RiskScore(violations []types.Violation, ctx types.AnalysisContext) float64 {
	base := float64(len(violations)) * 0.25
	loadRisk := math.Max(0, (ctx.LoadFactor()-0.8)*0.3)
	return math.Min(1.0, base+loadRisk)
}
