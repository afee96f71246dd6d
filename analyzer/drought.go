package analyzer

import (
	"math"

	"github.com/hydroworks/aquapilot/types"
)

// DroughtConditionsStrategy scales flow limits down by drought severity
// and raises the water quality floor. Flow between the conservation
// limit and the working limit is flagged as a conservation violation
// with a lighter penalty than an outright breach.
type DroughtConditionsStrategy struct{}

func (DroughtConditionsStrategy) Name() types.Scenario { return types.ScenarioDroughtConditions }

const (
	droughtBreachPenalty       = 0.2
	droughtConservationPenalty = 0.1
)

func (s DroughtConditionsStrategy) Analyze(readings []types.SensorReading, ctx types.AnalysisContext) types.AnalysisResult {
	var violations []types.Violation
	penalty := 0.0
	conservationCount := 0
	severity := ctx.DroughtSeverity()
	conservationLimit := 60 * s.conservationFactor(severity)

	for _, r := range readings {
		if missing(r) {
			violations = append(violations, missingViolation(r))
			penalty += missingValuePenalty
			continue
		}

		breaches := checkEnvelope(r, s.Thresholds(r.SensorType, ctx))
		for _, v := range breaches {
			violations = append(violations, v)
			penalty += droughtBreachPenalty
		}

		// Inside the working limit but above the conservation limit.
		if r.SensorType == types.SensorFlow && len(breaches) == 0 && r.Value > conservationLimit {
			violations = append(violations, types.Violation{
				SensorID:  r.SensorID,
				Kind:      types.ViolationConservation,
				Value:     r.Value,
				Threshold: conservationLimit,
			})
			penalty += droughtConservationPenalty
			conservationCount++
		}
	}

	// Drought itself degrades confidence in the readings' headroom.
	penalty += severity * 0.1
	quality := clampScore(1.0 - penalty)

	return types.AnalysisResult{
		State:           determineState(violations, quality),
		Violations:      violations,
		QualityScore:    quality,
		RiskScore:       s.RiskScore(violations, ctx),
		StrategyUsed:    s.Name(),
		SensorsAnalyzed: len(readings),
		Detail: map[string]any{
			"drought_severity":         severity,
			"conservation_mode_active": true,
			"water_conservation_score": clampScore(1.0 - float64(conservationCount)*0.2),
		},
	}
}

func (s DroughtConditionsStrategy) conservationFactor(severity float64) float64 {
	return 1.0 - severity*0.4
}

func (s DroughtConditionsStrategy) Thresholds(sensorType types.SensorType, ctx types.AnalysisContext) Envelope {
	factor := s.conservationFactor(ctx.DroughtSeverity())
	switch sensorType {
	case types.SensorFlow:
		return Envelope{Min: 0, Max: 80 * factor, Defined: true}
	case types.SensorPressure:
		// A safety floor holds even while conserving.
		return Envelope{Min: 2.0, Max: 4.0, Defined: true}
	case types.SensorQuality:
		return Envelope{Min: 7.5, Max: 10.0, Defined: true}
	case types.SensorTemperature:
		return Envelope{Min: 5.0, Max: 30.0, Defined: true}
	default:
		return Envelope{}
	}
}

func (DroughtConditionsStrategy) RiskScore(violations []types.Violation, ctx types.AnalysisContext) float64 {
	n := 0
	for _, v := range violations {
		if v.Kind != types.ViolationConservation {
			n++
		}
	}
	base := float64(n) * 0.25
	droughtRisk := ctx.DroughtSeverity() * 0.3
	return math.Min(1.0, base+droughtRisk)
}
