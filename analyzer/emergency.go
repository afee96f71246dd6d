package analyzer

import (
	"math"

	"github.com/hydroworks/aquapilot/types"
)

// EmergencyResponseStrategy applies tightened working limits plus hard
// critical bounds. Any critical breach forces the emergency-critical
// state; with no findings the system sits in emergency monitoring
// rather than NORMAL because the scenario itself is exceptional.
type EmergencyResponseStrategy struct{}

func (EmergencyResponseStrategy) Name() types.Scenario { return types.ScenarioEmergencyResponse }

const (
	emergencyBreachPenalty   = 0.25
	emergencyCriticalPenalty = 0.4
	emergencyRiskMultiplier  = 1.5
)

func (s EmergencyResponseStrategy) Analyze(readings []types.SensorReading, ctx types.AnalysisContext) types.AnalysisResult {
	var violations []types.Violation
	penalty := 0.0
	criticalBreaches := 0

	for _, r := range readings {
		if missing(r) {
			violations = append(violations, missingViolation(r))
			penalty += missingValuePenalty
			continue
		}
		for _, v := range checkEnvelope(r, s.Thresholds(r.SensorType, ctx)) {
			violations = append(violations, v)
			if v.Critical {
				penalty += emergencyCriticalPenalty
				criticalBreaches++
			} else {
				penalty += emergencyBreachPenalty
			}
		}
	}

	quality := clampScore(1.0 - penalty)
	state := determineState(violations, quality)
	if state == types.StateNormal {
		state = types.StateEmergencyMonitoring
	}

	return types.AnalysisResult{
		State:           state,
		Violations:      violations,
		QualityScore:    quality,
		RiskScore:       s.RiskScore(violations, ctx),
		StrategyUsed:    s.Name(),
		SensorsAnalyzed: len(readings),
		Detail: map[string]any{
			"emergency_mode_active":      true,
			"critical_threshold_breaches": criticalBreaches,
		},
	}
}

func (EmergencyResponseStrategy) Thresholds(sensorType types.SensorType, _ types.AnalysisContext) Envelope {
	switch sensorType {
	case types.SensorFlow:
		return Envelope{
			Min: 0, Max: 80,
			CritMin: math.Inf(-1), CritMax: 120,
			HasCritical: true, Defined: true,
		}
	case types.SensorPressure:
		return Envelope{
			Min: 1.0, Max: 3.0,
			CritMin: 1.0, CritMax: 5.0,
			HasCritical: true, Defined: true,
		}
	case types.SensorQuality:
		return Envelope{
			Min: 7.0, Max: 10.0,
			CritMin: 4.0, CritMax: math.Inf(1),
			HasCritical: true, Defined: true,
		}
	case types.SensorTemperature:
		return Envelope{
			Min: 8.0, Max: 20.0,
			CritMin: math.Inf(-1), CritMax: 35.0,
			HasCritical: true, Defined: true,
		}
	default:
		return Envelope{}
	}
}

func (EmergencyResponseStrategy) RiskScore(violations []types.Violation, _ types.AnalysisContext) float64 {
	base := float64(len(violations)) * 0.4
	return math.Min(1.0, base*emergencyRiskMultiplier)
}
