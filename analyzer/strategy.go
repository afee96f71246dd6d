package analyzer

import (
	"math"

	"github.com/hydroworks/aquapilot/types"
)

// Penalty constants shared across strategies. A missing or bad reading
// always costs more than a working-limit breach.
const (
	missingValuePenalty = 0.2
	qualityNormalFloor  = 0.8 // quality above this keeps the state NORMAL
	criticalCount       = 3   // violation count at which WARNING becomes CRITICAL
)

// Envelope is the working and critical operating range for one sensor
// type under one scenario. Critical bounds are only present when
// HasCritical is set; a zero-value envelope means no violation is
// possible for that sensor type.
type Envelope struct {
	Min, Max         float64
	CritMin, CritMax float64
	HasCritical      bool
	Defined          bool
}

// Strategy scores one cycle's readings against scenario-specific
// thresholds. Implementations are stateless; Analyze is pure with
// respect to its inputs.
type Strategy interface {
	Name() types.Scenario
	Analyze(readings []types.SensorReading, ctx types.AnalysisContext) types.AnalysisResult
	Thresholds(sensorType types.SensorType, ctx types.AnalysisContext) Envelope
	RiskScore(violations []types.Violation, ctx types.AnalysisContext) float64
}

// missing reports whether a reading carries no usable value.
func missing(r types.SensorReading) bool {
	return r.Quality == types.QualityBad || math.IsNaN(r.Value)
}

// checkEnvelope classifies one reading against an envelope. Critical
// bounds are evaluated first; a reading past a critical bound yields a
// single critical violation, not a working-limit one as well.
func checkEnvelope(r types.SensorReading, env Envelope) []types.Violation {
	if !env.Defined {
		return nil
	}

	if env.HasCritical {
		if r.Value > env.CritMax {
			return []types.Violation{{
				SensorID:  r.SensorID,
				Kind:      highKind(r.SensorType),
				Value:     r.Value,
				Threshold: env.CritMax,
				Critical:  true,
			}}
		}
		if r.Value < env.CritMin {
			return []types.Violation{{
				SensorID:  r.SensorID,
				Kind:      lowKind(r.SensorType),
				Value:     r.Value,
				Threshold: env.CritMin,
				Critical:  true,
			}}
		}
	}

	if r.Value > env.Max {
		return []types.Violation{{
			SensorID:  r.SensorID,
			Kind:      highKind(r.SensorType),
			Value:     r.Value,
			Threshold: env.Max,
		}}
	}
	if r.Value < env.Min {
		return []types.Violation{{
			SensorID:  r.SensorID,
			Kind:      lowKind(r.SensorType),
			Value:     r.Value,
			Threshold: env.Min,
		}}
	}
	return nil
}

func highKind(st types.SensorType) types.ViolationKind {
	switch st {
	case types.SensorFlow:
		return types.ViolationHighFlow
	case types.SensorPressure:
		return types.ViolationHighPressure
	default:
		return types.ViolationPoorQuality
	}
}

func lowKind(st types.SensorType) types.ViolationKind {
	switch st {
	case types.SensorFlow:
		return types.ViolationLowFlow
	case types.SensorPressure:
		return types.ViolationLowPressure
	default:
		return types.ViolationPoorQuality
	}
}

// missingViolation records an unusable reading.
func missingViolation(r types.SensorReading) types.Violation {
	return types.Violation{
		SensorID: r.SensorID,
		Kind:     types.ViolationMissingValue,
		Value:    r.Value,
	}
}

// determineState applies the shared state rule: any critical violation
// forces the emergency-critical state regardless of quality; otherwise
// quality above the floor keeps the system NORMAL, and below it the
// violation count separates WARNING from CRITICAL.
func determineState(violations []types.Violation, qualityScore float64) types.SystemState {
	for _, v := range violations {
		if v.Critical {
			return types.StateEmergencyCritical
		}
	}
	if qualityScore > qualityNormalFloor {
		return types.StateNormal
	}
	if len(violations) >= criticalCount {
		return types.StateCritical
	}
	return types.StateWarning
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
