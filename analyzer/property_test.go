package analyzer

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/hydroworks/aquapilot/types"
)

var allStrategies = []Strategy{
	NormalOperationStrategy{},
	PeakDemandStrategy{},
	EmergencyResponseStrategy{},
	DroughtConditionsStrategy{},
}

func genReadings(flow, pressure, quality float64) []types.SensorReading {
	return []types.SensorReading{
		reading("f1", types.SensorFlow, flow),
		reading("p1", types.SensorPressure, pressure),
		reading("q1", types.SensorQuality, quality),
	}
}

func genContext(load, severity float64) types.AnalysisContext {
	return types.AnalysisContext{
		TimeOfDay:  "12:00",
		Season:     "summer",
		Weather:    map[string]float64{"drought_severity": severity},
		SystemLoad: load,
	}
}

// Scores stay inside [0,1] for any readings under any strategy.
func TestPropertyScoreBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("quality and risk scores stay within [0,1]", prop.ForAll(
		func(flow, pressure, quality, load, severity float64) bool {
			readings := genReadings(flow, pressure, quality)
			ctx := genContext(load, severity)
			for _, s := range allStrategies {
				ctx.Scenario = s.Name()
				res := s.Analyze(readings, ctx)
				if res.QualityScore < 0 || res.QualityScore > 1 {
					return false
				}
				if res.RiskScore < 0 || res.RiskScore > 1 {
					return false
				}
			}
			return true
		},
		gen.Float64Range(-500, 500),
		gen.Float64Range(-10, 10),
		gen.Float64Range(-5, 15),
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

// Adding a breaching reading never increases the quality score.
func TestPropertyQualityMonotonicInViolations(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("more violations never raise quality", prop.ForAll(
		func(flow, load, severity float64, extraBreaches int) bool {
			ctx := genContext(load, severity)
			for _, s := range allStrategies {
				ctx.Scenario = s.Name()

				base := []types.SensorReading{reading("f0", types.SensorFlow, flow)}
				prev := s.Analyze(base, ctx)

				withBreaches := base
				for i := 0; i < extraBreaches; i++ {
					// Far above every strategy's flow ceiling.
					withBreaches = append(withBreaches, reading("fx", types.SensorFlow, 10000))
					next := s.Analyze(withBreaches, ctx)
					if next.QualityScore > prev.QualityScore {
						return false
					}
					if len(next.Violations) < len(prev.Violations) {
						return false
					}
					prev = next
				}
			}
			return true
		},
		gen.Float64Range(0, 300),
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 1),
		gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}

// Analysis is a pure function of its inputs.
func TestPropertyAnalyzeIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	a := New(nil, nil)

	properties.Property("re-running analyze yields identical results", prop.ForAll(
		func(flow, pressure, quality, load, severity float64) bool {
			readings := genReadings(flow, pressure, quality)
			for _, s := range allStrategies {
				ctx := genContext(load, severity)
				ctx.Scenario = s.Name()

				first, err1 := a.Analyze(readings, ctx)
				second, err2 := a.Analyze(readings, ctx)
				if err1 != nil || err2 != nil {
					return false
				}
				if !reflect.DeepEqual(first, second) {
					return false
				}
			}
			return true
		},
		gen.Float64Range(-500, 500),
		gen.Float64Range(-10, 10),
		gen.Float64Range(-5, 15),
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
