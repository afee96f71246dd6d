package gateway

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydroworks/aquapilot/types"
)

func reading(id string, t types.SensorType, value float64, ts time.Time) types.SensorReading {
	return types.SensorReading{
		SensorID:   id,
		SensorType: t,
		Value:      value,
		Timestamp:  ts,
		Quality:    types.QualityGood,
		Unit:       "unit",
	}
}

func TestNormalizeAcceptsSoundReadings(t *testing.T) {
	g := New(5*time.Minute, 10, nil, nil)
	now := time.Now()

	result := g.Normalize(now, []types.SensorReading{
		reading("flow_main", types.SensorFlow, 120.0, now),
		reading("pressure_main", types.SensorPressure, 3.2, now.Add(-time.Minute)),
	})

	require.Len(t, result.Accepted, 2)
	assert.Empty(t, result.Rejected)
	assert.Equal(t, GradeExcellent, result.Quality)
	// Sorted by sensor id.
	assert.Equal(t, "flow_main", result.Accepted[0].SensorID)
}

func TestNormalizeRejections(t *testing.T) {
	g := New(5*time.Minute, 10, nil, nil)
	now := time.Now()

	result := g.Normalize(now, []types.SensorReading{
		reading("", types.SensorFlow, 10, now),
		reading("future", types.SensorFlow, 10, now.Add(time.Hour)),
		reading("stale", types.SensorFlow, 10, now.Add(-time.Hour)),
		reading("nan", types.SensorFlow, math.NaN(), now),
		reading("implausible", types.SensorPressure, 90.0, now),
	})

	assert.Empty(t, result.Accepted)
	require.Len(t, result.Rejected, 5)

	reasons := map[string]string{}
	for _, rej := range result.Rejected {
		reasons[rej.Reading.SensorID] = rej.Reason
	}
	assert.Equal(t, ReasonEmptySensorID, reasons[""])
	assert.Equal(t, ReasonFutureTimestamp, reasons["future"])
	assert.Equal(t, ReasonStale, reasons["stale"])
	assert.Equal(t, ReasonNotFinite, reasons["nan"])
	assert.Equal(t, ReasonOutOfRange, reasons["implausible"])
}

func TestNormalizeKeepsEmergencyMagnitudes(t *testing.T) {
	// Extreme but physically possible values must reach the analyzer.
	g := New(5*time.Minute, 10, nil, nil)
	now := time.Now()

	result := g.Normalize(now, []types.SensorReading{
		reading("flow_main", types.SensorFlow, 220.0, now),
		reading("pressure_main", types.SensorPressure, 1.2, now),
	})
	require.Len(t, result.Accepted, 2)
	assert.Empty(t, result.Rejected)
}

func TestNormalizeDedupPrefersHigherPriority(t *testing.T) {
	g := New(5*time.Minute, 10, nil, nil)
	now := time.Now()

	low := reading("flow_main", types.SensorFlow, 80.0, now)
	low.Metadata = map[string]any{"system_priority": 1}
	high := reading("flow_main", types.SensorFlow, 85.0, now.Add(-time.Minute))
	high.Metadata = map[string]any{"system_priority": 5}

	result := g.Normalize(now, []types.SensorReading{low, high})
	require.Len(t, result.Accepted, 1)
	assert.Equal(t, 85.0, result.Accepted[0].Value)
}

func TestNormalizeDedupTieBreaksOnRecency(t *testing.T) {
	g := New(5*time.Minute, 10, nil, nil)
	now := time.Now()

	older := reading("flow_main", types.SensorFlow, 80.0, now.Add(-2*time.Minute))
	newer := reading("flow_main", types.SensorFlow, 90.0, now)

	result := g.Normalize(now, []types.SensorReading{older, newer})
	require.Len(t, result.Accepted, 1)
	assert.Equal(t, 90.0, result.Accepted[0].Value)
}

func TestNormalizePassesBadQualityThrough(t *testing.T) {
	g := New(5*time.Minute, 10, nil, nil)
	now := time.Now()

	bad := reading("pressure_main", types.SensorPressure, 0, now)
	bad.Quality = types.QualityBad

	result := g.Normalize(now, []types.SensorReading{
		bad,
		reading("flow_main", types.SensorFlow, 100, now),
		reading("temp_main", types.SensorTemperature, 18, now),
	})
	require.Len(t, result.Accepted, 3)
	assert.Equal(t, GradeFair, result.Quality, "one bad of three readings")
}

func TestAssessQualityGrades(t *testing.T) {
	now := time.Now()
	good := reading("a", types.SensorFlow, 1, now)
	bad := good
	bad.Quality = types.QualityBad

	assert.Equal(t, GradeNoData, AssessQuality(nil))
	assert.Equal(t, GradeExcellent, AssessQuality([]types.SensorReading{good, good, good}))
	assert.Equal(t, GradeGood, AssessQuality([]types.SensorReading{good, good, good, good, bad}))
	assert.Equal(t, GradeFair, AssessQuality([]types.SensorReading{good, good, bad}))
	assert.Equal(t, GradePoor, AssessQuality([]types.SensorReading{good, bad, bad}))
}

func TestHistoryIsBoundedPerSensor(t *testing.T) {
	g := New(5*time.Minute, 3, nil, nil)
	now := time.Now()

	for i := 0; i < 5; i++ {
		g.Normalize(now, []types.SensorReading{
			reading("flow_main", types.SensorFlow, float64(i), now),
		})
	}

	history := g.History("flow_main")
	require.Len(t, history, 3)
	assert.Equal(t, 2.0, history[0].Value)
	assert.Equal(t, 4.0, history[2].Value)

	latest, ok := g.Latest("flow_main")
	require.True(t, ok)
	assert.Equal(t, 4.0, latest.Value)

	_, ok = g.Latest("unknown")
	assert.False(t, ok)
}
