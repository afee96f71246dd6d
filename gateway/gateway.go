// Package gateway normalizes raw sensor readings into the canonical
// per-cycle set the analyzer consumes. It validates plausibility
// envelopes per sensor type, rejects stale or malformed readings,
// deduplicates by sensor id keeping the highest-priority source, and
// grades the overall data quality of each cycle.
package gateway

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/hydroworks/aquapilot/metric"
	"github.com/hydroworks/aquapilot/pkg/buffer"
	"github.com/hydroworks/aquapilot/types"
)

// Rejection reasons attached to readings the gateway refuses.
const (
	ReasonEmptySensorID   = "empty_sensor_id"
	ReasonFutureTimestamp = "future_timestamp"
	ReasonStale           = "stale"
	ReasonNotFinite       = "not_finite"
	ReasonOutOfRange      = "out_of_range"
)

// Data quality grades for one cycle's accepted reading set.
const (
	GradeExcellent = "excellent"
	GradeGood      = "good"
	GradeFair      = "fair"
	GradePoor      = "poor"
	GradeNoData    = "no_data"
)

// plausibilityEnvelopes are physical sanity bounds per sensor type. A
// value outside them is a measurement fault, not an operating
// condition, and is rejected before analysis. Sensor types without an
// entry are accepted as-is.
var plausibilityEnvelopes = map[types.SensorType]types.Bounds{
	types.SensorFlow:        {Min: 0, Max: 2000},  // L/min
	types.SensorPressure:    {Min: 0, Max: 20},    // bar
	types.SensorQuality:     {Min: 0, Max: 14},    // pH
	types.SensorTemperature: {Min: -10, Max: 60},  // Celsius
	types.SensorLevel:       {Min: 0, Max: 500},   // cm
}

// Rejection records one refused reading and why.
type Rejection struct {
	Reading types.SensorReading
	Reason  string
}

// Result is the outcome of normalizing one cycle's raw reading set.
type Result struct {
	Accepted []types.SensorReading
	Rejected []Rejection
	Quality  string
}

// Gateway owns no state beyond a bounded per-sensor history retained
// for diagnostics. Bad-quality readings pass through: the analyzer
// treats them as missing values, which is itself a signal.
type Gateway struct {
	staleAfter     time.Duration
	historyPerUnit int
	logger         *slog.Logger
	metrics        *metric.Metrics

	mu      sync.Mutex
	history map[string]*buffer.Ring[types.SensorReading]
}

// New creates a gateway. Readings older than staleAfter are rejected;
// historyPerUnit bounds the retained readings per sensor.
func New(staleAfter time.Duration, historyPerUnit int, logger *slog.Logger, metrics *metric.Metrics) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	if historyPerUnit <= 0 {
		historyPerUnit = 100
	}
	return &Gateway{
		staleAfter:     staleAfter,
		historyPerUnit: historyPerUnit,
		logger:         logger,
		metrics:        metrics,
		history:        make(map[string]*buffer.Ring[types.SensorReading]),
	}
}

// Normalize validates, deduplicates and grades one cycle's raw reading
// set. The accepted set comes back sorted by sensor id.
func (g *Gateway) Normalize(now time.Time, readings []types.SensorReading) Result {
	var rejected []Rejection
	bySensor := make(map[string]types.SensorReading)

	for _, r := range readings {
		if reason := g.validate(now, r); reason != "" {
			rejected = append(rejected, Rejection{Reading: r, Reason: reason})
			g.logger.Warn("reading rejected",
				"sensor_id", r.SensorID, "reason", reason, "value", r.Value)
			if g.metrics != nil {
				g.metrics.RecordReadingDropped("gateway", reason)
			}
			continue
		}

		existing, seen := bySensor[r.SensorID]
		switch {
		case !seen:
			bySensor[r.SensorID] = r
		case r.SourcePriority() > existing.SourcePriority():
			bySensor[r.SensorID] = r
		case r.SourcePriority() == existing.SourcePriority() && r.Timestamp.After(existing.Timestamp):
			bySensor[r.SensorID] = r
		}
	}

	accepted := make([]types.SensorReading, 0, len(bySensor))
	for _, r := range bySensor {
		accepted = append(accepted, r)
	}
	sort.Slice(accepted, func(i, j int) bool { return accepted[i].SensorID < accepted[j].SensorID })

	g.record(accepted)

	result := Result{
		Accepted: accepted,
		Rejected: rejected,
		Quality:  AssessQuality(accepted),
	}
	g.logger.Debug("cycle readings normalized",
		"accepted", len(accepted), "rejected", len(rejected), "data_quality", result.Quality)
	return result
}

// validate returns a rejection reason, or empty when the reading is
// structurally sound.
func (g *Gateway) validate(now time.Time, r types.SensorReading) string {
	if r.SensorID == "" {
		return ReasonEmptySensorID
	}
	if r.Timestamp.After(now.Add(time.Second)) {
		return ReasonFutureTimestamp
	}
	if !r.Timestamp.IsZero() && now.Sub(r.Timestamp) > g.staleAfter {
		return ReasonStale
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return ReasonNotFinite
	}
	if env, ok := plausibilityEnvelopes[r.SensorType]; ok && r.Quality == types.QualityGood {
		if !env.Contains(r.Value) {
			return ReasonOutOfRange
		}
	}
	return ""
}

func (g *Gateway) record(accepted []types.SensorReading) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range accepted {
		ring, ok := g.history[r.SensorID]
		if !ok {
			ring = buffer.NewRing[types.SensorReading](g.historyPerUnit)
			g.history[r.SensorID] = ring
		}
		ring.Push(r)
	}
}

// History returns the retained readings for one sensor, oldest first.
func (g *Gateway) History(sensorID string) []types.SensorReading {
	g.mu.Lock()
	defer g.mu.Unlock()
	ring, ok := g.history[sensorID]
	if !ok {
		return nil
	}
	return ring.Snapshot()
}

// Latest returns the most recent retained reading for one sensor.
func (g *Gateway) Latest(sensorID string) (types.SensorReading, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ring, ok := g.history[sensorID]
	if !ok || ring.Len() == 0 {
		return types.SensorReading{}, false
	}
	last := ring.Last(1)
	return last[0], true
}

// AssessQuality grades a reading set by its ratio of good, finite
// measurements.
func AssessQuality(readings []types.SensorReading) string {
	if len(readings) == 0 {
		return GradeNoData
	}
	valid := 0
	for _, r := range readings {
		if r.Quality == types.QualityGood && !math.IsNaN(r.Value) && !math.IsInf(r.Value, 0) {
			valid++
		}
	}
	ratio := float64(valid) / float64(len(readings))
	switch {
	case ratio >= 0.95:
		return GradeExcellent
	case ratio >= 0.8:
		return GradeGood
	case ratio >= 0.6:
		return GradeFair
	default:
		return GradePoor
	}
}

// PlausibilityEnvelope returns the physical sanity bounds for a sensor
// type and whether one is declared.
func PlausibilityEnvelope(t types.SensorType) (types.Bounds, bool) {
	env, ok := plausibilityEnvelopes[t]
	return env, ok
}
