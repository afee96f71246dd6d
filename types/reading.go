// Package types defines the canonical sensor/command model shared by every
// stage of the control loop: readings, analysis inputs and outputs, system
// states and threshold bounds.
package types

import (
	"time"
)

// SensorType identifies the physical quantity a reading measures.
type SensorType string

const (
	SensorFlow        SensorType = "flow"
	SensorPressure    SensorType = "pressure"
	SensorQuality     SensorType = "quality"
	SensorTemperature SensorType = "temperature"
	SensorLevel       SensorType = "level"
	SensorMotor       SensorType = "motor"
)

// Quality flags the trustworthiness of a single reading as reported by
// the collecting system.
type Quality string

const (
	QualityGood Quality = "good"
	QualityBad  Quality = "bad"
)

// SensorReading is the canonical, immutable form of one field measurement.
// Adapters create readings once per cycle; downstream consumers never
// mutate them.
type SensorReading struct {
	SensorID   string         `json:"sensor_id"`
	SensorType SensorType     `json:"sensor_type"`
	Value      float64        `json:"value"`
	Timestamp  time.Time      `json:"timestamp"`
	Quality    Quality        `json:"quality"`
	Unit       string         `json:"unit"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// SourcePriority returns the priority of the system that produced this
// reading, as recorded by the integration manager. Zero when unknown.
func (r SensorReading) SourcePriority() int {
	if r.Metadata == nil {
		return 0
	}
	if p, ok := r.Metadata["system_priority"].(int); ok {
		return p
	}
	return 0
}

// ControlCommand is the canonical form of one corrective action sent
// toward a field device. Adapters translate it into their native protocol.
type ControlCommand struct {
	TargetID    string         `json:"target"`
	CommandType string         `json:"command_type"`
	Value       float64        `json:"value"`
	Timestamp   time.Time      `json:"timestamp"`
	Priority    int            `json:"priority"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Bounds is a closed [Min, Max] operating envelope for one parameter.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies inside the envelope.
func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}
