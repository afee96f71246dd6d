package eventbus

import (
	"time"

	"github.com/google/uuid"

	"github.com/hydroworks/aquapilot/types"
)

// EventType identifies the kind of event flowing through the bus.
type EventType string

const (
	EventSensorData  EventType = "sensor_data"
	EventStateChange EventType = "state_change"
	EventAction      EventType = "action"
	EventAlert       EventType = "alert"
)

// Severity grades an event for routing and alert handling.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Event is a single immutable occurrence on the bus. Payload keys are
// event-type specific; observers must tolerate missing keys.
type Event struct {
	ID        string
	Type      EventType
	Source    string
	Severity  Severity
	Timestamp time.Time
	Payload   map[string]any
}

func newEvent(t EventType, source string, sev Severity, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Source:    source,
		Severity:  sev,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// NewSensorDataEvent wraps a validated reading for distribution.
func NewSensorDataEvent(source string, reading types.SensorReading) Event {
	return newEvent(EventSensorData, source, SeverityInfo, map[string]any{
		"sensor_id":   reading.SensorID,
		"sensor_type": string(reading.SensorType),
		"value":       reading.Value,
		"unit":        reading.Unit,
		"quality":     string(reading.Quality),
	})
}

// NewStateChangeEvent records a system state transition. Transitions
// into a critical state are graded CRITICAL, transitions into warning
// are graded WARNING.
func NewStateChangeEvent(source string, from, to types.SystemState) Event {
	sev := SeverityInfo
	switch to {
	case types.StateCritical, types.StateEmergencyCritical:
		sev = SeverityCritical
	case types.StateWarning, types.StateEmergencyMonitoring:
		sev = SeverityWarning
	}
	return newEvent(EventStateChange, source, sev, map[string]any{
		"from": string(from),
		"to":   string(to),
	})
}

// NewActionEvent records a control command handed to the executor.
func NewActionEvent(source string, cmd types.ControlCommand) Event {
	return newEvent(EventAction, source, SeverityInfo, map[string]any{
		"target_id":    cmd.TargetID,
		"command_type": cmd.CommandType,
		"value":        cmd.Value,
		"priority":     cmd.Priority,
	})
}

// NewAlertEvent creates an alert. An alert carrying three or more
// violations, or any critical violation, is escalated to CRITICAL
// regardless of the requested severity.
func NewAlertEvent(source string, sev Severity, message string, violations []types.Violation) Event {
	if len(violations) >= 3 {
		sev = SeverityCritical
	}
	for _, v := range violations {
		if v.Critical {
			sev = SeverityCritical
			break
		}
	}

	kinds := make([]string, 0, len(violations))
	for _, v := range violations {
		kinds = append(kinds, string(v.Kind))
	}
	return newEvent(EventAlert, source, sev, map[string]any{
		"message":    message,
		"violations": kinds,
	})
}

// Clone returns a deep copy so observers cannot mutate shared payloads.
func (e Event) Clone() Event {
	out := e
	out.Payload = make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		out.Payload[k] = v
	}
	return out
}
