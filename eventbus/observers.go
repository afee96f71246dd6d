package eventbus

import (
	"log/slog"
	"sync"

	"github.com/hydroworks/aquapilot/pkg/buffer"
	"github.com/hydroworks/aquapilot/types"
)

// BufferingObserver accumulates sensor data events so the monitor stage
// can drain a batch at cycle start instead of chasing the live stream.
type BufferingObserver struct {
	name string
	ring *buffer.Ring[Event]
}

// NewBufferingObserver creates a buffering observer holding up to
// capacity events.
func NewBufferingObserver(name string, capacity int) *BufferingObserver {
	return &BufferingObserver{
		name: name,
		ring: buffer.NewRing[Event](capacity),
	}
}

func (o *BufferingObserver) Name() string { return o.name }

func (o *BufferingObserver) OnEvent(ev Event) error {
	o.ring.Push(ev)
	return nil
}

// Drain returns the buffered events oldest first and clears the buffer.
func (o *BufferingObserver) Drain() []Event {
	out := o.ring.Snapshot()
	o.ring.Clear()
	return out
}

// Pending returns the number of buffered events.
func (o *BufferingObserver) Pending() int { return o.ring.Len() }

// StateObserver tracks the most recent system state transition and a
// count of transitions per target state.
type StateObserver struct {
	name string

	mu          sync.RWMutex
	current     types.SystemState
	transitions map[types.SystemState]int
}

// NewStateObserver creates a state observer starting in UNKNOWN.
func NewStateObserver(name string) *StateObserver {
	return &StateObserver{
		name:        name,
		current:     types.StateUnknown,
		transitions: make(map[types.SystemState]int),
	}
}

func (o *StateObserver) Name() string { return o.name }

func (o *StateObserver) OnEvent(ev Event) error {
	if ev.Type != EventStateChange {
		return nil
	}
	to, _ := ev.Payload["to"].(string)
	if to == "" {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.current = types.SystemState(to)
	o.transitions[o.current]++
	return nil
}

// Current returns the last observed system state.
func (o *StateObserver) Current() types.SystemState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.current
}

// Transitions returns how many times the given state has been entered.
func (o *StateObserver) Transitions(s types.SystemState) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.transitions[s]
}

// ActionSink receives the commands carried by action events.
type ActionSink func(target, commandType string, value float64)

// ActionObserver forwards action events to a sink, typically the audit
// trail or a downstream notification channel.
type ActionObserver struct {
	name string
	sink ActionSink
}

// NewActionObserver creates an action observer. A nil sink drops events.
func NewActionObserver(name string, sink ActionSink) *ActionObserver {
	return &ActionObserver{name: name, sink: sink}
}

func (o *ActionObserver) Name() string { return o.name }

func (o *ActionObserver) OnEvent(ev Event) error {
	if ev.Type != EventAction || o.sink == nil {
		return nil
	}
	target, _ := ev.Payload["target_id"].(string)
	cmdType, _ := ev.Payload["command_type"].(string)
	value, _ := ev.Payload["value"].(float64)
	o.sink(target, cmdType, value)
	return nil
}

// AlertObserver retains active alerts and logs critical ones as they
// arrive. Alerts are keyed by event ID.
type AlertObserver struct {
	name   string
	logger *slog.Logger

	mu     sync.RWMutex
	active map[string]Event
}

// NewAlertObserver creates an alert observer.
func NewAlertObserver(name string, logger *slog.Logger) *AlertObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertObserver{
		name:   name,
		logger: logger,
		active: make(map[string]Event),
	}
}

func (o *AlertObserver) Name() string { return o.name }

func (o *AlertObserver) OnEvent(ev Event) error {
	if ev.Type != EventAlert {
		return nil
	}

	o.mu.Lock()
	o.active[ev.ID] = ev
	o.mu.Unlock()

	if ev.Severity == SeverityCritical {
		o.logger.Error("critical alert",
			"source", ev.Source,
			"message", ev.Payload["message"])
	} else {
		o.logger.Warn("alert",
			"source", ev.Source,
			"severity", string(ev.Severity),
			"message", ev.Payload["message"])
	}
	return nil
}

// Active returns the currently retained alerts.
func (o *AlertObserver) Active() []Event {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Event, 0, len(o.active))
	for _, ev := range o.active {
		out = append(out, ev)
	}
	return out
}

// Acknowledge removes an alert by event ID. It returns false if the
// alert was not active.
func (o *AlertObserver) Acknowledge(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.active[id]; !ok {
		return false
	}
	delete(o.active, id)
	return true
}
