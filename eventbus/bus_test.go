package eventbus

import (
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydroworks/aquapilot/types"
)

type recordingObserver struct {
	name string

	mu     sync.Mutex
	events []Event
	err    error
	panics bool
}

func (o *recordingObserver) Name() string { return o.name }

func (o *recordingObserver) OnEvent(ev Event) error {
	if o.panics {
		panic("boom")
	}
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
	return o.err
}

func (o *recordingObserver) seen() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Event, len(o.events))
	copy(out, o.events)
	return out
}

func alert(sev Severity) Event {
	return NewAlertEvent("test", sev, "msg", nil)
}

func TestPublishDeliversToAllObservers(t *testing.T) {
	bus := New(10, nil, nil)
	a := &recordingObserver{name: "a"}
	b := &recordingObserver{name: "b"}
	bus.Subscribe(a)
	bus.Subscribe(b)

	ok := bus.Publish(alert(SeverityInfo))
	require.True(t, ok)
	assert.Len(t, a.seen(), 1)
	assert.Len(t, b.seen(), 1)

	c := bus.Counters()
	assert.Equal(t, uint64(1), c.Published)
	assert.Equal(t, uint64(2), c.Notified)
	assert.Equal(t, uint64(0), c.Errored)
}

func TestSubscribeByTypeRestrictsDelivery(t *testing.T) {
	bus := New(10, nil, nil)
	alerts := &recordingObserver{name: "alerts-only"}
	all := &recordingObserver{name: "everything"}
	bus.Subscribe(alerts, EventAlert)
	bus.Subscribe(all)

	bus.Publish(NewStateChangeEvent("test", types.StateNormal, types.StateWarning))
	bus.Publish(alert(SeverityWarning))

	assert.Len(t, alerts.seen(), 1)
	assert.Len(t, all.seen(), 2)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(10, nil, nil)
	a := &recordingObserver{name: "a"}
	bus.Subscribe(a)
	bus.Publish(alert(SeverityInfo))
	bus.Unsubscribe("a")
	bus.Publish(alert(SeverityInfo))

	assert.Len(t, a.seen(), 1)
}

func TestFilterRejectionShortCircuits(t *testing.T) {
	bus := New(10, nil, nil)
	a := &recordingObserver{name: "a"}
	bus.Subscribe(a)

	var secondCalled atomic.Bool
	bus.AddFilter(func(Event) bool { return false })
	bus.AddFilter(func(Event) bool {
		secondCalled.Store(true)
		return true
	})

	ok := bus.Publish(alert(SeverityInfo))
	assert.False(t, ok)
	assert.False(t, secondCalled.Load())
	assert.Empty(t, a.seen())
	assert.Empty(t, bus.History(""))

	c := bus.Counters()
	assert.Equal(t, uint64(1), c.Filtered)
	assert.Equal(t, uint64(0), c.Published)
}

func TestTransformersApplyInRegistrationOrder(t *testing.T) {
	bus := New(10, nil, nil)
	a := &recordingObserver{name: "a"}
	bus.Subscribe(a)

	bus.AddTransformer(func(ev Event) Event {
		ev.Payload["trail"] = "first"
		return ev
	})
	bus.AddTransformer(func(ev Event) Event {
		ev.Payload["trail"] = ev.Payload["trail"].(string) + ",second"
		return ev
	})

	bus.Publish(alert(SeverityInfo))
	require.Len(t, a.seen(), 1)
	assert.Equal(t, "first,second", a.seen()[0].Payload["trail"])
}

func TestObserverFailureIsIsolated(t *testing.T) {
	bus := New(10, nil, nil)
	failing := &recordingObserver{name: "failing", err: stderrors.New("sink down")}
	panicking := &recordingObserver{name: "panicking", panics: true}
	healthy := &recordingObserver{name: "healthy"}
	bus.Subscribe(failing)
	bus.Subscribe(panicking)
	bus.Subscribe(healthy)

	ok := bus.Publish(alert(SeverityInfo))
	require.True(t, ok)
	assert.Len(t, healthy.seen(), 1)

	c := bus.Counters()
	assert.Equal(t, uint64(1), c.Notified)
	assert.Equal(t, uint64(2), c.Errored)
}

func TestObserversCannotMutateSharedPayload(t *testing.T) {
	bus := New(10, nil, nil)
	mutator := &recordingObserver{name: "mutator"}
	bus.Subscribe(mutator)

	ev := alert(SeverityInfo)
	bus.Publish(ev)

	require.Len(t, mutator.seen(), 1)
	mutator.seen()[0].Payload["message"] = "tampered"
	assert.Equal(t, "msg", bus.History(EventAlert)[0].Payload["message"])
}

func TestHistoryIsBoundedAndQueryable(t *testing.T) {
	bus := New(3, nil, nil)
	bus.Publish(NewStateChangeEvent("test", types.StateNormal, types.StateWarning))
	for i := 0; i < 3; i++ {
		bus.Publish(alert(SeverityInfo))
	}

	all := bus.History("")
	assert.Len(t, all, 3) // oldest state-change evicted
	assert.Len(t, bus.History(EventAlert), 3)
	assert.Empty(t, bus.History(EventStateChange))
}

func TestAlertEscalation(t *testing.T) {
	three := []types.Violation{
		{Kind: types.ViolationHighFlow},
		{Kind: types.ViolationLowPressure},
		{Kind: types.ViolationPoorQuality},
	}
	ev := NewAlertEvent("analyzer", SeverityWarning, "multiple breaches", three)
	assert.Equal(t, SeverityCritical, ev.Severity)

	critical := []types.Violation{{Kind: types.ViolationHighFlow, Critical: true}}
	ev = NewAlertEvent("analyzer", SeverityInfo, "critical breach", critical)
	assert.Equal(t, SeverityCritical, ev.Severity)

	single := []types.Violation{{Kind: types.ViolationHighFlow}}
	ev = NewAlertEvent("analyzer", SeverityWarning, "single breach", single)
	assert.Equal(t, SeverityWarning, ev.Severity)
}

func TestStateChangeEventSeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical,
		NewStateChangeEvent("x", types.StateNormal, types.StateCritical).Severity)
	assert.Equal(t, SeverityWarning,
		NewStateChangeEvent("x", types.StateNormal, types.StateWarning).Severity)
	assert.Equal(t, SeverityInfo,
		NewStateChangeEvent("x", types.StateWarning, types.StateNormal).Severity)
}

func TestConcurrentPublish(t *testing.T) {
	bus := New(100, nil, nil)
	a := &recordingObserver{name: "a"}
	bus.Subscribe(a)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				bus.Publish(alert(SeverityInfo))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, a.seen(), 200)
	assert.Equal(t, uint64(200), bus.Counters().Published)
}
