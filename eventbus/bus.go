// Package eventbus distributes control-loop events to observers. A Bus
// applies filters and transformers before delivery, keeps a bounded
// history of accepted events, and notifies observers concurrently with
// failure isolation between them.
package eventbus

import (
	"log/slog"
	"sync"

	"github.com/hydroworks/aquapilot/metric"
	"github.com/hydroworks/aquapilot/pkg/buffer"
)

// Observer receives accepted events. OnEvent runs on a bus goroutine;
// implementations must be safe for concurrent use and must not block
// indefinitely.
type Observer interface {
	Name() string
	OnEvent(Event) error
}

// Filter inspects a candidate event before distribution. Returning
// false rejects the event; no observer sees it and it is not recorded
// in history.
type Filter func(Event) bool

// Transformer rewrites an accepted event before distribution.
// Transformers run in registration order, each receiving the output of
// the previous one.
type Transformer func(Event) Event

// Counters is a point-in-time snapshot of bus activity.
type Counters struct {
	Published uint64
	Filtered  uint64
	Notified  uint64
	Errored   uint64
}

// Bus routes events from publishers to observers.
type Bus struct {
	mu           sync.RWMutex
	observers    map[string]Observer
	byType       map[EventType]map[string]bool // observer name -> subscribed; empty set means all types
	filters      []Filter
	transformers []Transformer
	history      *buffer.Ring[Event]
	counters     Counters
	logger       *slog.Logger
	metrics      *metric.Metrics
}

// New creates a bus with a bounded history of historySize events.
func New(historySize int, logger *slog.Logger, metrics *metric.Metrics) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		observers: make(map[string]Observer),
		byType:    make(map[EventType]map[string]bool),
		history:   buffer.NewRing[Event](historySize),
		logger:    logger,
		metrics:   metrics,
	}
}

// Subscribe registers an observer for the given event types. With no
// types the observer receives every event. Subscribing the same name
// again replaces the previous registration.
func (b *Bus) Subscribe(obs Observer, eventTypes ...EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeLocked(obs.Name())
	b.observers[obs.Name()] = obs
	for _, t := range eventTypes {
		set, ok := b.byType[t]
		if !ok {
			set = make(map[string]bool)
			b.byType[t] = set
		}
		set[obs.Name()] = true
	}
}

// Unsubscribe removes an observer by name. Unknown names are ignored.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(name)
}

func (b *Bus) removeLocked(name string) {
	delete(b.observers, name)
	for _, set := range b.byType {
		delete(set, name)
	}
}

// AddFilter registers a filter. Filters run in registration order and
// the first rejection short-circuits the rest.
func (b *Bus) AddFilter(f Filter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filters = append(b.filters, f)
}

// AddTransformer registers a transformer, applied in registration order.
func (b *Bus) AddTransformer(t Transformer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transformers = append(b.transformers, t)
}

// Publish distributes an event. It returns false when a filter rejected
// the event. Observer failures and panics are counted but never
// propagate to the publisher or to sibling observers.
func (b *Bus) Publish(ev Event) bool {
	b.mu.Lock()

	for _, f := range b.filters {
		if !f(ev) {
			b.counters.Filtered++
			if b.metrics != nil {
				b.metrics.EventsFiltered.Inc()
			}
			b.mu.Unlock()
			return false
		}
	}

	for _, t := range b.transformers {
		ev = t(ev)
	}

	b.history.Push(ev)
	b.counters.Published++
	if b.metrics != nil {
		b.metrics.EventsPublished.Inc()
	}

	targets := b.targetsLocked(ev.Type)
	b.mu.Unlock()

	var wg sync.WaitGroup
	results := make(chan error, len(targets))
	for _, obs := range targets {
		wg.Add(1)
		go func(obs Observer) {
			defer wg.Done()
			results <- b.notify(obs, ev.Clone())
		}(obs)
	}
	wg.Wait()
	close(results)

	b.mu.Lock()
	for err := range results {
		if err != nil {
			b.counters.Errored++
			if b.metrics != nil {
				b.metrics.EventsErrored.Inc()
			}
		} else {
			b.counters.Notified++
			if b.metrics != nil {
				b.metrics.EventsNotified.Inc()
			}
		}
	}
	b.mu.Unlock()

	return true
}

func (b *Bus) targetsLocked(t EventType) []Observer {
	var out []Observer
	for name, obs := range b.observers {
		if b.subscribedLocked(name, t) {
			out = append(out, obs)
		}
	}
	return out
}

func (b *Bus) subscribedLocked(name string, t EventType) bool {
	subscribedAny := false
	for _, set := range b.byType {
		if set[name] {
			subscribedAny = true
			break
		}
	}
	if !subscribedAny {
		return true // no type restriction
	}
	return b.byType[t][name]
}

func (b *Bus) notify(obs Observer, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("observer panicked",
				"observer", obs.Name(),
				"event_type", string(ev.Type),
				"panic", r)
			err = &observerPanicError{observer: obs.Name()}
		}
	}()

	if err := obs.OnEvent(ev); err != nil {
		b.logger.Warn("observer notification failed",
			"observer", obs.Name(),
			"event_type", string(ev.Type),
			"error", err)
		return err
	}
	return nil
}

type observerPanicError struct {
	observer string
}

func (e *observerPanicError) Error() string {
	return "observer " + e.observer + " panicked"
}

// History returns the buffered events of the given type, oldest first.
// An empty type returns everything.
func (b *Bus) History(t EventType) []Event {
	if t == "" {
		return b.history.Snapshot()
	}
	return b.history.Filter(func(ev Event) bool { return ev.Type == t })
}

// Counters returns a snapshot of bus activity.
func (b *Bus) Counters() Counters {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.counters
}
