package command

import (
	"context"
	stderrors "errors"
	"sync"
)

// fakeActuator is an in-memory actuator recording every set call.
type fakeActuator struct {
	mu     sync.Mutex
	values map[string]float64 // component/parameter -> value
	sets   []float64
	getErr error
	setErr error
}

func newFakeActuator() *fakeActuator {
	return &fakeActuator{values: make(map[string]float64)}
}

func (a *fakeActuator) key(component, name string) string { return component + "/" + name }

func (a *fakeActuator) seed(component, name string, value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[a.key(component, name)] = value
}

func (a *fakeActuator) current(component, name string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.values[a.key(component, name)]
}

func (a *fakeActuator) Parameter(_ context.Context, component, name string) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.getErr != nil {
		return 0, a.getErr
	}
	return a.values[a.key(component, name)], nil
}

func (a *fakeActuator) SetParameter(_ context.Context, component, name string, value float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.setErr != nil {
		return a.setErr
	}
	a.values[a.key(component, name)] = value
	a.sets = append(a.sets, value)
	return nil
}

func (a *fakeActuator) setCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sets)
}

// fakeController is an in-memory component controller.
type fakeController struct {
	mu        sync.Mutex
	states    map[string]map[string]any
	active    map[string]bool
	failIDs   map[string]bool // components whose shutdown fails
	restored  []string
	shutdowns []string
}

func newFakeController(ids ...string) *fakeController {
	c := &fakeController{
		states:  make(map[string]map[string]any),
		active:  make(map[string]bool),
		failIDs: make(map[string]bool),
	}
	for _, id := range ids {
		c.states[id] = map[string]any{"active": true, "pressure": 3.0}
		c.active[id] = true
	}
	return c
}

func (c *fakeController) State(_ context.Context, id string) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[id]
	if !ok {
		return nil, stderrors.New("unknown component " + id)
	}
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

func (c *fakeController) Shutdown(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failIDs[id] {
		return stderrors.New("shutdown refused by " + id)
	}
	c.active[id] = false
	c.shutdowns = append(c.shutdowns, id)
	return nil
}

func (c *fakeController) Restore(_ context.Context, id string, state map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[id] = state
	c.active[id] = true
	c.restored = append(c.restored, id)
	return nil
}

// stubCommand is a scripted command for invoker and composite tests.
type stubCommand struct {
	Base

	mu        sync.Mutex
	execErr   error
	undoErr   error
	undoable  bool
	execCalls int
	undoCalls int
}

func newStub(desc string, undoable bool) *stubCommand {
	return &stubCommand{Base: NewBase(desc, PriorityNormal), undoable: undoable}
}

func (s *stubCommand) Execute(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execCalls++
	return s.execErr
}

func (s *stubCommand) Undo(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.undoCalls++
	return s.undoErr
}

func (s *stubCommand) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.undoable && s.Status() == StatusCompleted
}

func (s *stubCommand) undos() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.undoCalls
}

func (s *stubCommand) execs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execCalls
}
