// Package command implements reversible control actions. Commands move
// through PENDING, EXECUTING and COMPLETED or FAILED; a COMPLETED
// command whose rollback data was captured can be undone, moving it to
// UNDONE. The Invoker owns execution bookkeeping: prerequisite checks,
// bounded history and the undo/redo stacks.
package command

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a command.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusUndone    Status = "undone"
)

// Priority orders commands when the executor has to choose.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityCritical
	PriorityEmergency
)

// Command is a reversible control action. Implementations embed Base
// for identity and lifecycle bookkeeping; Execute and Undo perform the
// work and capture or apply rollback data, while status transitions are
// driven by the caller through the lifecycle helpers.
type Command interface {
	ID() string
	Description() string
	Priority() Priority
	Status() Status

	Execute(ctx context.Context) error
	Undo(ctx context.Context) error
	CanUndo() bool

	setStatus(Status)
}

// Base carries the identity and lifecycle fields shared by every
// command variant.
type Base struct {
	id       string
	desc     string
	priority Priority

	mu         sync.Mutex
	status     Status
	createdAt  time.Time
	executedAt time.Time
	undoneAt   time.Time
}

// NewBase initializes command identity with a fresh UUID.
func NewBase(desc string, priority Priority) Base {
	return Base{
		id:        uuid.NewString(),
		desc:      desc,
		priority:  priority,
		status:    StatusPending,
		createdAt: time.Now(),
	}
}

func (b *Base) ID() string          { return b.id }
func (b *Base) Description() string { return b.desc }
func (b *Base) Priority() Priority  { return b.priority }

func (b *Base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *Base) setStatus(s Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = s
	switch s {
	case StatusCompleted:
		b.executedAt = time.Now()
	case StatusUndone:
		b.undoneAt = time.Now()
	}
}

// ExecutedAt returns when the command last completed, zero if never.
func (b *Base) ExecutedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.executedAt
}

// run drives one execution through the lifecycle: EXECUTING, then
// COMPLETED or FAILED depending on the outcome.
func run(ctx context.Context, cmd Command) error {
	cmd.setStatus(StatusExecuting)
	if err := cmd.Execute(ctx); err != nil {
		cmd.setStatus(StatusFailed)
		return err
	}
	cmd.setStatus(StatusCompleted)
	return nil
}

// reverse drives one undo; the status only changes on success so a
// failed undo leaves the command re-attemptable.
func reverse(ctx context.Context, cmd Command) error {
	if err := cmd.Undo(ctx); err != nil {
		return err
	}
	cmd.setStatus(StatusUndone)
	return nil
}
