package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hydroworks/aquapilot/errors"
	"github.com/hydroworks/aquapilot/metric"
	"github.com/hydroworks/aquapilot/pkg/buffer"
)

// HistoryEntry is one completed execution in the invoker's history.
type HistoryEntry struct {
	CommandID   string
	Description string
	Priority    Priority
	Status      Status
	ExecutedAt  time.Time
	CanUndo     bool
}

// Invoker executes commands with prerequisite enforcement, a bounded
// execution history and undo/redo stacks. Commands live in an arena
// keyed by ID; prerequisites are ID sets, so command graphs carry no
// object back-references.
type Invoker struct {
	mu        sync.Mutex
	arena     map[string]Command
	prereqs   map[string]map[string]bool
	history   *buffer.Ring[HistoryEntry]
	undoStack []Command
	redoStack []Command

	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewInvoker creates an invoker whose history holds at most historySize
// entries, oldest evicted first.
func NewInvoker(historySize int, logger *slog.Logger, metrics *metric.Metrics) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		arena:   make(map[string]Command),
		prereqs: make(map[string]map[string]bool),
		history: buffer.NewRing[HistoryEntry](historySize),
		logger:  logger,
		metrics: metrics,
	}
}

// Register places a command in the arena with its prerequisite IDs.
// Every prerequisite must already be registered.
func (inv *Invoker) Register(cmd Command, prereqIDs ...string) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	for _, id := range prereqIDs {
		if _, ok := inv.arena[id]; !ok {
			return errors.WrapInvalid(errors.ErrPrerequisiteNotMet, "Invoker", "Register",
				fmt.Sprintf("unknown prerequisite %s for command %s", id, cmd.ID()))
		}
	}

	inv.arena[cmd.ID()] = cmd
	set := make(map[string]bool, len(prereqIDs))
	for _, id := range prereqIDs {
		set[id] = true
	}
	inv.prereqs[cmd.ID()] = set
	return nil
}

// Execute runs a command. It refuses, without executing, when any
// registered prerequisite has not COMPLETED. On success the command is
// recorded in history and, if undoable, pushed onto the undo stack,
// which clears the redo stack.
func (inv *Invoker) Execute(ctx context.Context, cmd Command) error {
	inv.mu.Lock()
	if _, ok := inv.arena[cmd.ID()]; !ok {
		inv.arena[cmd.ID()] = cmd
		inv.prereqs[cmd.ID()] = map[string]bool{}
	}
	for id := range inv.prereqs[cmd.ID()] {
		if pre, ok := inv.arena[id]; !ok || pre.Status() != StatusCompleted {
			inv.mu.Unlock()
			return errors.WrapInvalid(errors.ErrPrerequisiteNotMet, "Invoker", "Execute",
				fmt.Sprintf("prerequisite %s of command %s not completed", id, cmd.ID()))
		}
	}
	inv.mu.Unlock()

	err := run(ctx, cmd)

	inv.mu.Lock()
	defer inv.mu.Unlock()

	if err != nil {
		inv.logger.Error("command failed",
			"command", cmd.Description(),
			"command_id", cmd.ID(),
			"error", err)
		if inv.metrics != nil {
			inv.metrics.RecordCommand(cmd.Description(), "failed")
		}
		return errors.Wrap(err, "Invoker", "Execute", cmd.Description())
	}

	inv.history.Push(HistoryEntry{
		CommandID:   cmd.ID(),
		Description: cmd.Description(),
		Priority:    cmd.Priority(),
		Status:      cmd.Status(),
		ExecutedAt:  time.Now(),
		CanUndo:     cmd.CanUndo(),
	})
	if cmd.CanUndo() {
		inv.undoStack = append(inv.undoStack, cmd)
		inv.redoStack = inv.redoStack[:0]
	}

	inv.logger.Info("command executed",
		"command", cmd.Description(),
		"command_id", cmd.ID(),
		"priority", int(cmd.Priority()))
	if inv.metrics != nil {
		inv.metrics.RecordCommand(cmd.Description(), "completed")
	}
	return nil
}

// UndoLast undoes the most recent undoable command. On failure the
// command is pushed back onto the undo stack unchanged so the undo can
// be retried.
func (inv *Invoker) UndoLast(ctx context.Context) error {
	inv.mu.Lock()
	n := len(inv.undoStack)
	if n == 0 {
		inv.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNothingToUndo, "Invoker", "UndoLast", "empty undo stack")
	}
	cmd := inv.undoStack[n-1]
	inv.undoStack = inv.undoStack[:n-1]
	inv.mu.Unlock()

	err := reverse(ctx, cmd)

	inv.mu.Lock()
	defer inv.mu.Unlock()

	if err != nil {
		inv.undoStack = append(inv.undoStack, cmd)
		inv.logger.Error("undo failed", "command", cmd.Description(), "error", err)
		return errors.WrapTransient(errors.ErrUndoFailed, "Invoker", "UndoLast", cmd.Description())
	}

	inv.redoStack = append(inv.redoStack, cmd)
	inv.logger.Info("command undone", "command", cmd.Description(), "command_id", cmd.ID())
	if inv.metrics != nil {
		inv.metrics.RecordUndo(cmd.Description())
	}
	return nil
}

// RedoLast re-executes the most recent undone command. On failure the
// command is pushed back onto the redo stack unchanged.
func (inv *Invoker) RedoLast(ctx context.Context) error {
	inv.mu.Lock()
	n := len(inv.redoStack)
	if n == 0 {
		inv.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNothingToRedo, "Invoker", "RedoLast", "empty redo stack")
	}
	cmd := inv.redoStack[n-1]
	inv.redoStack = inv.redoStack[:n-1]
	inv.mu.Unlock()

	err := run(ctx, cmd)

	inv.mu.Lock()
	defer inv.mu.Unlock()

	if err != nil {
		inv.redoStack = append(inv.redoStack, cmd)
		inv.logger.Error("redo failed", "command", cmd.Description(), "error", err)
		return errors.Wrap(err, "Invoker", "RedoLast", cmd.Description())
	}

	inv.undoStack = append(inv.undoStack, cmd)
	inv.logger.Info("command redone", "command", cmd.Description(), "command_id", cmd.ID())
	return nil
}

// History returns the retained execution history, oldest first.
func (inv *Invoker) History() []HistoryEntry {
	return inv.history.Snapshot()
}

// UndoDepth returns the number of commands available to undo.
func (inv *Invoker) UndoDepth() int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return len(inv.undoStack)
}

// RedoDepth returns the number of commands available to redo.
func (inv *Invoker) RedoDepth() int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return len(inv.redoStack)
}

// Lookup returns the arena entry for an ID.
func (inv *Invoker) Lookup(id string) (Command, bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	cmd, ok := inv.arena[id]
	return cmd, ok
}
