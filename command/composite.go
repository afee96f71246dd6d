package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hydroworks/aquapilot/errors"
)

// ExecutionMode selects how a composite runs its sub-commands.
type ExecutionMode string

const (
	Sequential ExecutionMode = "sequential"
	Parallel   ExecutionMode = "parallel"
)

// Composite executes a set of sub-commands as one unit. Sequential mode
// is fail-fast: the first failure rolls back everything executed so far
// in reverse order. Parallel mode runs all sub-commands and rolls back
// every completed one if any fails.
type Composite struct {
	Base

	mode   ExecutionMode
	subs   []Command
	logger *slog.Logger

	mu       sync.Mutex
	executed []Command // completed sub-commands in execution order
}

// NewComposite creates a composite command.
func NewComposite(subs []Command, mode ExecutionMode, priority Priority, logger *slog.Logger) *Composite {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composite{
		Base:   NewBase(fmt.Sprintf("composite of %d commands (%s)", len(subs), mode), priority),
		mode:   mode,
		subs:   subs,
		logger: logger,
	}
}

func (c *Composite) Execute(ctx context.Context) error {
	c.mu.Lock()
	c.executed = c.executed[:0]
	c.mu.Unlock()

	switch c.mode {
	case Parallel:
		return c.executeParallel(ctx)
	default:
		return c.executeSequential(ctx)
	}
}

func (c *Composite) executeSequential(ctx context.Context) error {
	for _, sub := range c.subs {
		if err := run(ctx, sub); err != nil {
			prior := c.executedCount()
			c.rollback(ctx)
			return errors.Wrap(err, "Composite", "Execute",
				fmt.Sprintf("sub-command %s failed, rolled back %d prior", sub.Description(), prior))
		}
		c.mu.Lock()
		c.executed = append(c.executed, sub)
		c.mu.Unlock()
	}
	return nil
}

func (c *Composite) executeParallel(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range c.subs {
		g.Go(func() error {
			if err := run(gctx, sub); err != nil {
				return fmt.Errorf("%s: %w", sub.Description(), err)
			}
			c.mu.Lock()
			c.executed = append(c.executed, sub)
			c.mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.rollback(ctx)
		return errors.Wrap(err, "Composite", "Execute", "parallel sub-command failed, all rolled back")
	}
	return nil
}

// rollback undoes every completed sub-command in reverse execution
// order, best-effort.
func (c *Composite) rollback(ctx context.Context) {
	c.mu.Lock()
	executed := make([]Command, len(c.executed))
	copy(executed, c.executed)
	c.executed = c.executed[:0]
	c.mu.Unlock()

	for i := len(executed) - 1; i >= 0; i-- {
		sub := executed[i]
		if !sub.CanUndo() {
			continue
		}
		if err := reverse(ctx, sub); err != nil {
			c.logger.Error("rollback of sub-command failed",
				"sub_command", sub.Description(), "error", err)
		}
	}
}

// Undo replays sub-command undos in reverse execution order. A failing
// sub-undo is logged and does not stop the remaining undos.
func (c *Composite) Undo(ctx context.Context) error {
	c.mu.Lock()
	executed := make([]Command, len(c.executed))
	copy(executed, c.executed)
	c.mu.Unlock()

	if len(executed) == 0 {
		return errors.WrapInvalid(errors.ErrNoRollbackData, "Composite", "Undo", "no executed sub-commands")
	}

	for i := len(executed) - 1; i >= 0; i-- {
		sub := executed[i]
		if !sub.CanUndo() {
			continue
		}
		if err := reverse(ctx, sub); err != nil {
			c.logger.Error("undo of sub-command failed",
				"sub_command", sub.Description(), "error", err)
		}
	}
	return nil
}

// CanUndo is true when at least one executed sub-command is undoable.
func (c *Composite) CanUndo() bool {
	if c.Status() != StatusCompleted {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.executed {
		if sub.CanUndo() {
			return true
		}
	}
	return false
}

// SubCommands returns the composed commands in declaration order.
func (c *Composite) SubCommands() []Command { return c.subs }

func (c *Composite) executedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.executed)
}
