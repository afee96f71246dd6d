package command

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/hydroworks/aquapilot/errors"
)

// ComponentController is the field-side interface an emergency shutdown
// acts through.
type ComponentController interface {
	State(ctx context.Context, componentID string) (map[string]any, error)
	Shutdown(ctx context.Context, componentID string) error
	Restore(ctx context.Context, componentID string, state map[string]any) error
}

// EmergencyShutdown stops a set of components, capturing each one's
// state first so a later undo can restore it. Shutdown and restoration
// iterate the component set independently: one component failing does
// not stop the others from being handled.
type EmergencyShutdown struct {
	Base

	controller ComponentController
	components []string
	reason     string
	logger     *slog.Logger

	captured map[string]map[string]any
}

// NewEmergencyShutdown creates a shutdown command at emergency priority.
func NewEmergencyShutdown(controller ComponentController, componentIDs []string, reason string,
	logger *slog.Logger) *EmergencyShutdown {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmergencyShutdown{
		Base:       NewBase(fmt.Sprintf("emergency shutdown of %d components", len(componentIDs)), PriorityEmergency),
		controller: controller,
		components: componentIDs,
		reason:     reason,
		logger:     logger,
		captured:   make(map[string]map[string]any),
	}
}

// Execute captures every component's state, then shuts each one down.
// Per-component failures are collected rather than aborting the sweep.
func (c *EmergencyShutdown) Execute(ctx context.Context) error {
	for _, id := range c.components {
		state, err := c.controller.State(ctx, id)
		if err != nil {
			c.logger.Warn("state capture failed before shutdown",
				"component", id, "error", err)
			continue
		}
		c.captured[id] = state
	}

	var failures []error
	for _, id := range c.components {
		if err := c.controller.Shutdown(ctx, id); err != nil {
			failures = append(failures, fmt.Errorf("shutdown %s: %w", id, err))
			continue
		}
		c.logger.Warn("component shut down", "component", id, "reason", c.reason)
	}

	if len(failures) > 0 {
		return errors.WrapTransient(stderrors.Join(failures...), "EmergencyShutdown", "Execute",
			fmt.Sprintf("%d of %d components failed", len(failures), len(c.components)))
	}
	return nil
}

// Undo restores every component whose state was captured. Restoration
// is best-effort per component.
func (c *EmergencyShutdown) Undo(ctx context.Context) error {
	if len(c.captured) == 0 {
		return errors.WrapInvalid(errors.ErrNoRollbackData, "EmergencyShutdown", "Undo",
			"no component states captured")
	}

	var failures []error
	for _, id := range c.components {
		state, ok := c.captured[id]
		if !ok {
			continue
		}
		if err := c.controller.Restore(ctx, id, state); err != nil {
			failures = append(failures, fmt.Errorf("restore %s: %w", id, err))
			continue
		}
		c.logger.Info("component restored", "component", id)
	}

	if len(failures) > 0 {
		return errors.WrapTransient(stderrors.Join(failures...), "EmergencyShutdown", "Undo",
			fmt.Sprintf("%d components failed to restore", len(failures)))
	}
	return nil
}

// CanUndo is true once the shutdown completed with at least one
// component state captured.
func (c *EmergencyShutdown) CanUndo() bool {
	return c.Status() == StatusCompleted && len(c.captured) > 0
}

// Reason returns the operator-facing shutdown justification.
func (c *EmergencyShutdown) Reason() string { return c.reason }
