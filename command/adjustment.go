package command

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hydroworks/aquapilot/errors"
	"github.com/hydroworks/aquapilot/types"
)

// Actuator is the field-side interface a parameter adjustment acts
// through. Implementations live in the adapter layer.
type Actuator interface {
	Parameter(ctx context.Context, component, name string) (float64, error)
	SetParameter(ctx context.Context, component, name string, value float64) error
}

// safetyEnvelopes are the static per-parameter limits an adjustment is
// validated against before any actuation happens.
var safetyEnvelopes = map[string]types.Bounds{
	"pressure":       {Min: 0.0, Max: 6.0},    // bar
	"flow_rate":      {Min: 0.0, Max: 200.0},  // L/min
	"valve_position": {Min: 0.0, Max: 100.0},  // percent
	"pump_speed":     {Min: 0.0, Max: 100.0},  // percent
	"temperature":    {Min: -5.0, Max: 50.0},  // Celsius
}

// SafetyEnvelope returns the static limits for a parameter. Unknown
// parameters are unbounded.
func SafetyEnvelope(parameter string) types.Bounds {
	if b, ok := safetyEnvelopes[parameter]; ok {
		return b
	}
	return types.Bounds{Min: math.Inf(-1), Max: math.Inf(1)}
}

// BoundsSource resolves operating limits for a parameter at execution
// time. The boolean reports whether limits are declared; absence falls
// back to the static safety envelope.
type BoundsSource func(ctx context.Context, parameter string) (types.Bounds, bool, error)

// ParameterAdjustment changes one parameter on one component. The
// change is applied as a sequence of fixed-magnitude steps with a pause
// between steps so the hydraulic system is never shocked. The
// pre-change value is captured for undo.
type ParameterAdjustment struct {
	Base

	actuator  Actuator
	component string
	parameter string
	target    float64

	stepSize  float64
	stepPause time.Duration
	bounds    BoundsSource
	logger    *slog.Logger

	previous    float64
	hasPrevious bool
}

// AdjustmentOption customizes a ParameterAdjustment.
type AdjustmentOption func(*ParameterAdjustment)

// WithStepSize overrides the per-step change magnitude.
func WithStepSize(size float64) AdjustmentOption {
	return func(c *ParameterAdjustment) {
		if size > 0 {
			c.stepSize = size
		}
	}
}

// WithStepPause overrides the pause between actuation steps.
func WithStepPause(pause time.Duration) AdjustmentOption {
	return func(c *ParameterAdjustment) { c.stepPause = pause }
}

// WithBoundsSource replaces the static safety envelope with limits
// resolved at execution time, typically from the knowledge base.
func WithBoundsSource(src BoundsSource) AdjustmentOption {
	return func(c *ParameterAdjustment) { c.bounds = src }
}

// WithAdjustmentLogger injects a logger.
func WithAdjustmentLogger(logger *slog.Logger) AdjustmentOption {
	return func(c *ParameterAdjustment) { c.logger = logger }
}

// NewParameterAdjustment creates an adjustment command.
func NewParameterAdjustment(actuator Actuator, component, parameter string, target float64,
	priority Priority, opts ...AdjustmentOption) *ParameterAdjustment {
	c := &ParameterAdjustment{
		Base:      NewBase(fmt.Sprintf("adjust %s on %s", parameter, component), priority),
		actuator:  actuator,
		component: component,
		parameter: parameter,
		target:    target,
		stepSize:  0.1,
		stepPause: 100 * time.Millisecond,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute validates the target against the safety envelope, captures
// the current value, then walks toward the target in bounded steps.
func (c *ParameterAdjustment) Execute(ctx context.Context) error {
	env := SafetyEnvelope(c.parameter)
	if c.bounds != nil {
		declared, ok, err := c.bounds(ctx, c.parameter)
		switch {
		case err != nil:
			c.logger.Warn("dynamic bounds unavailable, using static envelope",
				"parameter", c.parameter, "error", err)
		case ok:
			env = declared
		}
	}
	if !env.Contains(c.target) {
		return errors.WrapInvalid(errors.ErrValueOutOfEnvelope, "ParameterAdjustment", "Execute",
			fmt.Sprintf("%s=%v outside [%v, %v]", c.parameter, c.target, env.Min, env.Max))
	}

	current, err := c.actuator.Parameter(ctx, c.component, c.parameter)
	if err != nil {
		return errors.WrapTransient(err, "ParameterAdjustment", "Execute", "read current value")
	}
	c.previous = current
	c.hasPrevious = true

	if err := c.ramp(ctx, current, c.target); err != nil {
		return err
	}

	c.logger.Info("parameter adjusted",
		"component", c.component,
		"parameter", c.parameter,
		"from", c.previous,
		"to", c.target)
	return nil
}

// Undo restores the pre-change value, again as a gradual ramp.
func (c *ParameterAdjustment) Undo(ctx context.Context) error {
	if !c.hasPrevious {
		return errors.WrapInvalid(errors.ErrNoRollbackData, "ParameterAdjustment", "Undo",
			fmt.Sprintf("%s on %s", c.parameter, c.component))
	}

	current, err := c.actuator.Parameter(ctx, c.component, c.parameter)
	if err != nil {
		return errors.WrapTransient(err, "ParameterAdjustment", "Undo", "read current value")
	}
	if err := c.ramp(ctx, current, c.previous); err != nil {
		return err
	}

	c.logger.Info("parameter adjustment undone",
		"component", c.component,
		"parameter", c.parameter,
		"restored", c.previous)
	return nil
}

// CanUndo is true once the command completed with its pre-change value
// captured.
func (c *ParameterAdjustment) CanUndo() bool {
	return c.Status() == StatusCompleted && c.hasPrevious
}

// ramp walks from one value to another in fixed-magnitude steps with an
// inter-step pause, honouring context cancellation between steps.
func (c *ParameterAdjustment) ramp(ctx context.Context, from, to float64) error {
	steps := int(math.Abs(to-from) / c.stepSize)
	if steps < 1 {
		steps = 1
	}
	perStep := (to - from) / float64(steps)

	for i := 1; i <= steps; i++ {
		value := from + perStep*float64(i)
		if err := c.actuator.SetParameter(ctx, c.component, c.parameter, value); err != nil {
			return errors.WrapTransient(err, "ParameterAdjustment", "ramp",
				fmt.Sprintf("step %d/%d", i, steps))
		}
		if i < steps && c.stepPause > 0 {
			select {
			case <-ctx.Done():
				return errors.WrapTransient(ctx.Err(), "ParameterAdjustment", "ramp", "cancelled mid-ramp")
			case <-time.After(c.stepPause):
			}
		}
	}
	return nil
}

// Target returns the commanded value.
func (c *ParameterAdjustment) Target() float64 { return c.target }

// Previous returns the captured pre-change value and whether one was
// captured.
func (c *ParameterAdjustment) Previous() (float64, bool) { return c.previous, c.hasPrevious }
