package command

import (
	"fmt"
	"log/slog"
)

// Factory builds the commonly planned commands with consistent
// priorities and a shared actuator and controller.
type Factory struct {
	actuator   Actuator
	controller ComponentController
	logger     *slog.Logger
	opts       []AdjustmentOption
}

// NewFactory creates a command factory. The adjustment options apply to
// every adjustment the factory produces.
func NewFactory(actuator Actuator, controller ComponentController, logger *slog.Logger,
	opts ...AdjustmentOption) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		actuator:   actuator,
		controller: controller,
		logger:     logger,
		opts:       opts,
	}
}

// PressureAdjustment creates a high-priority pressure change.
func (f *Factory) PressureAdjustment(component string, bar float64) *ParameterAdjustment {
	opts := append([]AdjustmentOption{WithAdjustmentLogger(f.logger)}, f.opts...)
	return NewParameterAdjustment(f.actuator, component, "pressure", bar, PriorityHigh, opts...)
}

// FlowAdjustment creates a normal-priority flow rate change.
func (f *Factory) FlowAdjustment(component string, litersPerMin float64) *ParameterAdjustment {
	opts := append([]AdjustmentOption{WithAdjustmentLogger(f.logger)}, f.opts...)
	return NewParameterAdjustment(f.actuator, component, "flow_rate", litersPerMin, PriorityNormal, opts...)
}

// Shutdown creates an emergency shutdown of the named components.
func (f *Factory) Shutdown(componentIDs []string, reason string) *EmergencyShutdown {
	return NewEmergencyShutdown(f.controller, componentIDs, reason, f.logger)
}

// OptimizationSequence builds the standard corrective composite: set
// pressure on the pump first, then flow on the valve.
func (f *Factory) OptimizationSequence(targetPressure, targetFlow float64) *Composite {
	pressure := f.PressureAdjustment("main_pump", targetPressure)
	flow := f.FlowAdjustment("main_valve", targetFlow)
	return NewComposite([]Command{pressure, flow}, Sequential, PriorityHigh, f.logger)
}

// ForPlan translates a planned control action into a command. Unknown
// command types return an error rather than a no-op.
func (f *Factory) ForPlan(commandType, target string, value float64) (Command, error) {
	switch commandType {
	case "adjust_pressure":
		return f.PressureAdjustment(target, value), nil
	case "adjust_flow":
		return f.FlowAdjustment(target, value), nil
	case "emergency_shutdown":
		return f.Shutdown([]string{target}, "planned emergency response"), nil
	default:
		return nil, fmt.Errorf("no command for type %q", commandType)
	}
}
