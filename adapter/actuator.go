package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hydroworks/aquapilot/errors"
	"github.com/hydroworks/aquapilot/types"
)

// ReadbackSource supplies the latest validated reading for a sensor.
// The sensor gateway is the production implementation.
type ReadbackSource interface {
	Latest(sensorID string) (types.SensorReading, bool)
}

// FieldActuator drives field devices through the integration manager,
// satisfying the command subsystem's actuator and controller contracts.
// Parameter readback prefers live telemetry and falls back to the last
// written value when the parameter has no mapped sensor.
type FieldActuator struct {
	manager  *IntegrationManager
	readback ReadbackSource
	sensors  map[string]string // component/parameter -> sensor id
	logger   *slog.Logger

	mu          sync.Mutex
	lastWritten map[string]float64
}

// NewFieldActuator creates the actuator. sensors maps
// "component/parameter" keys to the sensor id providing readback;
// unmapped parameters read back their last written value.
func NewFieldActuator(manager *IntegrationManager, readback ReadbackSource,
	sensors map[string]string, logger *slog.Logger) *FieldActuator {
	if logger == nil {
		logger = slog.Default()
	}
	if sensors == nil {
		sensors = map[string]string{}
	}
	return &FieldActuator{
		manager:     manager,
		readback:    readback,
		sensors:     sensors,
		logger:      logger,
		lastWritten: make(map[string]float64),
	}
}

func paramKey(component, name string) string {
	return component + "/" + name
}

// Parameter returns the current value of a component parameter.
func (f *FieldActuator) Parameter(ctx context.Context, component, name string) (float64, error) {
	key := paramKey(component, name)

	if sensorID, ok := f.sensors[key]; ok && f.readback != nil {
		if r, ok := f.readback.Latest(sensorID); ok {
			return r.Value, nil
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.lastWritten[key]; ok {
		return v, nil
	}
	return 0, nil
}

// SetParameter writes a component parameter through whichever legacy
// system can reach the component.
func (f *FieldActuator) SetParameter(ctx context.Context, component, name string, value float64) error {
	cmd := types.ControlCommand{
		TargetID:    component,
		CommandType: "set_" + name,
		Value:       value,
		Timestamp:   time.Now(),
		Priority:    5,
		Metadata:    map[string]any{"parameter": name},
	}

	system, err := f.manager.ExecuteCommand(ctx, cmd)
	if err != nil {
		return errors.Wrap(err, "FieldActuator", "SetParameter", paramKey(component, name))
	}

	f.mu.Lock()
	f.lastWritten[paramKey(component, name)] = value
	f.mu.Unlock()

	f.logger.Debug("parameter written",
		"component", component,
		"parameter", name,
		"value", value,
		"system", system)
	return nil
}

// State captures a component's known operating values for later restore.
func (f *FieldActuator) State(ctx context.Context, componentID string) (map[string]any, error) {
	state := map[string]any{"active": true}

	f.mu.Lock()
	for key, value := range f.lastWritten {
		if comp, param, ok := splitParamKey(key); ok && comp == componentID {
			state[param] = value
		}
	}
	f.mu.Unlock()

	for key, sensorID := range f.sensors {
		comp, param, ok := splitParamKey(key)
		if !ok || comp != componentID || f.readback == nil {
			continue
		}
		if r, ok := f.readback.Latest(sensorID); ok {
			state[param] = r.Value
		}
	}
	return state, nil
}

// Shutdown stops a component through the integration manager.
func (f *FieldActuator) Shutdown(ctx context.Context, componentID string) error {
	cmd := types.ControlCommand{
		TargetID:    componentID,
		CommandType: "shutdown",
		Timestamp:   time.Now(),
		Priority:    1,
		Metadata:    map[string]any{"immediate": true},
	}
	if _, err := f.manager.ExecuteCommand(ctx, cmd); err != nil {
		return errors.Wrap(err, "FieldActuator", "Shutdown", componentID)
	}
	return nil
}

// Restore re-applies a previously captured component state: the
// component is started and its numeric parameters written back.
func (f *FieldActuator) Restore(ctx context.Context, componentID string, state map[string]any) error {
	start := types.ControlCommand{
		TargetID:    componentID,
		CommandType: "start",
		Timestamp:   time.Now(),
		Priority:    1,
	}
	if _, err := f.manager.ExecuteCommand(ctx, start); err != nil {
		return errors.Wrap(err, "FieldActuator", "Restore", componentID)
	}

	for param, raw := range state {
		value, ok := raw.(float64)
		if !ok || param == "active" {
			continue
		}
		if err := f.SetParameter(ctx, componentID, param, value); err != nil {
			return errors.Wrap(err, "FieldActuator", "Restore",
				fmt.Sprintf("%s restore of %s", componentID, param))
		}
	}
	return nil
}

func splitParamKey(key string) (component, parameter string, ok bool) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}
