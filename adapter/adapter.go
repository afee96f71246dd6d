// Package adapter translates between the canonical sensor/command model
// and heterogeneous legacy field-device protocols. Each concrete system
// (Modbus SCADA, SOAP web service, CSV file exchange, MQTT field bus)
// implements the LegacySystem contract; an Adapter applies static
// mapping tables on top of it, and the IntegrationManager aggregates
// adapters with declared priorities.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hydroworks/aquapilot/errors"
	"github.com/hydroworks/aquapilot/metric"
	"github.com/hydroworks/aquapilot/types"
)

// RawReading is one measurement in a legacy system's native terms,
// before identifier translation and unit conversion.
type RawReading struct {
	Value     float64
	Unit      string
	Timestamp time.Time
	Quality   types.Quality
	Extra     map[string]any
}

// RawCommand is a command in a legacy system's native terms.
type RawCommand struct {
	Target      string
	CommandType string
	Value       float64
	Timestamp   time.Time
	Priority    int
	Params      map[string]any
}

// LegacySystem is the contract every legacy protocol driver implements.
// ReadRawData returns measurements keyed by the system's own sensor
// identifiers; translation to the canonical model is the Adapter's job.
type LegacySystem interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	ReadRawData(ctx context.Context) (map[string]RawReading, error)
	WriteRawCommand(ctx context.Context, cmd RawCommand) error
	SystemInfo() map[string]string
}

// SensorMapping translates one legacy sensor identifier into the
// canonical model. ConversionFactor of zero means 1.
type SensorMapping struct {
	CanonicalID      string
	SensorType       types.SensorType
	Unit             string
	ConversionFactor float64
}

// CommandMapping translates one canonical command target into a legacy
// system's terms. Bounds, when set, clamp the converted value. Params
// are system-specific fields merged into the outgoing command.
type CommandMapping struct {
	LegacyTarget     string
	LegacyCommand    string
	ConversionFactor float64
	Bounds           *types.Bounds
	Params           map[string]any
}

// Adapter wraps one legacy system with its static mapping tables. The
// tables are fixed at construction and read-only afterwards.
type Adapter struct {
	name     string
	system   LegacySystem
	sensors  map[string]SensorMapping
	commands map[string]CommandMapping
	logger   *slog.Logger
	metrics  *metric.Metrics

	mu        sync.Mutex
	connected bool
}

// New creates an adapter over a legacy system.
func New(name string, system LegacySystem, sensors map[string]SensorMapping,
	commands map[string]CommandMapping, logger *slog.Logger, metrics *metric.Metrics) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		name:     name,
		system:   system,
		sensors:  sensors,
		commands: commands,
		logger:   logger,
		metrics:  metrics,
	}
}

// Name returns the adapter's configured name.
func (a *Adapter) Name() string { return a.name }

// Connect establishes the underlying legacy connection.
func (a *Adapter) Connect(ctx context.Context) error {
	if err := a.system.Connect(ctx); err != nil {
		return errors.WrapTransient(err, "Adapter", "Connect", a.name)
	}
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	a.logger.Info("legacy system connected", "adapter", a.name,
		"system_type", a.system.SystemInfo()["system_type"])
	return nil
}

// Disconnect tears down the underlying legacy connection.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	if err := a.system.Disconnect(ctx); err != nil {
		return errors.Wrap(err, "Adapter", "Disconnect", a.name)
	}
	a.logger.Info("legacy system disconnected", "adapter", a.name)
	return nil
}

// Connected reports whether Connect has succeeded without a later
// Disconnect.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// ReadSensors reads the legacy system and converts every mapped sensor
// into a canonical reading. Unmapped legacy identifiers are dropped.
// Readings come back sorted by canonical sensor id.
func (a *Adapter) ReadSensors(ctx context.Context) ([]types.SensorReading, error) {
	if !a.Connected() {
		return nil, errors.WrapTransient(errors.ErrNotConnected, "Adapter", "ReadSensors", a.name)
	}

	raw, err := a.system.ReadRawData(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "Adapter", "ReadSensors", a.name)
	}

	systemType := a.system.SystemInfo()["system_type"]
	readings := make([]types.SensorReading, 0, len(raw))
	for legacyID, r := range raw {
		mapping, ok := a.sensors[legacyID]
		if !ok {
			a.logger.Debug("unmapped legacy sensor dropped", "adapter", a.name, "legacy_id", legacyID)
			if a.metrics != nil {
				a.metrics.RecordReadingDropped(a.name, "unmapped")
			}
			continue
		}

		factor := mapping.ConversionFactor
		if factor == 0 {
			factor = 1
		}
		quality := r.Quality
		if quality == "" {
			quality = types.QualityGood
		}
		ts := r.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		unit := mapping.Unit
		if unit == "" {
			unit = r.Unit
		}

		readings = append(readings, types.SensorReading{
			SensorID:   mapping.CanonicalID,
			SensorType: mapping.SensorType,
			Value:      r.Value * factor,
			Timestamp:  ts,
			Quality:    quality,
			Unit:       unit,
			Metadata: map[string]any{
				"legacy_id":     legacyID,
				"legacy_system": systemType,
			},
		})
		if a.metrics != nil {
			a.metrics.RecordReadingIngested(a.name, string(mapping.SensorType))
		}
	}

	sort.Slice(readings, func(i, j int) bool { return readings[i].SensorID < readings[j].SensorID })
	a.logger.Debug("legacy sensors read", "adapter", a.name, "count", len(readings))
	return readings, nil
}

// WriteCommand translates a canonical command through the mapping table
// and writes it to the legacy system. The converted value is clamped to
// the mapping's declared bounds before sending.
func (a *Adapter) WriteCommand(ctx context.Context, cmd types.ControlCommand) error {
	if !a.Connected() {
		return errors.WrapTransient(errors.ErrNotConnected, "Adapter", "WriteCommand", a.name)
	}

	mapping, ok := a.commands[cmd.TargetID]
	if !ok {
		return errors.WrapInvalid(errors.ErrUnknownTarget, "Adapter", "WriteCommand",
			fmt.Sprintf("%s on %s", cmd.TargetID, a.name))
	}

	factor := mapping.ConversionFactor
	if factor == 0 {
		factor = 1
	}
	value := cmd.Value * factor
	if mapping.Bounds != nil {
		if value < mapping.Bounds.Min {
			value = mapping.Bounds.Min
		}
		if value > mapping.Bounds.Max {
			value = mapping.Bounds.Max
		}
	}

	commandType := mapping.LegacyCommand
	if commandType == "" {
		commandType = cmd.CommandType
	}

	raw := RawCommand{
		Target:      mapping.LegacyTarget,
		CommandType: commandType,
		Value:       value,
		Timestamp:   cmd.Timestamp,
		Priority:    cmd.Priority,
		Params:      mapping.Params,
	}
	if err := a.system.WriteRawCommand(ctx, raw); err != nil {
		return errors.WrapTransient(err, "Adapter", "WriteCommand",
			fmt.Sprintf("%s on %s", cmd.TargetID, a.name))
	}

	a.logger.Info("command written to legacy system",
		"adapter", a.name,
		"target", cmd.TargetID,
		"legacy_target", mapping.LegacyTarget,
		"value", value)
	return nil
}

// Status summarizes the adapter and its legacy system for diagnostics.
func (a *Adapter) Status() map[string]any {
	return map[string]any{
		"connected":        a.Connected(),
		"legacy_system":    a.system.SystemInfo(),
		"sensor_mappings":  len(a.sensors),
		"command_mappings": len(a.commands),
	}
}
