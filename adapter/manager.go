package adapter

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hydroworks/aquapilot/errors"
	"github.com/hydroworks/aquapilot/metric"
	"github.com/hydroworks/aquapilot/types"
)

// systemEntry pairs an adapter with its declared priority.
type systemEntry struct {
	name     string
	adapter  *Adapter
	priority int
}

// IntegrationManager aggregates legacy-system adapters. Readings from
// all systems are merged with per-sensor dedup by source priority;
// commands are routed to the highest-priority system able to take them.
type IntegrationManager struct {
	mu      sync.Mutex
	systems []systemEntry
	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewIntegrationManager creates an empty manager.
func NewIntegrationManager(logger *slog.Logger, metrics *metric.Metrics) *IntegrationManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntegrationManager{logger: logger, metrics: metrics}
}

// AddSystem registers an adapter under a unique name with a priority.
// Higher priorities win reading dedup and are tried first for commands.
func (m *IntegrationManager) AddSystem(name string, adapter *Adapter, priority int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range m.systems {
		if entry.name == name {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "IntegrationManager", "AddSystem",
				fmt.Sprintf("duplicate system name %s", name))
		}
	}
	m.systems = append(m.systems, systemEntry{name: name, adapter: adapter, priority: priority})
	m.logger.Info("legacy system registered", "system", name, "priority", priority)
	return nil
}

// ConnectAll connects every registered system, continuing past
// failures. The result maps system name to its connect error, nil on
// success.
func (m *IntegrationManager) ConnectAll(ctx context.Context) map[string]error {
	results := make(map[string]error, len(m.entries()))
	for _, entry := range m.entries() {
		err := entry.adapter.Connect(ctx)
		results[entry.name] = err
		if err != nil {
			m.logger.Error("legacy system connect failed", "system", entry.name, "error", err)
		}
	}
	return results
}

// DisconnectAll disconnects every registered system, best-effort.
func (m *IntegrationManager) DisconnectAll(ctx context.Context) {
	for _, entry := range m.entries() {
		if err := entry.adapter.Disconnect(ctx); err != nil {
			m.logger.Warn("legacy system disconnect failed", "system", entry.name, "error", err)
		}
	}
}

// ReadAllSensors merges readings across every connected system. When
// the same canonical sensor id arrives from multiple sources only the
// reading from the highest-priority source is kept. A system that fails
// to read is logged and skipped; the call fails only when every system
// failed and nothing was read.
func (m *IntegrationManager) ReadAllSensors(ctx context.Context) ([]types.SensorReading, error) {
	bySensor := make(map[string]types.SensorReading)
	var failures []error

	for _, entry := range m.entries() {
		if !entry.adapter.Connected() {
			continue
		}
		readings, err := entry.adapter.ReadSensors(ctx)
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", entry.name, err))
			m.logger.Error("sensor read failed", "system", entry.name, "error", err)
			continue
		}

		for _, r := range readings {
			if r.Metadata == nil {
				r.Metadata = map[string]any{}
			}
			r.Metadata["source_system"] = entry.name
			r.Metadata["system_priority"] = entry.priority

			existing, seen := bySensor[r.SensorID]
			if !seen || entry.priority > existing.SourcePriority() {
				if seen && m.metrics != nil {
					m.metrics.RecordReadingDropped(existing.Metadata["source_system"].(string), "deduplicated")
				}
				bySensor[r.SensorID] = r
			} else if m.metrics != nil {
				m.metrics.RecordReadingDropped(entry.name, "deduplicated")
			}
		}
	}

	if len(bySensor) == 0 && len(failures) > 0 {
		return nil, errors.WrapTransient(stderrors.Join(failures...),
			"IntegrationManager", "ReadAllSensors", "every system failed")
	}

	merged := make([]types.SensorReading, 0, len(bySensor))
	for _, r := range bySensor {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].SensorID < merged[j].SensorID })

	m.logger.Debug("sensors merged", "count", len(merged), "systems", len(m.entries()))
	return merged, nil
}

// ExecuteCommand routes a command to connected systems in descending
// priority order, stopping at the first success. It returns the name of
// the system that took the command.
func (m *IntegrationManager) ExecuteCommand(ctx context.Context, cmd types.ControlCommand) (string, error) {
	candidates := m.entries()
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].priority > candidates[j].priority })

	var lastErr error
	for _, entry := range candidates {
		if !entry.adapter.Connected() {
			continue
		}
		if err := entry.adapter.WriteCommand(ctx, cmd); err != nil {
			lastErr = err
			m.logger.Warn("command rejected, trying next system",
				"system", entry.name, "target", cmd.TargetID, "error", err)
			continue
		}
		m.logger.Info("command routed", "system", entry.name, "target", cmd.TargetID)
		return entry.name, nil
	}

	err := errors.ErrNoCapableSystem
	if lastErr != nil {
		err = fmt.Errorf("%w: %w", errors.ErrNoCapableSystem, lastErr)
	}
	return "", errors.WrapTransient(err, "IntegrationManager", "ExecuteCommand", cmd.TargetID)
}

// Status reports every system's adapter status keyed by name.
func (m *IntegrationManager) Status() map[string]any {
	out := make(map[string]any)
	for _, entry := range m.entries() {
		out[entry.name] = map[string]any{
			"priority": entry.priority,
			"status":   entry.adapter.Status(),
		}
	}
	return out
}

func (m *IntegrationManager) entries() []systemEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]systemEntry, len(m.systems))
	copy(out, m.systems)
	return out
}
