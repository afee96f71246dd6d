package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hydroworks/aquapilot/analyzer"
	"github.com/hydroworks/aquapilot/errors"
	"github.com/hydroworks/aquapilot/eventbus"
	"github.com/hydroworks/aquapilot/executor"
	"github.com/hydroworks/aquapilot/gateway"
	"github.com/hydroworks/aquapilot/metric"
	"github.com/hydroworks/aquapilot/planner"
	"github.com/hydroworks/aquapilot/types"
)

// CommandDispatcher fans a cycle's commands out to field devices. The
// network executor is the production implementation.
type CommandDispatcher interface {
	DispatchAll(ctx context.Context, cmds []types.ControlCommand) ([]executor.Outcome, error)
}

// EmergencyDeps wires the emergency pipeline's collaborators.
type EmergencyDeps struct {
	Source     SensorSource
	Gateway    *gateway.Gateway
	Analyzer   *analyzer.ScenarioAnalyzer
	Scenario   func() types.AnalysisContext
	Dispatcher CommandDispatcher
	Archive    CycleArchiver
	Bus        *eventbus.Bus
	Logger     *slog.Logger
	Metrics    *metric.Metrics
}

// Emergency is the incident-response cycle: redundant sampling,
// emergency-threshold analysis, predefined response protocols and
// parallel dispatch. Any stage failure aborts the cycle immediately.
type Emergency struct {
	deps   EmergencyDeps
	logger *slog.Logger
}

// monitorAttempts is the redundant sampling count used when collecting
// critical sensors during an incident.
const monitorAttempts = 3

// NewEmergency builds the emergency pipeline with the ABORT policy and
// alerting hooks around the whole cycle.
func NewEmergency(deps EmergencyDeps, opts ...TemplateOption) *Template {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	e := &Emergency{deps: deps, logger: deps.Logger}

	hooks := Hooks{
		PreExecution: func(ctx context.Context, pc *Context) {
			e.logger.Warn("emergency pipeline activated", "cycle_id", pc.CycleID)
			e.publishAlert(eventbus.SeverityCritical,
				fmt.Sprintf("emergency pipeline activated: %s", pc.CycleID), nil)
		},
		PostExecution: func(ctx context.Context, pc *Context) {
			e.logger.Warn("emergency pipeline completed",
				"cycle_id", pc.CycleID,
				"response_time", pc.TotalDuration())
			e.publishAlert(eventbus.SeverityWarning,
				fmt.Sprintf("emergency response completed in %s", pc.TotalDuration()), nil)
		},
		OnError: func(ctx context.Context, pc *Context, err error) {
			e.publishAlert(eventbus.SeverityCritical,
				fmt.Sprintf("emergency pipeline failed: %v", err), nil)
		},
	}

	base := []TemplateOption{WithLogger(deps.Logger), WithMetrics(deps.Metrics), WithHooks(hooks)}
	return NewTemplate("emergency", e, PolicyAbort, append(base, opts...)...)
}

// Monitor samples critical sensors with redundancy: collection is
// attempted up to three times and only gives up when every attempt
// failed.
func (e *Emergency) Monitor(ctx context.Context, pc *Context) error {
	var raw []types.SensorReading
	var err error
	for attempt := 1; attempt <= monitorAttempts; attempt++ {
		raw, err = e.deps.Source.ReadAllSensors(ctx)
		if err == nil {
			break
		}
		e.logger.Error("emergency sensor collection attempt failed",
			"attempt", attempt, "error", err)
		if attempt == monitorAttempts {
			return errors.Wrap(err, "Emergency", "Monitor", "redundant sensor collection")
		}
	}

	res := e.deps.Gateway.Normalize(time.Now(), raw)
	pc.Readings = res.Accepted
	pc.DataQuality = res.Quality
	pc.Metadata["emergency_mode"] = true
	pc.Metadata["redundant_sampling"] = true

	e.logger.Warn("emergency monitoring",
		"accepted", len(res.Accepted),
		"rejected", len(res.Rejected))
	return nil
}

// Analyze applies the emergency strategy's critical thresholds. Any
// critical violation forces the EMERGENCY_CRITICAL state and triggers
// an immediate alert.
func (e *Emergency) Analyze(ctx context.Context, pc *Context) error {
	if len(pc.Readings) == 0 {
		return errors.WrapTransient(errors.ErrNoSensorData, "Emergency", "Analyze", "empty reading set")
	}

	actx := e.deps.Scenario()
	actx.Scenario = types.ScenarioEmergencyResponse

	result, err := e.deps.Analyzer.Analyze(pc.Readings, actx)
	if err != nil {
		return err
	}
	pc.Analysis = result

	if crit := result.CriticalViolations(); len(crit) > 0 {
		e.publishAlert(eventbus.SeverityCritical, "critical violations during emergency", crit)
	}

	e.logger.Warn("emergency analysis",
		"state", string(result.State),
		"critical_violations", len(result.CriticalViolations()))
	return nil
}

// Plan activates the predefined response protocol for each critical
// violation. No critical violations means the incident has subsided and
// the cycle continues monitoring without actions.
func (e *Emergency) Plan(ctx context.Context, pc *Context) error {
	crit := pc.Analysis.CriticalViolations()
	if len(crit) == 0 {
		e.logger.Info("no critical violations, continuing emergency monitoring")
		return nil
	}

	now := time.Now()
	for _, v := range crit {
		cmd, ok := responseProtocol(v, now)
		if !ok {
			e.logger.Warn("no response protocol for violation", "kind", string(v.Kind))
			continue
		}
		pc.Actions = append(pc.Actions, planner.Action{Command: cmd})
	}

	e.logger.Warn("emergency response planned", "actions", len(pc.Actions))
	return nil
}

// Execute fans the response commands out in parallel. Individual
// failures are recorded per command; the stage fails only when nothing
// was delivered.
func (e *Emergency) Execute(ctx context.Context, pc *Context) error {
	if len(pc.Actions) == 0 {
		return nil
	}

	cmds := make([]types.ControlCommand, len(pc.Actions))
	for i, a := range pc.Actions {
		cmds[i] = a.Command
	}

	outcomes, _ := e.deps.Dispatcher.DispatchAll(ctx, cmds)
	delivered := 0
	for _, out := range outcomes {
		pc.Executed = append(pc.Executed, ExecutionRecord{
			Target:   out.Command.TargetID,
			Endpoint: out.Endpoint,
			Err:      out.Err,
		})
		if out.Err == nil {
			delivered++
			if e.deps.Bus != nil {
				e.deps.Bus.Publish(eventbus.NewActionEvent("pipeline.emergency", out.Command))
			}
		}
	}

	if delivered == 0 {
		return errors.WrapTransient(errors.ErrDispatchFailed, "Emergency", "Execute",
			fmt.Sprintf("none of %d response commands delivered", len(cmds)))
	}
	e.logger.Warn("emergency response executed",
		"delivered", delivered,
		"failed", len(outcomes)-delivered)
	return nil
}

// UpdateKnowledge records the incident for later review.
func (e *Emergency) UpdateKnowledge(ctx context.Context, pc *Context) error {
	if e.deps.Archive == nil {
		return nil
	}
	if err := e.deps.Archive.Save(ctx, cycleRecord(pc)); err != nil {
		e.logger.Warn("incident archive write failed", "cycle_id", pc.CycleID, "error", err)
	}
	return nil
}

func (e *Emergency) publishAlert(sev eventbus.Severity, message string, violations []types.Violation) {
	if e.deps.Bus == nil {
		return
	}
	e.deps.Bus.Publish(eventbus.NewAlertEvent("pipeline.emergency", sev, message, violations))
}

// responseProtocol maps one critical violation to its predefined
// response command.
func responseProtocol(v types.Violation, now time.Time) (types.ControlCommand, bool) {
	cmd := types.ControlCommand{
		Timestamp: now,
		Priority:  1,
		Metadata:  map[string]any{"immediate": true, "sensor_id": v.SensorID},
	}
	switch v.Kind {
	case types.ViolationHighPressure:
		cmd.TargetID = "main_relief_valve"
		cmd.CommandType = "emergency_pressure_relief"
	case types.ViolationLowPressure:
		cmd.TargetID = "backup_pump_system"
		cmd.CommandType = "emergency_pump_activation"
	case types.ViolationHighFlow, types.ViolationLowFlow:
		cmd.TargetID = "zone_" + v.SensorID
		cmd.CommandType = "emergency_flow_isolation"
	case types.ViolationPoorQuality:
		cmd.TargetID = "contaminated_section"
		cmd.CommandType = "emergency_water_isolation"
		cmd.Metadata["notify_authorities"] = true
	default:
		return types.ControlCommand{}, false
	}
	cmd.Value = v.Value
	return cmd, true
}
