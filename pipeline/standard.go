package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hydroworks/aquapilot/analyzer"
	"github.com/hydroworks/aquapilot/command"
	"github.com/hydroworks/aquapilot/errors"
	"github.com/hydroworks/aquapilot/eventbus"
	"github.com/hydroworks/aquapilot/gateway"
	"github.com/hydroworks/aquapilot/knowledge"
	"github.com/hydroworks/aquapilot/metric"
	"github.com/hydroworks/aquapilot/planner"
	"github.com/hydroworks/aquapilot/types"
)

// SensorSource feeds the Monitor stage. The integration manager is the
// production implementation.
type SensorSource interface {
	ReadAllSensors(ctx context.Context) ([]types.SensorReading, error)
}

// CycleArchiver receives finished cycle snapshots. Failures are logged,
// never surfaced to the cycle.
type CycleArchiver interface {
	Save(ctx context.Context, rec knowledge.CycleRecord) error
}

// StandardDeps wires the standard pipeline's collaborators. Bus and
// Archive may be nil; everything else is required.
type StandardDeps struct {
	Source   SensorSource
	Gateway  *gateway.Gateway
	Analyzer *analyzer.ScenarioAnalyzer
	Scenario func() types.AnalysisContext
	Planner  *planner.Planner
	Factory  *command.Factory
	Invoker  *command.Invoker
	Archive  CycleArchiver
	Bus      *eventbus.Bus
	Logger   *slog.Logger
	Metrics  *metric.Metrics
}

// Standard is the routine water-utility control cycle: normalized
// telemetry in, scenario analysis, plan lookup, reversible command
// execution through the invoker, then a fire-and-forget archive write.
type Standard struct {
	deps      StandardDeps
	logger    *slog.Logger
	lastState types.SystemState
}

// NewStandard builds the standard pipeline. Stage failures are logged
// and the cycle continues with partial context.
func NewStandard(deps StandardDeps, opts ...TemplateOption) *Template {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Standard{
		deps:      deps,
		logger:    deps.Logger,
		lastState: types.StateUnknown,
	}
	base := []TemplateOption{WithLogger(deps.Logger), WithMetrics(deps.Metrics)}
	return NewTemplate("standard", s, PolicyContinue, append(base, opts...)...)
}

// Monitor collects one cycle's readings and normalizes them through the
// gateway. The data quality grade rides along for the analyze stage.
func (s *Standard) Monitor(ctx context.Context, pc *Context) error {
	raw, err := s.deps.Source.ReadAllSensors(ctx)
	if err != nil {
		return errors.Wrap(err, "Standard", "Monitor", "sensor collection")
	}

	res := s.deps.Gateway.Normalize(time.Now(), raw)
	pc.Readings = res.Accepted
	pc.DataQuality = res.Quality
	pc.Metadata["sensors_count"] = len(res.Accepted)
	pc.Metadata["rejected_count"] = len(res.Rejected)

	if s.deps.Bus != nil {
		for _, r := range res.Accepted {
			s.deps.Bus.Publish(eventbus.NewSensorDataEvent("pipeline.standard", r))
		}
	}

	s.logger.Info("monitored sensors",
		"accepted", len(res.Accepted),
		"rejected", len(res.Rejected),
		"data_quality", res.Quality)
	return nil
}

// Analyze runs the scenario strategy over the cycle's readings. An
// empty reading set yields an UNKNOWN state rather than an error.
func (s *Standard) Analyze(ctx context.Context, pc *Context) error {
	if len(pc.Readings) == 0 {
		s.logger.Warn("no sensor data available for analysis")
		pc.Analysis = types.AnalysisResult{State: types.StateUnknown}
		return nil
	}

	result, err := s.deps.Analyzer.Analyze(pc.Readings, s.deps.Scenario())
	if err != nil {
		return err
	}
	pc.Analysis = result

	s.publishStateChange(result)

	s.logger.Info("analysis completed",
		"state", string(result.State),
		"violations", len(result.Violations),
		"quality_score", result.QualityScore)
	return nil
}

// Plan maps the analysis state to the knowledge base's corrective plans.
func (s *Standard) Plan(ctx context.Context, pc *Context) error {
	actions, err := s.deps.Planner.Plan(ctx, pc.Analysis)
	if err != nil {
		return err
	}
	pc.Actions = actions
	if len(actions) == 0 {
		s.logger.Info("no corrective action required")
	}
	return nil
}

// Execute runs the planned actions through the command invoker, which
// enforces prerequisites and keeps the undo history. A rejected command
// short-circuits only itself; siblings still run, though an action that
// lists a failed action as prerequisite is refused by the invoker.
func (s *Standard) Execute(ctx context.Context, pc *Context) error {
	if len(pc.Actions) == 0 {
		return nil
	}

	cmdIDs := make(map[string]string, len(pc.Actions)) // plan code -> command id
	failed := 0

	for _, action := range pc.Actions {
		rec := ExecutionRecord{
			PlanCode: action.Plan.PlanCode,
			Target:   action.Command.TargetID,
		}

		cmd, err := s.deps.Factory.ForPlan(action.Command.CommandType, action.Command.TargetID, action.Command.Value)
		if err != nil {
			rec.Err = errors.WrapInvalid(err, "Standard", "Execute", action.Plan.PlanCode)
			pc.Executed = append(pc.Executed, rec)
			failed++
			continue
		}
		rec.CommandID = cmd.ID()

		prereqs := make([]string, 0, len(action.Prerequisites))
		for _, code := range action.Prerequisites {
			if id, ok := cmdIDs[code]; ok {
				prereqs = append(prereqs, id)
			}
		}
		if err := s.deps.Invoker.Register(cmd, prereqs...); err != nil {
			rec.Err = err
			pc.Executed = append(pc.Executed, rec)
			failed++
			continue
		}
		cmdIDs[action.Plan.PlanCode] = cmd.ID()

		if err := s.deps.Invoker.Execute(ctx, cmd); err != nil {
			rec.Err = err
			pc.Executed = append(pc.Executed, rec)
			failed++
			s.logger.Error("planned action failed",
				"plan_code", action.Plan.PlanCode,
				"target", action.Command.TargetID,
				"error", err)
			continue
		}

		pc.Executed = append(pc.Executed, rec)
		if s.deps.Bus != nil {
			s.deps.Bus.Publish(eventbus.NewActionEvent("pipeline.standard", action.Command))
		}
	}

	if failed == len(pc.Actions) {
		return errors.WrapTransient(errors.ErrCommandFailed, "Standard", "Execute",
			fmt.Sprintf("all %d planned actions failed", failed))
	}
	return nil
}

// UpdateKnowledge archives the finished cycle. The write is
// fire-and-forget: a storage failure is logged, never propagated.
func (s *Standard) UpdateKnowledge(ctx context.Context, pc *Context) error {
	if s.deps.Archive == nil {
		return nil
	}

	rec := cycleRecord(pc)
	if err := s.deps.Archive.Save(ctx, rec); err != nil {
		s.logger.Warn("cycle archive write failed", "cycle_id", pc.CycleID, "error", err)
	}
	return nil
}

func (s *Standard) publishStateChange(result types.AnalysisResult) {
	if s.deps.Bus == nil {
		s.lastState = result.State
		return
	}
	if result.State != s.lastState {
		s.deps.Bus.Publish(eventbus.NewStateChangeEvent("pipeline.standard", s.lastState, result.State))
	}
	if crit := result.CriticalViolations(); len(crit) > 0 {
		s.deps.Bus.Publish(eventbus.NewAlertEvent("pipeline.standard", eventbus.SeverityCritical,
			"critical threshold violations detected", crit))
	}
	s.lastState = result.State
}

// cycleRecord summarizes a finished cycle for the archive. The snapshot
// is a best-effort JSON document; marshalling problems degrade to an
// empty snapshot rather than losing the row.
func cycleRecord(pc *Context) knowledge.CycleRecord {
	type stageSummary struct {
		Stage      string `json:"stage"`
		DurationMS int64  `json:"duration_ms"`
		Success    bool   `json:"success"`
		Error      string `json:"error,omitempty"`
	}
	summary := struct {
		DataQuality string            `json:"data_quality"`
		Sensors     int               `json:"sensors"`
		Violations  []types.Violation `json:"violations,omitempty"`
		Actions     int               `json:"actions"`
		Failed      int               `json:"failed_actions"`
		Improvement float64           `json:"improvement,omitempty"`
		Stages      []stageSummary    `json:"stages"`
	}{
		DataQuality: pc.DataQuality,
		Sensors:     len(pc.Readings),
		Violations:  pc.Analysis.Violations,
		Actions:     len(pc.Actions),
		Improvement: pc.Improvement,
	}
	for _, rec := range pc.Executed {
		if rec.Err != nil {
			summary.Failed++
		}
	}
	for _, m := range pc.Stages {
		s := stageSummary{Stage: m.Stage, DurationMS: m.Duration.Milliseconds(), Success: m.Success}
		if m.Err != nil {
			s.Error = m.Err.Error()
		}
		summary.Stages = append(summary.Stages, s)
	}

	snapshot, err := json.Marshal(summary)
	if err != nil {
		snapshot = []byte("{}")
	}

	completed := pc.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	return knowledge.CycleRecord{
		CycleID:      pc.CycleID,
		Pipeline:     pc.Pipeline,
		StartedAt:    pc.StartedAt,
		CompletedAt:  completed,
		SystemState:  string(pc.Analysis.State),
		QualityScore: pc.Analysis.QualityScore,
		RiskScore:    pc.Analysis.RiskScore,
		Snapshot:     string(snapshot),
	}
}
