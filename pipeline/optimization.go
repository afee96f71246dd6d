package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/hydroworks/aquapilot/analyzer"
	"github.com/hydroworks/aquapilot/eventbus"
	"github.com/hydroworks/aquapilot/gateway"
	"github.com/hydroworks/aquapilot/metric"
	"github.com/hydroworks/aquapilot/planner"
	"github.com/hydroworks/aquapilot/types"
)

// RecommendationSource proposes scored optimization actions for the
// current telemetry and analysis.
type RecommendationSource interface {
	Recommendations(ctx context.Context, readings []types.SensorReading,
		analysis types.AnalysisResult) ([]planner.Recommendation, error)
}

// improvementThreshold is the overall improvement above which the
// tuned setpoints are kept for subsequent cycles.
const improvementThreshold = 0.05

// OptimizationDeps wires the optimization pipeline's collaborators.
type OptimizationDeps struct {
	Source      SensorSource
	Gateway     *gateway.Gateway
	Analyzer    *analyzer.ScenarioAnalyzer
	Scenario    func() types.AnalysisContext
	Recommender RecommendationSource
	Dispatcher  CommandDispatcher
	Archive     CycleArchiver
	Bus         *eventbus.Bus
	Logger      *slog.Logger
	Metrics     *metric.Metrics

	// Stabilization is the pause between optimization actions so the
	// system settles before the next adjustment. Defaults to 30s.
	Stabilization time.Duration
	// TopN bounds how many ranked recommendations run per cycle.
	TopN int
}

// Optimization is the efficiency-tuning cycle: it ranks recommended
// adjustments by impact and feasibility, runs only the safe ones, and
// keeps the tuned setpoints when the measured improvement is
// significant. Stage failures never abort the cycle.
type Optimization struct {
	deps   OptimizationDeps
	logger *slog.Logger
}

// NewOptimization builds the optimization pipeline with the CONTINUE
// policy.
func NewOptimization(deps OptimizationDeps, opts ...TemplateOption) *Template {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Stabilization == 0 {
		deps.Stabilization = 30 * time.Second
	}
	if deps.TopN <= 0 {
		deps.TopN = 3
	}
	o := &Optimization{deps: deps, logger: deps.Logger}
	base := []TemplateOption{WithLogger(deps.Logger), WithMetrics(deps.Metrics)}
	return NewTemplate("optimization", o, PolicyContinue, append(base, opts...)...)
}

// Monitor collects current readings; the gateway's per-sensor history
// provides the trend context recommendations are built against.
func (o *Optimization) Monitor(ctx context.Context, pc *Context) error {
	raw, err := o.deps.Source.ReadAllSensors(ctx)
	if err != nil {
		return err
	}
	res := o.deps.Gateway.Normalize(time.Now(), raw)
	pc.Readings = res.Accepted
	pc.DataQuality = res.Quality
	pc.Metadata["optimization_mode"] = true
	return nil
}

// Analyze runs the standard scenario analysis so optimization never
// acts on a system that needs correction first.
func (o *Optimization) Analyze(ctx context.Context, pc *Context) error {
	if len(pc.Readings) == 0 {
		pc.Analysis = types.AnalysisResult{State: types.StateUnknown}
		return nil
	}
	result, err := o.deps.Analyzer.Analyze(pc.Readings, o.deps.Scenario())
	if err != nil {
		return err
	}
	pc.Analysis = result
	return nil
}

// Plan ranks the recommended actions by impact times feasibility and
// keeps the top candidates whose safety score clears the cutoff. A
// degraded system plans nothing: corrective pipelines take precedence.
func (o *Optimization) Plan(ctx context.Context, pc *Context) error {
	if pc.Analysis.State != types.StateNormal {
		o.logger.Info("skipping optimization, system not in normal state",
			"state", string(pc.Analysis.State))
		return nil
	}

	recs, err := o.deps.Recommender.Recommendations(ctx, pc.Readings, pc.Analysis)
	if err != nil {
		return err
	}
	pc.Recommendations = planner.RankRecommendations(recs, o.deps.TopN)

	o.logger.Info("optimization plan ready",
		"candidates", len(recs),
		"selected", len(pc.Recommendations))
	return nil
}

// Execute runs the selected adjustments one at a time with a
// stabilization pause between them. Per-action improvement is credited
// only when the command was delivered.
func (o *Optimization) Execute(ctx context.Context, pc *Context) error {
	if len(pc.Recommendations) == 0 {
		return nil
	}

	var totalImprovement float64
	assessed := 0

	for i, rec := range pc.Recommendations {
		cmd := types.ControlCommand{
			TargetID:    rec.Target,
			CommandType: rec.Action,
			Value:       rec.Value,
			Timestamp:   time.Now(),
			Priority:    5,
			Metadata:    map[string]any{"optimization": true},
		}

		outcomes, _ := o.deps.Dispatcher.DispatchAll(ctx, []types.ControlCommand{cmd})
		record := ExecutionRecord{Target: rec.Target}
		if len(outcomes) == 1 {
			record.Endpoint = outcomes[0].Endpoint
			record.Err = outcomes[0].Err
		}
		pc.Executed = append(pc.Executed, record)

		assessed++
		if record.Err == nil {
			totalImprovement += rec.ImpactScore
			if o.deps.Bus != nil {
				o.deps.Bus.Publish(eventbus.NewActionEvent("pipeline.optimization", cmd))
			}
		} else {
			o.logger.Warn("optimization action failed",
				"target", rec.Target, "action", rec.Action, "error", record.Err)
		}

		if i < len(pc.Recommendations)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.deps.Stabilization):
			}
		}
	}

	if assessed > 0 {
		pc.Improvement = totalImprovement / float64(assessed)
	}
	return nil
}

// UpdateKnowledge archives the session and keeps the tuned setpoints
// when the overall improvement clears the significance threshold.
func (o *Optimization) UpdateKnowledge(ctx context.Context, pc *Context) error {
	if pc.Improvement > improvementThreshold {
		pc.Metadata["parameters_updated"] = true
		o.logger.Info("optimization improvement significant, keeping setpoints",
			"improvement", pc.Improvement)
	}

	if o.deps.Archive != nil {
		if err := o.deps.Archive.Save(ctx, cycleRecord(pc)); err != nil {
			o.logger.Warn("optimization archive write failed", "cycle_id", pc.CycleID, "error", err)
		}
	}
	return nil
}
