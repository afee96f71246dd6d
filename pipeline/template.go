// Package pipeline implements the five-stage control cycle: Monitor,
// Analyze, Plan, Execute and KnowledgeUpdate run in fixed order with
// per-stage timing and a configurable failure policy. Concrete
// pipelines supply only the stage bodies; the template owns ordering,
// metrics and the whole-cycle hooks.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hydroworks/aquapilot/errors"
	"github.com/hydroworks/aquapilot/metric"
	"github.com/hydroworks/aquapilot/pkg/retry"
	"github.com/hydroworks/aquapilot/planner"
	"github.com/hydroworks/aquapilot/types"
)

// Stage names in execution order.
const (
	StageMonitor         = "monitor"
	StageAnalyze         = "analyze"
	StagePlan            = "plan"
	StageExecute         = "execute"
	StageKnowledgeUpdate = "knowledge_update"
)

var stageOrder = []string{StageMonitor, StageAnalyze, StagePlan, StageExecute, StageKnowledgeUpdate}

// Policy selects how a stage failure is handled.
type Policy int

const (
	// PolicyAbort propagates a stage failure immediately.
	PolicyAbort Policy = iota
	// PolicyContinue logs the failure and proceeds with partial context.
	PolicyContinue
	// PolicyRetry retries the stage with exponential backoff before
	// surfacing the last error.
	PolicyRetry
)

func (p Policy) String() string {
	switch p {
	case PolicyAbort:
		return "abort"
	case PolicyContinue:
		return "continue"
	case PolicyRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// StageMetrics records one stage attempt's outcome. A failed stage
// under the CONTINUE or RETRY policy leaves its failure entry in place
// next to any later success entry.
type StageMetrics struct {
	Stage    string
	Duration time.Duration
	Success  bool
	Err      error
}

// ExecutionRecord is the per-command outcome of the Execute stage.
type ExecutionRecord struct {
	PlanCode  string
	CommandID string
	Target    string
	Endpoint  string
	Err       error
}

// Context is the per-cycle aggregate handed through the stages. It is
// owned by exactly one cycle execution and discarded or archived at
// cycle end.
type Context struct {
	CycleID     string
	Pipeline    string
	StartedAt   time.Time
	CompletedAt time.Time

	Readings    []types.SensorReading
	DataQuality string
	Analysis    types.AnalysisResult

	Actions         []planner.Action
	Recommendations []planner.Recommendation

	Executed    []ExecutionRecord
	Improvement float64

	Stages   []StageMetrics
	Metadata map[string]any
}

// StageMetric returns the most recent metric entry for a stage.
func (c *Context) StageMetric(stage string) (StageMetrics, bool) {
	for i := len(c.Stages) - 1; i >= 0; i-- {
		if c.Stages[i].Stage == stage {
			return c.Stages[i], true
		}
	}
	return StageMetrics{}, false
}

// TotalDuration sums the recorded stage durations.
func (c *Context) TotalDuration() time.Duration {
	var total time.Duration
	for _, m := range c.Stages {
		total += m.Duration
	}
	return total
}

// Stages is the set of phase bodies a concrete pipeline provides. The
// template calls them strictly in order within one cycle.
type Stages interface {
	Monitor(ctx context.Context, pc *Context) error
	Analyze(ctx context.Context, pc *Context) error
	Plan(ctx context.Context, pc *Context) error
	Execute(ctx context.Context, pc *Context) error
	UpdateKnowledge(ctx context.Context, pc *Context) error
}

// Hooks run around the whole cycle, never per stage, and cannot alter
// the stage order.
type Hooks struct {
	PreExecution  func(ctx context.Context, pc *Context)
	PostExecution func(ctx context.Context, pc *Context)
	OnError       func(ctx context.Context, pc *Context, err error)
}

// Template drives one pipeline's cycles. The stage order is fixed;
// concrete pipelines differ only in stage bodies and configuration.
type Template struct {
	name       string
	stages     Stages
	policy     Policy
	maxRetries int
	hooks      Hooks
	logger     *slog.Logger
	metrics    *metric.Metrics
}

// TemplateOption customizes a pipeline template.
type TemplateOption func(*Template)

// WithHooks installs the whole-cycle hooks.
func WithHooks(h Hooks) TemplateOption {
	return func(t *Template) { t.hooks = h }
}

// WithMaxRetries bounds stage retries under the RETRY policy.
func WithMaxRetries(n int) TemplateOption {
	return func(t *Template) { t.maxRetries = n }
}

// WithLogger sets the template's logger.
func WithLogger(l *slog.Logger) TemplateOption {
	return func(t *Template) { t.logger = l }
}

// WithMetrics sets the template's metrics sink.
func WithMetrics(m *metric.Metrics) TemplateOption {
	return func(t *Template) { t.metrics = m }
}

// NewTemplate wires stage bodies into a template with the given failure
// policy.
func NewTemplate(name string, stages Stages, policy Policy, opts ...TemplateOption) *Template {
	t := &Template{
		name:       name,
		stages:     stages,
		policy:     policy,
		maxRetries: 3,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name returns the pipeline name.
func (t *Template) Name() string {
	return t.name
}

// Run executes one full cycle. The returned Context always carries the
// stage metrics accumulated up to the failure point, so an aborted
// cycle still yields a diagnosable record.
func (t *Template) Run(ctx context.Context, seed map[string]any) (*Context, error) {
	pc := &Context{
		CycleID:   uuid.NewString(),
		Pipeline:  t.name,
		StartedAt: time.Now(),
		Metadata:  map[string]any{},
	}
	for k, v := range seed {
		pc.Metadata[k] = v
	}

	t.logger.Info("cycle started", "pipeline", t.name, "cycle_id", pc.CycleID)

	if t.hooks.PreExecution != nil {
		t.hooks.PreExecution(ctx, pc)
	}

	for _, stage := range stageOrder {
		if err := t.runStage(ctx, pc, stage); err != nil {
			pc.CompletedAt = time.Now()
			t.recordCycle(pc, "failed")
			if t.hooks.OnError != nil {
				t.hooks.OnError(ctx, pc, err)
			}
			t.logger.Error("cycle aborted",
				"pipeline", t.name,
				"cycle_id", pc.CycleID,
				"stage", stage,
				"error", err)
			return pc, err
		}
	}

	pc.CompletedAt = time.Now()
	t.recordCycle(pc, "completed")

	if t.hooks.PostExecution != nil {
		t.hooks.PostExecution(ctx, pc)
	}

	t.logger.Info("cycle completed",
		"pipeline", t.name,
		"cycle_id", pc.CycleID,
		"state", string(pc.Analysis.State),
		"duration", pc.TotalDuration())
	return pc, nil
}

func (t *Template) runStage(ctx context.Context, pc *Context, stage string) error {
	err := t.attemptStage(ctx, pc, stage)
	if err == nil {
		return nil
	}

	switch t.policy {
	case PolicyAbort:
		return errors.Wrap(fmt.Errorf("%w: %s: %w", errors.ErrStageFailed, stage, err),
			"Template", "runStage", t.name)
	case PolicyContinue:
		t.logger.Warn("continuing cycle despite stage failure",
			"pipeline", t.name, "stage", stage, "error", err)
		return nil
	case PolicyRetry:
		return t.retryStage(ctx, pc, stage, err)
	default:
		return errors.Wrap(err, "Template", "runStage", stage)
	}
}

// attemptStage runs one stage body once, timing it and appending its
// metric entry whether it succeeded or failed.
func (t *Template) attemptStage(ctx context.Context, pc *Context, stage string) error {
	fn := t.stageFunc(stage)
	start := time.Now()
	err := fn(ctx, pc)
	duration := time.Since(start)

	pc.Stages = append(pc.Stages, StageMetrics{
		Stage:    stage,
		Duration: duration,
		Success:  err == nil,
		Err:      err,
	})
	if t.metrics != nil {
		t.metrics.RecordStage(t.name, stage, duration)
	}

	if err != nil {
		t.logger.Error("stage failed",
			"pipeline", t.name, "stage", stage, "duration", duration, "error", err)
		return err
	}
	t.logger.Debug("stage completed",
		"pipeline", t.name, "stage", stage, "duration", duration)
	return nil
}

// retryStage re-attempts a failed stage with exponential backoff, then
// surfaces the last error once the attempt cap is reached.
func (t *Template) retryStage(ctx context.Context, pc *Context, stage string, firstErr error) error {
	lastErr := firstErr
	for attempt := 0; attempt < t.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "Template", "retryStage", stage)
		case <-time.After(retry.StageBackoff(attempt)):
		}

		t.logger.Info("retrying stage",
			"pipeline", t.name, "stage", stage, "attempt", attempt+1)
		if t.metrics != nil {
			t.metrics.RecordStageRetry(t.name, stage)
		}

		if err := t.attemptStage(ctx, pc, stage); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return errors.Wrap(fmt.Errorf("%w: %s: %w", errors.ErrMaxRetriesExceeded, stage, lastErr),
		"Template", "retryStage", t.name)
}

func (t *Template) stageFunc(stage string) func(context.Context, *Context) error {
	switch stage {
	case StageMonitor:
		return t.stages.Monitor
	case StageAnalyze:
		return t.stages.Analyze
	case StagePlan:
		return t.stages.Plan
	case StageExecute:
		return t.stages.Execute
	default:
		return t.stages.UpdateKnowledge
	}
}

func (t *Template) recordCycle(pc *Context, status string) {
	if t.metrics == nil {
		return
	}
	t.metrics.RecordCycle(t.name, status, pc.CompletedAt.Sub(pc.StartedAt))
	t.metrics.RecordSystemState(t.name, stateRank(pc.Analysis.State))
}

// stateRank maps system states onto a gauge scale, worst state highest.
func stateRank(s types.SystemState) int {
	switch s {
	case types.StateNormal:
		return 0
	case types.StateWarning:
		return 1
	case types.StateCritical:
		return 2
	case types.StateEmergencyMonitoring:
		return 3
	case types.StateEmergencyCritical:
		return 4
	default:
		return -1
	}
}
