package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hydroworks/aquapilot/errors"
	"github.com/hydroworks/aquapilot/pkg/buffer"
)

// PipelineSummary aggregates one pipeline's execution statistics.
type PipelineSummary struct {
	Executions    int
	TotalDuration time.Duration
	AvgDuration   time.Duration
	SuccessRate   float64
}

// Orchestrator holds the named pipeline registry and a bounded
// execution history. One orchestrator serves one control-loop instance.
type Orchestrator struct {
	logger *slog.Logger

	mu        sync.Mutex
	pipelines map[string]*Template
	history   *buffer.Ring[*Context]
}

// NewOrchestrator creates an orchestrator retaining historySize
// finished cycle contexts.
func NewOrchestrator(historySize int, logger *slog.Logger) *Orchestrator {
	if historySize <= 0 {
		historySize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		logger:    logger,
		pipelines: make(map[string]*Template),
		history:   buffer.NewRing[*Context](historySize),
	}
}

// Register adds a pipeline under its name, replacing any previous
// registration.
func (o *Orchestrator) Register(t *Template) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pipelines[t.Name()] = t
	o.logger.Info("pipeline registered", "pipeline", t.Name())
}

// Names lists the registered pipeline names.
func (o *Orchestrator) Names() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	names := make([]string, 0, len(o.pipelines))
	for name := range o.pipelines {
		names = append(names, name)
	}
	return names
}

// Run executes the named pipeline once. The finished context lands in
// the history whether or not the cycle succeeded.
func (o *Orchestrator) Run(ctx context.Context, name string, seed map[string]any) (*Context, error) {
	o.mu.Lock()
	t, ok := o.pipelines[name]
	o.mu.Unlock()
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrPipelineNotFound, "Orchestrator", "Run", name)
	}

	pc, err := t.Run(ctx, seed)
	if pc != nil {
		o.mu.Lock()
		o.history.Push(pc)
		o.mu.Unlock()
	}
	return pc, err
}

// History returns the retained cycle contexts, oldest first.
func (o *Orchestrator) History() []*Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.history.Snapshot()
}

// Summary aggregates per-pipeline statistics over the retained history.
// Success rate is the fraction of successful stage attempts.
func (o *Orchestrator) Summary() map[string]PipelineSummary {
	contexts := o.History()
	out := make(map[string]PipelineSummary)

	successes := make(map[string]int)
	attempts := make(map[string]int)
	for _, pc := range contexts {
		s := out[pc.Pipeline]
		s.Executions++
		s.TotalDuration += pc.CompletedAt.Sub(pc.StartedAt)
		out[pc.Pipeline] = s

		for _, m := range pc.Stages {
			attempts[pc.Pipeline]++
			if m.Success {
				successes[pc.Pipeline]++
			}
		}
	}

	for name, s := range out {
		if s.Executions > 0 {
			s.AvgDuration = s.TotalDuration / time.Duration(s.Executions)
		}
		if attempts[name] > 0 {
			s.SuccessRate = float64(successes[name]) / float64(attempts[name])
		}
		out[name] = s
	}
	return out
}
