package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core control-loop metrics shared by every
// component. Domain components register their own metrics through the
// registry interface.
type Metrics struct {
	// Cycle metrics
	CyclesTotal   *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec
	StageDuration *prometheus.HistogramVec
	StageRetries  *prometheus.CounterVec
	SystemState   *prometheus.GaugeVec

	// Telemetry metrics
	ReadingsIngested *prometheus.CounterVec
	ReadingsDropped  *prometheus.CounterVec
	Violations       *prometheus.CounterVec
	QualityScore     *prometheus.GaugeVec

	// Event fabric metrics
	EventsPublished prometheus.Counter
	EventsFiltered  prometheus.Counter
	EventsNotified  prometheus.Counter
	EventsErrored   prometheus.Counter

	// Actuation metrics
	CommandsExecuted *prometheus.CounterVec
	CommandsUndone   *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	BreakerState     *prometheus.GaugeVec

	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all core metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aquapilot",
				Subsystem: "loop",
				Name:      "cycles_total",
				Help:      "Total number of control cycles by pipeline and outcome",
			},
			[]string{"pipeline", "status"},
		),

		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "aquapilot",
				Subsystem: "loop",
				Name:      "cycle_duration_seconds",
				Help:      "Whole-cycle duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"pipeline"},
		),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "aquapilot",
				Subsystem: "loop",
				Name:      "stage_duration_seconds",
				Help:      "Per-stage duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"pipeline", "stage"},
		),

		StageRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aquapilot",
				Subsystem: "loop",
				Name:      "stage_retries_total",
				Help:      "Total stage retry attempts",
			},
			[]string{"pipeline", "stage"},
		),

		SystemState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "aquapilot",
				Subsystem: "loop",
				Name:      "system_state",
				Help:      "Assessed system state (0=normal, 1=warning, 2=critical)",
			},
			[]string{"pipeline"},
		),

		ReadingsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aquapilot",
				Subsystem: "telemetry",
				Name:      "readings_ingested_total",
				Help:      "Total sensor readings accepted after validation",
			},
			[]string{"source", "sensor_type"},
		),

		ReadingsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aquapilot",
				Subsystem: "telemetry",
				Name:      "readings_dropped_total",
				Help:      "Total sensor readings rejected or deduplicated away",
			},
			[]string{"source", "reason"},
		),

		Violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aquapilot",
				Subsystem: "analysis",
				Name:      "violations_total",
				Help:      "Total threshold violations detected",
			},
			[]string{"scenario", "kind"},
		),

		QualityScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "aquapilot",
				Subsystem: "analysis",
				Name:      "quality_score",
				Help:      "Most recent analysis quality score (0..1)",
			},
			[]string{"scenario"},
		),

		EventsPublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "aquapilot",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Total events accepted for distribution",
			},
		),

		EventsFiltered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "aquapilot",
				Subsystem: "events",
				Name:      "filtered_total",
				Help:      "Total events rejected by a filter",
			},
		),

		EventsNotified: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "aquapilot",
				Subsystem: "events",
				Name:      "notified_total",
				Help:      "Total successful observer notifications",
			},
		),

		EventsErrored: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "aquapilot",
				Subsystem: "events",
				Name:      "errored_total",
				Help:      "Total observer notification failures",
			},
		),

		CommandsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aquapilot",
				Subsystem: "commands",
				Name:      "executed_total",
				Help:      "Total command executions by type and outcome",
			},
			[]string{"type", "status"},
		),

		CommandsUndone: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aquapilot",
				Subsystem: "commands",
				Name:      "undone_total",
				Help:      "Total command undo operations",
			},
			[]string{"type"},
		),

		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "aquapilot",
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Field-device dispatch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "aquapilot",
				Subsystem: "dispatch",
				Name:      "circuit_breaker",
				Help:      "Endpoint circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aquapilot",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "type"},
		),
	}
}

// RecordCycle increments the cycle counter for a pipeline run.
func (c *Metrics) RecordCycle(pipeline, status string, duration time.Duration) {
	c.CyclesTotal.WithLabelValues(pipeline, status).Inc()
	c.CycleDuration.WithLabelValues(pipeline).Observe(duration.Seconds())
}

// RecordStage records one stage execution.
func (c *Metrics) RecordStage(pipeline, stage string, duration time.Duration) {
	c.StageDuration.WithLabelValues(pipeline, stage).Observe(duration.Seconds())
}

// RecordStageRetry increments the retry counter for a stage.
func (c *Metrics) RecordStageRetry(pipeline, stage string) {
	c.StageRetries.WithLabelValues(pipeline, stage).Inc()
}

// RecordSystemState updates the assessed state gauge.
func (c *Metrics) RecordSystemState(pipeline string, state int) {
	c.SystemState.WithLabelValues(pipeline).Set(float64(state))
}

// RecordReadingIngested increments the accepted-readings counter.
func (c *Metrics) RecordReadingIngested(source, sensorType string) {
	c.ReadingsIngested.WithLabelValues(source, sensorType).Inc()
}

// RecordReadingDropped increments the dropped-readings counter.
func (c *Metrics) RecordReadingDropped(source, reason string) {
	c.ReadingsDropped.WithLabelValues(source, reason).Inc()
}

// RecordViolation increments the violation counter.
func (c *Metrics) RecordViolation(scenario, kind string) {
	c.Violations.WithLabelValues(scenario, kind).Inc()
}

// RecordQualityScore updates the quality score gauge.
func (c *Metrics) RecordQualityScore(scenario string, score float64) {
	c.QualityScore.WithLabelValues(scenario).Set(score)
}

// RecordCommand increments the command execution counter.
func (c *Metrics) RecordCommand(commandType, status string) {
	c.CommandsExecuted.WithLabelValues(commandType, status).Inc()
}

// RecordUndo increments the undo counter.
func (c *Metrics) RecordUndo(commandType string) {
	c.CommandsUndone.WithLabelValues(commandType).Inc()
}

// RecordDispatch records one field-device dispatch.
func (c *Metrics) RecordDispatch(endpoint string, duration time.Duration) {
	c.DispatchDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordBreakerState updates an endpoint breaker gauge.
func (c *Metrics) RecordBreakerState(endpoint string, state int) {
	c.BreakerState.WithLabelValues(endpoint).Set(float64(state))
}

// RecordError increments the error counter.
func (c *Metrics) RecordError(component, errorType string) {
	c.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
