package types

// SystemState is the discrete health classification produced by analysis.
type SystemState string

const (
	StateNormal              SystemState = "NORMAL"
	StateWarning             SystemState = "WARNING"
	StateCritical            SystemState = "CRITICAL"
	StateEmergencyMonitoring SystemState = "EMERGENCY_MONITORING"
	StateEmergencyCritical   SystemState = "EMERGENCY_CRITICAL"
	StateUnknown             SystemState = "UNKNOWN"
)

// Scenario tags the operating context that selects which analysis
// strategy and thresholds apply.
type Scenario string

const (
	ScenarioNormalOperation   Scenario = "normal_operation"
	ScenarioPeakDemand        Scenario = "peak_demand"
	ScenarioEmergencyResponse Scenario = "emergency_response"
	ScenarioDroughtConditions Scenario = "drought_conditions"
)

// ViolationKind names the way a reading breached its envelope.
type ViolationKind string

const (
	ViolationHighFlow     ViolationKind = "HIGH_FLOW"
	ViolationLowFlow      ViolationKind = "LOW_FLOW"
	ViolationHighPressure ViolationKind = "HIGH_PRESSURE"
	ViolationLowPressure  ViolationKind = "LOW_PRESSURE"
	ViolationPoorQuality  ViolationKind = "POOR_QUALITY"
	ViolationMissingValue ViolationKind = "MISSING_VALUE"
	ViolationConservation ViolationKind = "FLOW_CONSERVATION_EXCEEDED"
)

// Violation records one envelope breach: which sensor, what kind, the
// observed value and the bound it crossed. Critical marks breaches of a
// strategy's critical thresholds as opposed to its working limits.
type Violation struct {
	SensorID  string        `json:"sensor_id"`
	Kind      ViolationKind `json:"kind"`
	Value     float64       `json:"value"`
	Threshold float64       `json:"threshold"`
	Critical  bool          `json:"critical"`
}

// AnalysisContext carries the environmental and operational covariates
// that shape dynamic thresholds. Supplied fresh each cycle.
type AnalysisContext struct {
	Scenario        Scenario           `json:"scenario"`
	TimeOfDay       string             `json:"time_of_day"`
	Season          string             `json:"season"`
	Weather         map[string]float64 `json:"weather"`
	SystemLoad      float64            `json:"system_load"` // percent, 0..100
	Maintenance     []string           `json:"maintenance,omitempty"`
	HistoricalMeans map[string]float64 `json:"historical_means,omitempty"`
}

// LoadFactor normalizes SystemLoad to 0..1.
func (c AnalysisContext) LoadFactor() float64 {
	return c.SystemLoad / 100.0
}

// DroughtSeverity reads the 0..1 drought severity covariate, defaulting
// to 0.5 when the weather feed did not supply one.
func (c AnalysisContext) DroughtSeverity() float64 {
	if c.Weather == nil {
		return 0.5
	}
	if s, ok := c.Weather["drought_severity"]; ok {
		return s
	}
	return 0.5
}

// AnalysisResult is the per-cycle outcome of the analyze stage.
// QualityScore and RiskScore are always within [0, 1].
type AnalysisResult struct {
	State           SystemState    `json:"state"`
	Violations      []Violation    `json:"violations"`
	QualityScore    float64        `json:"quality_score"`
	RiskScore       float64        `json:"risk_score"`
	StrategyUsed    Scenario       `json:"strategy_used"`
	SensorsAnalyzed int            `json:"sensors_analyzed"`
	Detail          map[string]any `json:"detail,omitempty"`
}

// CriticalViolations returns the subset of violations that breached
// critical thresholds.
func (r AnalysisResult) CriticalViolations() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Critical {
			out = append(out, v)
		}
	}
	return out
}

// RecommendScenario applies the operational rule for choosing an analysis
// scenario from current conditions: an active emergency always wins, then
// drought severity above 0.3, then system load above 80 percent.
func RecommendScenario(emergencyActive bool, droughtSeverity, systemLoad float64) Scenario {
	switch {
	case emergencyActive:
		return ScenarioEmergencyResponse
	case droughtSeverity > 0.3:
		return ScenarioDroughtConditions
	case systemLoad > 80:
		return ScenarioPeakDemand
	default:
		return ScenarioNormalOperation
	}
}
