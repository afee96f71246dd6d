package knowledge

import (
	"context"
	"log/slog"

	"github.com/hydroworks/aquapilot/errors"
	"github.com/hydroworks/aquapilot/types"
)

// defaultThresholds are the operating limits installed into an empty
// knowledge base. Operators tighten them per site afterwards.
var defaultThresholds = map[string]types.Bounds{
	"pressure":       {Min: 0.5, Max: 5.0},
	"flow_rate":      {Min: 0.0, Max: 150.0},
	"valve_position": {Min: 0.0, Max: 100.0},
	"pump_speed":     {Min: 0.0, Max: 100.0},
}

// defaultPlans are the corrective plans installed into an empty plan
// table, keyed by the system state the planner selects on.
var defaultPlans = []Plan{
	{
		PlanCode:    "WL001",
		AssetID:     "main_pump",
		State:       string(types.StateWarning),
		Command:     "adjust_pressure",
		Parameters:  map[string]float64{"value": 3.0},
		Priority:    2,
		Description: "ease main pump pressure toward nominal",
	},
	{
		PlanCode:    "WL002",
		AssetID:     "main_valve",
		State:       string(types.StateWarning),
		Command:     "adjust_flow",
		Parameters:  map[string]float64{"value": 80.0},
		Priority:    3,
		Description: "throttle main line flow",
	},
	{
		PlanCode:    "CR001",
		AssetID:     "main_pump",
		State:       string(types.StateCritical),
		Command:     "adjust_pressure",
		Parameters:  map[string]float64{"value": 2.5},
		Priority:    1,
		Description: "drop main pump pressure to the safe floor",
	},
	{
		PlanCode:    "CR002",
		AssetID:     "main_valve",
		State:       string(types.StateCritical),
		Command:     "adjust_flow",
		Parameters:  map[string]float64{"value": 60.0},
		Priority:    2,
		Description: "restrict main line flow while the fault is traced",
	},
	{
		PlanCode:    "EM001",
		AssetID:     "main_pump",
		State:       string(types.StateEmergencyCritical),
		Command:     "adjust_pressure",
		Parameters:  map[string]float64{"value": 1.5},
		Priority:    1,
		Description: "cut pressure ahead of emergency isolation",
	},
	{
		PlanCode:    "EM002",
		AssetID:     "distribution_network",
		State:       string(types.StateEmergencyCritical),
		Command:     "emergency_shutdown",
		Parameters:  map[string]float64{},
		Priority:    1,
		Description: "isolate the distribution network",
	},
	{
		PlanCode:    "MON01",
		AssetID:     "main_pump",
		State:       string(types.StateEmergencyMonitoring),
		Command:     "no_action",
		Parameters:  map[string]float64{},
		Priority:    5,
		Description: "hold under heightened sampling",
	},
}

// SeedDefaults installs the built-in thresholds and plans into tables
// that are still empty. Non-empty tables are left untouched so operator
// edits survive restarts.
func SeedDefaults(ctx context.Context, store *Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var thresholdCount int
	if err := store.db.GetContext(ctx, &thresholdCount, `SELECT COUNT(*) FROM thresholds`); err != nil {
		return errors.WrapTransient(err, "Store", "SeedDefaults", "count thresholds")
	}
	if thresholdCount == 0 {
		repo := NewThresholdRepository(store, 0, logger)
		for parameter, bounds := range defaultThresholds {
			if err := repo.Put(ctx, parameter, bounds); err != nil {
				return err
			}
		}
		logger.Info("seeded default thresholds", "count", len(defaultThresholds))
	}

	var planCount int
	if err := store.db.GetContext(ctx, &planCount, `SELECT COUNT(*) FROM plans`); err != nil {
		return errors.WrapTransient(err, "Store", "SeedDefaults", "count plans")
	}
	if planCount == 0 {
		repo := NewPlanRepository(store, logger)
		for _, plan := range defaultPlans {
			if err := repo.Put(ctx, plan); err != nil {
				return err
			}
		}
		logger.Info("seeded default plans", "count", len(defaultPlans))
	}
	return nil
}
