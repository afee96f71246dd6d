package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/hydroworks/aquapilot/errors"
)

// Plan is one corrective-action row from the plan table. Parameters
// carry command arguments such as the target value.
type Plan struct {
	PlanCode    string
	AssetID     string
	State       string
	Command     string
	Parameters  map[string]float64
	Priority    int
	Description string
}

// NoAction is the plan returned when no row matches: the loop records
// the decision and sends nothing downstream.
var NoAction = Plan{
	PlanCode:    "NONE",
	Command:     "no_action",
	Parameters:  map[string]float64{},
	Priority:    99,
	Description: "No action required",
}

type planRow struct {
	PlanCode    string `db:"plan_code"`
	AssetID     string `db:"asset_id"`
	State       string `db:"state"`
	Command     string `db:"command"`
	Parameters  string `db:"parameters"`
	Priority    int    `db:"priority"`
	Description string `db:"description"`
}

// PlanRepository selects corrective plans keyed by plan code and asset,
// or by system state.
type PlanRepository struct {
	store  *Store
	logger *slog.Logger
}

// NewPlanRepository creates the repository.
func NewPlanRepository(store *Store, logger *slog.Logger) *PlanRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanRepository{store: store, logger: logger}
}

// ByCode returns the plan for a plan code and asset. A missing row
// yields NoAction for that asset, not an error.
func (r *PlanRepository) ByCode(ctx context.Context, planCode, assetID string) (Plan, error) {
	var row planRow
	query := r.store.db.Rebind(`SELECT plan_code, asset_id, state, command, parameters, priority, description
		FROM plans WHERE plan_code = ? AND asset_id = ?`)
	err := r.store.db.GetContext(ctx, &row, query, planCode, assetID)
	if stderrors.Is(err, sql.ErrNoRows) {
		plan := NoAction
		plan.AssetID = assetID
		return plan, nil
	}
	if err != nil {
		return Plan{}, errors.WrapTransient(err, "PlanRepository", "ByCode",
			fmt.Sprintf("%s/%s", planCode, assetID))
	}
	return row.toPlan()
}

// ByState returns every plan declared for a system state, highest
// priority first (lower number = more urgent).
func (r *PlanRepository) ByState(ctx context.Context, state string) ([]Plan, error) {
	var rows []planRow
	query := r.store.db.Rebind(`SELECT plan_code, asset_id, state, command, parameters, priority, description
		FROM plans WHERE state = ? ORDER BY priority ASC, plan_code ASC`)
	if err := r.store.db.SelectContext(ctx, &rows, query, state); err != nil {
		return nil, errors.WrapTransient(err, "PlanRepository", "ByState", state)
	}

	plans := make([]Plan, 0, len(rows))
	for _, row := range rows {
		plan, err := row.toPlan()
		if err != nil {
			r.logger.Warn("plan row with malformed parameters skipped",
				"plan_code", row.PlanCode, "asset_id", row.AssetID, "error", err)
			continue
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// Put inserts or replaces a plan row.
func (r *PlanRepository) Put(ctx context.Context, plan Plan) error {
	params, err := json.Marshal(plan.Parameters)
	if err != nil {
		return errors.WrapInvalid(err, "PlanRepository", "Put", plan.PlanCode)
	}

	query := r.store.db.Rebind(`
		INSERT INTO plans (plan_code, asset_id, state, command, parameters, priority, description)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (plan_code, asset_id) DO UPDATE SET
			state = excluded.state,
			command = excluded.command,
			parameters = excluded.parameters,
			priority = excluded.priority,
			description = excluded.description`)
	if _, err := r.store.db.ExecContext(ctx, query,
		plan.PlanCode, plan.AssetID, plan.State, plan.Command, string(params),
		plan.Priority, plan.Description); err != nil {
		return errors.WrapTransient(err, "PlanRepository", "Put", plan.PlanCode)
	}
	return nil
}

func (row planRow) toPlan() (Plan, error) {
	params := map[string]float64{}
	if row.Parameters != "" {
		if err := json.Unmarshal([]byte(row.Parameters), &params); err != nil {
			return Plan{}, fmt.Errorf("parameters of %s/%s: %w", row.PlanCode, row.AssetID, err)
		}
	}
	return Plan{
		PlanCode:    row.PlanCode,
		AssetID:     row.AssetID,
		State:       row.State,
		Command:     row.Command,
		Parameters:  params,
		Priority:    row.Priority,
		Description: row.Description,
	}, nil
}
