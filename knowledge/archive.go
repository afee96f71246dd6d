package knowledge

import (
	"context"
	"log/slog"
	"time"

	"github.com/hydroworks/aquapilot/errors"
)

// CycleRecord is the archived snapshot of one finished control cycle.
// Snapshot holds the serialized pipeline context.
type CycleRecord struct {
	CycleID      string    `db:"cycle_id"`
	Pipeline     string    `db:"pipeline"`
	StartedAt    time.Time `db:"started_at"`
	CompletedAt  time.Time `db:"completed_at"`
	SystemState  string    `db:"system_state"`
	QualityScore float64   `db:"quality_score"`
	RiskScore    float64   `db:"risk_score"`
	Snapshot     string    `db:"snapshot"`
}

// CycleArchive persists finished cycles. Archiving is fire-and-forget
// from the loop's perspective: Save reports errors, the caller decides
// whether they matter.
type CycleArchive struct {
	store  *Store
	logger *slog.Logger
}

// NewCycleArchive creates the archive.
func NewCycleArchive(store *Store, logger *slog.Logger) *CycleArchive {
	if logger == nil {
		logger = slog.Default()
	}
	return &CycleArchive{store: store, logger: logger}
}

// Save writes one cycle record.
func (a *CycleArchive) Save(ctx context.Context, rec CycleRecord) error {
	query := a.store.db.Rebind(`
		INSERT INTO cycle_archive
			(cycle_id, pipeline, started_at, completed_at, system_state, quality_score, risk_score, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := a.store.db.ExecContext(ctx, query,
		rec.CycleID, rec.Pipeline, rec.StartedAt, rec.CompletedAt,
		rec.SystemState, rec.QualityScore, rec.RiskScore, rec.Snapshot); err != nil {
		return errors.WrapTransient(err, "CycleArchive", "Save", rec.CycleID)
	}
	a.logger.Debug("cycle archived", "cycle_id", rec.CycleID, "pipeline", rec.Pipeline)
	return nil
}

// Recent returns the newest n archived cycles, newest first.
func (a *CycleArchive) Recent(ctx context.Context, n int) ([]CycleRecord, error) {
	if n <= 0 {
		n = 10
	}
	var records []CycleRecord
	query := a.store.db.Rebind(`
		SELECT cycle_id, pipeline, started_at, completed_at, system_state, quality_score, risk_score, snapshot
		FROM cycle_archive ORDER BY completed_at DESC LIMIT ?`)
	if err := a.store.db.SelectContext(ctx, &records, query, n); err != nil {
		return nil, errors.WrapTransient(err, "CycleArchive", "Recent", "query")
	}
	return records, nil
}

// StateCounts aggregates archived cycles per resulting system state,
// the raw material for pattern extraction.
func (a *CycleArchive) StateCounts(ctx context.Context) (map[string]int, error) {
	rows, err := a.store.db.QueryxContext(ctx,
		`SELECT system_state, COUNT(*) AS n FROM cycle_archive GROUP BY system_state`)
	if err != nil {
		return nil, errors.WrapTransient(err, "CycleArchive", "StateCounts", "query")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, errors.WrapTransient(err, "CycleArchive", "StateCounts", "scan")
		}
		counts[state] = n
	}
	return counts, rows.Err()
}
