package knowledge

import (
	"context"
	"database/sql"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hydroworks/aquapilot/errors"
	"github.com/hydroworks/aquapilot/types"
)

// thresholdEntry is one cached lookup. Absence is cached too: a
// parameter with no threshold row can be checked every cycle without
// hitting the database.
type thresholdEntry struct {
	bounds    types.Bounds
	found     bool
	fetchedAt time.Time
}

// ThresholdRepository serves per-parameter operating bounds with a
// read-through TTL cache in front of the thresholds table. A parameter
// without a row means no violation is possible for it.
type ThresholdRepository struct {
	store  *Store
	ttl    time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]thresholdEntry
}

// NewThresholdRepository creates the repository with the given cache
// TTL.
func NewThresholdRepository(store *Store, ttl time.Duration, logger *slog.Logger) *ThresholdRepository {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ThresholdRepository{
		store:  store,
		ttl:    ttl,
		logger: logger,
		cache:  make(map[string]thresholdEntry),
	}
}

// Get returns the bounds for a parameter and whether a threshold is
// declared for it.
func (r *ThresholdRepository) Get(ctx context.Context, parameter string) (types.Bounds, bool, error) {
	r.mu.Lock()
	entry, cached := r.cache[parameter]
	r.mu.Unlock()
	if cached && time.Since(entry.fetchedAt) < r.ttl {
		return entry.bounds, entry.found, nil
	}

	var row struct {
		Min float64 `db:"min_value"`
		Max float64 `db:"max_value"`
	}
	query := r.store.db.Rebind(`SELECT min_value, max_value FROM thresholds WHERE parameter = ?`)
	err := r.store.db.GetContext(ctx, &row, query, parameter)

	entry = thresholdEntry{fetchedAt: time.Now()}
	switch {
	case err == nil:
		entry.bounds = types.Bounds{Min: row.Min, Max: row.Max}
		entry.found = true
	case stderrors.Is(err, sql.ErrNoRows):
		// Cached as absent.
	default:
		return types.Bounds{}, false, errors.WrapTransient(err, "ThresholdRepository", "Get", parameter)
	}

	r.mu.Lock()
	r.cache[parameter] = entry
	r.mu.Unlock()
	return entry.bounds, entry.found, nil
}

// Put inserts or replaces a threshold and drops the stale cache entry.
func (r *ThresholdRepository) Put(ctx context.Context, parameter string, bounds types.Bounds) error {
	query := r.store.db.Rebind(`
		INSERT INTO thresholds (parameter, min_value, max_value) VALUES (?, ?, ?)
		ON CONFLICT (parameter) DO UPDATE SET min_value = excluded.min_value, max_value = excluded.max_value`)
	if _, err := r.store.db.ExecContext(ctx, query, parameter, bounds.Min, bounds.Max); err != nil {
		return errors.WrapTransient(err, "ThresholdRepository", "Put", parameter)
	}

	r.mu.Lock()
	delete(r.cache, parameter)
	r.mu.Unlock()
	return nil
}

// Invalidate drops every cached entry, forcing fresh reads.
func (r *ThresholdRepository) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[string]thresholdEntry)
	r.mu.Unlock()
}
