// Package registry holds the append-only ledger of completed trajectories.
// It is the single source of truth for what simulation data exists. Records
// are never edited or deleted; the only mutation is Append, and the
// coordinator serializes all calls to it.
package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/msmaccel/accelerd/internal/wire"
)

// ErrDuplicate is returned by Append when the trajectory_id already exists.
// Callers treat it as an idempotent retry, not a failure.
var ErrDuplicate = errors.New("registry: duplicate trajectory_id")

// Record is one completed trajectory. Immutable once appended.
type Record struct {
	TrajectoryID string
	SeedID       string
	Locator      wire.Locator
	ProducedBy   string
	Round        int
	CreatedAt    time.Time
}

// Registry is a mutex-guarded in-memory ledger optionally backed by sqlite.
// With a database attached, appends are written through and the in-memory
// view is rebuilt from the table on startup, so a restarted server recovers
// its authoritative view of existing data.
type Registry struct {
	mu      sync.RWMutex
	records []Record
	index   map[string]int
	db      *sql.DB
}

// New creates an empty in-memory registry.
func New() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Load creates a registry backed by db, reloading any previously appended
// records in insertion order.
func Load(db *sql.DB) (*Registry, error) {
	r := New()
	r.db = db
	rows, err := db.Query(`SELECT trajectory_id, seed_id, protocol, path, produced_by, round, created_at
		FROM trajectories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load trajectory ledger: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.TrajectoryID, &rec.SeedID, &rec.Locator.Protocol,
			&rec.Locator.Path, &rec.ProducedBy, &rec.Round, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trajectory row: %w", err)
		}
		r.index[rec.TrajectoryID] = len(r.records)
		r.records = append(r.records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trajectory ledger: %w", err)
	}
	return r, nil
}

// Append adds rec to the ledger. It returns ErrDuplicate if the
// trajectory_id has been seen before; the ledger is unchanged in that case.
func (r *Registry) Append(rec Record) error {
	if rec.TrajectoryID == "" {
		return errors.New("registry: record missing trajectory_id")
	}
	if err := rec.Locator.Validate(); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[rec.TrajectoryID]; ok {
		return ErrDuplicate
	}
	if r.db != nil {
		_, err := r.db.Exec(`INSERT INTO trajectories
			(trajectory_id, seed_id, protocol, path, produced_by, round, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.TrajectoryID, rec.SeedID, rec.Locator.Protocol, rec.Locator.Path,
			rec.ProducedBy, rec.Round, rec.CreatedAt)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				// The in-memory index said this id was new, so a unique
				// violation means two appends raced past the serialization
				// guarantee. That invariant is load-bearing for the whole
				// ledger; refuse to continue on it.
				panic(fmt.Sprintf("registry: write conflict on %s: %v", rec.TrajectoryID, err))
			}
			return fmt.Errorf("failed to persist trajectory record: %w", err)
		}
	}
	r.index[rec.TrajectoryID] = len(r.records)
	r.records = append(r.records, rec)
	return nil
}

// Snapshot returns a point-in-time copy of the ledger in append order.
func (r *Registry) Snapshot() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Len reports the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Resolve returns the locator for a trajectory_id, if registered. The
// sampler uses this to turn a model frame reference into a concrete seed.
func (r *Registry) Resolve(trajectoryID string) (wire.Locator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, ok := r.index[trajectoryID]
	if !ok {
		return wire.Locator{}, false
	}
	return r.records[pos].Locator, true
}
