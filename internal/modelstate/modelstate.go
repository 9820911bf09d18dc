// Package modelstate holds the most recently ingested model result. The
// current result is replaced atomically on each modeling completion;
// superseded results are kept only as audit rows in sqlite, never consulted
// for sampling.
package modelstate

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/msmaccel/accelerd/internal/wire"
)

// State holds the current model result. Last write wins; there is no merge.
type State struct {
	mu      sync.RWMutex
	current *wire.ModelResult
	db      *sql.DB
}

// New creates an empty state with no current model.
func New() *State {
	return &State{}
}

// NewWithDB creates a state that records every accepted result in the
// models audit table.
func NewWithDB(db *sql.DB) *State {
	return &State{db: db}
}

// Set replaces the current result. The stored copy is private to the State;
// later mutation of result by the caller does not affect it.
func (s *State) Set(result wire.ModelResult, round int, submittedBy string) error {
	if s.db != nil {
		_, err := s.db.Exec(`INSERT OR IGNORE INTO models (model_id, state_count, round, submitted_by)
			VALUES (?, ?, ?, ?)`,
			result.ModelID, result.StateCount, round, submittedBy)
		if err != nil {
			return fmt.Errorf("failed to record model: %w", err)
		}
	}
	cp := cloneResult(result)
	s.mu.Lock()
	s.current = &cp
	s.mu.Unlock()
	return nil
}

// Current returns the current result, or nil before the first model
// completes. The returned pointer refers to an immutable snapshot.
func (s *State) Current() *wire.ModelResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func cloneResult(r wire.ModelResult) wire.ModelResult {
	cp := r
	cp.Populations = append([]float64(nil), r.Populations...)
	cp.StateFrames = make([][]wire.FrameRef, len(r.StateFrames))
	for i, frames := range r.StateFrames {
		cp.StateFrames[i] = append([]wire.FrameRef(nil), frames...)
	}
	return cp
}
