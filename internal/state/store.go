// Package state owns the canonical portfolio snapshot: open positions,
// closed-position history and risk counters. All mutations flow through a
// Store; no other component keeps a writable copy across ticks.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/sawpanic/equityrun/internal/domain"
)

// ErrCorruptState marks a persisted snapshot that exists but cannot be
// decoded. This is fatal at startup: the engine must not boot on guessed
// state.
var ErrCorruptState = errors.New("corrupt persisted state")

const snapshotVersion = 1

// Snapshot is the single persisted document. It is fully self-describing:
// the whole portfolio can be reconstructed from it after a crash.
type Snapshot struct {
	Version   int       `json:"version"`
	LastSaved time.Time `json:"last_saved"`

	Positions    map[string]domain.Position `json:"positions"` // symbol -> OPEN position
	Closed       []domain.Position          `json:"closed_positions"`
	Risk         *domain.RiskState          `json:"risk"`
	SeenInputIDs []string                   `json:"seen_input_ids"`
}

// NewSnapshot returns an empty snapshot with the given capital base.
func NewSnapshot(capitalUSD float64) *Snapshot {
	return &Snapshot{
		Version:   snapshotVersion,
		Positions: make(map[string]domain.Position),
		Risk:      domain.NewRiskState(capitalUSD),
	}
}

// normalize fills nil maps after decoding so callers never nil-check.
func (s *Snapshot) normalize(capitalUSD float64) {
	if s.Positions == nil {
		s.Positions = make(map[string]domain.Position)
	}
	if s.Risk == nil {
		s.Risk = domain.NewRiskState(capitalUSD)
	}
	if s.Risk.DailyPnL == nil {
		s.Risk.DailyPnL = make(map[string]float64)
	}
	if s.Risk.MonthlyPnL == nil {
		s.Risk.MonthlyPnL = make(map[string]float64)
	}
	if s.Risk.CapitalUSD == 0 {
		s.Risk.CapitalUSD = capitalUSD
	}
}

// Store is the durable medium behind the snapshot.
type Store interface {
	// Load restores the snapshot, or returns an empty one if none was
	// persisted yet. A snapshot that exists but cannot be decoded returns
	// ErrCorruptState.
	Load(ctx context.Context) (*Snapshot, error)
	// Save persists the snapshot atomically.
	Save(ctx context.Context, snap *Snapshot) error
}
