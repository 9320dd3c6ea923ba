package signal

import "GammaScalp/internal/domain/models"

// Tracker holds the sweep records of one symbol, keyed by level kind.
// It is owned by the symbol's worker and is not safe for concurrent use.
type Tracker struct {
	Symbol string
	sweeps map[models.LevelKind]*models.SweepRecord
}

func NewTracker(symbol string) *Tracker {
	return &Tracker{Symbol: symbol, sweeps: make(map[models.LevelKind]*models.SweepRecord)}
}

// State returns the sweep state for a level.
func (t *Tracker) State(kind models.LevelKind) models.SweepState {
	if _, ok := t.sweeps[kind]; ok {
		return models.SweepSwept
	}
	return models.SweepNone
}

// Sweeps returns the active records in level precedence order.
func (t *Tracker) Sweeps() []models.SweepRecord {
	out := make([]models.SweepRecord, 0, len(t.sweeps))
	for _, k := range []models.LevelKind{models.PutWall, models.CallWall, models.ZeroGamma} {
		if r, ok := t.sweeps[k]; ok {
			out = append(out, *r)
		}
	}
	return out
}

// Clear drops every sweep record.
func (t *Tracker) Clear() {
	for k := range t.sweeps {
		delete(t.sweeps, k)
	}
}

// Clone copies the tracker so an evaluation can be staged.
func (t *Tracker) Clone() *Tracker {
	c := NewTracker(t.Symbol)
	for k, r := range t.sweeps {
		rec := *r
		c.sweeps[k] = &rec
	}
	return c
}
