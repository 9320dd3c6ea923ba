package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyState is the cross-symbol risk budget of one trading date.
type DailyState struct {
	Date              string    `json:"date"`
	StartEquity       float64   `json:"start_equity"`
	TradeCount        int       `json:"trade_count"`
	ConsecutiveLosses int       `json:"consecutive_losses"`
	DailyPnL          float64   `json:"daily_pnl"`
	DailyPnLPercent   float64   `json:"daily_pnl_percent"`
	Locked            bool      `json:"locked"`
	LockReason        string    `json:"lock_reason,omitempty"`
	LockedAt          time.Time `json:"locked_at,omitempty"`
	TradeIDs          []string  `json:"trade_ids"`
	EntryKeys         []string  `json:"entry_keys"`
	ClosedIDs         []string  `json:"closed_ids"`
	Seq               int64     `json:"seq"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NewDailyState returns a fresh state for date.
func NewDailyState(date string, equity float64) *DailyState {
	return &DailyState{
		Date:        date,
		StartEquity: equity,
		TradeIDs:    []string{},
		EntryKeys:   []string{},
		ClosedIDs:   []string{},
	}
}

// Clone deep-copies the state so callers can stage changes before persisting.
func (d *DailyState) Clone() *DailyState {
	c := *d
	c.TradeIDs = append([]string(nil), d.TradeIDs...)
	c.EntryKeys = append([]string(nil), d.EntryKeys...)
	c.ClosedIDs = append([]string(nil), d.ClosedIDs...)
	return &c
}

// AddPnL accumulates pnl and refreshes the percentage of start equity.
func (d *DailyState) AddPnL(pnl float64) {
	total := decimal.NewFromFloat(d.DailyPnL).Add(decimal.NewFromFloat(pnl))
	d.DailyPnL, _ = total.Float64()
	if d.StartEquity > 0 {
		d.DailyPnLPercent, _ = total.Div(decimal.NewFromFloat(d.StartEquity)).Mul(decimal.NewFromInt(100)).Float64()
	}
}

// HasEntry reports whether an entry key was already applied.
func (d *DailyState) HasEntry(key string) bool { return contains(d.EntryKeys, key) }

// HasClosed reports whether a trade close was already applied.
func (d *DailyState) HasClosed(id string) bool { return contains(d.ClosedIDs, id) }

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
