package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus is the lifecycle state of a trade.
type TradeStatus uint8

const (
	TradePending TradeStatus = iota
	TradeOpen
	TradePartial
	TradeClosed
	TradeStoppedOut
)

var tradeStatusNames = []string{"pending", "open", "partial", "closed", "stopped_out"}

func (s TradeStatus) String() string { return enumName(tradeStatusNames, int(s)) }

func (s TradeStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *TradeStatus) UnmarshalText(b []byte) error {
	i, err := parseEnum("trade status", tradeStatusNames, b)
	if err != nil {
		return err
	}
	*s = TradeStatus(i)
	return nil
}

// IsActive reports open or partial.
func (s TradeStatus) IsActive() bool {
	switch s {
	case TradeOpen, TradePartial:
		return true
	case TradePending, TradeClosed, TradeStoppedOut:
		return false
	default:
		return false
	}
}

// IsTerminal reports closed or stopped out.
func (s TradeStatus) IsTerminal() bool {
	switch s {
	case TradeClosed, TradeStoppedOut:
		return true
	case TradePending, TradeOpen, TradePartial:
		return false
	default:
		return false
	}
}

// ExitReason explains a partial or terminal exit.
type ExitReason uint8

const (
	ExitStopLoss ExitReason = iota
	ExitTP1
	ExitTP2
	ExitTimeStop
	ExitQuick
	ExitEmergency
)

var exitReasonNames = []string{"stop_loss", "tp1", "tp2", "time_stop", "quick_exit", "emergency"}

func (r ExitReason) String() string { return enumName(exitReasonNames, int(r)) }

func (r ExitReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *ExitReason) UnmarshalText(b []byte) error {
	i, err := parseEnum("exit reason", exitReasonNames, b)
	if err != nil {
		return err
	}
	*r = ExitReason(i)
	return nil
}

// ExitLeg is one executed reduction of a position.
type ExitLeg struct {
	Quantity int        `json:"quantity"`
	Price    float64    `json:"price"`
	Reason   ExitReason `json:"reason"`
	PnL      float64    `json:"pnl"`
	Time     time.Time  `json:"time"`
}

// Trade is a position opened from an entry signal.
type Trade struct {
	ID           string      `json:"id"`
	Symbol       string      `json:"symbol"`
	Direction    Direction   `json:"direction"`
	Variant      Variant     `json:"variant"`
	Status       TradeStatus `json:"status"`
	EntryKey     string      `json:"entry_key"`
	EntryTime    time.Time   `json:"entry_time"`
	EntryPrice   float64     `json:"entry_price"`
	Stop         float64     `json:"stop"`
	OriginalStop float64     `json:"original_stop"`
	TP1          float64     `json:"tp1"`
	TP2          float64     `json:"tp2"`
	TP1Taken     bool        `json:"tp1_taken"`
	Quantity     int         `json:"quantity"`
	InitialQty   int         `json:"initial_quantity"`
	Partials     []ExitLeg   `json:"partials,omitempty"`
	ExitTime     *time.Time  `json:"exit_time,omitempty"`
	ExitPrice    float64     `json:"exit_price,omitempty"`
	ExitReason   *ExitReason `json:"exit_reason,omitempty"`
	FinalLegPnL  float64     `json:"final_leg_pnl,omitempty"`
	TotalPnL     float64     `json:"total_pnl"`
}

// LegPnL computes the signed P&L of closing qty at price.
func (t *Trade) LegPnL(price float64, qty int) float64 {
	move := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(t.EntryPrice))
	if t.Direction == Short {
		move = move.Neg()
	}
	v, _ := move.Mul(decimal.NewFromInt(int64(qty))).Float64()
	return v
}

// RealizedPnL sums the partial legs.
func (t *Trade) RealizedPnL() float64 {
	sum := decimal.Zero
	for _, p := range t.Partials {
		sum = sum.Add(decimal.NewFromFloat(p.PnL))
	}
	v, _ := sum.Float64()
	return v
}

// UnrealizedPnL of the remaining quantity at price.
func (t *Trade) UnrealizedPnL(price float64) float64 {
	if !t.Status.IsActive() {
		return 0
	}
	return t.LegPnL(price, t.Quantity)
}

// MovePct is the favorable move from entry to price as a fraction of entry.
func (t *Trade) MovePct(price float64) float64 {
	if t.EntryPrice <= 0 {
		return 0
	}
	return t.Direction.Sign() * (price - t.EntryPrice) / t.EntryPrice
}

// CapitalAtRisk is the loss if the current stop fills for the remaining quantity (0 at breakeven or better).
func (t *Trade) CapitalAtRisk() float64 {
	if !t.Status.IsActive() {
		return 0
	}
	loss := -t.LegPnL(t.Stop, t.Quantity)
	if loss < 0 {
		return 0
	}
	return loss
}

// PnLPercent of the notional at entry.
func (t *Trade) PnLPercent() float64 {
	notional := t.EntryPrice * float64(t.InitialQty)
	if notional <= 0 {
		return 0
	}
	return t.TotalPnL / notional * 100
}

// Clone returns a deep copy so a transition can be staged.
func (t *Trade) Clone() *Trade {
	c := *t
	c.Partials = append([]ExitLeg(nil), t.Partials...)
	if t.ExitTime != nil {
		et := *t.ExitTime
		c.ExitTime = &et
	}
	if t.ExitReason != nil {
		r := *t.ExitReason
		c.ExitReason = &r
	}
	return &c
}
