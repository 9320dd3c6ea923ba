package models

import "time"

// Direction of a setup or position.
type Direction uint8

const (
	Long Direction = iota
	Short
)

var directionNames = []string{"long", "short"}

func (d Direction) String() string { return enumName(directionNames, int(d)) }

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(b []byte) error {
	i, err := parseEnum("direction", directionNames, b)
	if err != nil {
		return err
	}
	*d = Direction(i)
	return nil
}

// Sign is +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	switch d {
	case Long:
		return 1
	case Short:
		return -1
	default:
		panic("direction: invalid")
	}
}

// Side is the order side that opens a position in this direction.
func (d Direction) Side() Side {
	switch d {
	case Long:
		return Buy
	case Short:
		return Sell
	default:
		panic("direction: invalid")
	}
}

// Side of a market order.
type Side uint8

const (
	Buy Side = iota
	Sell
)

var sideNames = []string{"buy", "sell"}

func (s Side) String() string { return enumName(sideNames, int(s)) }

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	i, err := parseEnum("side", sideNames, b)
	if err != nil {
		return err
	}
	*s = Side(i)
	return nil
}

// Variant is the confirmation path that produced a signal.
type Variant uint8

const (
	SweepReclaim Variant = iota
	IFVGFlip
)

var variantNames = []string{"sweep_reclaim", "ifvg_flip"}

func (v Variant) String() string { return enumName(variantNames, int(v)) }

func (v Variant) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *Variant) UnmarshalText(b []byte) error {
	i, err := parseEnum("variant", variantNames, b)
	if err != nil {
		return err
	}
	*v = Variant(i)
	return nil
}

// Confidence of a signal.
type Confidence uint8

const (
	ConfidenceNormal Confidence = iota
	ConfidenceHigh
)

var confidenceNames = []string{"normal", "high"}

func (c Confidence) String() string { return enumName(confidenceNames, int(c)) }

func (c Confidence) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Confidence) UnmarshalText(b []byte) error {
	i, err := parseEnum("confidence", confidenceNames, b)
	if err != nil {
		return err
	}
	*c = Confidence(i)
	return nil
}

// SweepState is the per (symbol, level) confirmation state.
type SweepState uint8

const (
	SweepNone SweepState = iota
	SweepSwept
	SweepConfirmed
)

var sweepStateNames = []string{"none", "swept", "confirmed"}

func (s SweepState) String() string { return enumName(sweepStateNames, int(s)) }

// SweepRecord holds a zone penetration for one (symbol, level).
type SweepRecord struct {
	Symbol    string    `json:"symbol"`
	Level     Level     `json:"level"`
	Direction Direction `json:"direction"`
	Extreme   float64   `json:"extreme"`
	At        time.Time `json:"at"`
}

// EntrySignal is the ephemeral output of the signal engine.
type EntrySignal struct {
	Symbol     string     `json:"symbol"`
	Direction  Direction  `json:"direction"`
	Variant    Variant    `json:"variant"`
	Entry      float64    `json:"entry"`
	Stop       float64    `json:"stop"`
	TP1        float64    `json:"tp1"`
	TP2        float64    `json:"tp2"`
	Confidence Confidence `json:"confidence"`
	Level      Level      `json:"level"`
	PatternID  string     `json:"pattern_id,omitempty"`
	CandleTime time.Time  `json:"candle_time"`
}

// Key identifies the signal for entry idempotency.
func (s EntrySignal) Key() string {
	return s.Symbol + ":" + s.Level.Kind.String() + ":" + s.CandleTime.UTC().Format("20060102T150405")
}

// RiskPct is |entry-stop|/entry.
func (s EntrySignal) RiskPct() float64 {
	if s.Entry <= 0 {
		return 0
	}
	d := s.Entry - s.Stop
	if d < 0 {
		d = -d
	}
	return d / s.Entry
}

// SignalDecision is a signal together with the risk gate's verdict.
type SignalDecision struct {
	Signal   EntrySignal `json:"signal"`
	Accepted bool        `json:"accepted"`
	Reason   string      `json:"reason,omitempty"`
	Quantity int         `json:"quantity,omitempty"`
	TradeID  string      `json:"trade_id,omitempty"`
}
