package models

import "time"

// Bias is the daily directional permission.
type Bias uint8

const (
	BiasNoTrade Bias = iota
	BiasBullish
	BiasBearish
	BiasNeutral
)

var biasNames = []string{"no_trade", "bullish", "bearish", "neutral"}

func (b Bias) String() string { return enumName(biasNames, int(b)) }

func (b Bias) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *Bias) UnmarshalText(text []byte) error {
	i, err := parseEnum("bias", biasNames, text)
	if err != nil {
		return err
	}
	*b = Bias(i)
	return nil
}

// Allows reports whether a setup in direction d may emit under this bias.
// Neutral permits both sides.
func (b Bias) Allows(d Direction) bool {
	switch b {
	case BiasNoTrade:
		return false
	case BiasNeutral:
		return true
	case BiasBullish:
		return d == Long
	case BiasBearish:
		return d == Short
	default:
		return false
	}
}

// MarketBias is the bias snapshot with its inputs.
type MarketBias struct {
	Date      string    `json:"date"`
	Score     int       `json:"score"`
	Direction Bias      `json:"direction"`
	Rationale string    `json:"rationale,omitempty"`
	VIX       float64   `json:"vix"`
	AboveMA20 bool      `json:"above_ma20"`
	MacroDay  bool      `json:"macro_day"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BiasInput is what the bias engine scores.
type BiasInput struct {
	Headlines []string `json:"headlines"`
	Price     float64  `json:"price" validate:"gt=0"`
	MA20      float64  `json:"ma20" validate:"gt=0"`
	VIX       float64  `json:"vix" validate:"gte=0"`
}
