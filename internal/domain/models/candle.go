package models

import (
	"fmt"
	"time"
)

// Candle is one OHLCV bar of a symbol at the feed cadence.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"t"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
}

// IsBullish reports a close above the open.
func (c Candle) IsBullish() bool { return c.Close > c.Open }

// IsBearish reports a close below the open.
func (c Candle) IsBearish() bool { return c.Close < c.Open }

// BodyPct is the absolute body size as a fraction of the open.
func (c Candle) BodyPct() float64 {
	if c.Open <= 0 {
		return 0
	}
	body := c.Close - c.Open
	if body < 0 {
		body = -body
	}
	return body / c.Open
}

// Validate rejects bars that cannot be processed.
func (c Candle) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("candle: symbol empty")
	}
	if c.Timestamp.IsZero() {
		return fmt.Errorf("candle: timestamp missing")
	}
	if c.Low <= 0 || c.High < c.Low {
		return fmt.Errorf("candle: invalid range low=%v high=%v", c.Low, c.High)
	}
	if c.Open < c.Low || c.Open > c.High || c.Close < c.Low || c.Close > c.High {
		return fmt.Errorf("candle: open/close outside range")
	}
	if c.Volume < 0 {
		return fmt.Errorf("candle: negative volume")
	}
	return nil
}
