package models

import "time"

// Tick is one trade print from the live stream.
type Tick struct {
	Symbol string
	Price  float64
	Volume float64
	Time   time.Time
}
