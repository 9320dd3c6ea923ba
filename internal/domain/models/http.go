package models

import "time"

// Requests and responses of the HTTP surface.

type TradesRequest struct {
	Date string `query:"date" json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type EventsRequest struct {
	Date  string `query:"date" json:"date" validate:"omitempty,datetime=2006-01-02"`
	Limit int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type LevelsRequest struct {
	Symbol string `param:"symbol" validate:"required,ticker"`
}

type EmergencyRequest struct {
	Reason string `json:"reason" default:"manual" validate:"required,max=200"`
}

// LockoutStatus is the lockout part of the status query.
type LockoutStatus struct {
	Locked bool   `json:"locked"`
	Reason string `json:"reason,omitempty"`
}

// StatusResponse is the status query.
type StatusResponse struct {
	Date            string          `json:"date"`
	Mode            string          `json:"mode"`
	Degraded        bool            `json:"degraded_store"`
	TradeCount      int             `json:"trade_count"`
	DailyPnL        float64         `json:"daily_pnl"`
	DailyPnLPercent float64         `json:"daily_pnl_percent"`
	Lockout         LockoutStatus   `json:"lockout"`
	Bias            string          `json:"bias"`
	BiasScore       int             `json:"bias_score"`
	OpenPositions   PositionSummary `json:"open_positions_summary"`
	CriticalEvents  []CriticalEvent `json:"critical_events,omitempty"`
}

// PositionSummary aggregates open exposure.
type PositionSummary struct {
	OpenCount     int            `json:"open_count"`
	LongExposure  float64        `json:"long_exposure"`
	ShortExposure float64        `json:"short_exposure"`
	NetExposure   float64        `json:"net_exposure"`
	CapitalAtRisk float64        `json:"capital_at_risk"`
	Positions     []PositionLine `json:"positions,omitempty"`
}

// PositionLine is one open trade in the summary.
type PositionLine struct {
	TradeID    string    `json:"trade_id"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Status     string    `json:"status"`
	Quantity   int       `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	Stop       float64   `json:"stop"`
	LastPrice  float64   `json:"last_price"`
	Unrealized float64   `json:"unrealized"`
	AtRisk     float64   `json:"at_risk"`
	EntryTime  time.Time `json:"entry_time"`
}

// LevelsResponse returns levels with their zones.
type LevelsResponse struct {
	Symbol    string    `json:"symbol"`
	NetGEX    float64   `json:"net_gex"`
	UpdatedAt time.Time `json:"updated_at"`
	Zones     []Zone    `json:"zones"`
	Active    *Zone     `json:"active,omitempty"`
	LastPrice float64   `json:"last_price,omitempty"`
}
