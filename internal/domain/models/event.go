package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType names an engine event on the event stream.
type EventType string

const (
	EventPatternDetected EventType = "pattern.detected"
	EventPatternChanged  EventType = "pattern.changed"
	EventSignal          EventType = "signal.emitted"
	EventSignalRejected  EventType = "signal.rejected"
	EventTradeOpened     EventType = "trade.opened"
	EventTradePartial    EventType = "trade.partial"
	EventStopMoved       EventType = "trade.stop_moved"
	EventTradeClosed     EventType = "trade.closed"
	EventLockout         EventType = "risk.lockout"
	EventCritical        EventType = "risk.critical"
	EventBias            EventType = "bias.updated"
	EventLevels          EventType = "levels.updated"
)

// Event is one record on the trade/signal event stream.
type Event struct {
	ID      string      `json:"id"`
	Type    EventType   `json:"type"`
	Symbol  string      `json:"symbol,omitempty"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload,omitempty"`
}

// CriticalEvent is a surfaced emergency condition.
type CriticalEvent struct {
	Reason string    `json:"reason"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// NewEvent stamps a new event with a random id.
func NewEvent(t EventType, symbol string, at time.Time, payload interface{}) Event {
	return Event{ID: uuid.NewString(), Type: t, Symbol: symbol, Time: at, Payload: payload}
}
