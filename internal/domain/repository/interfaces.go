package repository

import (
	"context"
	"time"

	"GammaScalp/internal/domain/models"
)

// MarketStream is a live trade print source.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Tick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// TradeRepository persists trade records (TTL 7 days).
type TradeRepository interface {
	Save(ctx context.Context, t *models.Trade) error
	Get(ctx context.Context, id string) (*models.Trade, error)
	GetMany(ctx context.Context, ids []string) ([]*models.Trade, error)
}

// DailyStateRepository persists the daily risk budget (TTL 7 days).
type DailyStateRepository interface {
	Load(ctx context.Context, date string) (*models.DailyState, error)
	Save(ctx context.Context, d *models.DailyState) error
	// SaveWithTrade writes the trade and the updated daily state as one unit.
	SaveWithTrade(ctx context.Context, d *models.DailyState, t *models.Trade) error
}

// PatternRepository persists a symbol's pattern book (TTL hours).
type PatternRepository interface {
	Save(ctx context.Context, symbol string, patterns []models.Pattern) error
	Load(ctx context.Context, symbol string) ([]models.Pattern, error)
}

// LevelsRepository persists gamma level snapshots (TTL hours).
type LevelsRepository interface {
	Save(ctx context.Context, l models.GammaLevels) error
	Load(ctx context.Context, symbol string) (models.GammaLevels, error)
	Symbols(ctx context.Context) ([]string, error)
}

// BiasRepository persists the daily bias snapshot.
type BiasRepository interface {
	Save(ctx context.Context, b models.MarketBias) error
	Load(ctx context.Context, date string) (models.MarketBias, error)
}

// EventLog keeps the day's event stream in the store.
type EventLog interface {
	Append(ctx context.Context, e models.Event) error
	Range(ctx context.Context, date string, limit int) ([]models.Event, error)
}

// EventPublisher ships events to the external stream.
type EventPublisher interface {
	Publish(ctx context.Context, e models.Event) error
	Close() error
}

// Journal is the analytical record of signals and closed trades.
type Journal interface {
	RecordSignal(ctx context.Context, s models.EntrySignal, accepted bool, reason string) error
	RecordTrade(ctx context.Context, t *models.Trade) error
	Close() error
}

// CandleHistory keeps closed candles for warm-up after a restart.
type CandleHistory interface {
	RecordCandles(ctx context.Context, candles []models.Candle) error
	LatestCandles(ctx context.Context, symbol string, n int) ([]models.Candle, error)
}

// InstanceLock guards the single engine writer across processes.
type InstanceLock interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Metrics records engine telemetry.
type Metrics interface {
	RecordTick(symbol string, seconds float64)
	RecordPattern(symbol, event string)
	RecordSignal(symbol, variant string, accepted bool)
	RecordTradeOpened(symbol, direction string)
	RecordTradeClosed(symbol, reason string, pnl float64)
	RecordDailyState(pnl float64, trades int, locked bool)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
