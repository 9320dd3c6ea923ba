package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"GammaScalp/internal/domain/models"
	domrepo "GammaScalp/internal/domain/repository"
	applogger "GammaScalp/pkg/logger"
)

// JournalSchema returns the idempotent DDL of the journal tables.
func JournalSchema(database string) []string {
	return []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.signals (
            ts DateTime64(3, 'UTC'),
            candle_ts DateTime64(3, 'UTC'),
            symbol LowCardinality(String),
            direction LowCardinality(String),
            variant LowCardinality(String),
            level LowCardinality(String),
            level_price Float64,
            entry Float64,
            stop Float64,
            tp1 Float64,
            tp2 Float64,
            confidence LowCardinality(String),
            accepted UInt8,
            reason String
        ) ENGINE = MergeTree ORDER BY (symbol, candle_ts)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.trades (
            id String,
            symbol LowCardinality(String),
            direction LowCardinality(String),
            variant LowCardinality(String),
            status LowCardinality(String),
            entry_ts DateTime64(3, 'UTC'),
            exit_ts DateTime64(3, 'UTC'),
            entry_price Float64,
            exit_price Float64,
            initial_qty UInt32,
            exit_reason LowCardinality(String),
            partial_pnl Float64,
            final_leg_pnl Float64,
            total_pnl Float64,
            pnl_pct Float64
        ) ENGINE = ReplacingMergeTree ORDER BY (id)`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.candles_1m (
            bucket DateTime('UTC'),
            symbol LowCardinality(String),
            open Float64,
            high Float64,
            low Float64,
            close Float64,
            vol Float64
        ) ENGINE = ReplacingMergeTree ORDER BY (symbol, bucket)`, database),
	}
}

// ClickHouseJournal records emitted signals, closed trades and closed
// candles for analysis, and serves candle history for warm-up.
type ClickHouseJournal struct {
	db       *sql.DB
	database string
	l        *applogger.Logger
}

func NewClickHouseJournal(db *sql.DB, database string, l *applogger.Logger) *ClickHouseJournal {
	if l == nil {
		l = applogger.Nop()
	}
	return &ClickHouseJournal{db: db, database: database, l: l}
}

func (j *ClickHouseJournal) RecordSignal(ctx context.Context, s models.EntrySignal, accepted bool, reason string) error {
	q := fmt.Sprintf(`INSERT INTO %s.signals (ts, candle_ts, symbol, direction, variant, level, level_price, entry, stop, tp1, tp2, confidence, accepted, reason) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, j.database)
	if _, err := j.db.ExecContext(ctx, q, signalRow(s, accepted, reason, time.Now().UTC())...); err != nil {
		j.l.Error("clickhouse record_signal error", applogger.Symbol(s.Symbol), applogger.Error(err))
		return fmt.Errorf("record signal: %w", err)
	}
	return nil
}

func (j *ClickHouseJournal) RecordTrade(ctx context.Context, t *models.Trade) error {
	if !t.Status.IsTerminal() {
		return nil
	}
	q := fmt.Sprintf(`INSERT INTO %s.trades (id, symbol, direction, variant, status, entry_ts, exit_ts, entry_price, exit_price, initial_qty, exit_reason, partial_pnl, final_leg_pnl, total_pnl, pnl_pct) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, j.database)
	if _, err := j.db.ExecContext(ctx, q, tradeRow(t)...); err != nil {
		j.l.Error("clickhouse record_trade error", applogger.String("trade_id", t.ID), applogger.Error(err))
		return fmt.Errorf("record trade: %w", err)
	}
	return nil
}

// RecordCandles batch inserts closed candles in chunks.
func (j *ClickHouseJournal) RecordCandles(ctx context.Context, candles []models.Candle) error {
	const chunkSize = 2000
	for start := 0; start < len(candles); start += chunkSize {
		end := start + chunkSize
		if end > len(candles) {
			end = len(candles)
		}
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*7)
		for _, c := range candles[start:end] {
			values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, c.Timestamp.UTC(), c.Symbol, c.Open, c.High, c.Low, c.Close, c.Volume)
		}
		q := fmt.Sprintf("INSERT INTO %s.candles_1m (bucket, symbol, open, high, low, close, vol) VALUES %s", j.database, strings.Join(values, ","))
		if _, err := j.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("record candles: %w", err)
		}
	}
	return nil
}

// LatestCandles returns the last n candles of symbol, oldest first.
func (j *ClickHouseJournal) LatestCandles(ctx context.Context, symbol string, n int) ([]models.Candle, error) {
	start := time.Now()
	q := fmt.Sprintf(`
        SELECT bucket, symbol, open, high, low, close, vol
        FROM %s.candles_1m FINAL
        WHERE symbol = ?
        ORDER BY bucket DESC
        LIMIT ?`, j.database)
	rows, err := j.db.QueryContext(ctx, q, symbol, n)
	if err != nil {
		return nil, fmt.Errorf("latest candles: %w", err)
	}
	defer rows.Close()

	out := make([]models.Candle, 0, n)
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	j.l.Debug("clickhouse latest_candles ok",
		applogger.Symbol(symbol),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration", time.Since(start)))
	return out, nil
}

// Handle journals signal decisions and closed trades from the event bus.
func (j *ClickHouseJournal) Handle(ctx context.Context, e models.Event) error {
	switch p := e.Payload.(type) {
	case *models.Trade:
		return j.RecordTrade(ctx, p)
	case *models.SignalDecision:
		return j.RecordSignal(ctx, p.Signal, p.Accepted, p.Reason)
	default:
		return nil
	}
}

// Close is a no-op; the pool belongs to the clickhouse client.
func (j *ClickHouseJournal) Close() error { return nil }

func signalRow(s models.EntrySignal, accepted bool, reason string, at time.Time) []interface{} {
	var acc uint8
	if accepted {
		acc = 1
	}
	return []interface{}{
		at, s.CandleTime.UTC(), s.Symbol, s.Direction.String(), s.Variant.String(),
		s.Level.Kind.String(), s.Level.Price, s.Entry, s.Stop, s.TP1, s.TP2,
		s.Confidence.String(), acc, reason,
	}
}

func tradeRow(t *models.Trade) []interface{} {
	var exitTS time.Time
	if t.ExitTime != nil {
		exitTS = t.ExitTime.UTC()
	}
	reason := ""
	if t.ExitReason != nil {
		reason = t.ExitReason.String()
	}
	return []interface{}{
		t.ID, t.Symbol, t.Direction.String(), t.Variant.String(), t.Status.String(),
		t.EntryTime.UTC(), exitTS, t.EntryPrice, t.ExitPrice, uint32(t.InitialQty), reason,
		t.RealizedPnL(), t.FinalLegPnL, t.TotalPnL, t.PnLPercent(),
	}
}

var (
	_ domrepo.Journal       = (*ClickHouseJournal)(nil)
	_ domrepo.CandleHistory = (*ClickHouseJournal)(nil)
)
