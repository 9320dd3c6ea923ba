package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"GammaScalp/internal/domain/errs"
	"GammaScalp/internal/domain/models"
	domrepo "GammaScalp/internal/domain/repository"
	"GammaScalp/internal/services/lifecycle"
	"GammaScalp/internal/services/risk"
)

// StatusUseCase answers the read side of the HTTP surface.
type StatusUseCase struct {
	gate     *risk.Gate
	trades   *lifecycle.Manager
	bias     BiasSource
	monitor  *EmergencyMonitor
	levels   *LevelsBook
	tradeDB  domrepo.TradeRepository
	dailyDB  domrepo.DailyStateRepository
	eventLog domrepo.EventLog
	date     func(time.Time) string
	degraded bool
	now      func() time.Time
}

func NewStatusUseCase(
	gate *risk.Gate,
	trades *lifecycle.Manager,
	bias BiasSource,
	monitor *EmergencyMonitor,
	levels *LevelsBook,
	tradeDB domrepo.TradeRepository,
	dailyDB domrepo.DailyStateRepository,
	eventLog domrepo.EventLog,
	date func(time.Time) string,
	degraded bool,
) *StatusUseCase {
	return &StatusUseCase{
		gate:     gate,
		trades:   trades,
		bias:     bias,
		monitor:  monitor,
		levels:   levels,
		tradeDB:  tradeDB,
		dailyDB:  dailyDB,
		eventLog: eventLog,
		date:     date,
		degraded: degraded,
		now:      time.Now,
	}
}

// Status summarises today's budget, bias, positions and critical events.
func (uc *StatusUseCase) Status() models.StatusResponse {
	d := uc.gate.Snapshot()
	b := uc.bias.Current(d.Date)
	resp := models.StatusResponse{
		Date:            d.Date,
		Mode:            uc.trades.Mode(),
		Degraded:        uc.degraded,
		TradeCount:      d.TradeCount,
		DailyPnL:        d.DailyPnL,
		DailyPnLPercent: d.DailyPnLPercent,
		Lockout:         models.LockoutStatus{Locked: d.Locked, Reason: d.LockReason},
		Bias:            b.Direction.String(),
		BiasScore:       b.Score,
		OpenPositions:   uc.trades.Positions(),
	}
	if uc.monitor != nil {
		resp.CriticalEvents = uc.monitor.Critical(d.Date)
	}
	return resp
}

// Positions is the exposure summary of the open trades.
func (uc *StatusUseCase) Positions() models.PositionSummary {
	return uc.trades.Positions()
}

// Trades returns the trades of date (today when empty) in entry order.
func (uc *StatusUseCase) Trades(ctx context.Context, date string) ([]*models.Trade, error) {
	today := uc.gate.Snapshot()
	ids := today.TradeIDs
	if date != "" && date != today.Date {
		d, err := uc.dailyDB.Load(ctx, date)
		if errors.Is(err, errs.ErrNotFound) {
			return []*models.Trade{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load daily state %s: %w", date, err)
		}
		ids = d.TradeIDs
	}
	if len(ids) == 0 {
		return []*models.Trade{}, nil
	}
	trades, err := uc.tradeDB.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	return trades, nil
}

// Events returns the last limit events of date (today when empty).
func (uc *StatusUseCase) Events(ctx context.Context, date string, limit int) ([]models.Event, error) {
	if date == "" {
		date = uc.date(uc.now())
	}
	return uc.eventLog.Range(ctx, date, limit)
}

// Levels returns a symbol's levels and zones at the last traded price.
func (uc *StatusUseCase) Levels(symbol string) (models.LevelsResponse, error) {
	return uc.levels.View(symbol, uc.trades.LastPrice(symbol))
}

// Emergency raises a manual critical event.
func (uc *StatusUseCase) Emergency(ctx context.Context, reason string) (models.StatusResponse, error) {
	err := uc.monitor.Trigger(ctx, ReasonManual, reason)
	return uc.Status(), err
}
