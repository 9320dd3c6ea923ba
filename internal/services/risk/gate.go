// Package risk owns the cross-symbol daily risk budget.
package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"GammaScalp/internal/domain/errs"
	"GammaScalp/internal/domain/models"
	"GammaScalp/internal/domain/repository"
	"GammaScalp/pkg/logger"
)

// Reasons returned by CanTrade and stored as lock reasons.
const (
	ReasonMaxTrades         = "max trades"
	ReasonConsecutiveLosses = "consecutive losses"
	ReasonDailyLoss         = "daily loss limit"
)

// CloseResult is the daily state after a close plus whether it locked.
type CloseResult struct {
	Daily       models.DailyState
	NewlyLocked bool
}

// Gate is the single owner of the DailyState. Every mutation is staged on a
// copy, persisted, and only then made visible.
type Gate struct {
	mu    sync.Mutex
	cfg   Config
	repo  repository.DailyStateRepository
	lgr   *logger.Logger
	date  func(time.Time) string
	now   func() time.Time
	state *models.DailyState
}

// New builds a gate. date maps an instant to its trading date key.
func New(repo repository.DailyStateRepository, lgr *logger.Logger, date func(time.Time) string, opts ...Option) *Gate {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &Gate{cfg: cfg, repo: repo, lgr: lgr, date: date, now: time.Now}
}

// SetClock replaces time.Now.
func (g *Gate) SetClock(now func() time.Time) {
	g.mu.Lock()
	g.now = now
	g.mu.Unlock()
}

func (g *Gate) Config() Config { return g.cfg }

// Load restores today's state from the store, or starts a fresh one.
func (g *Gate) Load(ctx context.Context) (models.DailyState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	date := g.date(g.now())
	d, err := g.repo.Load(ctx, date)
	switch {
	case err == nil:
		g.state = d
		g.lgr.Info("daily state restored",
			logger.String("date", date),
			logger.Int("trades", d.TradeCount),
			logger.Float64("pnl", d.DailyPnL),
			logger.Bool("locked", d.Locked))
	case errors.Is(err, errs.ErrNotFound):
		g.state = models.NewDailyState(date, g.cfg.Equity)
	default:
		return models.DailyState{}, fmt.Errorf("load daily state: %w", err)
	}
	return *g.state.Clone(), nil
}

// current returns today's state, rolling over on a date change.
// Caller holds g.mu.
func (g *Gate) current() *models.DailyState {
	date := g.date(g.now())
	if g.state == nil {
		g.state = models.NewDailyState(date, g.cfg.Equity)
	} else if g.state.Date != date {
		equity := g.state.StartEquity + g.state.DailyPnL
		g.lgr.Info("daily state rollover",
			logger.String("from", g.state.Date),
			logger.String("to", date),
			logger.Float64("equity", equity))
		g.state = models.NewDailyState(date, equity)
	}
	return g.state
}

// Snapshot returns a copy of today's state.
func (g *Gate) Snapshot() models.DailyState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *g.current().Clone()
}

// Equity is start-of-day equity plus realized pnl.
func (g *Gate) Equity() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.current()
	return d.StartEquity + d.DailyPnL
}

// CanTrade checks, in order: lockout, trade count, consecutive losses,
// daily loss. The first failing check's reason is returned.
func (g *Gate) CanTrade() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.evaluate(g.current())
}

func (g *Gate) evaluate(d *models.DailyState) (bool, string) {
	if d.Locked {
		return false, d.LockReason
	}
	if d.TradeCount >= g.cfg.MaxTradesPerDay {
		return false, ReasonMaxTrades
	}
	if d.ConsecutiveLosses >= g.cfg.MaxConsecutiveLosses {
		return false, ReasonConsecutiveLosses
	}
	if g.dailyLossHit(d) {
		return false, ReasonDailyLoss
	}
	return true, ""
}

func (g *Gate) dailyLossHit(d *models.DailyState) bool {
	budget := d.StartEquity * g.cfg.MaxDailyLossPct
	return d.DailyPnL < 0 && math.Abs(d.DailyPnL) >= budget
}

// ValidateSignal rejects signals whose stop distance exceeds the per-trade
// cap or whose stop/tp1 sit on the wrong side of entry.
func (g *Gate) ValidateSignal(s models.EntrySignal) error {
	if s.Entry <= 0 {
		return errs.Validation("entry", "must be positive, got %v", s.Entry)
	}
	switch s.Direction {
	case models.Long:
		if s.Stop >= s.Entry {
			return errs.Validation("stop", "long stop %v not below entry %v", s.Stop, s.Entry)
		}
		if s.TP1 <= s.Entry {
			return errs.Validation("tp1", "long tp1 %v not above entry %v", s.TP1, s.Entry)
		}
	case models.Short:
		if s.Stop <= s.Entry {
			return errs.Validation("stop", "short stop %v not above entry %v", s.Stop, s.Entry)
		}
		if s.TP1 >= s.Entry {
			return errs.Validation("tp1", "short tp1 %v not below entry %v", s.TP1, s.Entry)
		}
	default:
		return errs.Validation("direction", "unknown direction %d", s.Direction)
	}
	// small epsilon: a stop clamped to exactly the cap must pass
	if risk := s.RiskPct(); risk > g.cfg.MaxStopPct+1e-12 {
		return errs.Validation("stop", "risk %.4f%% exceeds cap %.4f%%", risk*100, g.cfg.MaxStopPct*100)
	}
	return nil
}

// SizePosition returns floor(min(risk dollars / risk per share,
// account fraction * equity / entry)), never below 1.
func (g *Gate) SizePosition(s models.EntrySignal, equity float64) int {
	return SizePosition(s, equity, g.cfg.PerTradeRiskPct, g.cfg.MaxAccountFraction)
}

// SizePosition is the pure sizing rule.
func SizePosition(s models.EntrySignal, equity, perTradeRisk, accountFraction float64) int {
	if s.Entry <= 0 || equity <= 0 {
		return 1
	}
	riskPerShare := math.Abs(s.Entry - s.Stop)
	maxByAccount := accountFraction * equity / s.Entry
	size := maxByAccount
	if riskPerShare > 0 {
		size = math.Min(equity*perTradeRisk/riskPerShare, maxByAccount)
	}
	shares := int(math.Floor(size + 1e-9))
	if shares < 1 {
		shares = 1
	}
	return shares
}

// HasEntry reports whether an entry key was already committed today.
func (g *Gate) HasEntry(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current().HasEntry(key)
}

// CommitEntry counts the trade against today's budget and persists the
// trade together with the daily state. Nothing changes if the write fails.
// A replayed entry key returns errs.ErrDuplicate.
func (g *Gate) CommitEntry(ctx context.Context, t *models.Trade) (models.DailyState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := g.current()
	if t.EntryKey != "" && cur.HasEntry(t.EntryKey) {
		return *cur.Clone(), errs.ErrDuplicate
	}
	if ok, reason := g.evaluate(cur); !ok {
		return *cur.Clone(), fmt.Errorf("%w: %s", errs.ErrLocked, reason)
	}

	next := cur.Clone()
	next.TradeCount++
	next.TradeIDs = append(next.TradeIDs, t.ID)
	if t.EntryKey != "" {
		next.EntryKeys = append(next.EntryKeys, t.EntryKey)
	}
	next.Seq++
	next.UpdatedAt = g.now()

	if err := g.repo.SaveWithTrade(ctx, next, t); err != nil {
		return *cur.Clone(), errs.Consistency("commit entry", err)
	}
	g.state = next
	return *next.Clone(), nil
}

// Persist writes a trade change that does not touch the budget (partial
// exits, stop moves) through the same owner so writes stay ordered.
func (g *Gate) Persist(ctx context.Context, t *models.Trade) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := g.current()
	next := cur.Clone()
	next.Seq++
	next.UpdatedAt = g.now()
	if err := g.repo.SaveWithTrade(ctx, next, t); err != nil {
		return errs.Consistency("persist trade", err)
	}
	g.state = next
	return nil
}

// OnTradeClosed applies a terminal trade: pnl first, then the loss streak,
// then the lockout conditions. A trade already applied returns ErrDuplicate.
func (g *Gate) OnTradeClosed(ctx context.Context, t *models.Trade) (CloseResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := g.current()
	if cur.HasClosed(t.ID) {
		return CloseResult{Daily: *cur.Clone()}, errs.ErrDuplicate
	}

	next := cur.Clone()
	next.AddPnL(t.TotalPnL)
	switch {
	case t.TotalPnL < 0:
		next.ConsecutiveLosses++
	case t.TotalPnL > 0:
		next.ConsecutiveLosses = 0
	}
	next.ClosedIDs = append(next.ClosedIDs, t.ID)

	wasLocked := next.Locked
	if !next.Locked {
		switch {
		case next.ConsecutiveLosses >= g.cfg.MaxConsecutiveLosses:
			g.lock(next, ReasonConsecutiveLosses)
		case g.dailyLossHit(next):
			g.lock(next, ReasonDailyLoss)
		}
	}
	next.Seq++
	next.UpdatedAt = g.now()

	if err := g.repo.SaveWithTrade(ctx, next, t); err != nil {
		return CloseResult{Daily: *cur.Clone()}, errs.Consistency("trade closed", err)
	}
	g.state = next

	if next.Locked && !wasLocked {
		g.lgr.Warn("trading locked",
			logger.String("reason", next.LockReason),
			logger.Float64("daily_pnl", next.DailyPnL),
			logger.Int("consecutive_losses", next.ConsecutiveLosses))
	}
	return CloseResult{Daily: *next.Clone(), NewlyLocked: next.Locked && !wasLocked}, nil
}

// Lockout sets the sticky lock for the rest of the day. It reports whether
// the lock is new. The in-memory lock is kept even if persisting fails so a
// critical event can never be lost; the error is still returned.
func (g *Gate) Lockout(ctx context.Context, reason string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := g.current()
	if cur.Locked {
		return false, nil
	}
	next := cur.Clone()
	g.lock(next, reason)
	next.Seq++
	next.UpdatedAt = g.now()
	g.state = next

	g.lgr.Warn("trading locked", logger.String("reason", reason))
	if err := g.repo.Save(ctx, next); err != nil {
		return true, errs.Consistency("lockout", err)
	}
	return true, nil
}

func (g *Gate) lock(d *models.DailyState, reason string) {
	d.Locked = true
	d.LockReason = reason
	d.LockedAt = g.now()
}
