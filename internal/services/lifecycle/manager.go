// Package lifecycle executes entries and manages exits of open trades.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"GammaScalp/internal/domain/errs"
	"GammaScalp/internal/domain/models"
	"GammaScalp/internal/domain/repository"
	"GammaScalp/internal/domain/service"
	"GammaScalp/internal/services/risk"
	"GammaScalp/pkg/logger"
	pkgmetrics "GammaScalp/pkg/metrics"
)

// Budget is the daily risk owner the manager writes through.
type Budget interface {
	HasEntry(key string) bool
	CommitEntry(ctx context.Context, t *models.Trade) (models.DailyState, error)
	Persist(ctx context.Context, t *models.Trade) error
	OnTradeClosed(ctx context.Context, t *models.Trade) (risk.CloseResult, error)
}

// Action is what an evaluation did to a trade.
type Action uint8

const (
	ActionPartial Action = iota + 1
	ActionClosed
)

// Outcome is one applied exit.
type Outcome struct {
	Action Action
	Trade  models.Trade
	Reason models.ExitReason
	Locked bool // the close locked trading for the day
}

// Manager owns the open trades. Work on one symbol is serialized by a
// per-symbol lock so symbols proceed in parallel.
type Manager struct {
	cfg     Config
	budget  Budget
	trades  repository.TradeRepository
	broker  service.Broker
	events  repository.EventPublisher
	metrics repository.Metrics
	lgr     *logger.Logger

	mu      sync.RWMutex
	open    map[string]*models.Trade
	last    map[string]float64
	locks   map[string]*sync.Mutex
	pending map[string]*models.Trade // filled at the broker, not yet persisted
}

// New creates a manager. broker may be nil in paper mode.
func New(
	budget Budget,
	trades repository.TradeRepository,
	broker service.Broker,
	events repository.EventPublisher,
	metrics repository.Metrics,
	lgr *logger.Logger,
	opts ...Option,
) (*Manager, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Mode == ModeLive && broker == nil {
		return nil, fmt.Errorf("lifecycle: live mode needs a broker")
	}
	if cfg.Mode != ModeLive && cfg.Mode != ModePaper {
		return nil, fmt.Errorf("lifecycle: unknown mode %q", cfg.Mode)
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	return &Manager{
		cfg:     cfg,
		budget:  budget,
		trades:  trades,
		broker:  broker,
		events:  events,
		metrics: metrics,
		lgr:     lgr.With(logger.String("component", "lifecycle")),
		open:    make(map[string]*models.Trade),
		last:    make(map[string]float64),
		locks:   make(map[string]*sync.Mutex),
		pending: make(map[string]*models.Trade),
	}, nil
}

func (m *Manager) Mode() string { return m.cfg.Mode }

func (m *Manager) symbolLock(symbol string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lk, ok := m.locks[symbol]
	if !ok {
		lk = &sync.Mutex{}
		m.locks[symbol] = lk
	}
	return lk
}

// Restore reloads the active trades among ids, typically today's trade ids.
func (m *Manager) Restore(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	trades, err := m.trades.GetMany(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("restore trades: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range trades {
		if t.Status.IsActive() && t.Quantity > 0 {
			m.open[t.ID] = t
			n++
		}
	}
	return n, nil
}

// Open executes an entry for a vetted, sized signal. Nothing is recorded if
// the fill or the combined trade+budget write fails.
func (m *Manager) Open(ctx context.Context, sig models.EntrySignal, qty int, at time.Time) (*models.Trade, error) {
	if qty < 1 {
		return nil, errs.Validation("quantity", "must be at least 1, got %d", qty)
	}
	lk := m.symbolLock(sig.Symbol)
	lk.Lock()
	defer lk.Unlock()

	key := sig.Key()
	if m.budget.HasEntry(key) {
		return nil, errs.ErrDuplicate
	}

	t := &models.Trade{
		ID:           m.newID(sig.Symbol, at),
		Symbol:       sig.Symbol,
		Direction:    sig.Direction,
		Variant:      sig.Variant,
		Status:       models.TradePending,
		EntryKey:     key,
		EntryTime:    at,
		Stop:         sig.Stop,
		OriginalStop: sig.Stop,
		TP1:          sig.TP1,
		TP2:          sig.TP2,
		Quantity:     qty,
		InitialQty:   qty,
	}

	fill, err := m.fill(ctx, sig.Symbol, qty, sig.Direction.Side(), sig.Entry)
	if err != nil {
		m.metrics.RecordError("broker")
		return nil, fmt.Errorf("entry fill: %w", err)
	}
	t.EntryPrice = fill
	t.Status = models.TradeOpen

	if _, err := m.budget.CommitEntry(ctx, t); err != nil {
		if m.cfg.Mode == ModeLive {
			m.unwind(ctx, t)
		}
		return nil, fmt.Errorf("commit entry: %w", err)
	}

	m.mu.Lock()
	m.open[t.ID] = t
	m.last[t.Symbol] = fill
	m.mu.Unlock()

	m.metrics.RecordTradeOpened(t.Symbol, t.Direction.String())
	m.lgr.Info("trade opened",
		logger.String("trade_id", t.ID),
		logger.Symbol(t.Symbol),
		logger.String("direction", t.Direction.String()),
		logger.String("variant", t.Variant.String()),
		logger.Int("qty", qty),
		logger.Float64("entry", fill),
		logger.Float64("stop", t.Stop),
		logger.Float64("tp1", t.TP1),
		logger.Float64("tp2", t.TP2))
	m.publish(ctx, models.EventTradeOpened, t.Symbol, at, t.Clone())
	return t.Clone(), nil
}

// unwind flattens a live fill whose entry could not be recorded.
func (m *Manager) unwind(ctx context.Context, t *models.Trade) {
	side := models.Sell
	if t.Direction == models.Short {
		side = models.Buy
	}
	if _, err := m.fill(ctx, t.Symbol, t.Quantity, side, t.EntryPrice); err != nil {
		m.lgr.Error("unwind of unrecorded entry failed",
			logger.Symbol(t.Symbol),
			logger.Int("qty", t.Quantity),
			logger.Error(err))
	}
}

// Evaluate runs the exit rules for every active trade on symbol at price.
// Rule order: stop, tp1 partial, tp2, time-stop, quick-exit. Only the
// first matching rule fires per trade per call.
func (m *Manager) Evaluate(ctx context.Context, symbol string, price float64, at time.Time) ([]Outcome, error) {
	lk := m.symbolLock(symbol)
	lk.Lock()
	defer lk.Unlock()

	m.mu.Lock()
	m.last[symbol] = price
	m.mu.Unlock()

	var (
		outcomes []Outcome
		failures []error
	)
	outcomes = append(outcomes, m.flushPending(ctx, symbol)...)

	for _, t := range m.activeFor(symbol) {
		plan := m.decide(t, price, at)
		if plan.action == 0 {
			continue
		}
		out, err := m.execute(ctx, t, plan, price, at)
		if err != nil {
			failures = append(failures, fmt.Errorf("trade %s: %w", t.ID, err))
			continue
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, errors.Join(failures...)
}

type exitPlan struct {
	action Action
	reason models.ExitReason
	qty    int
}

func (m *Manager) decide(t *models.Trade, price float64, at time.Time) exitPlan {
	long := t.Direction == models.Long
	reached := func(target float64) bool {
		if target <= 0 {
			return false
		}
		if long {
			return price >= target
		}
		return price <= target
	}

	switch {
	case (long && price <= t.Stop) || (!long && price >= t.Stop):
		return exitPlan{action: ActionClosed, reason: models.ExitStopLoss, qty: t.Quantity}
	case !t.TP1Taken && reached(t.TP1):
		return exitPlan{action: ActionPartial, reason: models.ExitTP1, qty: m.partialQty(t.Quantity)}
	case reached(t.TP2):
		return exitPlan{action: ActionClosed, reason: models.ExitTP2, qty: t.Quantity}
	}

	elapsed := at.Sub(t.EntryTime)
	move := t.MovePct(price)
	switch {
	case m.cfg.TimeStop > 0 && elapsed >= m.cfg.TimeStop && move < m.cfg.TimeStopMinGain:
		return exitPlan{action: ActionClosed, reason: models.ExitTimeStop, qty: t.Quantity}
	case m.cfg.QuickExit > 0 && elapsed >= m.cfg.QuickExit && move < -m.cfg.QuickExitLoss:
		return exitPlan{action: ActionClosed, reason: models.ExitQuick, qty: t.Quantity}
	}
	return exitPlan{}
}

// partialQty is PartialFraction of qty, at least one share, leaving at
// least one. Zero means the position is too small to split.
func (m *Manager) partialQty(qty int) int {
	q := int(math.Floor(float64(qty) * m.cfg.PartialFraction))
	if q < 1 {
		q = 1
	}
	if qty-q < 1 {
		q = qty - 1
	}
	if q < 0 {
		q = 0
	}
	return q
}

func (m *Manager) execute(ctx context.Context, t *models.Trade, plan exitPlan, price float64, at time.Time) (Outcome, error) {
	if plan.action == ActionPartial {
		return m.takePartial(ctx, t, plan.qty, price, at)
	}
	return m.close(ctx, t, plan.reason, price, at)
}

func (m *Manager) takePartial(ctx context.Context, t *models.Trade, qty int, price float64, at time.Time) (Outcome, error) {
	next := t.Clone()
	if qty > 0 {
		fill, err := m.fill(ctx, t.Symbol, qty, exitSide(t.Direction), price)
		if err != nil {
			m.metrics.RecordError("broker")
			return Outcome{}, err
		}
		next.Partials = append(next.Partials, models.ExitLeg{
			Quantity: qty,
			Price:    fill,
			Reason:   models.ExitTP1,
			PnL:      next.LegPnL(fill, qty),
			Time:     at,
		})
		next.Quantity -= qty
	}
	next.TP1Taken = true
	next.Status = models.TradePartial
	next.Stop = next.EntryPrice

	if err := m.budget.Persist(ctx, next); err != nil {
		if qty > 0 && m.cfg.Mode == ModeLive {
			m.stage(next)
		}
		return Outcome{}, err
	}
	m.swap(next)

	m.lgr.Info("tp1 partial taken",
		logger.String("trade_id", next.ID),
		logger.Int("qty", qty),
		logger.Int("remaining", next.Quantity),
		logger.Float64("price", price))
	m.publish(ctx, models.EventTradePartial, next.Symbol, at, next.Clone())
	m.publish(ctx, models.EventStopMoved, next.Symbol, at, map[string]interface{}{
		"trade_id": next.ID, "from": t.Stop, "to": next.Stop,
	})
	return Outcome{Action: ActionPartial, Trade: *next.Clone(), Reason: models.ExitTP1}, nil
}

func (m *Manager) close(ctx context.Context, t *models.Trade, reason models.ExitReason, price float64, at time.Time) (Outcome, error) {
	fill, err := m.fill(ctx, t.Symbol, t.Quantity, exitSide(t.Direction), price)
	if err != nil {
		m.metrics.RecordError("broker")
		return Outcome{}, err
	}

	next := t.Clone()
	finalLeg := next.LegPnL(fill, next.Quantity)
	total := decimal.NewFromFloat(next.RealizedPnL()).Add(decimal.NewFromFloat(finalLeg))
	exitTime := at
	next.FinalLegPnL = finalLeg
	next.TotalPnL, _ = total.Float64()
	next.ExitTime = &exitTime
	next.ExitPrice = fill
	next.ExitReason = &reason
	next.Status = models.TradeClosed
	if reason == models.ExitStopLoss {
		next.Status = models.TradeStoppedOut
	}

	return m.commitClose(ctx, next)
}

func (m *Manager) commitClose(ctx context.Context, next *models.Trade) (Outcome, error) {
	res, err := m.budget.OnTradeClosed(ctx, next)
	duplicate := errors.Is(err, errs.ErrDuplicate)
	if err != nil && !duplicate {
		if m.cfg.Mode == ModeLive {
			m.stage(next)
		}
		return Outcome{}, err
	}

	m.mu.Lock()
	delete(m.open, next.ID)
	delete(m.pending, next.ID)
	m.mu.Unlock()

	at := *next.ExitTime
	m.metrics.RecordTradeClosed(next.Symbol, next.ExitReason.String(), next.TotalPnL)
	if !duplicate {
		m.metrics.RecordDailyState(res.Daily.DailyPnL, res.Daily.TradeCount, res.Daily.Locked)
	}
	m.lgr.Info("trade closed",
		logger.String("trade_id", next.ID),
		logger.Symbol(next.Symbol),
		logger.String("reason", next.ExitReason.String()),
		logger.Float64("exit", next.ExitPrice),
		logger.Float64("pnl", next.TotalPnL))
	m.publish(ctx, models.EventTradeClosed, next.Symbol, at, next.Clone())
	if res.NewlyLocked {
		m.publish(ctx, models.EventLockout, "", at, map[string]interface{}{
			"reason": res.Daily.LockReason, "daily_pnl": res.Daily.DailyPnL,
		})
	}
	return Outcome{Action: ActionClosed, Trade: *next.Clone(), Reason: *next.ExitReason, Locked: res.NewlyLocked}, nil
}

// stage keeps a broker-filled transition whose write failed so it is
// retried without placing the order again.
func (m *Manager) stage(next *models.Trade) {
	m.mu.Lock()
	m.pending[next.ID] = next
	m.mu.Unlock()
	m.lgr.Error("exit filled but not persisted, will retry", logger.String("trade_id", next.ID))
}

func (m *Manager) flushPending(ctx context.Context, symbol string) []Outcome {
	m.mu.RLock()
	var staged []*models.Trade
	for _, t := range m.pending {
		if t.Symbol == symbol {
			staged = append(staged, t)
		}
	}
	m.mu.RUnlock()

	var out []Outcome
	for _, t := range staged {
		if t.Status.IsTerminal() {
			if o, err := m.commitClose(ctx, t); err == nil {
				out = append(out, o)
			}
			continue
		}
		if err := m.budget.Persist(ctx, t); err == nil {
			m.swap(t)
			m.mu.Lock()
			delete(m.pending, t.ID)
			m.mu.Unlock()
			out = append(out, Outcome{Action: ActionPartial, Trade: *t.Clone(), Reason: models.ExitTP1})
		}
	}
	return out
}

// EmergencyClose force-exits every active trade at its symbol's last known
// price (entry price when none is known).
func (m *Manager) EmergencyClose(ctx context.Context, reason string, at time.Time) ([]Outcome, error) {
	m.mu.RLock()
	symbols := make(map[string]struct{})
	for _, t := range m.open {
		symbols[t.Symbol] = struct{}{}
	}
	m.mu.RUnlock()

	m.lgr.Warn("emergency close", logger.String("reason", reason), logger.Int("symbols", len(symbols)))

	var (
		outcomes []Outcome
		failures []error
	)
	for _, sym := range sortedKeys(symbols) {
		lk := m.symbolLock(sym)
		lk.Lock()
		for _, t := range m.activeFor(sym) {
			price := m.LastPrice(sym)
			if price <= 0 {
				price = t.EntryPrice
			}
			out, err := m.close(ctx, t, models.ExitEmergency, price, at)
			if err != nil {
				failures = append(failures, fmt.Errorf("trade %s: %w", t.ID, err))
				continue
			}
			outcomes = append(outcomes, out)
		}
		lk.Unlock()
	}
	return outcomes, errors.Join(failures...)
}

// LastPrice is the last price seen for symbol, 0 when unknown.
func (m *Manager) LastPrice(symbol string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last[symbol]
}

// Active returns copies of the active trades ordered by entry time.
func (m *Manager) Active() []models.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Trade, 0, len(m.open))
	for _, t := range m.open {
		out = append(out, *t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out
}

// Positions aggregates exposure and capital at risk over active trades.
func (m *Manager) Positions() models.PositionSummary {
	var s models.PositionSummary
	for _, t := range m.Active() {
		last := m.LastPrice(t.Symbol)
		if last <= 0 {
			last = t.EntryPrice
		}
		notional := last * float64(t.Quantity)
		if t.Direction == models.Long {
			s.LongExposure += notional
		} else {
			s.ShortExposure += notional
		}
		atRisk := t.CapitalAtRisk()
		s.CapitalAtRisk += atRisk
		s.Positions = append(s.Positions, models.PositionLine{
			TradeID:    t.ID,
			Symbol:     t.Symbol,
			Direction:  t.Direction,
			Status:     t.Status.String(),
			Quantity:   t.Quantity,
			EntryPrice: t.EntryPrice,
			Stop:       t.Stop,
			LastPrice:  last,
			Unrealized: t.UnrealizedPnL(last),
			AtRisk:     atRisk,
			EntryTime:  t.EntryTime,
		})
	}
	s.OpenCount = len(s.Positions)
	s.NetExposure = s.LongExposure - s.ShortExposure
	return s
}

func (m *Manager) activeFor(symbol string) []*models.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Trade
	for _, t := range m.open {
		if t.Symbol != symbol || !t.Status.IsActive() {
			continue
		}
		if _, staged := m.pending[t.ID]; staged {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out
}

func (m *Manager) swap(t *models.Trade) {
	m.mu.Lock()
	m.open[t.ID] = t
	m.mu.Unlock()
}

// fill returns the execution price: the reference price in paper mode, the
// broker's fill in live mode.
func (m *Manager) fill(ctx context.Context, symbol string, qty int, side models.Side, ref float64) (float64, error) {
	if m.cfg.Mode != ModeLive {
		return ref, nil
	}
	cctx, cancel := context.WithTimeout(ctx, m.cfg.BrokerTimeout)
	defer cancel()
	price, err := m.broker.PlaceMarketOrder(cctx, symbol, qty, side)
	if err != nil {
		return 0, errs.Transient(m.broker.Name(), err)
	}
	if price <= 0 {
		return 0, errs.Transient(m.broker.Name(), fmt.Errorf("invalid fill price %v", price))
	}
	return price, nil
}

func (m *Manager) publish(ctx context.Context, t models.EventType, symbol string, at time.Time, payload interface{}) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(ctx, models.NewEvent(t, symbol, at, payload)); err != nil {
		m.lgr.Warn("publish event failed", logger.String("type", string(t)), logger.Error(err))
	}
}

func (m *Manager) newID(symbol string, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("%s_%s_%s", symbol, at.In(m.cfg.Location).Format("20060102_150405"), suffix)
}

func exitSide(d models.Direction) models.Side {
	if d == models.Long {
		return models.Sell
	}
	return models.Buy
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
