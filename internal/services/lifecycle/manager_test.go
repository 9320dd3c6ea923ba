package lifecycle

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GammaScalp/internal/domain/errs"
	"GammaScalp/internal/domain/models"
	"GammaScalp/internal/services/risk"
)

type memRepo struct {
	days   map[string]*models.DailyState
	trades map[string]*models.Trade
	fail   error
}

func newMemRepo() *memRepo {
	return &memRepo{days: map[string]*models.DailyState{}, trades: map[string]*models.Trade{}}
}

func (r *memRepo) Load(_ context.Context, date string) (*models.DailyState, error) {
	d, ok := r.days[date]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return d.Clone(), nil
}

func (r *memRepo) Save(_ context.Context, d *models.DailyState) error {
	if r.fail != nil {
		return r.fail
	}
	r.days[d.Date] = d.Clone()
	return nil
}

func (r *memRepo) SaveWithTrade(_ context.Context, d *models.DailyState, t *models.Trade) error {
	if r.fail != nil {
		return r.fail
	}
	r.days[d.Date] = d.Clone()
	r.trades[t.ID] = t.Clone()
	return nil
}

func (r *memRepo) Get(_ context.Context, id string) (*models.Trade, error) {
	t, ok := r.trades[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return t.Clone(), nil
}

func (r *memRepo) GetMany(ctx context.Context, ids []string) ([]*models.Trade, error) {
	var out []*models.Trade
	for _, id := range ids {
		if t, err := r.Get(ctx, id); err == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memRepo) SaveTrade(_ context.Context, t *models.Trade) error {
	r.trades[t.ID] = t.Clone()
	return nil
}

type tradeRepo struct{ *memRepo }

func (r tradeRepo) Save(ctx context.Context, t *models.Trade) error { return r.SaveTrade(ctx, t) }

type fakeBroker struct {
	price float64
	err   error
	calls []models.Side
}

func (b *fakeBroker) Name() string { return "fake" }

func (b *fakeBroker) PlaceMarketOrder(_ context.Context, _ string, _ int, side models.Side) (float64, error) {
	b.calls = append(b.calls, side)
	return b.price, b.err
}

type recorder struct{ events []models.Event }

func (r *recorder) Publish(_ context.Context, e models.Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) types() []models.EventType {
	out := make([]models.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

var t0 = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

type fixture struct {
	repo   *memRepo
	gate   *risk.Gate
	events *recorder
	m      *Manager
}

func newFixture(t *testing.T, broker *fakeBroker, opts ...Option) *fixture {
	t.Helper()
	repo := newMemRepo()
	gate := risk.New(repo, nil, func(at time.Time) string { return at.UTC().Format("2006-01-02") }, risk.WithMaxTrades(10), risk.WithMaxConsecutiveLosses(5))
	gate.SetClock(func() time.Time { return t0 })
	events := &recorder{}
	var m *Manager
	var err error
	if broker != nil {
		m, err = New(gate, tradeRepo{repo}, broker, events, nil, nil, opts...)
	} else {
		m, err = New(gate, tradeRepo{repo}, nil, events, nil, nil, opts...)
	}
	require.NoError(t, err)
	return &fixture{repo: repo, gate: gate, events: events, m: m}
}

func longSignal() models.EntrySignal {
	return models.EntrySignal{
		Symbol:     "SPY",
		Direction:  models.Long,
		Variant:    models.SweepReclaim,
		Entry:      500,
		Stop:       499,
		TP1:        501.5,
		TP2:        505,
		Level:      models.Level{Kind: models.PutWall, Price: 499.5},
		CandleTime: t0,
	}
}

func assertPnLInvariant(t *testing.T, tr models.Trade) {
	t.Helper()
	sum := 0.0
	for _, p := range tr.Partials {
		sum += p.PnL
	}
	assert.InDelta(t, sum+tr.FinalLegPnL, tr.TotalPnL, 1e-9)
}

func TestOpenPaperTrade(t *testing.T) {
	f := newFixture(t, nil)
	tr, err := f.m.Open(context.Background(), longSignal(), 50, t0)
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^SPY_20240304_150000_[0-9a-f]{6}$`), tr.ID)
	assert.Equal(t, models.TradeOpen, tr.Status)
	assert.Equal(t, 500.0, tr.EntryPrice)
	assert.Equal(t, 50, tr.Quantity)
	assert.Equal(t, 1, f.gate.Snapshot().TradeCount)
	assert.Contains(t, f.repo.trades, tr.ID)
	assert.Equal(t, []models.EventType{models.EventTradeOpened}, f.events.types())

	_, err = f.m.Open(context.Background(), longSignal(), 50, t0)
	assert.ErrorIs(t, err, errs.ErrDuplicate)
	assert.Equal(t, 1, f.gate.Snapshot().TradeCount)
}

func TestPartialThenTP2(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tr, err := f.m.Open(ctx, longSignal(), 50, t0)
	require.NoError(t, err)

	// above both targets: only the tp1 partial fires this tick
	out, err := f.m.Evaluate(ctx, "SPY", 505.5, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, ActionPartial, out[0].Action)
	p := out[0].Trade
	assert.Equal(t, models.TradePartial, p.Status)
	assert.Equal(t, 25, p.Quantity)
	assert.Equal(t, 500.0, p.Stop, "stop moves to breakeven")
	require.Len(t, p.Partials, 1)
	assert.InDelta(t, 5.5*25, p.Partials[0].PnL, 1e-9)

	out, err = f.m.Evaluate(ctx, "SPY", 505, t0.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, out, 1)
	c := out[0].Trade
	assert.Equal(t, models.TradeClosed, c.Status)
	assert.Equal(t, models.ExitTP2, *c.ExitReason)
	assert.InDelta(t, 5.0*25, c.FinalLegPnL, 1e-9)
	assert.InDelta(t, 137.5+125, c.TotalPnL, 1e-9)
	assertPnLInvariant(t, c)
	assert.Empty(t, f.m.Active())
	assert.InDelta(t, 262.5, f.gate.Snapshot().DailyPnL, 1e-9)

	saved := f.repo.trades[tr.ID]
	assert.Equal(t, models.TradeClosed, saved.Status)
}

func TestStopLossAfterPartialIsBreakeven(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.m.Open(ctx, longSignal(), 10, t0)
	require.NoError(t, err)

	_, err = f.m.Evaluate(ctx, "SPY", 501.5, t0.Add(time.Minute))
	require.NoError(t, err)
	out, err := f.m.Evaluate(ctx, "SPY", 500, t0.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, out, 1)
	c := out[0].Trade
	assert.Equal(t, models.TradeStoppedOut, c.Status)
	assert.InDelta(t, 0, c.FinalLegPnL, 1e-9)
	assert.InDelta(t, 7.5, c.TotalPnL, 1e-9)
	assertPnLInvariant(t, c)
}

func TestStopLossFull(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.m.Open(ctx, longSignal(), 50, t0)
	require.NoError(t, err)

	out, err := f.m.Evaluate(ctx, "SPY", 498.9, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, models.ExitStopLoss, out[0].Reason)
	assert.InDelta(t, -55, out[0].Trade.TotalPnL, 1e-9)
	assert.Equal(t, 1, f.gate.Snapshot().ConsecutiveLosses)
}

func TestTimeStopAndQuickExit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.m.Open(ctx, longSignal(), 10, t0)
	require.NoError(t, err)

	out, err := f.m.Evaluate(ctx, "SPY", 500.2, t0.Add(29*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, out)
	out, err = f.m.Evaluate(ctx, "SPY", 500.2, t0.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, models.ExitTimeStop, out[0].Reason)

	g := newFixture(t, nil)
	sig := longSignal()
	_, err = g.m.Open(ctx, sig, 10, t0)
	require.NoError(t, err)
	out, err = g.m.Evaluate(ctx, "SPY", 499.2, t0.Add(9*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, out)
	out, err = g.m.Evaluate(ctx, "SPY", 499.2, t0.Add(12*time.Minute))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, models.ExitQuick, out[0].Reason)
}

func TestSingleShareSkipsPartial(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.m.Open(ctx, longSignal(), 1, t0)
	require.NoError(t, err)

	out, err := f.m.Evaluate(ctx, "SPY", 501.6, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, out, 1)
	tr := out[0].Trade
	assert.Equal(t, 1, tr.Quantity)
	assert.Empty(t, tr.Partials)
	assert.True(t, tr.TP1Taken)
	assert.Equal(t, 500.0, tr.Stop)
}

func TestShortPnLSign(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sig := models.EntrySignal{Symbol: "QQQ", Direction: models.Short, Entry: 500, Stop: 501, TP1: 498.5, CandleTime: t0}
	_, err := f.m.Open(ctx, sig, 10, t0)
	require.NoError(t, err)

	out, err := f.m.Evaluate(ctx, "QQQ", 501.2, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, -12, out[0].Trade.TotalPnL, 1e-9)
}

func TestLiveBrokerFailureAbortsEntry(t *testing.T) {
	broker := &fakeBroker{err: errors.New("timeout")}
	f := newFixture(t, broker, WithMode(ModeLive))

	_, err := f.m.Open(context.Background(), longSignal(), 10, t0)
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
	assert.Empty(t, f.m.Active())
	assert.Equal(t, 0, f.gate.Snapshot().TradeCount)
	assert.Empty(t, f.repo.trades)
}

func TestLiveFillPriceUsed(t *testing.T) {
	broker := &fakeBroker{price: 500.05}
	f := newFixture(t, broker, WithMode(ModeLive))

	tr, err := f.m.Open(context.Background(), longSignal(), 10, t0)
	require.NoError(t, err)
	assert.Equal(t, 500.05, tr.EntryPrice)
	assert.Equal(t, []models.Side{models.Buy}, broker.calls)
}

func TestPersistFailureLeavesNoTrade(t *testing.T) {
	broker := &fakeBroker{price: 500}
	f := newFixture(t, broker, WithMode(ModeLive))
	f.repo.fail = errors.New("store down")

	_, err := f.m.Open(context.Background(), longSignal(), 10, t0)
	require.Error(t, err)
	assert.True(t, errs.IsConsistency(err))
	assert.Empty(t, f.m.Active())
	// the fill was flattened
	assert.Equal(t, []models.Side{models.Buy, models.Sell}, broker.calls)
}

func TestLiveExitRetriedWithoutSecondOrder(t *testing.T) {
	broker := &fakeBroker{price: 500}
	f := newFixture(t, broker, WithMode(ModeLive))
	ctx := context.Background()
	_, err := f.m.Open(ctx, longSignal(), 10, t0)
	require.NoError(t, err)

	broker.price = 498.9
	f.repo.fail = errors.New("store down")
	_, err = f.m.Evaluate(ctx, "SPY", 498.9, t0.Add(time.Minute))
	require.Error(t, err)
	assert.Len(t, broker.calls, 2)

	f.repo.fail = nil
	out, err := f.m.Evaluate(ctx, "SPY", 498.5, t0.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, models.ExitStopLoss, out[0].Reason)
	assert.Equal(t, 498.9, out[0].Trade.ExitPrice)
	assert.Len(t, broker.calls, 2, "no second exit order")
}

func TestEmergencyCloseFlattensAll(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.m.Open(ctx, longSignal(), 10, t0)
	require.NoError(t, err)
	short := models.EntrySignal{Symbol: "QQQ", Direction: models.Short, Entry: 400, Stop: 400.8, TP1: 398.8, CandleTime: t0}
	_, err = f.m.Open(ctx, short, 5, t0)
	require.NoError(t, err)

	_, err = f.m.Evaluate(ctx, "SPY", 500.4, t0.Add(time.Minute))
	require.NoError(t, err)

	out, err := f.m.EmergencyClose(ctx, "volatility spike", t0.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, o := range out {
		assert.Equal(t, models.ExitEmergency, o.Reason)
		assertPnLInvariant(t, o.Trade)
	}
	assert.Empty(t, f.m.Active())
	assert.InDelta(t, 4, f.gate.Snapshot().DailyPnL, 1e-9)
}

func TestPositionsSummary(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.m.Open(ctx, longSignal(), 10, t0)
	require.NoError(t, err)
	short := models.EntrySignal{Symbol: "QQQ", Direction: models.Short, Entry: 400, Stop: 400.8, TP1: 398.8, CandleTime: t0}
	_, err = f.m.Open(ctx, short, 5, t0)
	require.NoError(t, err)

	s := f.m.Positions()
	assert.Equal(t, 2, s.OpenCount)
	assert.InDelta(t, 5000, s.LongExposure, 1e-9)
	assert.InDelta(t, 2000, s.ShortExposure, 1e-9)
	assert.InDelta(t, 3000, s.NetExposure, 1e-9)
	assert.InDelta(t, 10+4, s.CapitalAtRisk, 1e-9)
}

func TestRestoreActiveTrades(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tr, err := f.m.Open(ctx, longSignal(), 10, t0)
	require.NoError(t, err)

	m2, err := New(f.gate, tradeRepo{f.repo}, nil, nil, nil, nil)
	require.NoError(t, err)
	n, err := m2.Restore(ctx, f.gate.Snapshot().TradeIDs)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, tr.ID, m2.Active()[0].ID)
}
