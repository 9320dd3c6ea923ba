package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GammaScalp/internal/domain/errs"
	"GammaScalp/internal/domain/models"
	"GammaScalp/pkg/cache"
)

func newStore(t *testing.T) cache.Service {
	t.Helper()
	c := cache.NewMemoryCache()
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func sampleTrade() *models.Trade {
	exit := time.Date(2024, 3, 4, 15, 10, 0, 0, time.UTC)
	reason := models.ExitTP2
	return &models.Trade{
		ID:          "SPY_20240304_100000_abc123",
		Symbol:      "SPY",
		Direction:   models.Short,
		Variant:     models.IFVGFlip,
		Status:      models.TradeClosed,
		EntryKey:    "SPY:call_wall:20240304T150000",
		EntryTime:   time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC),
		EntryPrice:  500,
		Stop:        500,
		TP1:         498.5,
		TP2:         495,
		TP1Taken:    true,
		Quantity:    5,
		InitialQty:  10,
		Partials:    []models.ExitLeg{{Quantity: 5, Price: 498.5, Reason: models.ExitTP1, PnL: 7.5, Time: exit}},
		ExitTime:    &exit,
		ExitPrice:   495,
		ExitReason:  &reason,
		FinalLegPnL: 25,
		TotalPnL:    32.5,
	}
}

func TestTradeRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewKVTradeRepository(newStore(t))
	tr := sampleTrade()
	require.NoError(t, repo.Save(ctx, tr))

	got, err := repo.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr.Direction, got.Direction)
	assert.Equal(t, tr.Status, got.Status)
	assert.Equal(t, *tr.ExitReason, *got.ExitReason)
	assert.True(t, tr.ExitTime.Equal(*got.ExitTime))
	assert.Equal(t, tr.Partials[0].Reason, got.Partials[0].Reason)
	assert.Equal(t, tr.TotalPnL, got.TotalPnL)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	many, err := repo.GetMany(ctx, []string{"missing", tr.ID})
	require.NoError(t, err)
	require.Len(t, many, 1)
	assert.Equal(t, tr.ID, many[0].ID)
}

func TestDailySaveWithTrade(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	daily := NewKVDailyRepository(store)
	trades := NewKVTradeRepository(store)

	_, err := daily.Load(ctx, "2024-03-04")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	d := models.NewDailyState("2024-03-04", 100000)
	d.TradeCount = 1
	d.TradeIDs = append(d.TradeIDs, "SPY_20240304_100000_abc123")
	require.NoError(t, daily.SaveWithTrade(ctx, d, sampleTrade()))

	got, err := daily.Load(ctx, "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, 1, got.TradeCount)
	assert.Equal(t, d.TradeIDs, got.TradeIDs)

	tr, err := trades.Get(ctx, "SPY_20240304_100000_abc123")
	require.NoError(t, err)
	assert.Equal(t, "SPY", tr.Symbol)
}

func TestPatternRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewKVPatternRepository(newStore(t))
	ps := []models.Pattern{
		{ID: "SPY-1-1", Symbol: "SPY", Seq: 1, Top: 101, Bottom: 100.5, Type: models.PatternBullish, Status: models.PatternMitigated, CreatedAt: time.Unix(1709564400, 0).UTC()},
		{ID: "SPY-2-2", Symbol: "SPY", Seq: 2, Top: 102, Bottom: 101.8, Type: models.PatternBearish, Status: models.PatternInverted, CreatedAt: time.Unix(1709564460, 0).UTC()},
	}
	require.NoError(t, repo.Save(ctx, "spy", ps))

	got, err := repo.Load(ctx, "SPY")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.PatternInverted, got[1].Status)
	assert.Equal(t, models.PatternBearish, got[1].Type)
	assert.Equal(t, uint64(2), got[1].Seq)
}

func TestLevelsSymbols(t *testing.T) {
	ctx := context.Background()
	repo := NewKVLevelsRepository(newStore(t))
	require.NoError(t, repo.Save(ctx, models.GammaLevels{Symbol: "qqq", CallWall: 450}))
	require.NoError(t, repo.Save(ctx, models.GammaLevels{Symbol: "SPY", PutWall: 500}))

	syms, err := repo.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"QQQ", "SPY"}, syms)

	l, err := repo.Load(ctx, "QQQ")
	require.NoError(t, err)
	assert.Equal(t, 450.0, l.CallWall)
}

func TestEventLogRange(t *testing.T) {
	ctx := context.Background()
	log := NewKVEventLog(newStore(t), func(at time.Time) string { return at.UTC().Format("2006-01-02") })
	at := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := models.NewEvent(models.EventSignal, "SPY", at.Add(time.Duration(i)*time.Minute), map[string]int{"n": i})
		require.NoError(t, log.Append(ctx, e))
	}

	all, err := log.Range(ctx, "2024-03-04", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	last, err := log.Range(ctx, "2024-03-04", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.True(t, last[1].Time.Equal(at.Add(4*time.Minute)))

	none, err := log.Range(ctx, "2024-03-05", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestInstanceLock(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	a, b := NewKVInstanceLock(store), NewKVInstanceLock(store)

	ok, err := a.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = b.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, a.Refresh(ctx, time.Minute))

	require.NoError(t, a.Release(ctx))
	ok, err = b.Acquire(ctx, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
