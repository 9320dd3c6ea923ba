package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GammaScalp/internal/domain/errs"
	"GammaScalp/internal/domain/models"
	"GammaScalp/internal/repository"
	"GammaScalp/pkg/cache"
)

func TestEngineSweepReclaimOpensTrade(t *testing.T) {
	f := newFixture(t, models.BiasNeutral)
	f.setLevels(t)

	rep := f.step(t, bar("SPY", 0, 501, 501.2, 499.5, 500.2))
	assert.Nil(t, rep.Decision)

	rep = f.step(t, bar("SPY", 1, 500.3, 501.5, 500.2, 501.2))
	require.NotNil(t, rep.Decision)
	assert.True(t, rep.Decision.Accepted)
	assert.Positive(t, rep.Decision.Quantity)
	assert.NotEmpty(t, rep.Decision.TradeID)

	active := f.trades.Active()
	require.Len(t, active, 1)
	assert.Equal(t, models.Long, active[0].Direction)
	assert.Equal(t, 501.2, active[0].EntryPrice)
	assert.Equal(t, t0.Add(time.Minute), active[0].EntryTime)

	snap := f.gate.Snapshot()
	assert.Equal(t, 1, snap.TradeCount)
	assert.Equal(t, []string{rep.Decision.TradeID}, snap.TradeIDs)

	assert.Len(t, f.events.ofType(models.EventSignal), 1)
	assert.Len(t, f.events.ofType(models.EventTradeOpened), 1)
}

func TestEngineExitsBeforeSignals(t *testing.T) {
	f := newFixture(t, models.BiasNeutral)
	f.setLevels(t)
	f.step(t, bar("SPY", 0, 501, 501.2, 499.5, 500.2))
	rep := f.step(t, bar("SPY", 1, 500.3, 501.5, 500.2, 501.2))
	require.True(t, rep.Decision.Accepted)

	// closes below the 0.2% stop
	rep = f.step(t, bar("SPY", 2, 501.0, 501.0, 499.9, 500.0))
	require.Len(t, rep.Exits, 1)
	assert.Equal(t, models.ExitStopLoss, rep.Exits[0].Reason)
	assert.Empty(t, f.trades.Active())
	assert.Equal(t, 1, f.gate.Snapshot().ConsecutiveLosses)
}

func TestEngineBiasSuppressesEntry(t *testing.T) {
	f := newFixture(t, models.BiasBearish)
	f.setLevels(t)
	f.step(t, bar("SPY", 0, 501, 501.2, 499.5, 500.2))
	rep := f.step(t, bar("SPY", 1, 500.3, 501.5, 500.2, 501.2))
	assert.Nil(t, rep.Decision)
	assert.NotEmpty(t, rep.Suppressed)
	assert.Empty(t, f.trades.Active())
}

func TestEngineRejectsWhenLocked(t *testing.T) {
	f := newFixture(t, models.BiasNeutral)
	f.setLevels(t)
	_, err := f.gate.Lockout(context.Background(), "manual")
	require.NoError(t, err)

	f.step(t, bar("SPY", 0, 501, 501.2, 499.5, 500.2))
	rep := f.step(t, bar("SPY", 1, 500.3, 501.5, 500.2, 501.2))
	require.NotNil(t, rep.Decision)
	assert.False(t, rep.Decision.Accepted)
	assert.Equal(t, "manual", rep.Decision.Reason)
	assert.Len(t, f.events.ofType(models.EventSignalRejected), 1)
}

func TestEngineNoSignalsOutsideSession(t *testing.T) {
	f := newFixture(t, models.BiasNeutral)
	f.setLevels(t)
	pre := func(min int, o, h, l, c float64) models.Candle {
		b := bar("SPY", min, o, h, l, c)
		b.Timestamp = b.Timestamp.Add(-time.Hour) // 09:00 New York
		return b
	}
	f.step(t, pre(0, 501, 501.2, 499.5, 500.2))
	rep := f.step(t, pre(1, 500.3, 501.5, 500.2, 501.2))
	assert.Nil(t, rep.Decision)
	assert.Empty(t, f.trades.Active())
}

func TestEngineSkipsStaleCandle(t *testing.T) {
	f := newFixture(t, models.BiasNeutral)
	f.step(t, bar("QQQ", 1, 100, 101, 99.5, 100.8))
	rep := f.step(t, bar("QQQ", 1, 100, 101, 99.5, 100.8))
	assert.True(t, rep.Skipped)
	rep = f.step(t, bar("QQQ", 0, 100, 101, 99.5, 100.8))
	assert.True(t, rep.Skipped)
}

func TestEnginePatternPersistFailureHoldsBook(t *testing.T) {
	f := newFixture(t, models.BiasNeutral)
	failing := &failingPatterns{}
	f.engine.patRepo = failing
	w := f.engine.workers["QQQ"]

	f.step(t, bar("QQQ", 0, 100, 101, 99.5, 100.8))
	f.step(t, bar("QQQ", 1, 101, 103, 100.9, 102.9))
	_, err := f.engine.step(context.Background(), w, bar("QQQ", 2, 103, 104, 102, 103.5))
	require.Error(t, err)
	assert.True(t, errs.IsConsistency(err))
	assert.Equal(t, 1, failing.calls)
	assert.Zero(t, w.book.Len())

	last, ok := w.book.LastCandle()
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Minute), last.Timestamp)

	// exits still run on a candle whose pattern write failed
	openTrade(t, f)
	spy := f.engine.workers["SPY"]
	rep, err := f.engine.step(context.Background(), spy, bar("SPY", 2, 499.0, 499.0, 498.4, 498.6))
	require.Error(t, err)
	assert.True(t, errs.IsConsistency(err))
	assert.Equal(t, 2, failing.calls)
	assert.Nil(t, rep.Patterns.Detected)
	require.Len(t, rep.Exits, 1)
	assert.Equal(t, models.ExitStopLoss, rep.Exits[0].Reason)
	assert.Empty(t, f.trades.Active())
	assert.Equal(t, 1, f.gate.Snapshot().ConsecutiveLosses)
}

type flakyStore struct {
	cache.Service
	failMSet bool
}

func (s *flakyStore) MSet(ctx context.Context, values map[string]interface{}, expiration time.Duration) error {
	if s.failMSet {
		return errors.New("store down")
	}
	return s.Service.MSet(ctx, values, expiration)
}

func TestEngineFailedEntryCommitKeepsSetup(t *testing.T) {
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })
	store := &flakyStore{Service: mem}
	f := newFixtureOn(t, store, models.BiasNeutral)
	f.setLevels(t)
	w := f.engine.workers["SPY"]
	f.step(t, bar("SPY", 0, 501, 501.2, 499.5, 500.2))

	store.failMSet = true
	rep, err := f.engine.step(context.Background(), w, bar("SPY", 1, 500.3, 501.5, 500.2, 501.2))
	require.Error(t, err)
	assert.True(t, errs.IsConsistency(err))
	require.NotNil(t, rep.Decision)
	assert.False(t, rep.Decision.Accepted)
	assert.Empty(t, f.trades.Active())
	assert.Zero(t, f.gate.Snapshot().TradeCount)
	assert.Equal(t, models.SweepSwept, w.tracker.State(models.PutWall))
	assert.Zero(t, f.engine.signals.CooldownRemaining(t0.Add(time.Minute)))

	store.failMSet = false
	rep = f.step(t, bar("SPY", 2, 501.2, 501.8, 501.1, 501.7))
	require.NotNil(t, rep.Decision)
	assert.True(t, rep.Decision.Accepted)
	assert.Len(t, f.trades.Active(), 1)
	assert.Equal(t, models.SweepNone, w.tracker.State(models.PutWall))
	assert.Positive(t, f.engine.signals.CooldownRemaining(t0.Add(2*time.Minute)))
}

func TestEnginePatternPersisted(t *testing.T) {
	f := newFixture(t, models.BiasNeutral)
	f.step(t, bar("QQQ", 0, 100, 101, 99.5, 100.8))
	f.step(t, bar("QQQ", 1, 101, 103, 100.9, 102.9))
	rep := f.step(t, bar("QQQ", 2, 103, 104, 102, 103.5))
	require.NotNil(t, rep.Patterns.Detected)

	saved, err := repository.NewKVPatternRepository(f.store).Load(context.Background(), "QQQ")
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, rep.Patterns.Detected.ID, saved[0].ID)
	assert.Len(t, f.events.ofType(models.EventPatternDetected), 1)
}

func TestEngineSubmitValidation(t *testing.T) {
	f := newFixture(t, models.BiasNeutral)
	ctx := context.Background()

	err := f.engine.Submit(ctx, bar("IWM", 0, 100, 101, 99, 100))
	assert.True(t, errs.IsValidation(err))

	bad := bar("SPY", 0, 100, 99, 101, 100)
	assert.True(t, errs.IsValidation(f.engine.Submit(ctx, bad)))
}

func TestEngineStartProcessAndDrain(t *testing.T) {
	store := cache.NewMemoryCache()
	t.Cleanup(func() { _ = store.Close() })
	withLock := WithInstanceLock(repository.NewKVInstanceLock(store), time.Minute)
	ctx := context.Background()

	f := newFixtureOn(t, store, models.BiasNeutral, withLock)
	f.setLevels(t)
	require.NoError(t, f.engine.Start(ctx))

	second := newFixtureOn(t, store, models.BiasNeutral, withLock)
	assert.Error(t, second.engine.Start(ctx))

	require.NoError(t, f.engine.Submit(ctx, bar("spy", 0, 501, 501.2, 499.5, 500.2)))
	require.NoError(t, f.engine.Submit(ctx, bar("SPY", 1, 500.3, 501.5, 500.2, 501.2)))

	seen, ok := f.engine.LastCandleAt("SPY")
	assert.True(t, ok)
	assert.False(t, seen.IsZero())

	require.NoError(t, f.engine.Stop(ctx))
	assert.ErrorIs(t, f.engine.Submit(ctx, bar("SPY", 2, 501, 501, 500.9, 501)), ErrEngineStopped)

	// drained candles opened the trade and shutdown flattened it
	assert.Empty(t, f.trades.Active())
	assert.Len(t, f.events.ofType(models.EventTradeOpened), 1)
	assert.Len(t, f.events.ofType(models.EventTradeClosed), 1)

	third := newFixtureOn(t, store, models.BiasNeutral, withLock)
	require.NoError(t, third.engine.Start(ctx))
	require.NoError(t, third.engine.Stop(ctx))
}

func TestEngineRestoresOpenTrades(t *testing.T) {
	f := newFixture(t, models.BiasNeutral)
	f.setLevels(t)
	f.step(t, bar("SPY", 0, 501, 501.2, 499.5, 500.2))
	rep := f.step(t, bar("SPY", 1, 500.3, 501.5, 500.2, 501.2))
	require.True(t, rep.Decision.Accepted)

	restored := newFixtureOn(t, f.store, models.BiasNeutral)
	require.NoError(t, restored.engine.Start(context.Background()))
	t.Cleanup(func() { _ = restored.engine.Stop(context.Background()) })

	active := restored.trades.Active()
	require.Len(t, active, 1)
	assert.Equal(t, rep.Decision.TradeID, active[0].ID)
	assert.Equal(t, 1, restored.gate.Snapshot().TradeCount)
	_, ok := restored.levels.Get("SPY")
	assert.True(t, ok)
}
