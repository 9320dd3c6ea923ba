package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GammaScalp/internal/domain/errs"
	"GammaScalp/internal/domain/models"
	"GammaScalp/internal/repository"
)

func newStatus(f *fixture, m *EmergencyMonitor) (*StatusUseCase, *repository.KVEventLog) {
	log := repository.NewKVEventLog(f.store, f.session.Date)
	uc := NewStatusUseCase(f.gate, f.trades, fixedBias{b: models.BiasNeutral}, m, f.levels,
		f.tradeDB, f.dailyDB, log, f.session.Date, false)
	uc.now = f.now
	return uc, log
}

func TestStatusReflectsDay(t *testing.T) {
	f := newFixture(t, models.BiasNeutral)
	openTrade(t, f)
	uc, _ := newStatus(f, newMonitor(f))

	st := uc.Status()
	assert.Equal(t, "2024-03-04", st.Date)
	assert.Equal(t, "paper", st.Mode)
	assert.Equal(t, 1, st.TradeCount)
	assert.Equal(t, "neutral", st.Bias)
	assert.False(t, st.Lockout.Locked)
	assert.Equal(t, 1, st.OpenPositions.OpenCount)
	assert.Positive(t, st.OpenPositions.LongExposure)
	assert.Equal(t, st.OpenPositions, uc.Positions())
}

func TestStatusTrades(t *testing.T) {
	f := newFixture(t, models.BiasNeutral)
	openTrade(t, f)
	uc, _ := newStatus(f, nil)
	ctx := context.Background()

	today, err := uc.Trades(ctx, "")
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.Equal(t, "SPY", today[0].Symbol)

	same, err := uc.Trades(ctx, "2024-03-04")
	require.NoError(t, err)
	assert.Len(t, same, 1)

	none, err := uc.Trades(ctx, "2024-03-01")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStatusEventsAndLevels(t *testing.T) {
	f := newFixture(t, models.BiasNeutral)
	uc, log := newStatus(f, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, log.Append(ctx, models.NewEvent(models.EventLevels, "SPY", t0, nil)))
	}
	evs, err := uc.Events(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, evs, 2)

	_, err = uc.Levels("SPY")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	f.setLevels(t)
	view, err := uc.Levels("SPY")
	require.NoError(t, err)
	assert.Equal(t, "SPY", view.Symbol)
}

func TestStatusEmergency(t *testing.T) {
	f := newFixture(t, models.BiasNeutral)
	openTrade(t, f)
	uc, _ := newStatus(f, newMonitor(f))

	st, err := uc.Emergency(context.Background(), "operator")
	require.NoError(t, err)
	assert.True(t, st.Lockout.Locked)
	assert.Equal(t, ReasonManual, st.Lockout.Reason)
	assert.Zero(t, st.OpenPositions.OpenCount)
	require.Len(t, st.CriticalEvents, 1)
	assert.Equal(t, "operator", st.CriticalEvents[0].Detail)
}
