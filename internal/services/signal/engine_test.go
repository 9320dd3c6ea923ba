package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GammaScalp/internal/domain/models"
	"GammaScalp/internal/services/zone"
)

var t0 = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

var levels = models.GammaLevels{Symbol: "SPY", PutWall: 500, CallWall: 505}

func bar(sym string, min int, o, h, l, c float64) models.Candle {
	return models.Candle{Symbol: sym, Timestamp: t0.Add(time.Duration(min) * time.Minute), Open: o, High: h, Low: l, Close: c}
}

func newEngine() *Engine {
	return New(zone.New())
}

func TestSweepThenReclaimLong(t *testing.T) {
	e := newEngine()
	tr := NewTracker("SPY")

	res := e.Evaluate(tr, Input{Candle: bar("SPY", 0, 501, 501.2, 499.5, 500.2), Levels: levels, Bias: models.BiasNeutral})
	require.Len(t, res.Swept, 1)
	assert.Nil(t, res.Signal)
	assert.Equal(t, models.SweepSwept, tr.State(models.PutWall))
	assert.Equal(t, 499.5, res.Swept[0].Extreme)

	res = e.Evaluate(tr, Input{Candle: bar("SPY", 1, 500.3, 501.5, 500.2, 501.2), Levels: levels, Bias: models.BiasNeutral})
	require.NotNil(t, res.Signal)
	sig := res.Signal
	assert.Equal(t, models.Long, sig.Direction)
	assert.Equal(t, models.SweepReclaim, sig.Variant)
	assert.Equal(t, models.ConfidenceNormal, sig.Confidence)
	assert.Equal(t, 501.2, sig.Entry)
	// sweep low is 0.35% away, so the stop is clamped to 0.2%
	assert.InDelta(t, 501.2*0.998, sig.Stop, 1e-9)
	assert.InDelta(t, 501.2*1.003, sig.TP1, 1e-9)
	assert.Equal(t, 505.0, sig.TP2)
	assert.Equal(t, models.SweepNone, tr.State(models.PutWall))
}

func TestReclaimStopFromSweepExtreme(t *testing.T) {
	e := newEngine()
	tr := NewTracker("SPY")

	e.Evaluate(tr, Input{Candle: bar("SPY", 0, 501, 501.1, 500.6, 500.8), Levels: levels, Bias: models.BiasBullish})
	res := e.Evaluate(tr, Input{Candle: bar("SPY", 1, 500.65, 501, 500.62, 500.9), Levels: levels, Bias: models.BiasBullish})
	require.NotNil(t, res.Signal)
	assert.InDelta(t, 500.6-500.9*0.0001, res.Signal.Stop, 1e-9)
	assert.LessOrEqual(t, res.Signal.RiskPct(), 0.002)
}

func TestNoConfirmationOnSweepCandle(t *testing.T) {
	e := newEngine()
	tr := NewTracker("SPY")

	res := e.Evaluate(tr, Input{Candle: bar("SPY", 0, 500.0, 501.5, 499.5, 501.2), Levels: levels, Bias: models.BiasNeutral})
	assert.Len(t, res.Swept, 1)
	assert.Nil(t, res.Signal)
}

func TestIFVGFlipConfirmsWithHighConfidence(t *testing.T) {
	e := newEngine()
	tr := NewTracker("SPY")

	e.Evaluate(tr, Input{Candle: bar("SPY", 0, 501, 501.2, 499.5, 500.2), Levels: levels, Bias: models.BiasNeutral})
	inv := models.Pattern{ID: "SPY-1", Top: 500.5, Bottom: 500.0, Type: models.PatternBullish, Status: models.PatternInverted, CreatedAt: t0}
	res := e.Evaluate(tr, Input{
		Candle:     bar("SPY", 1, 500.55, 500.7, 500.5, 500.6),
		Levels:     levels,
		Bias:       models.BiasNeutral,
		Inversions: []models.Pattern{inv},
	})
	require.NotNil(t, res.Signal)
	assert.Equal(t, models.IFVGFlip, res.Signal.Variant)
	assert.Equal(t, models.ConfidenceHigh, res.Signal.Confidence)
	assert.Equal(t, "SPY-1", res.Signal.PatternID)
	assert.InDelta(t, 500.0-500.6*0.0001, res.Signal.Stop, 1e-9)
}

func TestIFVGWrongDirectionIgnored(t *testing.T) {
	e := newEngine()
	tr := NewTracker("SPY")

	e.Evaluate(tr, Input{Candle: bar("SPY", 0, 501, 501.2, 499.5, 500.2), Levels: levels, Bias: models.BiasNeutral})
	inv := models.Pattern{ID: "x", Top: 500.5, Bottom: 500.0, Type: models.PatternBearish, Status: models.PatternInverted}
	res := e.Evaluate(tr, Input{Candle: bar("SPY", 1, 500.55, 500.7, 500.5, 500.6), Levels: levels, Bias: models.BiasNeutral, Inversions: []models.Pattern{inv}})
	assert.Nil(t, res.Signal)
	assert.Equal(t, models.SweepSwept, tr.State(models.PutWall))
}

func TestShortAtCallWall(t *testing.T) {
	e := newEngine()
	tr := NewTracker("SPY")

	res := e.Evaluate(tr, Input{Candle: bar("SPY", 0, 504, 505.2, 503.9, 504.5), Levels: levels, Bias: models.BiasBearish})
	require.Len(t, res.Swept, 1)
	assert.Equal(t, models.Short, res.Swept[0].Direction)

	res = e.Evaluate(tr, Input{Candle: bar("SPY", 1, 504.3, 504.4, 503.5, 503.6), Levels: levels, Bias: models.BiasBearish})
	require.NotNil(t, res.Signal)
	assert.Equal(t, models.Short, res.Signal.Direction)
	assert.InDelta(t, 503.6*1.002, res.Signal.Stop, 1e-9)
	assert.InDelta(t, 503.6*0.997, res.Signal.TP1, 1e-9)
	assert.Equal(t, 500.0, res.Signal.TP2)
}

func TestBiasGating(t *testing.T) {
	for _, bias := range []models.Bias{models.BiasBearish, models.BiasNoTrade} {
		e := newEngine()
		tr := NewTracker("SPY")
		e.Evaluate(tr, Input{Candle: bar("SPY", 0, 501, 501.2, 499.5, 500.2), Levels: levels, Bias: bias})
		assert.Equal(t, models.SweepSwept, tr.State(models.PutWall), "sweeps are tracked under %s", bias)

		res := e.Evaluate(tr, Input{Candle: bar("SPY", 1, 500.3, 501.5, 500.2, 501.2), Levels: levels, Bias: bias})
		assert.Nil(t, res.Signal)
		require.Len(t, res.Suppressed, 1)
		assert.Equal(t, SuppressedBias, res.Suppressed[0].Reason)
	}
}

func TestCooldownIsGlobalAcrossSymbols(t *testing.T) {
	e := newEngine()
	spy := NewTracker("SPY")
	qqq := NewTracker("QQQ")
	qqqLevels := models.GammaLevels{Symbol: "QQQ", PutWall: 500}

	e.Evaluate(spy, Input{Candle: bar("SPY", 0, 501, 501.2, 499.5, 500.2), Levels: levels, Bias: models.BiasNeutral})
	e.Evaluate(qqq, Input{Candle: bar("QQQ", 0, 501, 501.2, 499.5, 500.2), Levels: qqqLevels, Bias: models.BiasNeutral})

	res := e.Evaluate(spy, Input{Candle: bar("SPY", 1, 500.3, 501.5, 500.2, 501.2), Levels: levels, Bias: models.BiasNeutral})
	require.NotNil(t, res.Signal)

	res = e.Evaluate(qqq, Input{Candle: bar("QQQ", 2, 500.3, 501.5, 500.2, 501.2), Levels: qqqLevels, Bias: models.BiasNeutral})
	assert.Nil(t, res.Signal)
	require.Len(t, res.Suppressed, 1)
	assert.Equal(t, SuppressedCooldown, res.Suppressed[0].Reason)
	assert.Equal(t, models.SweepSwept, qqq.State(models.PutWall))
	assert.Equal(t, 3*time.Minute, e.CooldownRemaining(t0.Add(3*time.Minute)))

	res = e.Evaluate(qqq, Input{Candle: bar("QQQ", 6, 500.8, 501.6, 500.78, 501.3), Levels: qqqLevels, Bias: models.BiasNeutral})
	require.NotNil(t, res.Signal)
	assert.Equal(t, "QQQ", res.Signal.Symbol)
}

func TestBreakdownRearms(t *testing.T) {
	e := newEngine()
	tr := NewTracker("SPY")

	e.Evaluate(tr, Input{Candle: bar("SPY", 0, 501, 501.2, 499.5, 500.2), Levels: levels, Bias: models.BiasNeutral})
	res := e.Evaluate(tr, Input{Candle: bar("SPY", 1, 500, 500.1, 498.5, 498.9), Levels: levels, Bias: models.BiasNeutral})
	assert.Equal(t, []models.LevelKind{models.PutWall}, res.Rearmed)
	assert.Equal(t, models.SweepNone, tr.State(models.PutWall))
}

func TestSweepExpiry(t *testing.T) {
	e := New(zone.New(), WithSweepExpiry(10*time.Minute))
	tr := NewTracker("SPY")

	e.Evaluate(tr, Input{Candle: bar("SPY", 0, 501, 501.2, 499.5, 500.2), Levels: levels, Bias: models.BiasNeutral})
	res := e.Evaluate(tr, Input{Candle: bar("SPY", 15, 500.3, 501.5, 500.9, 501.2), Levels: levels, Bias: models.BiasNeutral})
	assert.Nil(t, res.Signal)
	assert.Equal(t, []models.LevelKind{models.PutWall}, res.Rearmed)
	assert.Equal(t, models.SweepNone, tr.State(models.PutWall))
}

func TestZeroGammaDirectionFromOpen(t *testing.T) {
	e := newEngine()
	tr := NewTracker("SPY")
	zg := models.GammaLevels{Symbol: "SPY", ZeroGamma: 510}

	res := e.Evaluate(tr, Input{Candle: bar("SPY", 0, 512, 512.2, 511, 511.8), Levels: zg, Bias: models.BiasNeutral})
	require.Len(t, res.Swept, 1)
	assert.Equal(t, models.Long, res.Swept[0].Direction)

	tr2 := NewTracker("SPY")
	res = e.Evaluate(tr2, Input{Candle: bar("SPY", 0, 508, 509, 507.9, 508.2), Levels: zg, Bias: models.BiasNeutral})
	require.Len(t, res.Swept, 1)
	assert.Equal(t, models.Short, res.Swept[0].Direction)
}

func TestClonedEvaluationCanBeAbandoned(t *testing.T) {
	e := newEngine()
	tr := NewTracker("SPY")
	e.Evaluate(tr, Input{Candle: bar("SPY", 0, 501, 501.2, 499.5, 500.2), Levels: levels, Bias: models.BiasNeutral})

	staged := tr.Clone()
	reclaim := bar("SPY", 1, 500.3, 501.5, 500.2, 501.2)
	res := e.Evaluate(staged, Input{Candle: reclaim, Levels: levels, Bias: models.BiasNeutral})
	require.NotNil(t, res.Signal)
	assert.Equal(t, models.SweepNone, staged.State(models.PutWall))
	assert.Equal(t, models.SweepSwept, tr.State(models.PutWall))

	e.ReleaseCooldown(reclaim.Timestamp)
	assert.Zero(t, e.CooldownRemaining(reclaim.Timestamp))

	res = e.Evaluate(tr, Input{Candle: bar("SPY", 2, 501.2, 501.8, 501.1, 501.7), Levels: levels, Bias: models.BiasNeutral})
	require.NotNil(t, res.Signal)
	assert.Equal(t, models.SweepReclaim, res.Signal.Variant)
}
