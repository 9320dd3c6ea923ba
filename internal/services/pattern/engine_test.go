package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GammaScalp/internal/domain/models"
)

var t0 = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

func candle(min int, o, h, l, c float64) models.Candle {
	return models.Candle{Symbol: "SPY", Timestamp: t0.Add(time.Duration(min) * time.Minute), Open: o, High: h, Low: l, Close: c}
}

func TestDetectBullishGap(t *testing.T) {
	e := New()
	c0 := candle(0, 112, 113, 110, 111)
	c1 := candle(1, 110, 110, 106, 109)
	c2 := candle(2, 105, 105, 103, 104)

	p, ok := e.Detect("SPY", [3]models.Candle{c0, c1, c2})
	require.True(t, ok)
	assert.Equal(t, 110.0, p.Top)
	assert.Equal(t, 105.0, p.Bottom)
	assert.Equal(t, models.PatternBullish, p.Type)
	assert.Equal(t, models.PatternOpen, p.Status)
	assert.GreaterOrEqual(t, p.Top, p.Bottom)
}

func TestDetectBearishGap(t *testing.T) {
	e := New()
	c0 := candle(0, 99, 100, 98, 99.5)
	c1 := candle(1, 100, 104, 100, 103)
	c2 := candle(2, 104, 106, 102, 105)

	p, ok := e.Detect("SPY", [3]models.Candle{c0, c1, c2})
	require.True(t, ok)
	assert.Equal(t, 102.0, p.Top)
	assert.Equal(t, 100.0, p.Bottom)
	assert.Equal(t, models.PatternBearish, p.Type)
}

func TestDetectRejectsNoiseAndOverlap(t *testing.T) {
	e := New(WithMinGap(0.001))
	// gap of 0.05 on a 100 close is 0.05%, below the 0.1% filter
	c0 := candle(0, 100, 100.2, 100.05, 100.1)
	c1 := candle(1, 100, 100, 99.9, 100)
	c2 := candle(2, 99.9, 100.0, 99.8, 99.9)
	_, ok := e.Detect("SPY", [3]models.Candle{c0, c1, c2})
	assert.False(t, ok)

	overlap := candle(2, 100, 100.1, 99.9, 100)
	_, ok = e.Detect("SPY", [3]models.Candle{c0, c1, overlap})
	assert.False(t, ok)
}

func TestApplyCandleInversion(t *testing.T) {
	p := models.Pattern{Top: 110, Bottom: 105, Type: models.PatternBullish, Status: models.PatternOpen}
	tr := ApplyCandle(&p, candle(3, 106, 106, 103, 104))
	assert.Equal(t, Inverted, tr)
	assert.Equal(t, models.PatternInverted, p.Status)
	assert.Equal(t, models.PatternBearish, p.Type)
}

func TestApplyCandleBearishInversion(t *testing.T) {
	p := models.Pattern{Top: 102, Bottom: 100, Type: models.PatternBearish, Status: models.PatternMitigated}
	tr := ApplyCandle(&p, candle(3, 101, 103, 101, 102.5))
	assert.Equal(t, Inverted, tr)
	assert.Equal(t, models.PatternBullish, p.Type)
}

func TestApplyCandleMitigation(t *testing.T) {
	p := models.Pattern{Top: 110, Bottom: 105, Type: models.PatternBullish, Status: models.PatternOpen}
	tr := ApplyCandle(&p, candle(3, 106.5, 107, 106, 106.8))
	assert.Equal(t, Mitigated, tr)
	assert.Equal(t, models.PatternMitigated, p.Status)
	assert.Equal(t, models.PatternBullish, p.Type)

	// already mitigated: touching again changes nothing
	assert.Equal(t, NoChange, ApplyCandle(&p, candle(4, 106.5, 107, 106, 106.8)))
}

func TestInvertedIsTerminal(t *testing.T) {
	p := models.Pattern{Top: 110, Bottom: 105, Type: models.PatternBullish, Status: models.PatternOpen}
	require.Equal(t, Inverted, ApplyCandle(&p, candle(3, 106, 106, 103, 104)))

	for i, c := range []models.Candle{
		candle(4, 108, 115, 107, 114),
		candle(5, 104, 107, 100, 101),
		candle(6, 106, 108, 105, 107),
	} {
		before := p
		assert.Equal(t, NoChange, ApplyCandle(&p, c), "candle %d", i)
		assert.Equal(t, before.Status, p.Status)
		assert.Equal(t, before.Type, p.Type)
	}
}

func TestFindNearestTieBreaksByCreation(t *testing.T) {
	older := models.Pattern{ID: "a", Seq: 1, Top: 102, Bottom: 100, Status: models.PatternOpen, CreatedAt: t0}
	newer := models.Pattern{ID: "b", Seq: 2, Top: 106, Bottom: 104, Status: models.PatternOpen, CreatedAt: t0.Add(time.Minute)}
	inv := models.Pattern{ID: "c", Seq: 3, Top: 103.5, Bottom: 102.5, Status: models.PatternInverted, Type: models.PatternBearish, CreatedAt: t0.Add(2 * time.Minute)}

	p, ok := FindNearest([]models.Pattern{newer, older, inv}, 103, false)
	require.True(t, ok)
	assert.Equal(t, "a", p.ID)

	p, ok = FindNearest([]models.Pattern{newer, older, inv}, 103, true)
	require.True(t, ok)
	assert.Equal(t, "c", p.ID)

	_, ok = FindNearest([]models.Pattern{older, newer}, 103, false, models.PatternBearish)
	assert.False(t, ok)
}

func TestFindAtLevel(t *testing.T) {
	a := models.Pattern{ID: "a", Seq: 1, Top: 101, Bottom: 100, CreatedAt: t0}
	b := models.Pattern{ID: "b", Seq: 2, Top: 500, Bottom: 499, CreatedAt: t0.Add(time.Minute)}

	p, ok := FindAtLevel([]models.Pattern{b, a}, 501, 0.005)
	require.True(t, ok)
	assert.Equal(t, "b", p.ID)

	_, ok = FindAtLevel([]models.Pattern{a, b}, 300, 0.005)
	assert.False(t, ok)
}

func TestPrune(t *testing.T) {
	ps := []models.Pattern{
		{ID: "old", CreatedAt: t0},
		{ID: "new", CreatedAt: t0.Add(100 * time.Minute)},
	}
	out := Prune(ps, t0.Add(150*time.Minute), 120*time.Minute)
	require.Len(t, out, 1)
	assert.Equal(t, "new", out[0].ID)
	assert.Len(t, ps, 2)
}

func TestBookApplySequence(t *testing.T) {
	e := New()
	b := e.NewBook("SPY")

	u := e.Apply(b, candle(0, 112, 113, 110, 111))
	assert.Nil(t, u.Detected)
	e.Apply(b, candle(1, 110, 110, 106, 109))
	u = e.Apply(b, candle(2, 105, 105, 103, 104))
	require.NotNil(t, u.Detected)
	assert.Equal(t, uint64(1), u.Detected.Seq)
	assert.Equal(t, models.PatternOpen, u.Detected.Status, "forming candle must not mitigate its own gap")

	u = e.Apply(b, candle(3, 104, 104.5, 103, 103.5))
	require.Len(t, u.Inversions(), 1)
	assert.Equal(t, models.PatternBearish, u.Inversions()[0].Type)

	dup := e.Apply(b, candle(3, 104, 104.5, 103, 103.5))
	assert.True(t, dup.Skipped)
}

func TestBookPrunesByCandleTime(t *testing.T) {
	e := New(WithMaxAge(10 * time.Minute))
	b := e.NewBook("SPY")
	e.Apply(b, candle(0, 112, 113, 110, 111))
	e.Apply(b, candle(1, 110, 110, 106, 109))
	e.Apply(b, candle(2, 105, 105, 103, 104))
	require.Equal(t, 1, b.Len())

	u := e.Apply(b, candle(20, 108, 109, 107, 108))
	assert.Equal(t, 1, u.Pruned)
	assert.Equal(t, 0, b.Len())
}

func TestBookCloneIsIndependent(t *testing.T) {
	e := New()
	b := e.NewBook("SPY")
	e.Apply(b, candle(0, 112, 113, 110, 111))
	e.Apply(b, candle(1, 110, 110, 106, 109))

	staged := b.Clone()
	u := e.Apply(staged, candle(2, 105, 105, 103, 104))
	require.NotNil(t, u.Detected)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 1, staged.Len())
}
