package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"GammaScalp/internal/domain/models"
	"GammaScalp/internal/repository"
	icache "GammaScalp/internal/service/cache"
	"GammaScalp/internal/services/lifecycle"
	"GammaScalp/internal/services/pattern"
	"GammaScalp/internal/services/risk"
	"GammaScalp/internal/services/signal"
	"GammaScalp/internal/services/zone"
	"GammaScalp/pkg/cache"
	"GammaScalp/pkg/util"
)

// 10:00 New York on a winter Monday.
var t0 = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

func bar(sym string, min int, o, h, l, c float64) models.Candle {
	return models.Candle{Symbol: sym, Timestamp: t0.Add(time.Duration(min) * time.Minute), Open: o, High: h, Low: l, Close: c, Volume: 1000}
}

type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Publish(_ context.Context, e models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) ofType(t models.EventType) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixedBias struct{ b models.Bias }

func (f fixedBias) Current(date string) models.MarketBias {
	return models.MarketBias{Date: date, Direction: f.b, Score: 1}
}

type failingPatterns struct{ calls int }

func (f *failingPatterns) Save(context.Context, string, []models.Pattern) error {
	f.calls++
	return errors.New("store down")
}

func (f *failingPatterns) Load(context.Context, string) ([]models.Pattern, error) {
	return nil, nil
}

type fixture struct {
	store   cache.Service
	session *util.Session
	events  *recorder
	gate    *risk.Gate
	trades  *lifecycle.Manager
	levels  *LevelsBook
	engine  *Engine
	clock   time.Time
	tradeDB *repository.KVTradeRepository
	dailyDB *repository.KVDailyRepository
}

func (f *fixture) now() time.Time { return f.clock }

func newFixture(t *testing.T, b models.Bias, opts ...EngineOption) *fixture {
	t.Helper()
	store := cache.NewMemoryCache()
	t.Cleanup(func() { _ = store.Close() })
	return newFixtureOn(t, store, b, opts...)
}

// newFixtureOn builds an engine over an existing store, as a restarted
// process would.
func newFixtureOn(t *testing.T, store cache.Service, b models.Bias, opts ...EngineOption) *fixture {
	t.Helper()
	sess, err := util.NewSession("America/New_York", "10:00", "16:00")
	require.NoError(t, err)

	f := &fixture{store: store, session: sess, events: &recorder{}, clock: t0}
	f.tradeDB = repository.NewKVTradeRepository(store)
	f.dailyDB = repository.NewKVDailyRepository(store)

	f.gate = risk.New(f.dailyDB, nil, sess.Date)
	f.gate.SetClock(f.now)

	f.trades, err = lifecycle.New(f.gate, f.tradeDB, nil, f.events, nil, nil,
		lifecycle.WithMode(lifecycle.ModePaper), lifecycle.WithLocation(sess.Loc))
	require.NoError(t, err)

	zones := zone.New()
	f.levels = NewLevelsBook(repository.NewKVLevelsRepository(store), icache.NewSnapshots(), zones, f.events, nil)

	base := []EngineOption{WithSymbols("SPY", "QQQ"), WithSession(sess), WithEngineClock(f.now)}
	f.engine = NewEngine(pattern.New(), signal.New(zones), f.gate, f.trades, f.levels, fixedBias{b: b},
		repository.NewKVPatternRepository(store), f.events, nil, nil, append(base, opts...)...)
	return f
}

func (f *fixture) setLevels(t *testing.T) {
	t.Helper()
	require.NoError(t, f.levels.Update(context.Background(), models.GammaLevels{Symbol: "spy", PutWall: 500, CallWall: 505}))
}

func (f *fixture) step(t *testing.T, c models.Candle) TickReport {
	t.Helper()
	rep, err := f.engine.step(context.Background(), f.engine.workers[c.Symbol], c)
	require.NoError(t, err)
	return rep
}
