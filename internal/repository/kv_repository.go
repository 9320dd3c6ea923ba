package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"GammaScalp/internal/domain/errs"
	"GammaScalp/internal/domain/models"
	domrepo "GammaScalp/internal/domain/repository"
	"GammaScalp/pkg/cache"
)

// Key layout and retention of the engine state.
const (
	TradeTTL   = 7 * 24 * time.Hour
	DailyTTL   = 7 * 24 * time.Hour
	PatternTTL = 4 * time.Hour
	LevelsTTL  = 4 * time.Hour
	BiasTTL    = 7 * 24 * time.Hour
	EventsTTL  = 7 * 24 * time.Hour

	lockKey = "engine:lock"
)

func tradeKey(id string) string    { return "trade:" + id }
func dailyKey(date string) string  { return "daily:" + date }
func patternKey(sym string) string { return "patterns:" + strings.ToUpper(sym) }
func levelsKey(sym string) string  { return "levels:" + strings.ToUpper(sym) }
func biasKey(date string) string   { return "bias:" + date }
func eventsKey(date string) string { return "events:" + date }

func get(ctx context.Context, store cache.Service, key string, dest interface{}) error {
	if err := store.Get(ctx, key, dest); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return errs.ErrNotFound
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	return nil
}

// KVTradeRepository stores trades at trade:<id>.
type KVTradeRepository struct {
	store cache.Service
}

func NewKVTradeRepository(store cache.Service) *KVTradeRepository {
	return &KVTradeRepository{store: store}
}

func (r *KVTradeRepository) Save(ctx context.Context, t *models.Trade) error {
	if err := r.store.Set(ctx, tradeKey(t.ID), t, TradeTTL); err != nil {
		return fmt.Errorf("save trade %s: %w", t.ID, err)
	}
	return nil
}

func (r *KVTradeRepository) Get(ctx context.Context, id string) (*models.Trade, error) {
	var t models.Trade
	if err := get(ctx, r.store, tradeKey(id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetMany returns the trades found among ids in the order given.
func (r *KVTradeRepository) GetMany(ctx context.Context, ids []string) ([]*models.Trade, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = tradeKey(id)
	}
	found, err := cache.MGetTyped[models.Trade](ctx, r.store, keys...)
	if err != nil {
		return nil, fmt.Errorf("get trades: %w", err)
	}
	out := make([]*models.Trade, 0, len(found))
	for _, k := range keys {
		if t, ok := found[k]; ok {
			t := t
			out = append(out, &t)
		}
	}
	return out, nil
}

// KVDailyRepository stores the daily risk state at daily:<date>.
type KVDailyRepository struct {
	store cache.Service
}

func NewKVDailyRepository(store cache.Service) *KVDailyRepository {
	return &KVDailyRepository{store: store}
}

func (r *KVDailyRepository) Load(ctx context.Context, date string) (*models.DailyState, error) {
	var d models.DailyState
	if err := get(ctx, r.store, dailyKey(date), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *KVDailyRepository) Save(ctx context.Context, d *models.DailyState) error {
	if err := r.store.Set(ctx, dailyKey(d.Date), d, DailyTTL); err != nil {
		return fmt.Errorf("save daily %s: %w", d.Date, err)
	}
	return nil
}

// SaveWithTrade writes the trade and the daily state in one atomic MSet.
func (r *KVDailyRepository) SaveWithTrade(ctx context.Context, d *models.DailyState, t *models.Trade) error {
	err := r.store.MSet(ctx, map[string]interface{}{
		dailyKey(d.Date): d,
		tradeKey(t.ID):   t,
	}, DailyTTL)
	if err != nil {
		return fmt.Errorf("save daily %s with trade %s: %w", d.Date, t.ID, err)
	}
	return nil
}

// KVPatternRepository stores a symbol's pattern ring at patterns:<SYM>.
type KVPatternRepository struct {
	store cache.Service
}

func NewKVPatternRepository(store cache.Service) *KVPatternRepository {
	return &KVPatternRepository{store: store}
}

func (r *KVPatternRepository) Save(ctx context.Context, symbol string, patterns []models.Pattern) error {
	if patterns == nil {
		patterns = []models.Pattern{}
	}
	if err := r.store.Set(ctx, patternKey(symbol), patterns, PatternTTL); err != nil {
		return fmt.Errorf("save patterns %s: %w", symbol, err)
	}
	return nil
}

func (r *KVPatternRepository) Load(ctx context.Context, symbol string) ([]models.Pattern, error) {
	var out []models.Pattern
	if err := get(ctx, r.store, patternKey(symbol), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// KVLevelsRepository stores gamma levels at levels:<SYM>.
type KVLevelsRepository struct {
	store cache.Service
}

func NewKVLevelsRepository(store cache.Service) *KVLevelsRepository {
	return &KVLevelsRepository{store: store}
}

func (r *KVLevelsRepository) Save(ctx context.Context, l models.GammaLevels) error {
	l.Symbol = strings.ToUpper(l.Symbol)
	if err := r.store.Set(ctx, levelsKey(l.Symbol), l, LevelsTTL); err != nil {
		return fmt.Errorf("save levels %s: %w", l.Symbol, err)
	}
	return nil
}

func (r *KVLevelsRepository) Load(ctx context.Context, symbol string) (models.GammaLevels, error) {
	var l models.GammaLevels
	if err := get(ctx, r.store, levelsKey(symbol), &l); err != nil {
		return models.GammaLevels{}, err
	}
	return l, nil
}

// Symbols lists the symbols that have live levels.
func (r *KVLevelsRepository) Symbols(ctx context.Context) ([]string, error) {
	keys, err := r.store.KeysByPrefix(ctx, "levels:")
	if err != nil {
		return nil, fmt.Errorf("list levels: %w", err)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, "levels:"))
	}
	sort.Strings(out)
	return out, nil
}

// KVBiasRepository stores the daily bias at bias:<date>.
type KVBiasRepository struct {
	store cache.Service
}

func NewKVBiasRepository(store cache.Service) *KVBiasRepository {
	return &KVBiasRepository{store: store}
}

func (r *KVBiasRepository) Save(ctx context.Context, b models.MarketBias) error {
	if err := r.store.Set(ctx, biasKey(b.Date), b, BiasTTL); err != nil {
		return fmt.Errorf("save bias %s: %w", b.Date, err)
	}
	return nil
}

func (r *KVBiasRepository) Load(ctx context.Context, date string) (models.MarketBias, error) {
	var b models.MarketBias
	if err := get(ctx, r.store, biasKey(date), &b); err != nil {
		return models.MarketBias{}, err
	}
	return b, nil
}

// KVEventLog appends the day's events to the list events:<date>.
type KVEventLog struct {
	store cache.Service
	date  func(time.Time) string
}

// NewKVEventLog keys events by the trading date of their timestamp.
func NewKVEventLog(store cache.Service, date func(time.Time) string) *KVEventLog {
	return &KVEventLog{store: store, date: date}
}

func (l *KVEventLog) Append(ctx context.Context, e models.Event) error {
	if err := l.store.ListAppend(ctx, eventsKey(l.date(e.Time)), e, EventsTTL); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Range returns the last limit events of date in insertion order.
func (l *KVEventLog) Range(ctx context.Context, date string, limit int) ([]models.Event, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	out, err := cache.ListRangeTyped[models.Event](ctx, l.store, eventsKey(date), start, -1)
	if err != nil {
		return nil, fmt.Errorf("range events: %w", err)
	}
	return out, nil
}

// Handle lets the log subscribe to the event bus.
func (l *KVEventLog) Handle(ctx context.Context, e models.Event) error { return l.Append(ctx, e) }

// KVInstanceLock holds engine:lock so only one engine writes the state.
type KVInstanceLock struct {
	store cache.Service
}

func NewKVInstanceLock(store cache.Service) *KVInstanceLock {
	return &KVInstanceLock{store: store}
}

func (l *KVInstanceLock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.store.TryLock(ctx, lockKey, ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", lockKey, err)
	}
	return ok, nil
}

// Refresh extends a held lock.
func (l *KVInstanceLock) Refresh(ctx context.Context, ttl time.Duration) error {
	ok, err := l.store.Expire(ctx, lockKey, ttl)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", lockKey, err)
	}
	if !ok {
		return fmt.Errorf("refresh %s: lock lost", lockKey)
	}
	return nil
}

func (l *KVInstanceLock) Release(ctx context.Context) error {
	return l.store.Unlock(ctx, lockKey)
}

var (
	_ domrepo.TradeRepository      = (*KVTradeRepository)(nil)
	_ domrepo.DailyStateRepository = (*KVDailyRepository)(nil)
	_ domrepo.PatternRepository    = (*KVPatternRepository)(nil)
	_ domrepo.LevelsRepository     = (*KVLevelsRepository)(nil)
	_ domrepo.BiasRepository       = (*KVBiasRepository)(nil)
	_ domrepo.EventLog             = (*KVEventLog)(nil)
	_ domrepo.InstanceLock         = (*KVInstanceLock)(nil)
)
