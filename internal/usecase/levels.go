package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"GammaScalp/internal/domain/errs"
	"GammaScalp/internal/domain/models"
	domrepo "GammaScalp/internal/domain/repository"
	icache "GammaScalp/internal/service/cache"
	"GammaScalp/internal/services/zone"
	"GammaScalp/pkg/logger"
)

var validate = validator.New()

const levelsSnapshotTTL = 4 * time.Hour

// LevelsBook holds the latest gamma levels per symbol. Writes go to the
// store first and only then replace the in-memory snapshot.
type LevelsBook struct {
	repo   domrepo.LevelsRepository
	snaps  *icache.Snapshots
	zones  *zone.Engine
	events domrepo.EventPublisher
	lgr    *logger.Logger
	now    func() time.Time
}

func NewLevelsBook(repo domrepo.LevelsRepository, snaps *icache.Snapshots, zones *zone.Engine, events domrepo.EventPublisher, lgr *logger.Logger) *LevelsBook {
	if snaps == nil {
		snaps = icache.NewSnapshots()
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &LevelsBook{
		repo:   repo,
		snaps:  snaps,
		zones:  zones,
		events: events,
		lgr:    lgr.With(logger.String("component", "levels")),
		now:    time.Now,
	}
}

func levelsSnapKey(symbol string) string { return "levels:" + strings.ToUpper(symbol) }

// Get returns the cached levels of symbol.
func (b *LevelsBook) Get(symbol string) (models.GammaLevels, bool) {
	l, _, ok := icache.Load[models.GammaLevels](b.snaps, levelsSnapKey(symbol))
	return l, ok
}

// Update validates and stores a new snapshot.
func (b *LevelsBook) Update(ctx context.Context, l models.GammaLevels) error {
	l.Symbol = strings.ToUpper(strings.TrimSpace(l.Symbol))
	if err := validate.Struct(l); err != nil {
		return errs.Validation("levels", "%v", err)
	}
	if l.CallWall == 0 && l.PutWall == 0 && l.ZeroGamma == 0 {
		return errs.Validation("levels", "no level present for %s", l.Symbol)
	}
	if l.CallWall > 0 && l.PutWall > 0 && l.CallWall <= l.PutWall {
		return errs.Validation("call_wall", "call wall %v not above put wall %v", l.CallWall, l.PutWall)
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = b.now().UTC()
	}

	if b.repo != nil {
		if err := b.repo.Save(ctx, l); err != nil {
			return errs.Consistency("save levels", err)
		}
	}
	b.snaps.Set(levelsSnapKey(l.Symbol), l, levelsSnapshotTTL)

	b.lgr.Info("levels updated",
		logger.Symbol(l.Symbol),
		logger.Float64("put_wall", l.PutWall),
		logger.Float64("call_wall", l.CallWall),
		logger.Float64("zero_gamma", l.ZeroGamma),
		logger.Float64("net_gex", l.NetGEX))
	if b.events != nil {
		if err := b.events.Publish(ctx, models.NewEvent(models.EventLevels, l.Symbol, l.UpdatedAt, l)); err != nil {
			b.lgr.Warn("publish levels event failed", logger.Error(err))
		}
	}
	return nil
}

// Restore loads the persisted snapshots of symbols into the cache.
func (b *LevelsBook) Restore(ctx context.Context, symbols []string) (int, error) {
	if b.repo == nil {
		return 0, nil
	}
	n := 0
	var failures []error
	for _, sym := range symbols {
		l, err := b.repo.Load(ctx, sym)
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", sym, err))
			continue
		}
		b.snaps.Set(levelsSnapKey(sym), l, levelsSnapshotTTL)
		n++
	}
	return n, errors.Join(failures...)
}

// View returns the levels of symbol with their zones and, when spot is
// known, the zone it currently occupies.
func (b *LevelsBook) View(symbol string, spot float64) (models.LevelsResponse, error) {
	l, ok := b.Get(symbol)
	if !ok {
		return models.LevelsResponse{}, fmt.Errorf("levels of %s: %w", strings.ToUpper(symbol), errs.ErrNotFound)
	}
	resp := models.LevelsResponse{
		Symbol:    l.Symbol,
		NetGEX:    l.NetGEX,
		UpdatedAt: l.UpdatedAt,
		Zones:     b.zones.Zones(l),
		LastPrice: spot,
	}
	if spot > 0 {
		if z, ok := b.zones.ActiveLevel(l, spot); ok {
			resp.Active = &z
		}
	}
	return resp, nil
}
