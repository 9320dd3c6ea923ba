// Package bias derives the daily directional permission from news
// sentiment and the price trend.
package bias

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"GammaScalp/internal/domain/errs"
	"GammaScalp/internal/domain/models"
	"GammaScalp/internal/domain/repository"
	domsvc "GammaScalp/internal/domain/service"
	icache "GammaScalp/internal/service/cache"
	"GammaScalp/pkg/logger"
)

const (
	BullishThreshold = 30
	BearishThreshold = -30
	trendWeight      = 10
	snapshotKey      = "bias"
)

// MacroKeywords mark a scheduled macro event. Any match means no trading.
var MacroKeywords = []string{
	"FOMC", "Fed", "CPI", "NFP", "Non-Farm", "Powell",
	"rate decision", "inflation report", "employment report",
}

var validate = validator.New()

// MacroEvent returns the first macro keyword found in the headlines.
func MacroEvent(headlines []string) (string, bool) {
	for _, h := range headlines {
		lh := strings.ToLower(h)
		for _, k := range MacroKeywords {
			if strings.Contains(lh, strings.ToLower(k)) {
				return k, true
			}
		}
	}
	return "", false
}

// Classify combines the sentiment with the MA20 trend into a score and a bias.
func Classify(sentiment int, price, ma20 float64) (int, models.Bias) {
	if sentiment > 100 {
		sentiment = 100
	}
	if sentiment < -100 {
		sentiment = -100
	}
	score := sentiment - trendWeight
	if price > ma20 {
		score = sentiment + trendWeight
	}
	switch {
	case score > BullishThreshold:
		return score, models.BiasBullish
	case score < BearishThreshold:
		return score, models.BiasBearish
	default:
		return score, models.BiasNeutral
	}
}

func vixNote(vix float64) string {
	switch {
	case vix > 25:
		return fmt.Sprintf("elevated volatility (VIX %.1f)", vix)
	case vix > 0 && vix < 15:
		return fmt.Sprintf("low volatility (VIX %.1f)", vix)
	default:
		return ""
	}
}

// Engine computes, caches and persists the daily bias.
type Engine struct {
	scorer  domsvc.SentimentScorer
	repo    repository.BiasRepository
	snaps   *icache.Snapshots
	lgr     *logger.Logger
	timeout time.Duration
	now     func() time.Time
}

type Option func(*Engine)

// WithTimeout bounds one scoring call.
func WithTimeout(d time.Duration) Option { return func(e *Engine) { e.timeout = d } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New builds the engine. repo may be nil.
func New(scorer domsvc.SentimentScorer, repo repository.BiasRepository, snaps *icache.Snapshots, lgr *logger.Logger, opts ...Option) *Engine {
	if snaps == nil {
		snaps = icache.NewSnapshots()
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	e := &Engine{
		scorer:  scorer,
		repo:    repo,
		snaps:   snaps,
		lgr:     lgr.With(logger.String("component", "bias")),
		timeout: 5 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Current returns the bias of date, no-trade when none is known.
func (e *Engine) Current(date string) models.MarketBias {
	if b, ok := e.cached(date); ok {
		return b
	}
	return models.MarketBias{Date: date, Direction: models.BiasNoTrade, Rationale: "bias unavailable"}
}

func (e *Engine) cached(date string) (models.MarketBias, bool) {
	b, _, ok := icache.Load[models.MarketBias](e.snaps, snapshotKey)
	if !ok || b.Date != date {
		return models.MarketBias{}, false
	}
	return b, true
}

// Restore loads the persisted bias of date into the cache.
func (e *Engine) Restore(ctx context.Context, date string) (models.MarketBias, bool, error) {
	if e.repo == nil {
		return models.MarketBias{}, false, nil
	}
	b, err := e.repo.Load(ctx, date)
	if errors.Is(err, errs.ErrNotFound) {
		return models.MarketBias{}, false, nil
	}
	if err != nil {
		return models.MarketBias{}, false, fmt.Errorf("load bias: %w", err)
	}
	e.snaps.Set(snapshotKey, b, 0)
	return b, true, nil
}

// Update recomputes the bias of date. When the scorer fails the cached bias
// of the same date is kept, otherwise the bias becomes no-trade; both cases
// return a TransientError alongside the bias in force.
func (e *Engine) Update(ctx context.Context, date string, in models.BiasInput) (models.MarketBias, error) {
	if err := validate.Struct(in); err != nil {
		return e.Current(date), errs.Validation("bias input", "%v", err)
	}

	b := models.MarketBias{
		Date:      date,
		VIX:       in.VIX,
		AboveMA20: in.Price > in.MA20,
		UpdatedAt: e.now(),
	}

	if k, ok := MacroEvent(in.Headlines); ok {
		b.MacroDay = true
		b.Direction = models.BiasNoTrade
		b.Rationale = "macro event: " + k
		return b, e.store(ctx, b)
	}

	sctx, cancel := context.WithTimeout(ctx, e.timeout)
	sentiment, why, err := e.scorer.Score(sctx, in.Headlines)
	cancel()
	if err != nil {
		terr := errs.Transient("sentiment", err)
		if prev, ok := e.cached(date); ok {
			e.lgr.Warn("sentiment unavailable, keeping cached bias",
				logger.String("bias", prev.Direction.String()), logger.Error(err))
			return prev, terr
		}
		b.Direction = models.BiasNoTrade
		b.Rationale = "sentiment unavailable"
		e.lgr.Warn("sentiment unavailable, no cached bias", logger.Error(err))
		if serr := e.store(ctx, b); serr != nil {
			return b, errors.Join(terr, serr)
		}
		return b, terr
	}

	b.Score, b.Direction = Classify(sentiment, in.Price, in.MA20)
	notes := []string{}
	if why != "" {
		notes = append(notes, why)
	}
	if b.AboveMA20 {
		notes = append(notes, "price above MA20")
	} else {
		notes = append(notes, "price below MA20")
	}
	if n := vixNote(in.VIX); n != "" {
		notes = append(notes, n)
	}
	b.Rationale = strings.Join(notes, "; ")
	return b, e.store(ctx, b)
}

func (e *Engine) store(ctx context.Context, b models.MarketBias) error {
	e.snaps.Set(snapshotKey, b, 0)
	e.lgr.Info("bias updated",
		logger.String("date", b.Date),
		logger.String("bias", b.Direction.String()),
		logger.Int("score", b.Score),
		logger.String("rationale", b.Rationale))
	if e.repo == nil {
		return nil
	}
	if err := e.repo.Save(ctx, b); err != nil {
		return errs.Consistency("save bias", err)
	}
	return nil
}
