package signal

import (
	"time"

	"GammaScalp/internal/domain/models"
	"GammaScalp/internal/service/ratelimit"
	"GammaScalp/internal/services/pattern"
	"GammaScalp/internal/services/zone"
)

// Suppression reasons reported in Result.
const (
	SuppressedBias     = "bias"
	SuppressedCooldown = "cooldown"
)

// Input is everything one candle evaluation needs.
type Input struct {
	Candle     models.Candle
	Levels     models.GammaLevels
	Bias       models.Bias
	Inversions []models.Pattern // patterns inverted by this candle
}

// Result reports what one evaluation did to the tracker.
type Result struct {
	Signal     *models.EntrySignal
	Swept      []models.SweepRecord
	Rearmed    []models.LevelKind
	Suppressed []Suppression
}

// Suppression is a confirmation that did not emit.
type Suppression struct {
	Level     models.Level
	Direction models.Direction
	Variant   models.Variant
	Reason    string
}

// Engine runs the sweep/confirmation state machine. The cool-down is shared
// by every symbol evaluated through the same Engine.
type Engine struct {
	cfg      Config
	zones    *zone.Engine
	cooldown *ratelimit.Cooldown
}

func New(zones *zone.Engine, opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{cfg: cfg, zones: zones, cooldown: ratelimit.NewCooldown(cfg.Cooldown)}
}

func (e *Engine) Config() Config { return e.cfg }

// CooldownRemaining reports how long signal emission stays blocked.
func (e *Engine) CooldownRemaining(now time.Time) time.Duration {
	return e.cooldown.Remaining(now)
}

// ReleaseCooldown reopens the cool-down taken by a signal on the candle at
// at, for a signal that could not be acted on.
func (e *Engine) ReleaseCooldown(at time.Time) {
	e.cooldown.Release(at)
}

// Evaluate advances the tracker by one candle. Levels are visited in zone
// precedence and at most one signal is emitted; later levels still update
// their sweep records. Callers that may fail to act on the signal evaluate
// a Clone and keep the original on failure.
func (e *Engine) Evaluate(tr *Tracker, in Input) Result {
	var res Result
	c := in.Candle

	for _, z := range e.zones.Zones(in.Levels) {
		kind := z.Level.Kind
		rec, swept := tr.sweeps[kind]

		if swept && e.cfg.SweepExpiry > 0 && c.Timestamp.Sub(rec.At) > e.cfg.SweepExpiry {
			delete(tr.sweeps, kind)
			res.Rearmed = append(res.Rearmed, kind)
			swept = false
		}

		if !swept {
			if r, ok := e.sweep(tr.Symbol, z, c); ok {
				tr.sweeps[kind] = &r
				res.Swept = append(res.Swept, r)
			}
			continue
		}

		if rec.Direction == models.Long {
			rec.Extreme = min(rec.Extreme, c.Low)
		} else {
			rec.Extreme = max(rec.Extreme, c.High)
		}

		if brokeThrough(rec.Direction, z, c) {
			delete(tr.sweeps, kind)
			res.Rearmed = append(res.Rearmed, kind)
			continue
		}

		if res.Signal != nil {
			continue
		}

		sig, ok := e.confirm(*rec, z, c, in)
		if !ok {
			continue
		}

		if !in.Bias.Allows(sig.Direction) {
			delete(tr.sweeps, kind)
			res.Suppressed = append(res.Suppressed, Suppression{Level: z.Level, Direction: sig.Direction, Variant: sig.Variant, Reason: SuppressedBias})
			continue
		}
		if !e.cooldown.TryAt(c.Timestamp) {
			res.Suppressed = append(res.Suppressed, Suppression{Level: z.Level, Direction: sig.Direction, Variant: sig.Variant, Reason: SuppressedCooldown})
			continue
		}

		delete(tr.sweeps, kind)
		res.Signal = &sig
	}
	return res
}

// sweep opens a record when the candle trades into the zone from the
// setup side without closing through it.
func (e *Engine) sweep(symbol string, z models.Zone, c models.Candle) (models.SweepRecord, bool) {
	dir := setupDirection(z.Level, c)
	rec := models.SweepRecord{Symbol: symbol, Level: z.Level, Direction: dir, At: c.Timestamp}

	switch dir {
	case models.Long:
		if c.Low < z.Upper && c.Close >= z.Lower {
			rec.Extreme = c.Low
			return rec, true
		}
	case models.Short:
		if c.High > z.Lower && c.Close <= z.Upper {
			rec.Extreme = c.High
			return rec, true
		}
	}
	return models.SweepRecord{}, false
}

// confirm checks the IFVG flip first, then the sweep and reclaim.
func (e *Engine) confirm(rec models.SweepRecord, z models.Zone, c models.Candle, in Input) (models.EntrySignal, bool) {
	want := models.PatternBullish
	if rec.Direction == models.Short {
		want = models.PatternBearish
	}

	matching := make([]models.Pattern, 0, len(in.Inversions))
	for _, p := range in.Inversions {
		if p.Status == models.PatternInverted && p.Type == want {
			matching = append(matching, p)
		}
	}
	if p, ok := pattern.FindAtLevel(matching, z.Level.Price, e.cfg.IFVGTolerance); ok {
		anchor := p.Bottom
		if rec.Direction == models.Short {
			anchor = p.Top
		}
		sig := e.build(rec, c, in.Levels, anchor, models.IFVGFlip, models.ConfidenceHigh)
		sig.PatternID = p.ID
		return sig, true
	}

	if c.BodyPct() <= e.cfg.MinBodyPct {
		return models.EntrySignal{}, false
	}
	switch rec.Direction {
	case models.Long:
		if c.Close > z.Upper && c.IsBullish() {
			return e.build(rec, c, in.Levels, rec.Extreme, models.SweepReclaim, models.ConfidenceNormal), true
		}
	case models.Short:
		if c.Close < z.Lower && c.IsBearish() {
			return e.build(rec, c, in.Levels, rec.Extreme, models.SweepReclaim, models.ConfidenceNormal), true
		}
	}
	return models.EntrySignal{}, false
}

// build prices the signal: stop beyond the anchor by the buffer, clamped to
// the maximum stop distance, tp1 a fixed distance away and tp2 the nearest
// opposing wall beyond entry.
func (e *Engine) build(rec models.SweepRecord, c models.Candle, levels models.GammaLevels, anchor float64, v models.Variant, conf models.Confidence) models.EntrySignal {
	entry := c.Close
	sign := rec.Direction.Sign()

	stop := anchor - sign*entry*e.cfg.StopBuffer
	if sign*(entry-stop)/entry > e.cfg.MaxStopPct || sign*(entry-stop) <= 0 {
		stop = entry * (1 - sign*e.cfg.MaxStopPct)
	}

	var tp2 float64
	switch rec.Direction {
	case models.Long:
		if levels.CallWall > entry {
			tp2 = levels.CallWall
		}
	case models.Short:
		if levels.PutWall > 0 && levels.PutWall < entry {
			tp2 = levels.PutWall
		}
	}

	return models.EntrySignal{
		Symbol:     rec.Symbol,
		Direction:  rec.Direction,
		Variant:    v,
		Entry:      entry,
		Stop:       stop,
		TP1:        entry * (1 + sign*e.cfg.TP1Pct),
		TP2:        tp2,
		Confidence: conf,
		Level:      rec.Level,
		CandleTime: c.Timestamp,
	}
}

// setupDirection: put wall is support, call wall is resistance, zero gamma
// takes the side the candle opened on.
func setupDirection(l models.Level, c models.Candle) models.Direction {
	switch l.Kind {
	case models.PutWall:
		return models.Long
	case models.CallWall:
		return models.Short
	default:
		if c.Open >= l.Price {
			return models.Long
		}
		return models.Short
	}
}

func brokeThrough(d models.Direction, z models.Zone, c models.Candle) bool {
	if d == models.Long {
		return c.Close < z.Lower
	}
	return c.Close > z.Upper
}
