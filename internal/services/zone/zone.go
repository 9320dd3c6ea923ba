package zone

import "GammaScalp/internal/domain/models"

// Option configures the zone engine.
type Option func(*Engine)

// WithWidth sets the zone half-width as a fraction of the level price.
func WithWidth(pct float64) Option {
	return func(e *Engine) { e.width = pct }
}

// WithZeroGammaMultiplier sets how much wider the zero-gamma zone is.
func WithZeroGammaMultiplier(m float64) Option {
	return func(e *Engine) { e.zeroGammaMult = m }
}

// Engine maps gamma levels onto price zones.
type Engine struct {
	width         float64
	zeroGammaMult float64
}

func New(opts ...Option) *Engine {
	e := &Engine{width: 0.0015, zeroGammaMult: 2}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ZoneOf returns [price*(1-width), price*(1+width)].
func ZoneOf(level models.Level, width float64) models.Zone {
	return models.Zone{
		Level: level,
		Lower: level.Price * (1 - width),
		Upper: level.Price * (1 + width),
	}
}

// Width returns the width used for a level kind.
func (e *Engine) Width(kind models.LevelKind) float64 {
	if kind == models.ZeroGamma {
		return e.width * e.zeroGammaMult
	}
	return e.width
}

// Zone builds the zone for a level using the width for its kind.
func (e *Engine) Zone(level models.Level) models.Zone {
	return ZoneOf(level, e.Width(level.Kind))
}

// Zones returns every configured level's zone in precedence order:
// put wall, call wall, zero gamma.
func (e *Engine) Zones(levels models.GammaLevels) []models.Zone {
	ordered := levels.Ordered()
	out := make([]models.Zone, 0, len(ordered))
	for _, l := range ordered {
		out = append(out, e.Zone(l))
	}
	return out
}

// ActiveLevel returns the first zone in precedence order containing spot.
// Overlapping zones still yield a single result.
func (e *Engine) ActiveLevel(levels models.GammaLevels, spot float64) (models.Zone, bool) {
	for _, z := range e.Zones(levels) {
		if z.Contains(spot) {
			return z, true
		}
	}
	return models.Zone{}, false
}
