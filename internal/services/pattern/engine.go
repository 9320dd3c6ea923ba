package pattern

import (
	"fmt"
	"math"
	"sort"
	"time"

	"GammaScalp/internal/domain/models"
)

// Transition is the outcome of applying one candle to one pattern.
type Transition uint8

const (
	NoChange Transition = iota
	Mitigated
	Inverted
)

func (t Transition) String() string {
	switch t {
	case Mitigated:
		return "mitigated"
	case Inverted:
		return "inverted"
	default:
		return "none"
	}
}

// Change records a pattern transition produced by an update.
type Change struct {
	Pattern    models.Pattern
	Transition Transition
	PrevType   models.PatternType
}

// Update summarises one candle applied to a Book.
type Update struct {
	Skipped  bool
	Detected *models.Pattern
	Evicted  *models.Pattern
	Changes  []Change
	Pruned   int
}

// Inversions returns the patterns inverted by this update.
func (u Update) Inversions() []models.Pattern {
	var out []models.Pattern
	for _, c := range u.Changes {
		if c.Transition == Inverted {
			out = append(out, c.Pattern)
		}
	}
	return out
}

// Dirty reports whether the book changed and needs persisting.
func (u Update) Dirty() bool {
	return u.Detected != nil || len(u.Changes) > 0 || u.Pruned > 0
}

// Engine detects gaps and drives their lifecycle. It holds no per-symbol
// state; that lives in Book.
type Engine struct {
	cfg Config
}

// New creates a pattern engine.
func New(opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) Config() Config { return e.cfg }

// Detect checks three consecutive candles (oldest first) for a gap.
// The returned pattern has no sequence yet; the ring assigns it.
func (e *Engine) Detect(symbol string, c [3]models.Candle) (models.Pattern, bool) {
	c0, c1, c2 := c[0], c[1], c[2]
	if c1.Close <= 0 {
		return models.Pattern{}, false
	}

	var p models.Pattern
	switch {
	case c0.Low > c2.High:
		p = models.Pattern{Top: c0.Low, Bottom: c2.High, Type: models.PatternBullish}
	case c0.High < c2.Low:
		p = models.Pattern{Top: c2.Low, Bottom: c0.High, Type: models.PatternBearish}
	default:
		return models.Pattern{}, false
	}

	if (p.Top-p.Bottom)/c1.Close <= e.cfg.MinGapPct {
		return models.Pattern{}, false
	}

	p.Symbol = symbol
	p.Status = models.PatternOpen
	p.CreatedAt = c2.Timestamp
	p.UpdatedAt = c2.Timestamp
	return p, true
}

// ApplyCandle evaluates one candle against p. Inversion is checked before
// mitigation and at most one transition fires. Inverted patterns never change.
func ApplyCandle(p *models.Pattern, c models.Candle) Transition {
	switch p.Status {
	case models.PatternInverted:
		return NoChange
	case models.PatternOpen, models.PatternMitigated:
	default:
		return NoChange
	}

	switch p.Type {
	case models.PatternBearish:
		if c.Close > p.Top {
			p.Status = models.PatternInverted
			p.Type = models.PatternBullish
			p.UpdatedAt = c.Timestamp
			return Inverted
		}
	case models.PatternBullish:
		if c.Close < p.Bottom {
			p.Status = models.PatternInverted
			p.Type = models.PatternBearish
			p.UpdatedAt = c.Timestamp
			return Inverted
		}
	}

	if p.Status == models.PatternOpen && (p.Contains(c.Low) || p.Contains(c.High)) {
		p.Status = models.PatternMitigated
		p.UpdatedAt = c.Timestamp
		return Mitigated
	}
	return NoChange
}

// FindNearest returns the pattern whose midpoint is closest to price.
// Open and mitigated patterns are always candidates; inverted ones only when
// includeInverted is set. When types is non-empty only those types match.
// Ties go to the earliest created pattern.
func FindNearest(patterns []models.Pattern, price float64, includeInverted bool, types ...models.PatternType) (models.Pattern, bool) {
	var (
		best  models.Pattern
		found bool
		dist  = math.Inf(1)
	)
	for _, p := range byCreation(patterns) {
		if p.Status == models.PatternInverted && !includeInverted {
			continue
		}
		if len(types) > 0 && !hasType(types, p.Type) {
			continue
		}
		if d := math.Abs(price - p.Midpoint()); d < dist {
			best, dist, found = p, d, true
		}
	}
	return best, found
}

// FindAtLevel returns the first pattern, by creation order, whose range
// widened by level*tolerancePct on both sides contains level.
func FindAtLevel(patterns []models.Pattern, level, tolerancePct float64) (models.Pattern, bool) {
	tol := level * tolerancePct
	for _, p := range byCreation(patterns) {
		if level >= p.Bottom-tol && level <= p.Top+tol {
			return p, true
		}
	}
	return models.Pattern{}, false
}

// Prune drops patterns created before now-maxAge.
func Prune(patterns []models.Pattern, now time.Time, maxAge time.Duration) []models.Pattern {
	cutoff := now.Add(-maxAge)
	out := make([]models.Pattern, 0, len(patterns))
	for _, p := range patterns {
		if !p.CreatedAt.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out
}

// Book is one symbol's pattern ring plus its last three candles.
// A Book is owned by a single goroutine.
type Book struct {
	Symbol string
	ring   *Ring
	window []models.Candle
}

// NewBook creates an empty book sized from the engine config.
func (e *Engine) NewBook(symbol string) *Book {
	return &Book{Symbol: symbol, ring: NewRing(e.cfg.Capacity), window: make([]models.Candle, 0, 3)}
}

// Patterns returns the book's patterns, oldest first.
func (b *Book) Patterns() []models.Pattern { return b.ring.All() }

func (b *Book) Len() int { return b.ring.Len() }

// LastCandle returns the most recent candle applied.
func (b *Book) LastCandle() (models.Candle, bool) {
	if len(b.window) == 0 {
		return models.Candle{}, false
	}
	return b.window[len(b.window)-1], true
}

// Restore loads persisted patterns into the book.
func (b *Book) Restore(patterns []models.Pattern) { b.ring.Restore(patterns) }

// Prime seeds the candle window, oldest first, without detecting or
// transitioning anything. Only the last three candles are kept.
func (b *Book) Prime(candles []models.Candle) {
	if len(candles) > 3 {
		candles = candles[len(candles)-3:]
	}
	b.window = append(b.window[:0], candles...)
}

// Clone copies the book so an update can be staged and discarded.
func (b *Book) Clone() *Book {
	return &Book{
		Symbol: b.Symbol,
		ring:   b.ring.Clone(),
		window: append(make([]models.Candle, 0, 3), b.window...),
	}
}

// Apply runs one candle through the book: existing patterns transition
// first, then the new three-candle window is checked for a gap, then
// patterns older than MaxAge (relative to the candle time) are pruned.
// A candle not newer than the last one is skipped.
func (e *Engine) Apply(b *Book, c models.Candle) Update {
	if last, ok := b.LastCandle(); ok && !c.Timestamp.After(last.Timestamp) {
		return Update{Skipped: true}
	}

	var u Update
	for i := 0; i < b.ring.Len(); i++ {
		p := b.ring.At(i)
		prevType := p.Type
		if tr := ApplyCandle(p, c); tr != NoChange {
			u.Changes = append(u.Changes, Change{Pattern: *p, Transition: tr, PrevType: prevType})
		}
	}

	if len(b.window) == 3 {
		b.window = append(b.window[:0], b.window[1:]...)
	}
	b.window = append(b.window, c)

	if len(b.window) == 3 {
		if p, ok := e.Detect(b.Symbol, [3]models.Candle{b.window[0], b.window[1], b.window[2]}); ok {
			p.ID = fmt.Sprintf("%s-%d-%d", b.Symbol, c.Timestamp.Unix(), b.ring.NextSeq())
			if ev, evicted := b.ring.Push(p); evicted {
				u.Evicted = &ev
			}
			created := *b.ring.At(b.ring.Len() - 1)
			u.Detected = &created
		}
	}

	if e.cfg.MaxAge > 0 {
		cutoff := c.Timestamp.Add(-e.cfg.MaxAge)
		u.Pruned = b.ring.Retain(func(p models.Pattern) bool { return !p.CreatedAt.Before(cutoff) })
	}
	return u
}

func byCreation(patterns []models.Pattern) []models.Pattern {
	sorted := append([]models.Pattern(nil), patterns...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].Seq < sorted[j].Seq
	})
	return sorted
}

func hasType(types []models.PatternType, t models.PatternType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}
