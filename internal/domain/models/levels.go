package models

import "time"

// LevelKind names the gamma level a zone is built from.
type LevelKind uint8

const (
	PutWall LevelKind = iota
	CallWall
	ZeroGamma
)

var levelKindNames = []string{"put_wall", "call_wall", "zero_gamma"}

func (k LevelKind) String() string { return enumName(levelKindNames, int(k)) }

func (k LevelKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *LevelKind) UnmarshalText(b []byte) error {
	i, err := parseEnum("level kind", levelKindNames, b)
	if err != nil {
		return err
	}
	*k = LevelKind(i)
	return nil
}

// Level is a scalar gamma price of a given kind.
type Level struct {
	Kind  LevelKind `json:"kind"`
	Price float64   `json:"price"`
}

// Zone is the band [Lower, Upper] around a level.
type Zone struct {
	Level Level   `json:"level"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Contains reports whether price lies inside the zone.
func (z Zone) Contains(price float64) bool { return price >= z.Lower && price <= z.Upper }

// GammaLevels is the options-derived level snapshot of a symbol. Zero prices are absent levels.
type GammaLevels struct {
	Symbol    string    `json:"symbol" validate:"required"`
	CallWall  float64   `json:"call_wall" validate:"gte=0"`
	PutWall   float64   `json:"put_wall" validate:"gte=0"`
	ZeroGamma float64   `json:"zero_gamma" validate:"gte=0"`
	NetGEX    float64   `json:"net_gex"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ordered returns the present levels in zone precedence: put wall, call wall, zero gamma.
func (g GammaLevels) Ordered() []Level {
	out := make([]Level, 0, 3)
	if g.PutWall > 0 {
		out = append(out, Level{Kind: PutWall, Price: g.PutWall})
	}
	if g.CallWall > 0 {
		out = append(out, Level{Kind: CallWall, Price: g.CallWall})
	}
	if g.ZeroGamma > 0 {
		out = append(out, Level{Kind: ZeroGamma, Price: g.ZeroGamma})
	}
	return out
}

// Get returns the level of a kind, if present.
func (g GammaLevels) Get(kind LevelKind) (Level, bool) {
	var p float64
	switch kind {
	case PutWall:
		p = g.PutWall
	case CallWall:
		p = g.CallWall
	case ZeroGamma:
		p = g.ZeroGamma
	}
	if p <= 0 {
		return Level{}, false
	}
	return Level{Kind: kind, Price: p}, true
}
