package models

import "time"

// PatternType is the directional tag of a gap.
type PatternType uint8

const (
	PatternBullish PatternType = iota
	PatternBearish
)

var patternTypeNames = []string{"bullish", "bearish"}

func (t PatternType) String() string { return enumName(patternTypeNames, int(t)) }

func (t PatternType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *PatternType) UnmarshalText(b []byte) error {
	i, err := parseEnum("pattern type", patternTypeNames, b)
	if err != nil {
		return err
	}
	*t = PatternType(i)
	return nil
}

// Opposite returns the flipped type.
func (t PatternType) Opposite() PatternType {
	switch t {
	case PatternBullish:
		return PatternBearish
	case PatternBearish:
		return PatternBullish
	default:
		panic("pattern: invalid type")
	}
}

// Direction maps the tag to the trade direction it supports.
func (t PatternType) Direction() Direction {
	switch t {
	case PatternBullish:
		return Long
	case PatternBearish:
		return Short
	default:
		panic("pattern: invalid type")
	}
}

// PatternStatus is the lifecycle state of a gap. Inverted is terminal.
type PatternStatus uint8

const (
	PatternOpen PatternStatus = iota
	PatternMitigated
	PatternInverted
)

var patternStatusNames = []string{"open", "mitigated", "inverted"}

func (s PatternStatus) String() string { return enumName(patternStatusNames, int(s)) }

func (s PatternStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *PatternStatus) UnmarshalText(b []byte) error {
	i, err := parseEnum("pattern status", patternStatusNames, b)
	if err != nil {
		return err
	}
	*s = PatternStatus(i)
	return nil
}

// Pattern is a fair value gap tracked for one symbol.
// Seq is the creation order inside the symbol's book and breaks ties.
type Pattern struct {
	ID        string        `json:"id"`
	Symbol    string        `json:"symbol"`
	Seq       uint64        `json:"seq"`
	Top       float64       `json:"top"`
	Bottom    float64       `json:"bottom"`
	Type      PatternType   `json:"type"`
	Status    PatternStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Midpoint of the gap.
func (p Pattern) Midpoint() float64 { return (p.Top + p.Bottom) / 2 }

// Contains reports whether price lies inside [Bottom, Top].
func (p Pattern) Contains(price float64) bool { return price >= p.Bottom && price <= p.Top }

// IsTerminal reports the inverted state.
func (p Pattern) IsTerminal() bool { return p.Status == PatternInverted }
