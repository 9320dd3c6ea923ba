package util

import (
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// Session is the regular entry window in the exchange time zone.
type Session struct {
	Loc   *time.Location
	Open  time.Duration // offset from midnight
	Close time.Duration
}

// NewSession parses "HH:MM" bounds in the named zone.
func NewSession(zone, open, close string) (*Session, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", zone, err)
	}
	o, err := clockOffset(open)
	if err != nil {
		return nil, err
	}
	c, err := clockOffset(close)
	if err != nil {
		return nil, err
	}
	if c <= o {
		return nil, fmt.Errorf("session close %s must be after open %s", close, open)
	}
	return &Session{Loc: loc, Open: o, Close: c}, nil
}

// Date returns the trading date of t as YYYY-MM-DD in the session zone.
func (s *Session) Date(t time.Time) string {
	return t.In(s.Loc).Format(DateLayout)
}

// Contains reports whether t falls in [open, close) on its own day.
func (s *Session) Contains(t time.Time) bool {
	local := t.In(s.Loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.Loc)
	off := local.Sub(midnight)
	return off >= s.Open && off < s.Close
}

// OpenAt returns the session open on t's trading date.
func (s *Session) OpenAt(t time.Time) time.Time {
	local := t.In(s.Loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.Loc).Add(s.Open)
}

func clockOffset(hhmm string) (time.Duration, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", hhmm, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
