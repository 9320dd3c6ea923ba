package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got, ok := ParseTime(strconv.FormatInt(ts.Unix(), 10))
	if !ok || got.Unix() != ts.Unix() {
		t.Fatalf("unexpected unix %v", got)
	}
	got, ok = ParseTime(strconv.FormatInt(ts.UnixMilli(), 10))
	if !ok || !got.Equal(ts) {
		t.Fatalf("unexpected unix millis %v", got)
	}
}

func TestParseTimeRejects(t *testing.T) {
	for _, s := range []string{"", "yesterday", "-5", "0"} {
		if _, ok := ParseTime(s); ok {
			t.Fatalf("ParseTime(%q) should fail", s)
		}
	}
}

func TestSessionWindow(t *testing.T) {
	s, err := NewSession("America/New_York", "10:00", "16:00")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}
	// 14:30 UTC in March (EDT) is 10:30 New York
	in := time.Date(2024, 3, 20, 14, 30, 0, 0, time.UTC)
	if !s.Contains(in) {
		t.Fatalf("expected %v inside session", in)
	}
	if s.Contains(in.Add(-time.Hour)) {
		t.Fatalf("09:30 local should be outside the entry window")
	}
	if s.Contains(time.Date(2024, 3, 20, 20, 0, 0, 0, time.UTC)) {
		t.Fatalf("16:00 local is the close, exclusive")
	}
	// 02:00 UTC on the 21st is still the 20th in New York
	if d := s.Date(time.Date(2024, 3, 21, 2, 0, 0, 0, time.UTC)); d != "2024-03-20" {
		t.Fatalf("trading date %s", d)
	}
	if _, err := NewSession("UTC", "16:00", "10:00"); err == nil {
		t.Fatalf("inverted bounds should fail")
	}
}
