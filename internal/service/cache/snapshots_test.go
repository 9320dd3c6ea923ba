package cache

import (
	"testing"
	"time"
)

func TestSnapshotsAgeAndExpiry(t *testing.T) {
	now := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	c := NewSnapshots()
	c.SetClock(func() time.Time { return now })

	c.Set("bias", 42, time.Minute)
	now = now.Add(30 * time.Second)
	v, age, ok := Load[int](c, "bias")
	if !ok || v != 42 {
		t.Fatalf("want 42, got %v %v", v, ok)
	}
	if age != 30*time.Second {
		t.Fatalf("age = %v", age)
	}

	now = now.Add(time.Minute)
	if _, _, ok := c.Get("bias"); ok {
		t.Fatalf("expected expiry")
	}
}

func TestSnapshotsTypedMiss(t *testing.T) {
	c := NewSnapshots()
	c.Set("k", "text", 0)
	if _, _, ok := Load[int](c, "k"); ok {
		t.Fatalf("type mismatch must miss")
	}
	if got := c.Keys(); len(got) != 1 || got[0] != "k" {
		t.Fatalf("keys = %v", got)
	}
	c.Delete("k")
	if len(c.Keys()) != 0 {
		t.Fatalf("expected empty")
	}
}
