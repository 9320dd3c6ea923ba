package cache

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"
)

type sample struct {
	ID    string  `json:"id"`
	Price float64 `json:"price"`
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	in := sample{ID: "a", Price: 501.25}
	if err := mc.Set(ctx, "trade:a", in, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var out sample
	if err := mc.Get(ctx, "trade:a", &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out != in {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}

	var s string
	if err := mc.Set(ctx, "raw", "hello", 0); err != nil {
		t.Fatalf("set raw: %v", err)
	}
	if err := mc.Get(ctx, "raw", &s); err != nil || s != "hello" {
		t.Fatalf("raw string = %q, %v", s, err)
	}

	if err := mc.Get(ctx, "missing", &out); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "k", 1, 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)
	var v int
	if err := mc.Get(ctx, "k", &v); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expired key to miss, got %v", err)
	}
}

func TestMemoryCacheMSetAndMGet(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	err := mc.MSet(ctx, map[string]interface{}{
		"a": sample{ID: "a"},
		"b": sample{ID: "b"},
	}, time.Minute)
	if err != nil {
		t.Fatalf("mset: %v", err)
	}
	typed, err := MGetTyped[sample](ctx, mc, "a", "b", "c")
	if err != nil {
		t.Fatalf("mget: %v", err)
	}
	if len(typed) != 2 || typed["b"].ID != "b" {
		t.Fatalf("unexpected mget result %+v", typed)
	}

	err = mc.MSet(ctx, map[string]interface{}{
		"x": sample{ID: "x"},
		"y": func() {},
	}, time.Minute)
	if err == nil {
		t.Fatal("expected encode error")
	}
	if ok, _ := mc.Exists(ctx, "x"); ok {
		t.Fatal("failed MSet must not write any key")
	}
}

func TestMemoryCacheLists(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := mc.ListAppend(ctx, "events", sample{ID: string(rune('a' + i))}, time.Minute); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	all, err := ListRangeTyped[sample](ctx, mc, "events", 0, -1)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(all) != 5 || all[0].ID != "a" || all[4].ID != "e" {
		t.Fatalf("unexpected list %+v", all)
	}
	tail, _ := ListRangeTyped[sample](ctx, mc, "events", -2, -1)
	if len(tail) != 2 || tail[0].ID != "d" {
		t.Fatalf("unexpected tail %+v", tail)
	}
	empty, _ := mc.ListRange(ctx, "nothing", 0, -1)
	if len(empty) != 0 {
		t.Fatalf("expected empty list, got %v", empty)
	}
}

func TestMemoryCacheKeysByPrefixAndLock(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "levels:SPY", 1, 0)
	_ = mc.Set(ctx, "levels:QQQ", 1, 0)
	_ = mc.Set(ctx, "bias:2024-01-02", 1, 0)

	keys, _ := mc.KeysByPrefix(ctx, "levels:")
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "levels:QQQ" {
		t.Fatalf("unexpected keys %v", keys)
	}

	ok, _ := mc.TryLock(ctx, "engine:lock", time.Minute)
	if !ok {
		t.Fatal("first lock should succeed")
	}
	ok, _ = mc.TryLock(ctx, "engine:lock", time.Minute)
	if ok {
		t.Fatal("second lock should fail")
	}
	_ = mc.Unlock(ctx, "engine:lock")
	ok, _ = mc.TryLock(ctx, "engine:lock", time.Minute)
	if !ok {
		t.Fatal("lock after unlock should succeed")
	}
}

func TestMemoryCacheIncrement(t *testing.T) {
	mc := NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := mc.Increment(ctx, "seq")
		if err != nil || got != want {
			t.Fatalf("increment = %d, %v; want %d", got, err, want)
		}
	}
}

func TestOpenMemoryMode(t *testing.T) {
	st, err := Open(nil, WithStoreMode(ModeMemory))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	if !st.Degraded || st.Mode != ModeMemory {
		t.Fatalf("memory store should be flagged degraded: %+v", st)
	}
	if _, err := Open(nil, WithStoreMode("etcd")); err == nil {
		t.Fatal("unknown mode should fail")
	}
}

func TestNormalizeRange(t *testing.T) {
	cases := []struct {
		n           int
		start, stop int64
		lo, hi      int
	}{
		{5, 0, -1, 0, 5},
		{5, -2, -1, 3, 5},
		{5, 3, 100, 3, 5},
		{5, 4, 2, 0, 0},
		{0, 0, -1, 0, 0},
	}
	for _, c := range cases {
		lo, hi := normalizeRange(c.n, c.start, c.stop)
		if lo != c.lo || hi != c.hi {
			t.Fatalf("normalizeRange(%d,%d,%d) = %d,%d want %d,%d", c.n, c.start, c.stop, lo, hi, c.lo, c.hi)
		}
	}
}
