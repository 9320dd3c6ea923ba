package clickhouse

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(ClientConfig{
		Host: "ch", Port: 9000, Database: "gammascalp", User: "u", Password: "p@ss",
		DialTimeout: 5 * time.Second, AsyncInsert: true, WaitForAsync: true,
	})
	if !strings.HasPrefix(dsn, "clickhouse://u:p%40ss@ch:9000/gammascalp?") {
		t.Fatalf("unexpected dsn %s", dsn)
	}
	for _, want := range []string{"dial_timeout=5s", "async_insert=1", "wait_for_async_insert=1"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("dsn %s missing %s", dsn, want)
		}
	}
}

func TestNewClientRequiresHost(t *testing.T) {
	if _, err := NewClient(context.Background()); err == nil {
		t.Fatalf("expected error without host")
	}
}
