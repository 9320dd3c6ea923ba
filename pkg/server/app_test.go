package server

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type journal struct{ steps []string }

func (j *journal) add(s string) { j.steps = append(j.steps, s) }

type part struct {
	name     string
	j        *journal
	startErr error
	stopErr  error
}

func (p *part) Start(context.Context) error    { p.j.add("start " + p.name); return p.startErr }
func (p *part) Stop(context.Context) error     { p.j.add("stop " + p.name); return p.stopErr }
func (p *part) Shutdown(context.Context) error { p.j.add("stop " + p.name); return p.stopErr }
func (p *part) Close() error                   { p.j.add("close " + p.name); return nil }

func TestStartAndShutdownOrder(t *testing.T) {
	j := &journal{}
	app := New(nil, nil, &part{name: "engine", j: j},
		WithFeed(&part{name: "feed", j: j}),
		WithWorker("queue", &part{name: "queue", j: j}),
		WithWorker("monitor", &part{name: "monitor", j: j}),
		WithCloser("bus", &part{name: "bus", j: j}),
		WithCloser("journal", &part{name: "journal", j: j}),
		WithWarmup(func(context.Context) error { j.add("warmup"); return errors.New("cold") }),
	)

	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := app.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	want := "warmup,start engine,start queue,start monitor,start feed," +
		"stop feed,stop engine,stop monitor,stop queue,close bus,close journal"
	if got := strings.Join(j.steps, ","); got != want {
		t.Fatalf("order\n got %s\nwant %s", got, want)
	}
}

func TestStartFailsOnEngine(t *testing.T) {
	j := &journal{}
	app := New(nil, nil, &part{name: "engine", j: j, startErr: errors.New("locked")},
		WithFeed(&part{name: "feed", j: j}))
	err := app.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "engine start") {
		t.Fatalf("err = %v", err)
	}
	for _, s := range j.steps {
		if s == "start feed" {
			t.Fatalf("feed started after engine failure")
		}
	}
}

func TestShutdownJoinsFailures(t *testing.T) {
	j := &journal{}
	app := New(nil, nil, &part{name: "engine", j: j, stopErr: errors.New("flatten")},
		WithWorker("queue", &part{name: "queue", j: j, stopErr: errors.New("busy")}),
		WithCloser("bus", &part{name: "bus", j: j}))
	err := app.Shutdown(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "engine: flatten") || !strings.Contains(err.Error(), "queue: busy") {
		t.Fatalf("err = %v", err)
	}
	if j.steps[len(j.steps)-1] != "close bus" {
		t.Fatalf("closers skipped: %v", j.steps)
	}
}
