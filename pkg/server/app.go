package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"GammaScalp/pkg/cache"
	xhttp "GammaScalp/pkg/http"
	pkgkafka "GammaScalp/pkg/kafka"
	"GammaScalp/pkg/logger"
)

// Engine is the candle processor the app drains on shutdown.
type Engine interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Feed delivers closed candles to the engine.
type Feed interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Worker is a background loop started after the engine.
type Worker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type closer struct {
	name string
	c    io.Closer
}

// App encapsulates the entire application lifecycle.
type App struct {
	lgr      *logger.Logger
	store    *cache.Store
	engine   Engine
	feed     Feed
	http     *xhttp.Server
	workers  []namedWorker
	warmups  []func(ctx context.Context) error
	closers  []closer
	shutdown time.Duration
	signals  []os.Signal
}

type namedWorker struct {
	name string
	w    Worker
}

type Option func(*App)

// WithFeed sets the candle source.
func WithFeed(f Feed) Option { return func(a *App) { a.feed = f } }

// WithHTTP sets the API server.
func WithHTTP(s *xhttp.Server) Option { return func(a *App) { a.http = s } }

// WithWorker adds a loop started after the engine and stopped after the feed.
func WithWorker(name string, w Worker) Option {
	return func(a *App) {
		if w != nil {
			a.workers = append(a.workers, namedWorker{name: name, w: w})
		}
	}
}

// WithWarmup adds a step run before the engine starts. A failing step is
// logged and does not stop startup.
func WithWarmup(fn func(ctx context.Context) error) Option {
	return func(a *App) { a.warmups = append(a.warmups, fn) }
}

// WithCloser adds a resource closed after the drain, in registration order.
func WithCloser(name string, c io.Closer) Option {
	return func(a *App) {
		if c != nil {
			a.closers = append(a.closers, closer{name: name, c: c})
		}
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) { a.shutdown = d }
}

// New creates a new App instance with all dependencies.
func New(lgr *logger.Logger, store *cache.Store, engine Engine, opts ...Option) *App {
	if lgr == nil {
		lgr = logger.Nop()
	}
	a := &App{
		lgr:      lgr.With(logger.String("component", "app")),
		store:    store,
		engine:   engine,
		shutdown: 30 * time.Second,
		signals:  []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start brings every component up: engine first, then the workers, the
// feed and the HTTP server.
func (a *App) Start(ctx context.Context) error {
	for _, fn := range a.warmups {
		if err := fn(ctx); err != nil {
			a.lgr.Warn("warm-up step failed", logger.Error(err))
		}
	}
	if err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}
	for _, nw := range a.workers {
		if err := nw.w.Start(ctx); err != nil {
			return fmt.Errorf("%s start: %w", nw.name, err)
		}
		a.lgr.Info("worker started", logger.String("worker", nw.name))
	}
	if a.feed != nil {
		if err := a.feed.Start(ctx); err != nil {
			return fmt.Errorf("feed start: %w", err)
		}
	}
	if a.http != nil {
		if err := a.http.Start(); err != nil {
			return fmt.Errorf("http start: %w", err)
		}
	}
	mode := ""
	if a.store != nil {
		mode = a.store.Mode
	}
	a.lgr.Info("app started", logger.String("store", mode))
	return nil
}

// Run starts the application and blocks until interrupted or the HTTP
// server fails, then drains.
func (a *App) Run() error {
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		a.lgr.Error("startup failed", logger.Error(err))
		if serr := a.Shutdown(ctx); serr != nil {
			a.lgr.Warn("cleanup after failed startup", logger.Error(serr))
		}
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, a.signals...)
	defer signal.Stop(sigCh)

	var httpErr <-chan error
	if a.http != nil {
		httpErr = a.http.Err()
	}
	var runErr error
	select {
	case s := <-sigCh:
		a.lgr.Info("shutdown signal received", logger.String("signal", s.String()))
	case err := <-httpErr:
		a.lgr.Error("http server failed", logger.Error(err))
		runErr = err
	}
	return errors.Join(runErr, a.Shutdown(ctx))
}

// Shutdown drains in dependency order: HTTP intake, the feed, the engine
// (queued candles, flatten, lock), the workers, then the infrastructure.
func (a *App) Shutdown(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, a.shutdown)
	defer cancel()

	var failures []error
	step := func(name string, err error) {
		if err != nil {
			a.lgr.Warn("shutdown step failed", logger.String("step", name), logger.Error(err))
			failures = append(failures, fmt.Errorf("%s: %w", name, err))
		}
	}

	if a.http != nil {
		step("http", a.http.Stop(ctx))
	}
	if a.feed != nil {
		step("feed", a.feed.Shutdown(ctx))
	}
	step("engine", a.engine.Stop(ctx))
	for i := len(a.workers) - 1; i >= 0; i-- {
		step(a.workers[i].name, a.workers[i].w.Stop(ctx))
	}
	for _, c := range a.closers {
		step(c.name, c.c.Close())
	}
	if a.store != nil {
		step("store", a.store.Close())
	}
	a.lgr.Info("shutdown complete", logger.Int("failures", len(failures)))
	return errors.Join(failures...)
}

// ConsumerFeed adapts a kafka consumer with one handler to a Feed.
func ConsumerFeed(c *pkgkafka.Consumer, h pkgkafka.MessageHandler) Feed {
	return &consumerFeed{c: c, h: h}
}

type consumerFeed struct {
	c *pkgkafka.Consumer
	h pkgkafka.MessageHandler
}

func (f *consumerFeed) Start(context.Context) error {
	f.c.RegisterHandler(f.h)
	return f.c.Start()
}

func (f *consumerFeed) Shutdown(ctx context.Context) error { return f.c.Stop(ctx) }
