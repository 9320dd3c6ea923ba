package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"GammaScalp/internal/domain/models"
	drepo "GammaScalp/internal/domain/repository"
	"GammaScalp/pkg/logger"
	pkgmetrics "GammaScalp/pkg/metrics"
)

// CandleSink receives closed candles.
type CandleSink interface {
	Submit(ctx context.Context, c models.Candle) error
}

// CandleCollector turns the live trade stream into one-minute candles.
// A bar closes when a print of a later minute arrives or when its minute
// plus the grace period has passed on the wall clock.
type CandleCollector struct {
	stream  drepo.MarketStream
	sink    CandleSink
	metrics drepo.Metrics
	lgr     *logger.Logger
	bar     time.Duration
	grace   time.Duration
	now     func() time.Time

	mu   sync.Mutex
	open map[string]*models.Candle

	cancel context.CancelFunc
	done   chan struct{}
}

func NewCandleCollector(stream drepo.MarketStream, sink CandleSink, metrics drepo.Metrics, lgr *logger.Logger, grace time.Duration) *CandleCollector {
	if lgr == nil {
		lgr = logger.Nop()
	}
	if grace <= 0 {
		grace = 2 * time.Second
	}
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	return &CandleCollector{
		stream:  stream,
		sink:    sink,
		metrics: metrics,
		lgr:     lgr.With(logger.String("component", "collector")),
		bar:     time.Minute,
		grace:   grace,
		now:     time.Now,
		open:    make(map[string]*models.Candle),
	}
}

// IsConnected returns true if the market stream is connected.
func (c *CandleCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Start connects, subscribes and runs the aggregation loop.
func (c *CandleCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.consume(runCtx)
	return nil
}

func (c *CandleCollector) consume(ctx context.Context) {
	defer close(c.done)
	flush := time.NewTicker(time.Second)
	defer flush.Stop()

	tickCh, errCh := c.stream.Read(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-flush.C:
			c.emit(ctx, c.Flush(c.now()))
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err == nil {
				continue
			}
			c.metrics.RecordError("stream")
			c.lgr.Warn("stream error, reconnecting", logger.Error(err))
			if rerr := c.stream.Reconnect(ctx); rerr != nil {
				c.lgr.Error("reconnect failed", logger.Error(rerr))
				if ctx.Err() != nil {
					return
				}
			}
			tickCh, errCh = c.stream.Read(ctx)
		case t, ok := <-tickCh:
			if !ok {
				tickCh = nil
				continue
			}
			if t == nil {
				continue
			}
			c.metrics.RecordLastPrice(t.Symbol, t.Price)
			c.emit(ctx, c.AddTick(*t))
		}
	}
}

func (c *CandleCollector) emit(ctx context.Context, bars []models.Candle) {
	for _, b := range bars {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := c.sink.Submit(sctx, b)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			c.metrics.RecordError("submit_candle")
			c.lgr.Warn("candle not submitted", logger.Symbol(b.Symbol), logger.Time("candle", b.Timestamp), logger.Error(err))
		}
	}
}

// AddTick folds a print into its symbol's bar and returns the bar it
// closed, if any. Prints older than the open bar are dropped.
func (c *CandleCollector) AddTick(t models.Tick) []models.Candle {
	if t.Price <= 0 || t.Symbol == "" {
		return nil
	}
	sym := strings.ToUpper(t.Symbol)
	start := t.Time.Truncate(c.bar)

	c.mu.Lock()
	defer c.mu.Unlock()

	var closed []models.Candle
	cur, ok := c.open[sym]
	if ok {
		switch {
		case start.Before(cur.Timestamp):
			return nil
		case start.After(cur.Timestamp):
			closed = append(closed, *cur)
			ok = false
		}
	}
	if !ok {
		c.open[sym] = &models.Candle{
			Symbol: sym, Timestamp: start,
			Open: t.Price, High: t.Price, Low: t.Price, Close: t.Price, Volume: t.Volume,
		}
		return closed
	}
	cur.High = max(cur.High, t.Price)
	cur.Low = min(cur.Low, t.Price)
	cur.Close = t.Price
	cur.Volume += t.Volume
	return closed
}

// Flush closes every bar whose minute ended more than grace before now.
func (c *CandleCollector) Flush(now time.Time) []models.Candle {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Candle
	for sym, b := range c.open {
		if !now.Before(b.Timestamp.Add(c.bar + c.grace)) {
			out = append(out, *b)
			delete(c.open, sym)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Shutdown stops the loop and closes the stream. Bars still open are
// discarded: they never closed.
func (c *CandleCollector) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.stream.Close()
}
