package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"GammaScalp/internal/domain/models"
	domrepo "GammaScalp/internal/domain/repository"
	"GammaScalp/pkg/logger"
	pkgmetrics "GammaScalp/pkg/metrics"
)

// CandleRecorder batches closed candles into the history store. Add never
// blocks the caller; a full buffer drops the candle.
type CandleRecorder struct {
	history domrepo.CandleHistory
	metrics domrepo.Metrics
	lgr     *logger.Logger
	batchSz int
	batchTO time.Duration

	in     chan models.Candle
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

// NewCandleRecorder starts the flush loop.
func NewCandleRecorder(history domrepo.CandleHistory, metrics domrepo.Metrics, lgr *logger.Logger, batchSz int, batchTO time.Duration) *CandleRecorder {
	if batchSz <= 0 {
		batchSz = 100
	}
	if batchTO <= 0 {
		batchTO = 5 * time.Second
	}
	if lgr == nil {
		lgr = logger.Nop()
	}
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	r := &CandleRecorder{
		history: history,
		metrics: metrics,
		lgr:     lgr.With(logger.String("component", "candle_recorder")),
		batchSz: batchSz,
		batchTO: batchTO,
		in:      make(chan models.Candle, batchSz*4),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

// Add queues c for the next batch.
func (r *CandleRecorder) Add(c models.Candle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.in <- c:
	default:
		r.metrics.RecordError("candle_record_dropped")
	}
}

func (r *CandleRecorder) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.batchTO)
	defer ticker.Stop()

	batch := make([]models.Candle, 0, r.batchSz)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.batchTO)
		start := time.Now()
		err := r.history.RecordCandles(ctx, batch)
		cancel()
		if err != nil {
			r.metrics.RecordError("candle_record")
			r.lgr.Warn("record candles failed", logger.Int("count", len(batch)), logger.Error(err))
		} else {
			r.metrics.RecordLatency("candle_record", time.Since(start).Seconds())
		}
		batch = batch[:0]
	}

	for {
		select {
		case c, ok := <-r.in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, c)
			if len(batch) >= r.batchSz {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close flushes what is buffered and stops the loop.
func (r *CandleRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.in)
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("candle recorder flush: %w", ctx.Err())
	}
}
