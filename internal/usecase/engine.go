package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"GammaScalp/internal/domain/errs"
	"GammaScalp/internal/domain/models"
	domrepo "GammaScalp/internal/domain/repository"
	"GammaScalp/internal/services/lifecycle"
	"GammaScalp/internal/services/pattern"
	"GammaScalp/internal/services/risk"
	"GammaScalp/internal/services/signal"
	"GammaScalp/pkg/logger"
	pkgmetrics "GammaScalp/pkg/metrics"
	"GammaScalp/pkg/util"
)

// ErrEngineStopped is returned by Submit once the drain has begun.
var ErrEngineStopped = errors.New("engine stopped")

// BiasSource supplies the daily bias in force.
type BiasSource interface {
	Current(date string) models.MarketBias
}

// EngineConfig tunes the per-symbol workers.
type EngineConfig struct {
	Symbols     []string
	QueueSize   int
	TickTimeout time.Duration
	WarmupBars  int
	LockTTL     time.Duration
}

type EngineOption func(*Engine)

func WithSymbols(symbols ...string) EngineOption {
	return func(e *Engine) { e.cfg.Symbols = symbols }
}

// WithQueueSize sets the candle buffer of each symbol worker.
func WithQueueSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.cfg.QueueSize = n
		}
	}
}

// WithTickTimeout bounds the processing of one candle, collaborator calls included.
func WithTickTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.cfg.TickTimeout = d
		}
	}
}

// WithSession gates new entries to the session window and dates the day in its zone.
func WithSession(s *util.Session) EngineOption {
	return func(e *Engine) { e.session = s }
}

// WithHistory records closed candles and primes the pattern window from
// the latest bars on start.
func WithHistory(h domrepo.CandleHistory, recorder *CandleRecorder, warmupBars int) EngineOption {
	return func(e *Engine) {
		e.history = h
		e.recorder = recorder
		e.cfg.WarmupBars = warmupBars
	}
}

// WithInstanceLock makes Start fail while another engine holds the lock.
func WithInstanceLock(l domrepo.InstanceLock, ttl time.Duration) EngineOption {
	return func(e *Engine) {
		e.lock = l
		e.cfg.LockTTL = ttl
	}
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// TickReport is what one candle did.
type TickReport struct {
	Skipped    bool
	Patterns   pattern.Update
	Exits      []lifecycle.Outcome
	Decision   *models.SignalDecision
	Suppressed []signal.Suppression
}

// worker is the single owner of one symbol's pattern book and sweep tracker.
type worker struct {
	symbol   string
	in       chan models.Candle
	book     *pattern.Book
	tracker  *signal.Tracker
	lastSeen atomic.Int64 // unix nanos of the last candle received
}

// Engine routes candles to per-symbol workers and drives pattern, signal,
// risk and trade state for each of them.
type Engine struct {
	cfg      EngineConfig
	patterns *pattern.Engine
	signals  *signal.Engine
	gate     *risk.Gate
	trades   *lifecycle.Manager
	levels   *LevelsBook
	bias     BiasSource
	patRepo  domrepo.PatternRepository
	events   domrepo.EventPublisher
	metrics  domrepo.Metrics
	session  *util.Session
	history  domrepo.CandleHistory
	recorder *CandleRecorder
	lock     domrepo.InstanceLock
	lgr      *logger.Logger
	now      func() time.Time

	mu        sync.RWMutex
	workers   map[string]*worker
	started   bool
	closed    bool
	wg        sync.WaitGroup
	runCtx    context.Context
	cancelRun context.CancelFunc
}

func NewEngine(
	patterns *pattern.Engine,
	signals *signal.Engine,
	gate *risk.Gate,
	trades *lifecycle.Manager,
	levels *LevelsBook,
	bias BiasSource,
	patRepo domrepo.PatternRepository,
	events domrepo.EventPublisher,
	metrics domrepo.Metrics,
	lgr *logger.Logger,
	opts ...EngineOption,
) *Engine {
	if lgr == nil {
		lgr = logger.Nop()
	}
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	e := &Engine{
		cfg:      EngineConfig{QueueSize: 256, TickTimeout: 10 * time.Second, LockTTL: 30 * time.Second},
		patterns: patterns,
		signals:  signals,
		gate:     gate,
		trades:   trades,
		levels:   levels,
		bias:     bias,
		patRepo:  patRepo,
		events:   events,
		metrics:  metrics,
		lgr:      lgr.With(logger.String("component", "engine")),
		now:      time.Now,
		workers:  make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.runCtx, e.cancelRun = context.WithCancel(context.Background())
	for _, sym := range e.cfg.Symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		e.workers[sym] = &worker{
			symbol:  sym,
			in:      make(chan models.Candle, e.cfg.QueueSize),
			book:    patterns.NewBook(sym),
			tracker: signal.NewTracker(sym),
		}
	}
	return e
}

// Symbols returns the traded symbols, sorted.
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.workers))
	for s := range e.workers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Date is the trading date of t.
func (e *Engine) Date(t time.Time) string {
	if e.session != nil {
		return e.session.Date(t)
	}
	return t.UTC().Format(util.DateLayout)
}

func (e *Engine) inSession(t time.Time) bool {
	return e.session == nil || e.session.Contains(t)
}

// InSession reports whether t is inside the entry window.
func (e *Engine) InSession(t time.Time) bool { return e.inSession(t) }

// LastCandleAt returns when the last candle of symbol was received.
func (e *Engine) LastCandleAt(symbol string) (time.Time, bool) {
	e.mu.RLock()
	w, ok := e.workers[strings.ToUpper(symbol)]
	e.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	ns := w.lastSeen.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// Start restores the day from the store and launches one worker per symbol.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("engine already started")
	}
	if e.closed {
		return ErrEngineStopped
	}

	if e.lock != nil {
		ok, err := e.lock.Acquire(ctx, e.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("instance lock: %w", err)
		}
		if !ok {
			return errors.New("instance lock: another engine is running")
		}
	}

	if err := e.restore(ctx); err != nil {
		if e.lock != nil {
			_ = e.lock.Release(ctx)
		}
		return err
	}

	for _, w := range e.workers {
		e.wg.Add(1)
		go e.run(w)
	}
	if e.lock != nil {
		go e.refreshLock()
	}
	e.started = true
	e.lgr.Info("engine started", logger.Strings("symbols", e.symbolsLocked()))
	return nil
}

func (e *Engine) symbolsLocked() []string {
	out := make([]string, 0, len(e.workers))
	for s := range e.workers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// restore loads the daily budget, open trades, levels and pattern books.
// Caller holds e.mu.
func (e *Engine) restore(ctx context.Context) error {
	daily, err := e.gate.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	n, err := e.trades.Restore(ctx, daily.TradeIDs)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	symbols := e.symbolsLocked()
	lv, err := e.levels.Restore(ctx, symbols)
	if err != nil {
		e.lgr.Warn("levels restore incomplete", logger.Error(err))
	}

	for _, sym := range symbols {
		w := e.workers[sym]
		if e.patRepo != nil {
			ps, err := e.patRepo.Load(ctx, sym)
			switch {
			case err == nil:
				w.book.Restore(ps)
			case errors.Is(err, errs.ErrNotFound):
			default:
				e.lgr.Warn("pattern restore failed", logger.Symbol(sym), logger.Error(err))
			}
		}
		if e.history != nil && e.cfg.WarmupBars > 0 {
			bars, err := e.history.LatestCandles(ctx, sym, e.cfg.WarmupBars)
			if err != nil {
				e.lgr.Warn("warm-up unavailable", logger.Symbol(sym), logger.Error(err))
			} else {
				w.book.Prime(bars)
			}
		}
	}

	e.lgr.Info("state restored",
		logger.String("date", daily.Date),
		logger.Int("trades_today", daily.TradeCount),
		logger.Int("open_trades", n),
		logger.Int("levels", lv),
		logger.Bool("locked", daily.Locked))
	return nil
}

func (e *Engine) refreshLock() {
	t := time.NewTicker(e.cfg.LockTTL / 3)
	defer t.Stop()
	for {
		select {
		case <-e.runCtx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(e.runCtx, e.cfg.LockTTL/3)
			if err := e.lock.Refresh(ctx, e.cfg.LockTTL); err != nil {
				e.metrics.RecordError("instance_lock")
				e.lgr.Error("instance lock refresh failed", logger.Error(err))
			}
			cancel()
		}
	}
}

// Submit hands a closed candle to its symbol's worker. It blocks while the
// worker's buffer is full, until ctx ends.
func (e *Engine) Submit(ctx context.Context, c models.Candle) error {
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	if err := c.Validate(); err != nil {
		return errs.Validation("candle", "%v", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrEngineStopped
	}
	w, ok := e.workers[c.Symbol]
	if !ok {
		return errs.Validation("symbol", "%s is not traded", c.Symbol)
	}
	w.lastSeen.Store(e.now().UnixNano())

	select {
	case w.in <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) run(w *worker) {
	defer e.wg.Done()
	for c := range w.in {
		e.process(w, c)
	}
}

// process isolates one candle: a failure or panic is logged and the worker
// moves on to the next candle.
func (e *Engine) process(w *worker, c models.Candle) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.metrics.RecordError("tick_panic")
			e.lgr.Error("candle processing panic",
				logger.Symbol(w.symbol),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
		}
	}()

	ctx, cancel := context.WithTimeout(e.runCtx, e.cfg.TickTimeout)
	defer cancel()

	if _, err := e.step(ctx, w, c); err != nil {
		e.metrics.RecordError(errorKind(err))
		e.lgr.Error("candle processing failed",
			logger.Symbol(w.symbol),
			logger.Time("candle", c.Timestamp),
			logger.Error(err))
	}
	e.metrics.RecordTick(w.symbol, time.Since(start).Seconds())
}

func errorKind(err error) string {
	switch {
	case errs.IsConsistency(err):
		return "consistency"
	case errs.IsTransient(err):
		return "transient"
	case errs.IsValidation(err):
		return "validation"
	default:
		return "tick"
	}
}

// step runs one candle: pattern transitions and detection, exits of open
// trades, then the signal state machine and entry. The pattern book and the
// sweep tracker only advance once their writes have succeeded; exits run
// either way.
func (e *Engine) step(ctx context.Context, w *worker, c models.Candle) (TickReport, error) {
	var rep TickReport
	var failures []error

	next := w.book.Clone()
	upd := e.patterns.Apply(next, c)
	if upd.Skipped {
		rep.Skipped = true
		e.lgr.Debug("stale candle skipped", logger.Symbol(w.symbol), logger.Time("candle", c.Timestamp))
		return rep, nil
	}
	held := false
	if upd.Dirty() && e.patRepo != nil {
		if err := e.patRepo.Save(ctx, w.symbol, next.Patterns()); err != nil {
			failures = append(failures, errs.Consistency("save patterns", err))
			held = true
		}
	}
	if !held {
		w.book = next
		rep.Patterns = upd
		e.publishPatterns(ctx, w.symbol, c, upd)
	}
	e.metrics.RecordLastPrice(w.symbol, c.Close)
	if e.recorder != nil {
		e.recorder.Add(c)
	}

	exits, err := e.trades.Evaluate(ctx, w.symbol, c.Close, c.Timestamp)
	rep.Exits = exits
	if err != nil {
		failures = append(failures, fmt.Errorf("exits: %w", err))
	}

	if held || !e.inSession(c.Timestamp) {
		return rep, errors.Join(failures...)
	}
	levels, ok := e.levels.Get(w.symbol)
	if !ok {
		return rep, errors.Join(failures...)
	}

	bias := e.bias.Current(e.Date(c.Timestamp))
	tracker := w.tracker.Clone()
	res := e.signals.Evaluate(tracker, signal.Input{
		Candle:     c,
		Levels:     levels,
		Bias:       bias.Direction,
		Inversions: upd.Inversions(),
	})
	rep.Suppressed = res.Suppressed
	for _, s := range res.Suppressed {
		e.metrics.RecordSignal(w.symbol, s.Variant.String(), false)
		e.lgr.Debug("signal suppressed",
			logger.Symbol(w.symbol),
			logger.String("level", s.Level.Kind.String()),
			logger.String("direction", s.Direction.String()),
			logger.String("reason", s.Reason))
	}
	for _, r := range res.Swept {
		e.lgr.Debug("zone swept",
			logger.Symbol(w.symbol),
			logger.String("level", r.Level.Kind.String()),
			logger.Float64("extreme", r.Extreme))
	}

	if res.Signal != nil {
		dec, err := e.enter(ctx, *res.Signal)
		rep.Decision = dec
		if err != nil {
			// the sweep stays armed and the cool-down is handed back
			e.signals.ReleaseCooldown(c.Timestamp)
			failures = append(failures, fmt.Errorf("entry: %w", err))
			return rep, errors.Join(failures...)
		}
	}
	w.tracker = tracker
	return rep, errors.Join(failures...)
}

// enter runs a signal through the risk gate and opens the trade.
func (e *Engine) enter(ctx context.Context, sig models.EntrySignal) (*models.SignalDecision, error) {
	dec := &models.SignalDecision{Signal: sig}
	reject := func(reason string) {
		dec.Reason = reason
		e.metrics.RecordSignal(sig.Symbol, sig.Variant.String(), false)
		e.lgr.Info("signal rejected",
			logger.Symbol(sig.Symbol),
			logger.String("direction", sig.Direction.String()),
			logger.String("variant", sig.Variant.String()),
			logger.String("reason", reason))
		e.publish(ctx, models.EventSignalRejected, sig.Symbol, sig.CandleTime, dec)
	}

	if ok, reason := e.gate.CanTrade(); !ok {
		reject(reason)
		return dec, nil
	}
	if err := e.gate.ValidateSignal(sig); err != nil {
		reject(err.Error())
		return dec, nil
	}

	qty := e.gate.SizePosition(sig, e.gate.Equity())
	t, err := e.trades.Open(ctx, sig, qty, sig.CandleTime)
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrDuplicate):
		reject("duplicate entry")
		return dec, nil
	case errors.Is(err, errs.ErrLocked):
		reject(err.Error())
		return dec, nil
	default:
		reject("entry failed")
		return dec, err
	}

	dec.Accepted = true
	dec.Quantity = qty
	dec.TradeID = t.ID
	e.metrics.RecordSignal(sig.Symbol, sig.Variant.String(), true)
	e.lgr.Info("signal accepted",
		logger.Symbol(sig.Symbol),
		logger.String("direction", sig.Direction.String()),
		logger.String("variant", sig.Variant.String()),
		logger.String("confidence", sig.Confidence.String()),
		logger.Int("qty", qty),
		logger.String("trade_id", t.ID))
	e.publish(ctx, models.EventSignal, sig.Symbol, sig.CandleTime, dec)
	return dec, nil
}

func (e *Engine) publishPatterns(ctx context.Context, symbol string, c models.Candle, u pattern.Update) {
	if u.Detected != nil {
		e.metrics.RecordPattern(symbol, "detected")
		e.publish(ctx, models.EventPatternDetected, symbol, c.Timestamp, *u.Detected)
	}
	for _, ch := range u.Changes {
		e.metrics.RecordPattern(symbol, ch.Transition.String())
		e.publish(ctx, models.EventPatternChanged, symbol, c.Timestamp, map[string]interface{}{
			"pattern":    ch.Pattern,
			"transition": ch.Transition.String(),
			"prev_type":  ch.PrevType.String(),
		})
	}
	if u.Evicted != nil {
		e.metrics.RecordPattern(symbol, "evicted")
	}
	if u.Pruned > 0 {
		e.metrics.RecordPattern(symbol, "pruned")
	}
}

func (e *Engine) publish(ctx context.Context, t models.EventType, symbol string, at time.Time, payload interface{}) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, models.NewEvent(t, symbol, at, payload)); err != nil {
		e.lgr.Warn("publish event failed", logger.String("type", string(t)), logger.Error(err))
	}
}

// Stop drains the engine: intake stops and queued candles are processed,
// then every open position is flattened, then the instance lock is released.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for _, w := range e.workers {
		close(w.in)
	}
	started := e.started
	e.mu.Unlock()

	var failures []error
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		failures = append(failures, fmt.Errorf("drain workers: %w", ctx.Err()))
	}

	if started {
		outs, err := e.trades.EmergencyClose(ctx, "shutdown", e.now())
		if err != nil {
			failures = append(failures, fmt.Errorf("flatten: %w", err))
		}
		e.lgr.Info("positions flattened", logger.Int("closed", len(outs)))
	}

	if e.recorder != nil {
		if err := e.recorder.Close(ctx); err != nil {
			failures = append(failures, err)
		}
	}
	e.cancelRun()

	if started && e.lock != nil {
		if err := e.lock.Release(ctx); err != nil {
			failures = append(failures, fmt.Errorf("release lock: %w", err))
		}
	}
	e.lgr.Info("engine stopped")
	return errors.Join(failures...)
}
