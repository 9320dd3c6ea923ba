package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"GammaScalp/internal/domain/errs"
	"GammaScalp/internal/domain/models"
	domrepo "GammaScalp/internal/domain/repository"
	"GammaScalp/internal/services/lifecycle"
	"GammaScalp/internal/services/risk"
	"GammaScalp/pkg/logger"
	pkgmetrics "GammaScalp/pkg/metrics"
)

// Critical event reasons.
const (
	ReasonVolatilitySpike = "volatility spike"
	ReasonStaleFeed       = "stale feed"
	ReasonManual          = "manual"
)

const maxCriticalEvents = 50

// FeedClock is the engine view the monitor needs.
type FeedClock interface {
	Symbols() []string
	LastCandleAt(symbol string) (time.Time, bool)
	InSession(t time.Time) bool
	Date(t time.Time) string
}

// EmergencyMonitor raises critical risk events: a VIX jump above the
// session open, a feed silent for too long, or a manual trigger. Each event
// locks trading for the day and flattens every open position.
type EmergencyMonitor struct {
	gate    *risk.Gate
	trades  *lifecycle.Manager
	feed    FeedClock
	events  domrepo.EventPublisher
	metrics domrepo.Metrics
	lgr     *logger.Logger

	spikePct   float64
	staleAfter time.Duration
	interval   time.Duration
	now        func() time.Time

	mu        sync.Mutex
	vixDate   string
	vixOpen   float64
	vixLast   float64
	fired     map[string]string // reason -> date it fired
	critical  []models.CriticalEvent
	startedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

type MonitorOption func(*EmergencyMonitor)

// WithVIXSpike sets the rise over the session open that counts as a spike.
func WithVIXSpike(pct float64) MonitorOption {
	return func(m *EmergencyMonitor) { m.spikePct = pct }
}

// WithStaleAfter sets how long a symbol may go without a candle in session.
func WithStaleAfter(d time.Duration) MonitorOption {
	return func(m *EmergencyMonitor) { m.staleAfter = d }
}

func WithCheckInterval(d time.Duration) MonitorOption {
	return func(m *EmergencyMonitor) { m.interval = d }
}

func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *EmergencyMonitor) { m.now = now }
}

func NewEmergencyMonitor(gate *risk.Gate, trades *lifecycle.Manager, feed FeedClock, events domrepo.EventPublisher, metrics domrepo.Metrics, lgr *logger.Logger, opts ...MonitorOption) *EmergencyMonitor {
	if lgr == nil {
		lgr = logger.Nop()
	}
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	m := &EmergencyMonitor{
		gate:       gate,
		trades:     trades,
		feed:       feed,
		events:     events,
		metrics:    metrics,
		lgr:        lgr.With(logger.String("component", "emergency")),
		spikePct:   0.10,
		staleAfter: 3 * time.Minute,
		interval:   15 * time.Second,
		now:        time.Now,
		fired:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.startedAt = m.now()
	return m
}

// ObserveVIX records a volatility index print. The first print inside the
// session is the day's open.
func (m *EmergencyMonitor) ObserveVIX(ctx context.Context, value float64, at time.Time) error {
	if value <= 0 {
		return errs.Validation("vix", "must be positive, got %v", value)
	}
	if at.IsZero() {
		at = m.now()
	}

	m.mu.Lock()
	m.vixLast = value
	if !m.feed.InSession(at) {
		m.mu.Unlock()
		return nil
	}
	date := m.feed.Date(at)
	if m.vixDate != date {
		m.vixDate = date
		m.vixOpen = value
		m.mu.Unlock()
		m.lgr.Info("vix session open", logger.Float64("vix", value))
		return nil
	}
	open := m.vixOpen
	m.mu.Unlock()

	if value > open*(1+m.spikePct) {
		detail := fmt.Sprintf("vix %.2f is %.1f%% above open %.2f", value, (value/open-1)*100, open)
		return m.Trigger(ctx, ReasonVolatilitySpike, detail)
	}
	return nil
}

// CheckStale raises a critical event when a symbol has been silent for
// longer than the stale threshold during the session.
func (m *EmergencyMonitor) CheckStale(ctx context.Context) error {
	now := m.now()
	if !m.feed.InSession(now) {
		return nil
	}
	m.mu.Lock()
	started := m.startedAt
	m.mu.Unlock()
	for _, sym := range m.feed.Symbols() {
		ref, ok := m.feed.LastCandleAt(sym)
		if !ok || ref.Before(started) {
			ref = started
		}
		if silent := now.Sub(ref); silent >= m.staleAfter {
			return m.Trigger(ctx, ReasonStaleFeed, fmt.Sprintf("%s: no candle for %s", sym, silent.Truncate(time.Second)))
		}
	}
	return nil
}

// Trigger locks trading and flattens every position. A reason fires at
// most once per trading date; manual triggers always fire.
func (m *EmergencyMonitor) Trigger(ctx context.Context, reason, detail string) error {
	now := m.now()
	date := m.feed.Date(now)

	m.mu.Lock()
	if reason != ReasonManual && m.fired[reason] == date {
		m.mu.Unlock()
		return nil
	}
	m.fired[reason] = date
	ev := models.CriticalEvent{Reason: reason, Detail: detail, At: now}
	m.critical = append(m.critical, ev)
	if len(m.critical) > maxCriticalEvents {
		m.critical = m.critical[len(m.critical)-maxCriticalEvents:]
	}
	m.mu.Unlock()

	crit := &errs.CriticalRiskEvent{Reason: reason, Detail: detail}
	m.metrics.RecordError("critical")
	m.lgr.Error("critical risk event", logger.String("reason", reason), logger.String("detail", detail))

	var failures []error
	if _, err := m.gate.Lockout(ctx, reason); err != nil {
		failures = append(failures, fmt.Errorf("lockout: %w", err))
	}
	outs, err := m.trades.EmergencyClose(ctx, reason, now)
	if err != nil {
		failures = append(failures, fmt.Errorf("flatten: %w", err))
	}
	m.lgr.Warn("emergency flatten done", logger.Int("closed", len(outs)))

	if m.events != nil {
		if perr := m.events.Publish(ctx, models.NewEvent(models.EventCritical, "", now, ev)); perr != nil {
			m.lgr.Warn("publish critical event failed", logger.Error(perr))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("%w: %w", crit, errors.Join(failures...))
	}
	return nil
}

// Critical returns the critical events raised on date, oldest first.
func (m *EmergencyMonitor) Critical(date string) []models.CriticalEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CriticalEvent
	for _, ev := range m.critical {
		if m.feed.Date(ev.At) == date {
			out = append(out, ev)
		}
	}
	return out
}

// VIX returns the session open and last print.
func (m *EmergencyMonitor) VIX() (open, last float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vixOpen, m.vixLast
}

// Start runs the stale-feed check on a timer.
func (m *EmergencyMonitor) Start(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Lock()
	m.startedAt = m.now()
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		t := time.NewTicker(m.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				cctx, ccancel := context.WithTimeout(ctx, m.interval)
				if err := m.CheckStale(cctx); err != nil {
					m.lgr.Error("stale check", logger.Error(err))
				}
				ccancel()
			}
		}
	}()
	return nil
}

// Stop ends the timer.
func (m *EmergencyMonitor) Stop(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
