package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticks        *prometheus.HistogramVec
	patterns     *prometheus.CounterVec
	signals      *prometheus.CounterVec
	tradesOpened *prometheus.CounterVec
	tradesClosed *prometheus.CounterVec
	tradePnL     *prometheus.HistogramVec
	dailyPnL     prometheus.Gauge
	dailyTrades  prometheus.Gauge
	lockout      prometheus.Gauge
	errorsTotal  *prometheus.CounterVec
	lastPrice    *prometheus.GaugeVec
	latency      *prometheus.HistogramVec
}

// New creates a Prometheus recorder registered on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		ticks: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gammascalp_tick_duration_seconds",
				Help:    "Time to process one candle for a symbol",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"symbol"},
		),
		patterns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gammascalp_patterns_total",
				Help: "Pattern lifecycle events by kind",
			},
			[]string{"symbol", "event"},
		),
		signals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gammascalp_signals_total",
				Help: "Entry signals by variant and risk outcome",
			},
			[]string{"symbol", "variant", "accepted"},
		),
		tradesOpened: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gammascalp_trades_opened_total",
				Help: "Trades opened",
			},
			[]string{"symbol", "direction"},
		),
		tradesClosed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gammascalp_trades_closed_total",
				Help: "Trades closed by exit reason",
			},
			[]string{"symbol", "reason"},
		),
		tradePnL: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gammascalp_trade_pnl_dollars",
				Help:    "Realized pnl per closed trade",
				Buckets: []float64{-1000, -500, -250, -100, -50, 0, 50, 100, 250, 500, 1000},
			},
			[]string{"symbol"},
		),
		dailyPnL: f.NewGauge(prometheus.GaugeOpts{
			Name: "gammascalp_daily_pnl_dollars",
			Help: "Realized pnl for the trading day",
		}),
		dailyTrades: f.NewGauge(prometheus.GaugeOpts{
			Name: "gammascalp_daily_trades",
			Help: "Trades opened today",
		}),
		lockout: f.NewGauge(prometheus.GaugeOpts{
			Name: "gammascalp_lockout",
			Help: "1 while trading is locked for the day",
		}),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gammascalp_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gammascalp_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gammascalp_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordTick(symbol string, seconds float64) {
	r.ticks.WithLabelValues(symbol).Observe(seconds)
}

func (r *Recorder) RecordPattern(symbol, event string) {
	r.patterns.WithLabelValues(symbol, event).Inc()
}

func (r *Recorder) RecordSignal(symbol, variant string, accepted bool) {
	a := "false"
	if accepted {
		a = "true"
	}
	r.signals.WithLabelValues(symbol, variant, a).Inc()
}

func (r *Recorder) RecordTradeOpened(symbol, direction string) {
	r.tradesOpened.WithLabelValues(symbol, direction).Inc()
}

func (r *Recorder) RecordTradeClosed(symbol, reason string, pnl float64) {
	r.tradesClosed.WithLabelValues(symbol, reason).Inc()
	r.tradePnL.WithLabelValues(symbol).Observe(pnl)
}

func (r *Recorder) RecordDailyState(pnl float64, trades int, locked bool) {
	r.dailyPnL.Set(pnl)
	r.dailyTrades.Set(float64(trades))
	if locked {
		r.lockout.Set(1)
	} else {
		r.lockout.Set(0)
	}
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards everything. Used where no registry is wanted.
type Nop struct{}

func (Nop) RecordTick(string, float64)                {}
func (Nop) RecordPattern(string, string)              {}
func (Nop) RecordSignal(string, string, bool)         {}
func (Nop) RecordTradeOpened(string, string)          {}
func (Nop) RecordTradeClosed(string, string, float64) {}
func (Nop) RecordDailyState(float64, int, bool)       {}
func (Nop) RecordError(string)                        {}
func (Nop) RecordLastPrice(string, float64)           {}
func (Nop) RecordLatency(string, float64)             {}
