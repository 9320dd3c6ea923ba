package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"GammaScalp/internal/domain/errs"
	"GammaScalp/internal/domain/models"
	domrepo "GammaScalp/internal/domain/repository"
	pkgkafka "GammaScalp/pkg/kafka"
	pkgmetrics "GammaScalp/pkg/metrics"
	"GammaScalp/pkg/util"
)

// KafkaCandlesHandler feeds closed candles from a topic into the engine.
type KafkaCandlesHandler struct {
	topic   string
	sink    CandleSink
	metrics domrepo.Metrics
}

func NewKafkaCandlesHandler(topic string, sink CandleSink, metrics domrepo.Metrics) *KafkaCandlesHandler {
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	return &KafkaCandlesHandler{topic: topic, sink: sink, metrics: metrics}
}

func (h *KafkaCandlesHandler) Topic() string { return h.topic }

// candleMessage is the wire schema: {symbol, t, o, h, l, c, v}; t is unix
// seconds, unix milliseconds or RFC3339.
type candleMessage struct {
	Symbol string          `json:"symbol"`
	T      json.RawMessage `json:"t"`
	O      float64         `json:"o"`
	H      float64         `json:"h"`
	L      float64         `json:"l"`
	C      float64         `json:"c"`
	V      float64         `json:"v"`
}

func parseStamp(raw json.RawMessage) (time.Time, bool) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n <= 0 {
			return time.Time{}, false
		}
		return util.FromUnixAuto(n), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return util.ParseTime(s)
	}
	return time.Time{}, false
}

// Handle decodes one candle. Malformed or rejected candles are permanent
// failures so the consumer does not retry them.
func (h *KafkaCandlesHandler) Handle(ctx context.Context, b []byte) error {
	var m candleMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("%w: decode candle: %v", pkgkafka.ErrPermanent, err)
	}
	ts, ok := parseStamp(m.T)
	if !ok {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("%w: candle timestamp %s", pkgkafka.ErrPermanent, string(m.T))
	}
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(ts).Seconds())

	err := h.sink.Submit(ctx, models.Candle{
		Symbol:    m.Symbol,
		Timestamp: ts,
		Open:      m.O,
		High:      m.H,
		Low:       m.L,
		Close:     m.C,
		Volume:    m.V,
	})
	if err != nil {
		h.metrics.RecordError("consumer_submit")
		if errs.IsValidation(err) {
			return fmt.Errorf("%w: %v", pkgkafka.ErrPermanent, err)
		}
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaCandlesHandler)(nil)
