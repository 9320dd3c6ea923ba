package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GammaScalp/internal/domain/errs"
	pkgkafka "GammaScalp/pkg/kafka"
)

func TestKafkaCandlesHandlerTimestamps(t *testing.T) {
	cases := map[string]string{
		"seconds": `{"symbol":"SPY","t":1709564400,"o":500,"h":501,"l":499,"c":500.5,"v":10}`,
		"millis":  `{"symbol":"SPY","t":1709564400000,"o":500,"h":501,"l":499,"c":500.5,"v":10}`,
		"rfc3339": `{"symbol":"SPY","t":"2024-03-04T15:00:00Z","o":500,"h":501,"l":499,"c":500.5,"v":10}`,
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			sink := &sinkRecorder{}
			h := NewKafkaCandlesHandler("candles.1m", sink, nil)
			require.NoError(t, h.Handle(context.Background(), []byte(msg)))

			got := sink.all()
			require.Len(t, got, 1)
			assert.True(t, got[0].Timestamp.Equal(t0), got[0].Timestamp)
			assert.Equal(t, 500.5, got[0].Close)
			assert.Equal(t, 10.0, got[0].Volume)
		})
	}
}

func TestKafkaCandlesHandlerPermanentFailures(t *testing.T) {
	h := NewKafkaCandlesHandler("candles.1m", &sinkRecorder{}, nil)
	assert.Equal(t, "candles.1m", h.Topic())

	for _, msg := range []string{
		`not json`,
		`{"symbol":"SPY","t":"yesterday","o":1,"h":1,"l":1,"c":1}`,
		`{"symbol":"SPY","o":1,"h":1,"l":1,"c":1}`,
	} {
		err := h.Handle(context.Background(), []byte(msg))
		assert.ErrorIs(t, err, pkgkafka.ErrPermanent, msg)
	}

	rejecting := NewKafkaCandlesHandler("c", &sinkRecorder{err: errs.Validation("candle", "bad")}, nil)
	err := rejecting.Handle(context.Background(), []byte(`{"symbol":"SPY","t":1709564400,"o":1,"h":1,"l":1,"c":1}`))
	assert.ErrorIs(t, err, pkgkafka.ErrPermanent)
}

func TestKafkaCandlesHandlerRetriesTransient(t *testing.T) {
	h := NewKafkaCandlesHandler("c", &sinkRecorder{err: context.DeadlineExceeded}, nil)
	err := h.Handle(context.Background(), []byte(`{"symbol":"SPY","t":1709564400,"o":1,"h":1,"l":1,"c":1}`))
	require.Error(t, err)
	assert.False(t, errors.Is(err, pkgkafka.ErrPermanent))
}
