package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GammaScalp/internal/domain/models"
)

func TestDeliveryOrderAndIsolation(t *testing.T) {
	b := New(nil)
	var got []string

	b.Subscribe("first", func(_ context.Context, e models.Event) error {
		got = append(got, "first:"+string(e.Type))
		return nil
	})
	b.Subscribe("panics", func(context.Context, models.Event) error {
		panic("boom")
	})
	b.Subscribe("fails", func(context.Context, models.Event) error {
		return errors.New("nope")
	})
	b.Subscribe("last", func(_ context.Context, e models.Event) error {
		got = append(got, "last:"+string(e.Type))
		return nil
	})

	err := b.Publish(context.Background(), models.NewEvent(models.EventTradeOpened, "SPY", time.Now(), nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panics")
	assert.Contains(t, err.Error(), "fails")
	assert.Equal(t, []string{"first:trade.opened", "last:trade.opened"}, got)
}

func TestTypeFilter(t *testing.T) {
	b := New(nil)
	n := 0
	b.Subscribe("closed-only", func(context.Context, models.Event) error { n++; return nil }, models.EventTradeClosed)

	_ = b.Publish(context.Background(), models.Event{Type: models.EventTradeOpened})
	_ = b.Publish(context.Background(), models.Event{Type: models.EventTradeClosed})
	assert.Equal(t, 1, n)
}

func TestAsyncSubscriberDrainsOnClose(t *testing.T) {
	b := New(nil)
	var (
		mu  sync.Mutex
		ids []string
	)
	b.SubscribeAsync("async", 16, func(_ context.Context, e models.Event) error {
		mu.Lock()
		ids = append(ids, e.ID)
		mu.Unlock()
		return nil
	})

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, b.Publish(context.Background(), models.Event{ID: id, Type: models.EventSignal}))
	}
	require.NoError(t, b.Close())

	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Error(t, b.Publish(context.Background(), models.Event{ID: "late"}))
}
