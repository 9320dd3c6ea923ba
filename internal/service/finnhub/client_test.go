package finnhub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	ticks := decode([]byte(`{"type":"trade","data":[{"s":"spy","p":501.25,"v":10,"t":1709564400123},{"s":"","p":1,"v":1,"t":1}]}`))
	require.Len(t, ticks, 1)
	assert.Equal(t, "SPY", ticks[0].Symbol)
	assert.Equal(t, 501.25, ticks[0].Price)
	assert.Equal(t, int64(1709564400123), ticks[0].Time.UnixMilli())

	assert.Empty(t, decode([]byte(`{"type":"ping"}`)))
	assert.Empty(t, decode([]byte(`not json`)))
}

func TestStreamSubscribesAndReads(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.URL.Query().Get("token"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 2; i++ {
			var msg map[string]string
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			subscribed <- msg["symbol"]
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"trade","data":[{"s":"QQQ","p":440.5,"v":3,"t":1709564400000}]}`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := New("key", "ws"+strings.TrimPrefix(srv.URL, "http"), []string{"spy", "QQQ"}, 10*time.Millisecond, time.Second, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	require.True(t, c.IsConnected())
	require.NoError(t, c.Subscribe(ctx))
	assert.Equal(t, "SPY", <-subscribed)
	assert.Equal(t, "QQQ", <-subscribed)

	ticks, _ := c.Read(ctx)
	select {
	case tk := <-ticks:
		require.NotNil(t, tk)
		assert.Equal(t, "QQQ", tk.Symbol)
		assert.Equal(t, 440.5, tk.Price)
	case <-ctx.Done():
		t.Fatal("no tick received")
	}

	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
}

func TestReadWithoutConnection(t *testing.T) {
	c := New("", "ws://127.0.0.1:1", nil, 0, 0, nil)
	_, errs := c.Read(context.Background())
	assert.Error(t, <-errs)
}
