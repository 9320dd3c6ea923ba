// Package finnhub streams trade prints from the Finnhub websocket.
package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"GammaScalp/internal/domain/models"
	drepo "GammaScalp/internal/domain/repository"
	"GammaScalp/pkg/logger"

	"github.com/gorilla/websocket"
)

// Client implements a MarketStream backed by Finnhub WebSocket.
type Client struct {
	apiKey         string
	websocketURL   string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	lgr            *logger.Logger

	mu        sync.Mutex // guards conn and connected
	writeMu   sync.Mutex // gorilla allows one concurrent writer
	conn      *websocket.Conn
	connected bool
}

// New creates a new Finnhub MarketStream.
func New(apiKey, websocketURL string, symbols []string, reconnectDelay, pingInterval time.Duration, lgr *logger.Logger) *Client {
	if lgr == nil {
		lgr = logger.Nop()
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Client{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		lgr:            lgr.With(logger.String("component", "finnhub")),
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.websocketURL)
	if err != nil {
		return fmt.Errorf("finnhub url: %w", err)
	}
	if c.apiKey != "" {
		q := u.Query()
		q.Set("token", c.apiKey)
		u.RawQuery = q.Encode()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.lgr.Info("connected", logger.String("host", u.Host))
	return nil
}

func (c *Client) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil
	}
	return c.conn
}

func (c *Client) write(conn *websocket.Conn, fn func(*websocket.Conn) error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return fn(conn)
}

// Subscribe subscribes to configured symbols.
func (c *Client) Subscribe(ctx context.Context) error {
	conn := c.current()
	if conn == nil {
		return errors.New("finnhub not connected")
	}
	for _, s := range c.symbols {
		msg := map[string]string{"type": "subscribe", "symbol": strings.ToUpper(s)}
		if err := c.write(conn, func(w *websocket.Conn) error { return w.WriteJSON(msg) }); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
		c.lgr.Info("subscribed", logger.Symbol(s))
	}
	return nil
}

type fhTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type fhMessage struct {
	Type string    `json:"type"`
	Data []fhTrade `json:"data"`
}

// decode turns one frame into ticks. Frames other than trades yield none.
func decode(b []byte) []*models.Tick {
	var m fhMessage
	if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
		return nil
	}
	out := make([]*models.Tick, 0, len(m.Data))
	for _, d := range m.Data {
		if d.S == "" || d.P <= 0 {
			continue
		}
		out = append(out, &models.Tick{
			Symbol: strings.ToUpper(d.S),
			Price:  d.P,
			Volume: d.V,
			Time:   time.UnixMilli(d.T).UTC(),
		})
	}
	return out
}

// Read streams ticks and errors until ctx ends or the connection fails.
// Ticks are dropped when the consumer falls behind.
func (c *Client) Read(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	ticks := make(chan *models.Tick, 1024)
	errCh := make(chan error, 1)

	conn := c.current()
	if conn == nil {
		errCh <- errors.New("finnhub not connected")
		close(errCh)
		close(ticks)
		return ticks, errCh
	}

	readCtx, stop := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-readCtx.Done():
				return
			case <-ticker.C:
				_ = c.write(conn, func(w *websocket.Conn) error {
					return w.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				})
			}
		}
	}()

	go func() {
		defer stop()
		defer close(ticks)
		defer close(errCh)
		for readCtx.Err() == nil {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if readCtx.Err() == nil {
					errCh <- fmt.Errorf("finnhub read: %w", err)
				}
				return
			}
			for _, t := range decode(b) {
				select {
				case ticks <- t:
				default:
				}
			}
		}
	}()

	return ticks, errCh
}

// Reconnect closes and reconnects after the configured delay.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.reconnectDelay):
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WebSocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.connected = false
	return err
}

// IsConnected returns true if the connection is established.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

var _ drepo.MarketStream = (*Client)(nil)
