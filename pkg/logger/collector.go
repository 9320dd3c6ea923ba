package logger

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Publisher ships a batch of digests to a topic. The kafka producer satisfies it.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type CollectionConfig struct {
	TimeInterval   time.Duration // digest window
	CountThreshold int           // distinct entries that force an early flush
	Topic          string
	Publisher      Publisher
	IncludeWarn    bool
}

// AggregatedLogEntry is one distinct error line and how often it repeated
// inside a window. Fields are taken from the first occurrence.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Symbol    string                 `json:"symbol,omitempty"`
	Caller    string                 `json:"caller"`
	Fields    map[string]interface{} `json:"fields"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector folds repeated error logs into per-window digests so a
// failing collaborator does not flood the event stream.
type LogCollector struct {
	cfg     CollectionConfig
	mu      sync.Mutex
	entries map[string]*AggregatedLogEntry
	full    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func NewLogCollector(cfg *CollectionConfig) *LogCollector {
	c := &LogCollector{
		cfg:     *cfg,
		entries: make(map[string]*AggregatedLogEntry),
		full:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if c.cfg.TimeInterval <= 0 {
		c.cfg.TimeInterval = 30 * time.Second
	}
	if c.cfg.CountThreshold <= 0 {
		c.cfg.CountThreshold = 100
	}
	go c.loop()
	return c
}

// AddLog records one occurrence. Lines differing only in fields other than
// the symbol share a digest entry.
func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	symbol, _ := fields["symbol"].(string)
	key := strings.Join([]string{level, caller, symbol, message}, "|")
	now := time.Now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.entries[key] = &AggregatedLogEntry{
			Level:     level,
			Message:   message,
			Symbol:    symbol,
			Caller:    caller,
			Fields:    fields,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}
	full := len(c.entries) >= c.cfg.CountThreshold
	c.mu.Unlock()

	if full {
		select {
		case c.full <- struct{}{}:
		default:
		}
	}
}

func (c *LogCollector) loop() {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.TimeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.full:
			c.flush()
		case <-c.quit:
			c.flush()
			return
		}
	}
}

// drain swaps the window out and returns it oldest first.
func (c *LogCollector) drain() []AggregatedLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return nil
	}
	out := make([]AggregatedLogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	c.entries = make(map[string]*AggregatedLogEntry)
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeen.Before(out[j].FirstSeen) })
	return out
}

func (c *LogCollector) flush() {
	batch := c.drain()
	if len(batch) == 0 || c.cfg.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, batch); err != nil {
		// The logger cannot log its own shipping failure through itself.
		fmt.Fprintf(os.Stderr, "log digest publish to %s failed: %v\n", c.cfg.Topic, err)
	}
}

// Close flushes the open window and stops the loop.
func (c *LogCollector) Close() {
	c.once.Do(func() { close(c.quit) })
	<-c.done
}
