// Package eventbus delivers engine events to subscribers in registration order.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"GammaScalp/internal/domain/models"
	"GammaScalp/pkg/logger"
)

// Handler consumes one event.
type Handler func(ctx context.Context, e models.Event) error

type subscriber struct {
	name  string
	types map[models.EventType]struct{}
	h     Handler
	queue chan models.Event // nil for synchronous subscribers
}

func (s *subscriber) wants(t models.EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus fans events out to subscribers. Synchronous subscribers run inline in
// registration order; async ones get their own ordered queue. A failing or
// panicking subscriber never affects the others.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	lgr    *logger.Logger
	wg     sync.WaitGroup
	closed bool
}

func New(lgr *logger.Logger) *Bus {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &Bus{lgr: lgr}
}

// Subscribe registers an inline handler. With no types it receives everything.
func (b *Bus) Subscribe(name string, h Handler, types ...models.EventType) {
	b.add(&subscriber{name: name, types: typeSet(types), h: h})
}

// SubscribeAsync registers a handler fed through a queue of the given size.
// Events are dropped, with a warning, when the queue is full.
func (b *Bus) SubscribeAsync(name string, buffer int, h Handler, types ...models.EventType) {
	s := &subscriber{name: name, types: typeSet(types), h: h, queue: make(chan models.Event, buffer)}
	b.add(s)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for e := range s.queue {
			_ = b.deliver(context.Background(), s, e)
		}
	}()
}

func (b *Bus) add(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
}

// Publish delivers e to every interested subscriber registered so far.
// Errors from inline subscribers are joined and returned.
func (b *Bus) Publish(ctx context.Context, e models.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.New("eventbus: closed")
	}

	var errs []error
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		if s.queue != nil {
			select {
			case s.queue <- e:
			default:
				b.lgr.Warn("event dropped, subscriber queue full",
					logger.String("subscriber", s.name),
					logger.String("type", string(e.Type)))
			}
			continue
		}
		if err := b.deliver(ctx, s, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) deliver(ctx context.Context, s *subscriber, e models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber %s panicked: %v", s.name, r)
			b.lgr.Error("event subscriber panic",
				logger.String("subscriber", s.name),
				logger.String("type", string(e.Type)),
				logger.Any("panic", r))
		}
	}()
	if err := s.h(ctx, e); err != nil {
		b.lgr.Warn("event subscriber failed",
			logger.String("subscriber", s.name),
			logger.String("type", string(e.Type)),
			logger.Error(err))
		return fmt.Errorf("subscriber %s: %w", s.name, err)
	}
	return nil
}

// Close stops accepting events and waits for async queues to drain.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, s := range b.subs {
		if s.queue != nil {
			close(s.queue)
		}
	}
	b.mu.Unlock()
	b.wg.Wait()
	return nil
}

func typeSet(types []models.EventType) map[models.EventType]struct{} {
	if len(types) == 0 {
		return nil
	}
	m := make(map[models.EventType]struct{}, len(types))
	for _, t := range types {
		m[t] = struct{}{}
	}
	return m
}
