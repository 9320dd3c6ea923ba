package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrPermanent marks a job failure that retrying cannot fix. The message
// goes straight to the dead letter list.
var ErrPermanent = errors.New("permanent job failure")

// ErrUnknownType is returned for a message type without a job.
var ErrUnknownType = errors.New("no job registered for type")

// QueueService publishes messages to the job consumers.
type QueueService interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

// QueueConfig contains the configuration for the queue.
type QueueConfig struct {
	Workers    int           // number of workers
	RetryLimit int           // number of maximum retries
	RetryDelay time.Duration // time delay between retries
	JobTimeout time.Duration // bound of one Handle call
}

// Message is the envelope stored in the queue.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage wraps payload in an envelope. Raw JSON is kept as is.
func NewMessage(msgType string, payload interface{}) (Message, error) {
	var raw json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("%w: marshal payload: %v", ErrPermanent, err)
		}
		raw = b
	}
	if !json.Valid(raw) {
		return Message{}, fmt.Errorf("%w: payload of %s is not valid json", ErrPermanent, msgType)
	}
	return Message{ID: uuid.NewString(), Type: msgType, Payload: raw, Timestamp: time.Now().UTC()}, nil
}

// Decode unmarshals a job payload into T.
func Decode[T any](payload json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, fmt.Errorf("%w: decode payload: %v", ErrPermanent, err)
	}
	return out, nil
}

// Local runs jobs in process. It serves the degraded mode where no redis is
// reachable, and direct submission from the HTTP surface.
type Local struct {
	mu      sync.RWMutex
	jobs    map[string]Job
	timeout time.Duration
}

// NewLocal registers jobs for in-process dispatch.
func NewLocal(timeout time.Duration, jobs ...Job) *Local {
	l := &Local{jobs: make(map[string]Job), timeout: timeout}
	for _, j := range jobs {
		l.jobs[j.Type()] = j
	}
	return l
}

// PublishMessage runs the job synchronously and returns its error.
func (l *Local) PublishMessage(ctx context.Context, msgType string, payload interface{}) error {
	l.mu.RLock()
	job, ok := l.jobs[msgType]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, msgType)
	}
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	return job.Handle(ctx, msg.Payload)
}

// Types lists the registered message types.
func (l *Local) Types() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.jobs))
	for t := range l.jobs {
		out = append(out, t)
	}
	return out
}
