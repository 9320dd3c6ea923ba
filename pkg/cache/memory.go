package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultMemoryTTL = 7 * 24 * time.Hour

// MemoryItem stores an encoded value or list with expiration.
type MemoryItem struct {
	Value    []byte
	List     [][]byte
	ExpireAt time.Time
}

// IsExpired checks if item has expired.
func (m *MemoryItem) IsExpired() bool {
	return time.Now().After(m.ExpireAt)
}

// MemoryCache implements Service using in-memory storage with LRU eviction.
// Values are stored encoded so reads behave the same as against Redis.
type MemoryCache struct {
	data          map[string]*MemoryItem
	access        map[string]time.Time
	mutex         sync.RWMutex
	maxSize       int
	cleanupTicker *time.Ticker
	done          chan struct{}
	closeOnce     sync.Once
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         10000,
		CleanupInterval: 5 * time.Minute,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		data:          make(map[string]*MemoryItem),
		access:        make(map[string]time.Time),
		maxSize:       cfg.MaxSize,
		cleanupTicker: time.NewTicker(cfg.CleanupInterval),
		done:          make(chan struct{}),
	}

	go mc.cleanupExpired()
	return mc
}

func (mc *MemoryCache) Ping(_ context.Context) error {
	return nil
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}

	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.setLocked(key, &MemoryItem{Value: data, ExpireAt: expireAt(expiration)})
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	item := mc.liveLocked(key)
	if item == nil || item.List != nil {
		return ErrCacheMiss
	}
	mc.access[key] = time.Now()
	return decode(item.Value, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	for _, key := range keys {
		delete(mc.data, key)
		delete(mc.access, key)
	}
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, keys ...string) (bool, error) {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	for _, key := range keys {
		if item, ok := mc.data[key]; ok && !item.IsExpired() {
			return true, nil
		}
	}
	return false, nil
}

func (mc *MemoryCache) Increment(_ context.Context, key string) (int64, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	item := mc.liveLocked(key)
	if item == nil {
		mc.setLocked(key, &MemoryItem{Value: []byte("1"), ExpireAt: expireAt(0)})
		return 1, nil
	}

	val, err := strconv.ParseInt(string(item.Value), 10, 64)
	if err != nil {
		return 0, err
	}
	val++
	item.Value = []byte(strconv.FormatInt(val, 10))
	return val, nil
}

func (mc *MemoryCache) Expire(_ context.Context, key string, expiration time.Duration) (bool, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if item := mc.liveLocked(key); item != nil {
		item.ExpireAt = expireAt(expiration)
		return true, nil
	}
	return false, nil
}

// MSet encodes everything first so a bad value leaves the store untouched.
func (mc *MemoryCache) MSet(_ context.Context, values map[string]interface{}, expiration time.Duration) error {
	encoded := make(map[string][]byte, len(values))
	for key, value := range values {
		data, err := encode(value)
		if err != nil {
			return err
		}
		encoded[key] = data
	}

	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	for key, data := range encoded {
		mc.setLocked(key, &MemoryItem{Value: data, ExpireAt: expireAt(expiration)})
	}
	return nil
}

func (mc *MemoryCache) MGet(_ context.Context, keys ...string) (map[string]string, error) {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	results := make(map[string]string)
	for _, key := range keys {
		if item, ok := mc.data[key]; ok && !item.IsExpired() && item.List == nil {
			results[key] = string(item.Value)
		}
	}
	return results, nil
}

func (mc *MemoryCache) ListAppend(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}

	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	item := mc.liveLocked(key)
	if item == nil {
		item = &MemoryItem{List: [][]byte{}, ExpireAt: expireAt(expiration)}
		mc.setLocked(key, item)
	} else if expiration > 0 {
		item.ExpireAt = expireAt(expiration)
	}
	item.List = append(item.List, data)
	mc.access[key] = time.Now()
	return nil
}

func (mc *MemoryCache) ListRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	item, ok := mc.data[key]
	if !ok || item.IsExpired() {
		return []string{}, nil
	}
	lo, hi := normalizeRange(len(item.List), start, stop)
	out := make([]string, 0, hi-lo)
	for _, v := range item.List[lo:hi] {
		out = append(out, string(v))
	}
	return out, nil
}

func (mc *MemoryCache) KeysByPrefix(_ context.Context, prefix string) ([]string, error) {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	keys := make([]string, 0)
	for key, item := range mc.data {
		if strings.HasPrefix(key, prefix) && !item.IsExpired() {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if item := mc.liveLocked(key); item != nil {
		return false, nil
	}

	mc.setLocked(key, &MemoryItem{Value: []byte("locked"), ExpireAt: expireAt(ttl)})
	return true, nil
}

func (mc *MemoryCache) Unlock(ctx context.Context, key string) error {
	return mc.Delete(ctx, key)
}

// Len reports the number of live keys.
func (mc *MemoryCache) Len() int {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	n := 0
	for _, item := range mc.data {
		if !item.IsExpired() {
			n++
		}
	}
	return n
}

func (mc *MemoryCache) liveLocked(key string) *MemoryItem {
	item, ok := mc.data[key]
	if !ok {
		return nil
	}
	if item.IsExpired() {
		delete(mc.data, key)
		delete(mc.access, key)
		return nil
	}
	return item
}

func (mc *MemoryCache) setLocked(key string, item *MemoryItem) {
	if _, exists := mc.data[key]; !exists && len(mc.data) >= mc.maxSize {
		mc.evictLRU()
	}
	mc.data[key] = item
	mc.access[key] = time.Now()
}

func (mc *MemoryCache) evictLRU() {
	if len(mc.data) == 0 {
		return
	}

	var oldestKey string
	oldestTime := time.Now()

	for key, accessTime := range mc.access {
		if accessTime.Before(oldestTime) {
			oldestTime = accessTime
			oldestKey = key
		}
	}

	if oldestKey != "" {
		delete(mc.data, oldestKey)
		delete(mc.access, oldestKey)
	}
}

func (mc *MemoryCache) cleanupExpired() {
	for {
		select {
		case <-mc.done:
			return
		case <-mc.cleanupTicker.C:
		}

		mc.mutex.Lock()
		now := time.Now()
		for key, item := range mc.data {
			if now.After(item.ExpireAt) {
				delete(mc.data, key)
				delete(mc.access, key)
			}
		}
		mc.mutex.Unlock()
	}
}

// Close stops the cleanup goroutine.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() {
		mc.cleanupTicker.Stop()
		close(mc.done)
	})
	return nil
}

func expireAt(expiration time.Duration) time.Time {
	if expiration <= 0 {
		return time.Now().Add(defaultMemoryTTL)
	}
	return time.Now().Add(expiration)
}
