package cache

import (
	"fmt"

	"GammaScalp/pkg/logger"
)

const (
	ModeRedis  = "redis"
	ModeMemory = "memory"
	ModeAuto   = "auto"
)

// Store is a selected Service plus whether it runs degraded.
// A degraded store does not survive a restart.
type Store struct {
	Service
	Degraded bool
	Mode     string
}

// Open picks the persistence strategy once at startup.
// In auto mode an unreachable Redis yields a degraded in-memory store.
func Open(lgr *logger.Logger, opts ...StoreOption) (*Store, error) {
	cfg := &StoreConfig{Mode: ModeAuto}
	for _, opt := range opts {
		opt(cfg)
	}

	switch cfg.Mode {
	case ModeMemory:
		return &Store{Service: NewMemoryCache(cfg.Memory...), Degraded: true, Mode: ModeMemory}, nil
	case ModeRedis, ModeAuto:
		rc, err := NewRedisCache(cfg.Redis...)
		if err == nil {
			return &Store{Service: rc, Mode: ModeRedis}, nil
		}
		if cfg.Mode == ModeRedis {
			return nil, err
		}
		if lgr != nil {
			lgr.Warn("redis unavailable, running with degraded in-memory store", logger.Error(err))
		}
		return &Store{Service: NewMemoryCache(cfg.Memory...), Degraded: true, Mode: ModeMemory}, nil
	default:
		return nil, fmt.Errorf("cache: unknown store mode %q", cfg.Mode)
	}
}
