package pattern

import "time"

// Config holds detection and retention settings.
type Config struct {
	MinGapPct float64       // minimum (top-bottom)/c1.close
	Capacity  int           // ring size per symbol
	MaxAge    time.Duration // prune threshold, 0 disables
}

// Option configures the engine.
type Option func(*Config)

func WithMinGap(pct float64) Option {
	return func(c *Config) { c.MinGapPct = pct }
}

func WithCapacity(n int) Option {
	return func(c *Config) { c.Capacity = n }
}

func WithMaxAge(d time.Duration) Option {
	return func(c *Config) { c.MaxAge = d }
}

func defaultConfig() Config {
	return Config{
		MinGapPct: 0.0005,
		Capacity:  50,
		MaxAge:    120 * time.Minute,
	}
}
