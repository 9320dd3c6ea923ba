package signal

import "time"

// Config holds confirmation and target settings. Percentages are fractions.
type Config struct {
	MinBodyPct    float64
	IFVGTolerance float64
	StopBuffer    float64
	MaxStopPct    float64
	TP1Pct        float64
	SweepExpiry   time.Duration
	Cooldown      time.Duration
}

type Option func(*Config)

func WithMinBody(pct float64) Option { return func(c *Config) { c.MinBodyPct = pct } }

func WithIFVGTolerance(pct float64) Option { return func(c *Config) { c.IFVGTolerance = pct } }

func WithStopBuffer(pct float64) Option { return func(c *Config) { c.StopBuffer = pct } }

func WithMaxStop(pct float64) Option { return func(c *Config) { c.MaxStopPct = pct } }

func WithTP1(pct float64) Option { return func(c *Config) { c.TP1Pct = pct } }

func WithSweepExpiry(d time.Duration) Option { return func(c *Config) { c.SweepExpiry = d } }

func WithCooldown(d time.Duration) Option { return func(c *Config) { c.Cooldown = d } }

func defaultConfig() Config {
	return Config{
		MinBodyPct:    0.0003,
		IFVGTolerance: 0.005,
		StopBuffer:    0.0001,
		MaxStopPct:    0.002,
		TP1Pct:        0.003,
		SweepExpiry:   30 * time.Minute,
		Cooldown:      5 * time.Minute,
	}
}
