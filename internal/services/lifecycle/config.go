package lifecycle

import "time"

const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Config holds exit management settings. Percentages are fractions.
type Config struct {
	Mode            string
	PartialFraction float64
	TimeStop        time.Duration
	TimeStopMinGain float64
	QuickExit       time.Duration
	QuickExitLoss   float64
	BrokerTimeout   time.Duration
	Location        *time.Location // zone of the trade id timestamp
}

type Option func(*Config)

func WithMode(mode string) Option { return func(c *Config) { c.Mode = mode } }

func WithPartialFraction(f float64) Option { return func(c *Config) { c.PartialFraction = f } }

func WithTimeStop(d time.Duration, minGain float64) Option {
	return func(c *Config) {
		c.TimeStop = d
		c.TimeStopMinGain = minGain
	}
}

func WithQuickExit(d time.Duration, maxLoss float64) Option {
	return func(c *Config) {
		c.QuickExit = d
		c.QuickExitLoss = maxLoss
	}
}

func WithBrokerTimeout(d time.Duration) Option { return func(c *Config) { c.BrokerTimeout = d } }

func WithLocation(loc *time.Location) Option { return func(c *Config) { c.Location = loc } }

func defaultConfig() Config {
	return Config{
		Mode:            ModePaper,
		PartialFraction: 0.5,
		TimeStop:        30 * time.Minute,
		TimeStopMinGain: 0.001,
		QuickExit:       10 * time.Minute,
		QuickExitLoss:   0.0015,
		BrokerTimeout:   5 * time.Second,
		Location:        time.UTC,
	}
}
