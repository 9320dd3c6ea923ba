package risk

// Config holds the daily and per-trade limits. Percentages are fractions.
type Config struct {
	Equity               float64
	MaxTradesPerDay      int
	MaxConsecutiveLosses int
	MaxDailyLossPct      float64
	PerTradeRiskPct      float64
	MaxAccountFraction   float64
	MaxStopPct           float64
}

type Option func(*Config)

func WithEquity(v float64) Option { return func(c *Config) { c.Equity = v } }

func WithMaxTrades(n int) Option { return func(c *Config) { c.MaxTradesPerDay = n } }

func WithMaxConsecutiveLosses(n int) Option { return func(c *Config) { c.MaxConsecutiveLosses = n } }

func WithMaxDailyLoss(pct float64) Option { return func(c *Config) { c.MaxDailyLossPct = pct } }

func WithPerTradeRisk(pct float64) Option { return func(c *Config) { c.PerTradeRiskPct = pct } }

func WithMaxAccountFraction(f float64) Option { return func(c *Config) { c.MaxAccountFraction = f } }

func WithMaxStop(pct float64) Option { return func(c *Config) { c.MaxStopPct = pct } }

func defaultConfig() Config {
	return Config{
		Equity:               100000,
		MaxTradesPerDay:      3,
		MaxConsecutiveLosses: 2,
		MaxDailyLossPct:      0.015,
		PerTradeRiskPct:      0.005,
		MaxAccountFraction:   0.25,
		MaxStopPct:           0.002,
	}
}
