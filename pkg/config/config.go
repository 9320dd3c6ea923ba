package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"GammaScalp/pkg/util"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"required,oneof=development staging production test"`
	Logger      LoggerConfig     `yaml:"logger"`
	Server      ServerConfig     `yaml:"server"`
	Store       StoreConfig      `yaml:"store"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Feed        FeedConfig       `yaml:"feed"`
	Trading     TradingConfig    `yaml:"trading"`
	Session     SessionConfig    `yaml:"session"`
	Engine      EngineConfig     `yaml:"engine"`
	Risk        RiskConfig       `yaml:"risk"`
	Pattern     PatternConfig    `yaml:"pattern"`
	Zone        ZoneConfig       `yaml:"zone"`
	Signal      SignalConfig     `yaml:"signal"`
	Exits       ExitConfig       `yaml:"exits"`
	Broker      BrokerConfig     `yaml:"broker"`
	Sentiment   SentimentConfig  `yaml:"sentiment"`
	Queue       QueueConfig      `yaml:"queue"`
	Monitor     MonitorConfig    `yaml:"monitor"`
}

type LoggerConfig struct {
	Level   string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format  string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output  string `yaml:"output" default:"stdout" validate:"required"`
	Collect struct {
		Enabled   bool          `yaml:"enabled"`
		Interval  time.Duration `yaml:"interval" default:"30s"`
		Threshold int           `yaml:"threshold" default:"100" validate:"min=1"`
		Topic     string        `yaml:"topic" default:"engine.logs"`
	} `yaml:"collect"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	CORS            bool          `yaml:"cors" default:"true"`
	SlowRequest     time.Duration `yaml:"slow_request" default:"1s"`
}

// StoreConfig selects the key-value persistence. auto falls back to memory
// when redis cannot be reached.
type StoreConfig struct {
	Mode  string `yaml:"mode" default:"auto" validate:"oneof=auto redis memory"`
	Redis struct {
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"6379" validate:"min=1,max=65535"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db" validate:"min=0"`
		PoolSize     int           `yaml:"pool_size" default:"10" validate:"min=1"`
		MinIdleConns int           `yaml:"min_idle_conns" default:"2"`
		PoolTimeout  time.Duration `yaml:"pool_timeout" default:"4s"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"3s"`
		Prefix       string        `yaml:"prefix" default:"gammascalp"`
	} `yaml:"redis"`
	Memory struct {
		MaxSize int           `yaml:"max_size" default:"100000" validate:"min=1"`
		Cleanup time.Duration `yaml:"cleanup" default:"1m"`
	} `yaml:"memory"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
	EventsTopic  string   `yaml:"events_topic" default:"engine.events"`
	CandlesTopic string   `yaml:"candles_topic" default:"market.candles.1m"`
	RequiredAcks int      `yaml:"required_acks" default:"1" validate:"oneof=-1 0 1"`
	Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"5" validate:"min=1"`
		Linger       time.Duration `yaml:"linger" default:"50ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100" validate:"min=1"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
		AutoCreate   bool          `yaml:"auto_create_topic" default:"true"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID     string        `yaml:"group_id" default:"gammascalp-engine"`
		StartOffset string        `yaml:"start_offset" default:"latest" validate:"oneof=earliest latest"`
		Workers     int           `yaml:"workers" default:"1" validate:"min=1"`
		BufferSize  int           `yaml:"buffer_size" default:"256" validate:"min=1"`
		RetryMax    int           `yaml:"retry_max" default:"3" validate:"min=0"`
		BackoffMin  time.Duration `yaml:"backoff_min" default:"100ms"`
		BackoffMax  time.Duration `yaml:"backoff_max" default:"2s"`
		DLQTopic    string        `yaml:"dlq_topic" default:"market.candles.dlq"`
	} `yaml:"consumer"`
}

// ClickHouseConfig backs the trade journal and the candle history.
type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000" validate:"min=1,max=65535"`
	Database         string        `yaml:"database" default:"gammascalp" validate:"required"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert" default:"true"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	MaxOpenConns     int           `yaml:"max_open_conns" default:"10" validate:"min=1"`
	MaxIdleConns     int           `yaml:"max_idle_conns" default:"5" validate:"min=0"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

// FeedConfig picks where closed candles come from.
type FeedConfig struct {
	Source  string        `yaml:"source" default:"finnhub" validate:"oneof=finnhub kafka"`
	Grace   time.Duration `yaml:"grace" default:"2s"`
	Finnhub struct {
		APIKey         string        `yaml:"api_key"`
		WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.finnhub.io" validate:"url"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	} `yaml:"finnhub"`
	History struct {
		WarmupBars   int           `yaml:"warmup_bars" default:"60" validate:"min=0"`
		BatchSize    int           `yaml:"batch_size" default:"100" validate:"min=1"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"5s"`
	} `yaml:"history"`
}

type TradingConfig struct {
	Symbols []string `yaml:"symbols" default:"[\"SPY\",\"QQQ\"]" validate:"required,min=1,dive,required,alpha,uppercase"`
	Mode    string   `yaml:"mode" default:"paper" validate:"oneof=paper live"`
}

type SessionConfig struct {
	Zone  string `yaml:"zone" default:"America/New_York" validate:"required"`
	Open  string `yaml:"open" default:"10:00" validate:"required,datetime=15:04"`
	Close string `yaml:"close" default:"16:00" validate:"required,datetime=15:04"`
}

type EngineConfig struct {
	QueueSize   int           `yaml:"queue_size" default:"256" validate:"min=1"`
	TickTimeout time.Duration `yaml:"tick_timeout" default:"10s"`
	LockTTL     time.Duration `yaml:"lock_ttl" default:"30s"`
}

// RiskConfig percentages are fractions of equity.
type RiskConfig struct {
	Equity               float64 `yaml:"equity" default:"100000" validate:"gt=0"`
	MaxTradesPerDay      int     `yaml:"max_trades_per_day" default:"3" validate:"min=1"`
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses" default:"2" validate:"min=1"`
	MaxDailyLossPct      float64 `yaml:"max_daily_loss_pct" default:"0.015" validate:"gt=0,lt=1"`
	PerTradeRiskPct      float64 `yaml:"per_trade_risk_pct" default:"0.005" validate:"gt=0,lt=1"`
	MaxAccountFraction   float64 `yaml:"max_account_fraction" default:"0.25" validate:"gt=0,lte=1"`
	MaxStopPct           float64 `yaml:"max_stop_pct" default:"0.002" validate:"gt=0,lt=1"`
}

type PatternConfig struct {
	MinGapPct float64       `yaml:"min_gap_pct" default:"0.0005" validate:"gte=0,lt=1"`
	Capacity  int           `yaml:"capacity" default:"50" validate:"min=1"`
	MaxAge    time.Duration `yaml:"max_age" default:"2h"`
}

type ZoneConfig struct {
	Width               float64 `yaml:"width" default:"0.0015" validate:"gt=0,lt=1"`
	ZeroGammaMultiplier float64 `yaml:"zero_gamma_multiplier" default:"2" validate:"gte=1"`
}

type SignalConfig struct {
	MinBodyPct    float64       `yaml:"min_body_pct" default:"0.0003" validate:"gte=0,lt=1"`
	IFVGTolerance float64       `yaml:"ifvg_tolerance" default:"0.005" validate:"gte=0,lt=1"`
	StopBuffer    float64       `yaml:"stop_buffer" default:"0.0001" validate:"gte=0,lt=1"`
	TP1Pct        float64       `yaml:"tp1_pct" default:"0.003" validate:"gt=0,lt=1"`
	SweepExpiry   time.Duration `yaml:"sweep_expiry" default:"30m"`
	Cooldown      time.Duration `yaml:"cooldown" default:"5m"`
}

// ExitConfig drives open trade management.
type ExitConfig struct {
	PartialFraction float64       `yaml:"partial_fraction" default:"0.5" validate:"gt=0,lt=1"`
	TimeStop        time.Duration `yaml:"time_stop" default:"30m"`
	TimeStopMinGain float64       `yaml:"time_stop_min_gain" default:"0.001" validate:"gte=0"`
	QuickExit       time.Duration `yaml:"quick_exit" default:"10m"`
	QuickExitLoss   float64       `yaml:"quick_exit_loss" default:"0.0015" validate:"gte=0"`
}

type BrokerConfig struct {
	BaseURL      string        `yaml:"base_url" validate:"omitempty,url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout" default:"5s"`
	Attempts     int           `yaml:"attempts" default:"2" validate:"min=1"`
	OrdersPerSec float64       `yaml:"orders_per_sec" default:"2" validate:"gt=0"`
	OrderBurst   float64       `yaml:"order_burst" default:"4" validate:"gte=1"`
}

type SentimentConfig struct {
	BaseURL  string        `yaml:"base_url" default:"http://localhost:8001" validate:"required,url"`
	Timeout  time.Duration `yaml:"timeout" default:"3s"`
	Attempts int           `yaml:"attempts" default:"2" validate:"min=1"`
}

// QueueConfig carries collaborator jobs (levels, bias, vix). local runs them
// in process from the HTTP surface only.
type QueueConfig struct {
	Backend    string        `yaml:"backend" default:"redis" validate:"oneof=redis local"`
	KeyPrefix  string        `yaml:"key_prefix" default:"gammascalp:queue"`
	Workers    int           `yaml:"workers" default:"2" validate:"min=1"`
	RetryLimit int           `yaml:"retry_limit" default:"3" validate:"min=0"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"2s"`
	JobTimeout time.Duration `yaml:"job_timeout" default:"10s"`
}

type MonitorConfig struct {
	VIXSpikePct   float64       `yaml:"vix_spike_pct" default:"0.10" validate:"gt=0"`
	StaleAfter    time.Duration `yaml:"stale_after" default:"3m"`
	CheckInterval time.Duration `yaml:"check_interval" default:"15s"`
}

// Load reads and parses a YAML configuration file. Missing keys keep
// their defaults.
func Load(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads .env when present, then the YAML file, then applies
// environment overrides before validating.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func parse(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	c.normalize()
	return &c, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v := getenv(key); v != "" {
			*dst = splitList(v)
		}
	}
	num := func(key string, dst *int) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("ENVIRONMENT", &c.Environment)
	str("LOG_LEVEL", &c.Logger.Level)
	if v := getenv("SYMBOLS"); v != "" {
		c.Trading.Symbols = util.SplitSymbols(v)
	}
	str("TRADING_MODE", &c.Trading.Mode)
	str("STORE_MODE", &c.Store.Mode)
	str("REDIS_HOST", &c.Store.Redis.Host)
	str("REDIS_PASSWORD", &c.Store.Redis.Password)
	list("KAFKA_BROKERS", &c.Kafka.Brokers)
	str("CLICKHOUSE_HOST", &c.ClickHouse.Host)
	str("CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	str("FEED_SOURCE", &c.Feed.Source)
	str("FINNHUB_API_KEY", &c.Feed.Finnhub.APIKey)
	str("BROKER_URL", &c.Broker.BaseURL)
	str("BROKER_API_KEY", &c.Broker.APIKey)
	str("SENTIMENT_URL", &c.Sentiment.BaseURL)

	if err := num("REDIS_PORT", &c.Store.Redis.Port); err != nil {
		return err
	}
	if err := num("HTTP_PORT", &c.Server.Port); err != nil {
		return err
	}
	c.normalize()
	return nil
}

func (c *Config) normalize() {
	for i, s := range c.Trading.Symbols {
		c.Trading.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	c.Trading.Mode = strings.ToLower(strings.TrimSpace(c.Trading.Mode))
}

var validate = validator.New()

// Validate checks field rules and the settings that depend on each other.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed '%s'", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if _, err := time.LoadLocation(c.Session.Zone); err != nil {
		return fmt.Errorf("session.zone: %w", err)
	}
	if c.Session.Open >= c.Session.Close {
		return fmt.Errorf("session.open %s must be before session.close %s", c.Session.Open, c.Session.Close)
	}
	seen := make(map[string]bool, len(c.Trading.Symbols))
	for _, s := range c.Trading.Symbols {
		if seen[s] {
			return fmt.Errorf("trading.symbols: duplicate %s", s)
		}
		seen[s] = true
	}
	if c.Trading.Mode == "live" && c.Broker.BaseURL == "" {
		return fmt.Errorf("broker.base_url is required in live mode")
	}
	switch c.Feed.Source {
	case "finnhub":
		if c.Feed.Finnhub.APIKey == "" {
			return fmt.Errorf("feed.finnhub.api_key is required for the finnhub feed")
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 || c.Kafka.CandlesTopic == "" {
			return fmt.Errorf("kafka.brokers and kafka.candles_topic are required for the kafka feed")
		}
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.EventsTopic == "") {
		return fmt.Errorf("kafka.brokers and kafka.events_topic are required when kafka is enabled")
	}
	if c.Queue.Backend == "redis" && c.Store.Mode == "memory" {
		return fmt.Errorf("queue.backend redis needs store.mode redis or auto")
	}
	if c.Kafka.Consumer.BackoffMin > c.Kafka.Consumer.BackoffMax {
		return fmt.Errorf("kafka.consumer.backoff_min must not exceed backoff_max")
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
