package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the immutable configuration struct passed into each component
// at startup. Schedulers never read global state; tests construct a fresh
// Config per case.
type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost" validate:"required"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"candlesync"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
		RetentionDays    int           `yaml:"retention_days" default:"90"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"candlesync"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"candle-events"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		MaxAttempts  int      `yaml:"max_attempts" default:"3"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
	} `yaml:"kafka"`
	Source struct {
		Name      string        `yaml:"name" default:"binance"`
		BaseURL   string        `yaml:"base_url" default:"https://api.binance.com"`
		Timeout   time.Duration `yaml:"timeout"`
		RateLimit float64       `yaml:"rate_limit" default:"10"` // requests per second
		Burst     int           `yaml:"burst" default:"5"`
	} `yaml:"source"`
	Stream struct {
		Enabled        bool          `yaml:"enabled"`
		URL            string        `yaml:"url" default:"wss://stream.binance.com:9443/stream"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		FlushInterval  time.Duration `yaml:"flush_interval"`
	} `yaml:"stream"`
	Sync struct {
		Interval      time.Duration `yaml:"interval"`
		Instruments   []string      `yaml:"instruments" validate:"required,min=1"`
		BaseTimeframe string        `yaml:"base_timeframe" default:"1m"`
		Targets       []string      `yaml:"targets"`
		BackfillCount int           `yaml:"backfill_count" default:"100"`
		RefreshCount  int           `yaml:"refresh_count" default:"5"`
		RetryMax      int           `yaml:"retry_max" default:"3"`
		RetryBackoff  time.Duration `yaml:"retry_backoff"`
	} `yaml:"sync"`
	Indicators struct {
		Interval     time.Duration   `yaml:"interval"`
		InitialDelay time.Duration   `yaml:"initial_delay"`
		Lookback     int             `yaml:"lookback" default:"200"`
		CatchUpLimit int             `yaml:"catch_up_limit" default:"5000"`
		CacheTTL     time.Duration   `yaml:"cache_ttl"`
		Timeframes   []string        `yaml:"timeframes"`
		List         []IndicatorSpec `yaml:"list"`
	} `yaml:"indicators"`
}

// IndicatorSpec configures one indicator instance.
type IndicatorSpec struct {
	Name   string `yaml:"name" validate:"required"`
	Kind   string `yaml:"kind" validate:"required"`
	Params struct {
		Period  int `yaml:"period"`
		Fast    int `yaml:"fast"`
		Slow    int `yaml:"slow"`
		Signal  int `yaml:"signal"`
		KPeriod int `yaml:"k_period"`
		KSlow   int `yaml:"k_slow"`
		DPeriod int `yaml:"d_period"`
	} `yaml:"params"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes into a validated Config.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	c.setDurationDefaults()

	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("INSTRUMENTS"); v != "" {
		c.Sync.Instruments = strings.Split(v, ",")
	}

	return c, nil
}

// Durations default to zero through the defaults library, so they are set
// explicitly before unmarshalling.
func (c *Config) setDurationDefaults() {
	c.Server.ReadTimeout = 10 * time.Second
	c.Server.WriteTimeout = 10 * time.Second
	c.Server.ShutdownTimeout = 10 * time.Second
	c.ClickHouse.DialTimeout = 5 * time.Second
	c.ClickHouse.ReadTimeout = 10 * time.Second
	c.ClickHouse.WriteTimeout = 10 * time.Second
	c.ClickHouse.MaxExecutionTime = 30 * time.Second
	c.Kafka.WriteTimeout = 10 * time.Second
	c.Kafka.ReadTimeout = 10 * time.Second
	c.Source.Timeout = 10 * time.Second
	c.Stream.ReconnectDelay = 5 * time.Second
	c.Stream.PingInterval = 30 * time.Second
	c.Stream.FlushInterval = 5 * time.Second
	c.Sync.Interval = 60 * time.Second
	c.Sync.RetryBackoff = time.Second
	c.Indicators.Interval = 60 * time.Second
	c.Indicators.InitialDelay = 10 * time.Second
	c.Indicators.CacheTTL = 60 * time.Second
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers required when kafka is enabled")
	}
	if c.Sync.BackfillCount <= 0 || c.Sync.RefreshCount <= 0 {
		return fmt.Errorf("sync counts must be positive")
	}
	if c.Indicators.Lookback <= 0 {
		return fmt.Errorf("indicators.lookback must be positive")
	}
	if c.Indicators.CatchUpLimit < c.Indicators.Lookback {
		return fmt.Errorf("indicators.catch_up_limit must be >= lookback")
	}
	for _, tf := range append(append([]string{c.Sync.BaseTimeframe}, c.Sync.Targets...), c.Indicators.Timeframes...) {
		switch tf {
		case "1m", "5m", "1h":
		default:
			return fmt.Errorf("unsupported timeframe %q", tf)
		}
	}
	return nil
}
