package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Upstream struct {
		URL           string        `yaml:"url"`
		Symbols       []string      `yaml:"symbols"`
		Channel       string        `yaml:"channel"`
		PingInterval  time.Duration `yaml:"ping_interval"`
		BackoffMin    time.Duration `yaml:"backoff_min"`
		BackoffMax    time.Duration `yaml:"backoff_max"`
		BackoffFactor float64       `yaml:"backoff_factor"`
		StableAfter   time.Duration `yaml:"stable_after"` // connection age that resets the attempt counter
		HandshakeTO   time.Duration `yaml:"handshake_timeout"`
	} `yaml:"upstream"`
	Relay struct {
		BatchInterval time.Duration `yaml:"batch_interval"`
	} `yaml:"relay"`
	Candles struct {
		Intervals []string `yaml:"intervals"`
		Capacity  int      `yaml:"capacity"`
	} `yaml:"candles"`
	Whale struct {
		WindowSize int           `yaml:"window_size"`
		MinSamples int           `yaml:"min_samples"`
		Multiplier float64       `yaml:"multiplier"`
		MinUSD     float64       `yaml:"min_usd"`
		IdleExpiry time.Duration `yaml:"idle_expiry"`
		EventCap   int           `yaml:"event_cap"`
	} `yaml:"whale"`
	Hub struct {
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		TopicInterval     time.Duration `yaml:"topic_interval"` // min gap between per-topic sends
		AuthSecret        string        `yaml:"auth_secret"`
		WriteTimeout      time.Duration `yaml:"write_timeout"`
		SendBuffer        int           `yaml:"send_buffer"`
	} `yaml:"hub"`
	History struct {
		Backend     string        `yaml:"backend"` // kafka or clickhouse
		ProviderURL string        `yaml:"provider_url"`
		CacheTTL    time.Duration `yaml:"cache_ttl"`
		Timeout     time.Duration `yaml:"timeout"`
	} `yaml:"history"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Forecast struct {
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"forecast"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

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

	if v := os.Getenv("UPSTREAM_URL"); v != "" {
		c.Upstream.URL = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Upstream.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("HISTORY_BACKEND"); v != "" {
		c.History.Backend = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("WS_AUTH_SECRET"); v != "" {
		c.Hub.AuthSecret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}

	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Upstream.Channel == "" {
		c.Upstream.Channel = "tickers"
	}
	if c.Upstream.PingInterval <= 0 {
		c.Upstream.PingInterval = 15 * time.Second
	}
	if c.Upstream.BackoffMin <= 0 {
		c.Upstream.BackoffMin = time.Second
	}
	if c.Upstream.BackoffMax <= 0 {
		c.Upstream.BackoffMax = 30 * time.Second
	}
	if c.Upstream.BackoffFactor <= 1 {
		c.Upstream.BackoffFactor = 2
	}
	if c.Upstream.StableAfter <= 0 {
		c.Upstream.StableAfter = time.Minute
	}
	if c.Relay.BatchInterval <= 0 {
		c.Relay.BatchInterval = time.Second
	}
	if len(c.Candles.Intervals) == 0 {
		c.Candles.Intervals = []string{"1m", "5m", "15m", "1h"}
	}
	if c.Candles.Capacity <= 0 {
		c.Candles.Capacity = 500
	}
	if c.Whale.WindowSize <= 0 {
		c.Whale.WindowSize = 50
	}
	if c.Whale.MinSamples <= 0 {
		c.Whale.MinSamples = 10
	}
	if c.Whale.Multiplier <= 0 {
		c.Whale.Multiplier = 8
	}
	if c.Whale.MinUSD <= 0 {
		c.Whale.MinUSD = 50000
	}
	if c.Whale.IdleExpiry <= 0 {
		c.Whale.IdleExpiry = 10 * time.Minute
	}
	if c.Whale.EventCap <= 0 {
		c.Whale.EventCap = 200
	}
	if c.Hub.HeartbeatInterval <= 0 {
		c.Hub.HeartbeatInterval = 30 * time.Second
	}
	if c.Hub.TopicInterval <= 0 {
		c.Hub.TopicInterval = time.Second
	}
	if c.Hub.WriteTimeout <= 0 {
		c.Hub.WriteTimeout = 10 * time.Second
	}
	if c.Hub.SendBuffer <= 0 {
		c.Hub.SendBuffer = 64
	}
	if c.History.Backend == "" {
		c.History.Backend = "kafka"
	}
	if c.History.Timeout <= 0 {
		c.History.Timeout = 5 * time.Second
	}
	if c.History.CacheTTL <= 0 {
		c.History.CacheTTL = time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream.url is required")
	}
	if len(c.Upstream.Symbols) == 0 {
		return fmt.Errorf("upstream.symbols cannot be empty")
	}
	if c.History.Backend != "kafka" && c.History.Backend != "clickhouse" && c.History.Backend != "none" {
		return fmt.Errorf("history.backend must be 'kafka', 'clickhouse' or 'none', got '%s'", c.History.Backend)
	}
	if c.Hub.AuthSecret == "" {
		return fmt.Errorf("hub.auth_secret is required")
	}
	return nil
}
