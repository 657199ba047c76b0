package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"vault-riskbot/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Predictor PredictorConfig `mapstructure:"predictor"`
	NATS      NATSConfig      `mapstructure:"nats"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// RedisConfig covers the metrics key-value store.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PredictorConfig captures the scoring service connectivity.
type PredictorConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseBackoff    time.Duration `mapstructure:"base_backoff"`
	UserAgent      string        `mapstructure:"user_agent"`
	APIKey         string        `mapstructure:"api_key"`
	MaxIdleConns   int           `mapstructure:"max_idle_conns"`
}

// NATSConfig governs the JetStream event consumer.
type NATSConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	URL        string        `mapstructure:"url"`
	Stream     string        `mapstructure:"stream"`
	Subject    string        `mapstructure:"subject"`
	Durable    string        `mapstructure:"durable"`
	Workers    int           `mapstructure:"workers"`
	FetchBatch int           `mapstructure:"fetch_batch"`
	FetchWait  time.Duration `mapstructure:"fetch_wait"`
	AckWait    time.Duration `mapstructure:"ack_wait"`
	MaxDeliver int           `mapstructure:"max_deliver"`
	NakDelay   time.Duration `mapstructure:"nak_delay"`
}

// HTTPConfig governs the webhook trigger and operational endpoints.
type HTTPConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ListenAddr      string        `mapstructure:"listen_addr"`
	EventsPath      string        `mapstructure:"events_path"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the history archive.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ArchiveConfig governs the periodic history archiver.
type ArchiveConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	Lookback        time.Duration `mapstructure:"lookback"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig defines risk alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Levels   []string       `mapstructure:"levels"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults. A .env file
// in the working directory is loaded into the environment first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("RISKBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "riskbot")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	v.SetDefault("predictor.endpoint", "")
	v.SetDefault("predictor.attempt_timeout", "10s")
	v.SetDefault("predictor.max_attempts", 3)
	v.SetDefault("predictor.base_backoff", "1s")
	v.SetDefault("predictor.user_agent", "riskbot/1.0")
	v.SetDefault("predictor.api_key", "")
	v.SetDefault("predictor.max_idle_conns", 100)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.stream", "VAULT_EVENTS")
	v.SetDefault("nats.subject", "vault.events")
	v.SetDefault("nats.durable", "riskbot")
	v.SetDefault("nats.workers", 4)
	v.SetDefault("nats.fetch_batch", 10)
	v.SetDefault("nats.fetch_wait", "5s")
	v.SetDefault("nats.ack_wait", "60s")
	v.SetDefault("nats.max_deliver", 10)
	v.SetDefault("nats.nak_delay", "5s")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.listen_addr", ":8080")
	v.SetDefault("http.events_path", "/api/events")
	v.SetDefault("http.shutdown_timeout", "10s")
	v.SetDefault("http.max_body_bytes", int64(1<<20))
	v.SetDefault("http.request_timeout", "50s")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.interval", "5m")
	v.SetDefault("archive.lookback", "15m")
	v.SetDefault("archive.advisory_lock_key", int64(0x7269736b))
	v.SetDefault("archive.startup_delay", "0s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.levels", []string{"High", "Critical"})
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Predictor.AttemptTimeout <= 0 {
		return fmt.Errorf("predictor.attempt_timeout must be greater than zero")
	}
	if c.Predictor.MaxAttempts < 1 {
		return fmt.Errorf("predictor.max_attempts must be at least 1")
	}
	if c.Predictor.BaseBackoff <= 0 {
		return fmt.Errorf("predictor.base_backoff must be greater than zero")
	}
	if c.NATS.Enabled {
		if c.NATS.Workers < 1 {
			return fmt.Errorf("nats.workers must be at least 1")
		}
		if c.NATS.Subject == "" || c.NATS.Stream == "" || c.NATS.Durable == "" {
			return fmt.Errorf("nats.stream, nats.subject and nats.durable are required when nats is enabled")
		}
	}
	if c.HTTP.Enabled && c.HTTP.ListenAddr == "" {
		return fmt.Errorf("http.listen_addr is required when http is enabled")
	}
	if c.HTTP.Enabled && c.HTTP.RequestTimeout <= 0 {
		return fmt.Errorf("http.request_timeout must be greater than zero")
	}
	if c.Archive.Interval <= 0 {
		return fmt.Errorf("archive.interval must be greater than zero")
	}
	if c.Archive.Lookback < 0 {
		return fmt.Errorf("archive.lookback cannot be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// RequirePipeline reports whether the settings needed to process events are present.
func (c *Config) RequirePipeline() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required")
	}
	if c.Predictor.Endpoint == "" {
		return fmt.Errorf("predictor.endpoint is required")
	}
	return nil
}
