package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/prjktcode/poly-grid-ai/pkg/models"
)

// Config is the full service configuration
type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Fees     FeesConfig     `mapstructure:"fees"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       string        `mapstructure:"rate_limit"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // postgres or sqlite
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
}

// RedisConfig represents the optional listing cache configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig represents the optional event fan-out configuration
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// FeesConfig holds the fee schedule policy constants. DefaultRateBps seeds the
// schedule on first boot; MaxRateBps caps every later update.
type FeesConfig struct {
	DefaultRateBps int64  `mapstructure:"default_rate_bps"`
	MaxRateBps     int64  `mapstructure:"max_rate_bps"`
	Recipient      string `mapstructure:"recipient"`
	Admin          string `mapstructure:"admin"`
}

// AuthConfig selects how the API establishes the calling actor's identity
type AuthConfig struct {
	// Mode is "header" (trusted gateway header) or "signature" (ECDSA recovery)
	Mode string `mapstructure:"mode"`
}

// LoadConfig reads configuration from config.yaml and POLYGRID_* environment
// variables, applying defaults and validating the result.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/polygrid")

	v.SetEnvPrefix("POLYGRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No file is fine; defaults + env carry a dev deployment.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit", "100-M")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "polygrid.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 3600)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "polygrid.ledger.events")
	v.SetDefault("kafka.write_timeout", "5s")

	v.SetDefault("fees.default_rate_bps", 250)
	v.SetDefault("fees.max_rate_bps", 1000)

	v.SetDefault("auth.mode", "header")
}

// Validate checks invariants the rest of the service relies on
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Fees.MaxRateBps < 0 || c.Fees.MaxRateBps > 10000 {
		return fmt.Errorf("fees.max_rate_bps out of range: %d", c.Fees.MaxRateBps)
	}
	if c.Fees.DefaultRateBps < 0 || c.Fees.DefaultRateBps > c.Fees.MaxRateBps {
		return fmt.Errorf("fees.default_rate_bps out of range: %d (max %d)", c.Fees.DefaultRateBps, c.Fees.MaxRateBps)
	}
	if c.Fees.Admin != "" {
		if _, ok := models.NormalizeAddress(c.Fees.Admin); !ok {
			return fmt.Errorf("fees.admin is not a valid address: %q", c.Fees.Admin)
		}
	}
	if c.Fees.Recipient != "" {
		if _, ok := models.NormalizeAddress(c.Fees.Recipient); !ok {
			return fmt.Errorf("fees.recipient is not a valid address: %q", c.Fees.Recipient)
		}
	}
	switch c.Auth.Mode {
	case "header", "signature":
	default:
		return fmt.Errorf("auth.mode must be header or signature, got %q", c.Auth.Mode)
	}
	return nil
}
