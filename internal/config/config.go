package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Query    QueryConfig    `mapstructure:"query"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type AuditConfig struct {
	// Empty means: use the executable name.
	ApplicationName string        `mapstructure:"application_name"`
	QueueCapacity   int           `mapstructure:"queue_capacity"`
	FailureBackoff  time.Duration `mapstructure:"failure_backoff"`
	StorageTimeout  time.Duration `mapstructure:"storage_timeout"`
	MaxBodyBytes    int           `mapstructure:"max_body_bytes"` // 0 = capture full bodies
	SkipPaths       []string      `mapstructure:"skip_paths"`
	SensitiveKeys   []string      `mapstructure:"sensitive_keys"`
	RedactHeaders   []string      `mapstructure:"redact_headers"`
}

type AuthConfig struct {
	AdminKey string `mapstructure:"admin_key"`
	// UserHeader carries the caller id set by a trusted upstream gateway.
	UserHeader string `mapstructure:"user_header"`
}

type QueryConfig struct {
	RateQPS   float64 `mapstructure:"rate_qps"`
	RateBurst int     `mapstructure:"rate_burst"`
}

type DatabaseConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	AuditRetentionDays     int    `mapstructure:"audit_retention_days"`
	CleanupIntervalMinutes int    `mapstructure:"cleanup_interval_minutes"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DefaultSensitiveKeys are JSON keys whose values never reach the audit store.
var DefaultSensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"access_token",
	"refresh_token",
	"api_key",
	"api_secret",
	"authorization",
	"private_key",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("audit.application_name", "")
	v.SetDefault("audit.queue_capacity", 1000)
	v.SetDefault("audit.failure_backoff", time.Second)
	v.SetDefault("audit.storage_timeout", 5*time.Second)
	v.SetDefault("audit.max_body_bytes", 0)
	v.SetDefault("audit.skip_paths", []string{"/health", "/metrics"})
	v.SetDefault("audit.sensitive_keys", DefaultSensitiveKeys)
	v.SetDefault("audit.redact_headers", []string{"Authorization", "Cookie", "Set-Cookie", "X-Admin-Key"})
	v.SetDefault("auth.admin_key", "")
	v.SetDefault("auth.user_header", "X-User-Id")
	v.SetDefault("query.rate_qps", 10.0)
	v.SetDefault("query.rate_burst", 20)
	// keys without a real default are still registered so env overrides unmarshal
	v.SetDefault("database.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.audit_retention_days", 30)
	v.SetDefault("database.cleanup_interval_minutes", 60)
	v.SetDefault("redis.key_prefix", "audit")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads config.yaml from . or ./configs and POLYAUDIT_* environment
// variables (e.g. POLYAUDIT_AUDIT_QUEUE_CAPACITY).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	v.SetEnvPrefix("polyaudit")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	return &cfg
}

func (d DatabaseConfig) Retention() time.Duration {
	return time.Duration(d.AuditRetentionDays) * 24 * time.Hour
}

func (d DatabaseConfig) CleanupInterval() time.Duration {
	return time.Duration(d.CleanupIntervalMinutes) * time.Minute
}
