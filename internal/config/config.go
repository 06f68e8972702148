// Package config loads and validates sentinel configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultBackendURL is the collection endpoint used when none is configured.
const DefaultBackendURL = "https://api.ethicrawler.com"

// MaxRetryAttempts bounds retry.max_attempts so the backoff shift stays in range.
const MaxRetryAttempts = 10

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Detection DetectionConfig `mapstructure:"detection"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Store     StoreConfig     `mapstructure:"store"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Debug     DebugConfig     `mapstructure:"debug"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// Upstream is the site proxied behind the detection chain. Empty serves a placeholder page.
	Upstream string `mapstructure:"upstream"`
}

// AuthConfig protects the operator endpoints.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DetectionConfig holds the site identity and classification switches.
type DetectionConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	SiteID         string   `mapstructure:"site_id"`
	BackendURL     string   `mapstructure:"backend_url"`
	Product        string   `mapstructure:"product"`
	Version        string   `mapstructure:"version"`
	ExtraWhitelist []string `mapstructure:"extra_whitelist"`
	ExtraPatterns  []string `mapstructure:"extra_patterns"`
}

// DeliveryConfig tunes outbound reporting.
type DeliveryConfig struct {
	FirstAttemptTimeout time.Duration `mapstructure:"first_attempt_timeout"`
	RetryTimeout        time.Duration `mapstructure:"retry_timeout"`
	Workers             int           `mapstructure:"workers"`
	QueueDepth          int           `mapstructure:"queue_depth"`
	MaxRPS              float64       `mapstructure:"max_rps"`
	Burst               int           `mapstructure:"burst"`
}

// RetryConfig bounds re-delivery of failed events.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	RecordTTL   time.Duration `mapstructure:"record_ttl"`
}

// StoreConfig selects the key/value backend.
type StoreConfig struct {
	Backend       string `mapstructure:"backend"`
	KeyPrefix     string `mapstructure:"key_prefix"`
	RedisURL      string `mapstructure:"redis_url"`
	RedisPassword string `mapstructure:"redis_password"`
	DSN           string `mapstructure:"dsn"`
	Table         string `mapstructure:"table"`
	MaxConns      int32  `mapstructure:"max_conns"`
}

// SchedulerConfig selects the time-based job scheduler.
type SchedulerConfig struct {
	Backend      string        `mapstructure:"backend"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

// TelemetryConfig controls outcome statistics retention.
type TelemetryConfig struct {
	ErrorLogSize int           `mapstructure:"error_log_size"`
	StatsTTL     time.Duration `mapstructure:"stats_ttl"`
	ServiceName  string        `mapstructure:"service_name"`
}

// DebugConfig enables the diagnostic echo endpoint.
type DebugConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	QueryParam string `mapstructure:"query_param"`
}

// PubSubConfig holds the optional detection mirror topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.upstream", "")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("detection.enabled", true)
	v.SetDefault("detection.site_id", "")
	v.SetDefault("detection.backend_url", DefaultBackendURL)
	v.SetDefault("detection.product", "EthiCrawler")
	v.SetDefault("detection.version", "1.0.0")
	v.SetDefault("detection.extra_whitelist", []string{})
	v.SetDefault("detection.extra_patterns", []string{})
	v.SetDefault("delivery.first_attempt_timeout", "2s")
	v.SetDefault("delivery.retry_timeout", "10s")
	v.SetDefault("delivery.workers", 4)
	v.SetDefault("delivery.queue_depth", 1024)
	v.SetDefault("delivery.max_rps", 50)
	v.SetDefault("delivery.burst", 10)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1m")
	v.SetDefault("retry.record_ttl", "24h")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.key_prefix", "sentinel:")
	v.SetDefault("store.redis_url", "")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.table", "kv_entries")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("scheduler.backend", "memory")
	v.SetDefault("scheduler.poll_interval", "15s")
	v.SetDefault("scheduler.batch_size", 50)
	v.SetDefault("telemetry.error_log_size", 10)
	v.SetDefault("telemetry.stats_ttl", "720h")
	v.SetDefault("telemetry.service_name", "crawler-sentinel")
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.query_param", "ethicrawler_debug")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
}

// Validate enforces required values and reasonable limits. An empty site id or a malformed
// backend URL is not a load error: both are reported at dispatch/delivery time instead.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.Upstream != "" {
		u, err := url.Parse(c.Server.Upstream)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("server.upstream must be an absolute URL")
		}
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Delivery.FirstAttemptTimeout <= 0 || c.Delivery.RetryTimeout <= 0 {
		return fmt.Errorf("delivery timeouts must be > 0")
	}
	if c.Delivery.Workers <= 0 {
		return fmt.Errorf("delivery.workers must be > 0")
	}
	if c.Retry.MaxAttempts < 0 || c.Retry.MaxAttempts > MaxRetryAttempts {
		return fmt.Errorf("retry.max_attempts must be between 0 and %d", MaxRetryAttempts)
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be > 0")
	}
	switch c.Store.Backend {
	case "memory", "":
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url must be set for the redis backend")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend %q is not supported", c.Store.Backend)
	}
	switch c.Scheduler.Backend {
	case "memory", "":
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url must be set for the redis scheduler")
		}
	default:
		return fmt.Errorf("scheduler.backend %q is not supported", c.Scheduler.Backend)
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be > 0")
	}
	if c.Debug.Enabled && c.Debug.QueryParam == "" {
		return fmt.Errorf("debug.query_param must be set when debug is enabled")
	}
	return nil
}

// ProductUserAgent renders the outbound User-Agent header value.
func (c Config) ProductUserAgent() string {
	return fmt.Sprintf("%s/%s", c.Detection.Product, c.Detection.Version)
}
