// Package config loads oav-express settings from a YAML file and OAV_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. OAV_SERVER_PORT
const EnvPrefix = "OAV"

// Isolation modes
const (
	IsolationProcess = "process"
	IsolationLocal   = "local"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Store     StoreConfig     `mapstructure:"store"`
	Specs     SpecsConfig     `mapstructure:"specs"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Environment  string        `mapstructure:"environment"`
	SwaggerHost  string        `mapstructure:"swagger_host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type SessionsConfig struct {
	MaxConcurrent      int           `mapstructure:"max_concurrent"`
	MaxDurationSeconds int           `mapstructure:"max_duration_seconds"`
	GracePeriod        time.Duration `mapstructure:"grace_period"`
	Retention          time.Duration `mapstructure:"retention"`
	InboxSize          int           `mapstructure:"inbox_size"`
	Isolation          string        `mapstructure:"isolation"`
}

type StoreConfig struct {
	Type            string        `mapstructure:"type"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Redis           RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Address     string        `mapstructure:"address"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
	KeyTTL      time.Duration `mapstructure:"key_ttl"`
}

type SpecsConfig struct {
	CacheDir       string        `mapstructure:"cache_dir"`
	DefaultRepoURL string        `mapstructure:"default_repo_url"`
	CloneTimeout   time.Duration `mapstructure:"clone_timeout"`
	GitBinary      string        `mapstructure:"git_binary"`
}

type TelemetryConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Brokers   []string `mapstructure:"brokers"`
	Topic     string   `mapstructure:"topic"`
	QueueSize int      `mapstructure:"queue_size"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
	Dir   string `mapstructure:"dir"`
}

// Load reads the config file at path (optional) and applies defaults and
// environment overrides
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.swagger_host", "")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	// Sessions
	v.SetDefault("sessions.max_concurrent", 20)
	v.SetDefault("sessions.max_duration_seconds", 3600)
	v.SetDefault("sessions.grace_period", 3*time.Second)
	v.SetDefault("sessions.retention", 10*time.Minute)
	v.SetDefault("sessions.inbox_size", 1024)
	v.SetDefault("sessions.isolation", IsolationProcess)

	// Store
	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.path", "oav-results.db")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_open_conns", 25)
	v.SetDefault("store.max_idle_conns", 5)
	v.SetDefault("store.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("store.conn_max_idle_time", time.Minute)
	v.SetDefault("store.redis.address", "localhost:6379")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.pool_size", 20)
	v.SetDefault("store.redis.pool_timeout", 5*time.Second)
	v.SetDefault("store.redis.key_ttl", 0)

	// Specs
	v.SetDefault("specs.cache_dir", "/var/cache/oav-express/specs")
	v.SetDefault("specs.default_repo_url", "https://github.com/vladbarosan/sample-openapi-specs")
	v.SetDefault("specs.clone_timeout", 2*time.Minute)
	v.SetDefault("specs.git_binary", "git")

	// Telemetry
	v.SetDefault("telemetry.kafka.enabled", false)
	v.SetDefault("telemetry.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("telemetry.kafka.topic", "oav-traces")
	v.SetDefault("telemetry.kafka.queue_size", 1024)

	// Tracing
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.service_name", "oav-express")
	v.SetDefault("tracing.sample_rate", 1.0)

	// Rate limiting
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.rps", 200.0)
	v.SetDefault("ratelimit.burst", 400)

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.dir", "")
}

// bindEnvVars maps the environment names of the original deployment
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("server.port", "OAV_SERVER_PORT", "PORT")
	v.BindEnv("server.environment", "OAV_SERVER_ENVIRONMENT", "NODE_ENV")
	v.BindEnv("store.dsn", "OAV_STORE_DSN", "DATABASE_DSN")
	v.BindEnv("store.redis.address", "OAV_STORE_REDIS_ADDRESS", "REDIS_ADDR")
	v.BindEnv("log.level", "OAV_LOG_LEVEL", "LOG_LEVEL")
}

// Validate checks the loaded settings
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.New("invalid server port")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return errors.New("invalid metrics port")
	}
	if c.Metrics.Enabled && c.Metrics.Port == c.Server.Port {
		return errors.New("metrics port must differ from server port")
	}

	if c.Sessions.MaxConcurrent < 1 {
		return errors.New("sessions.max_concurrent must be positive")
	}
	if c.Sessions.MaxDurationSeconds < 0 {
		return errors.New("sessions.max_duration_seconds must not be negative")
	}
	if c.Sessions.GracePeriod <= 0 {
		return errors.New("sessions.grace_period must be positive")
	}
	if c.Sessions.InboxSize < 1 {
		return errors.New("sessions.inbox_size must be positive")
	}

	switch strings.ToLower(c.Store.Type) {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" && c.Store.DSN == "" {
			return errors.New("store.path must be set for the sqlite store")
		}
	case "postgres", "postgresql":
		if c.Store.DSN == "" {
			return errors.New("store.dsn must be set for the postgres store")
		}
	case "redis":
		if c.Store.Redis.Address == "" {
			return errors.New("store.redis.address must be set for the redis store")
		}
	default:
		return fmt.Errorf("invalid store type: %s. Must be 'memory', 'sqlite', 'postgres' or 'redis'", c.Store.Type)
	}

	switch c.Sessions.Isolation {
	case IsolationLocal:
	case IsolationProcess:
		// Worker processes flush into the store the front door reads from
		if strings.ToLower(c.Store.Type) == "memory" {
			return errors.New("process isolation requires a shared store, not 'memory'")
		}
	default:
		return fmt.Errorf("invalid sessions.isolation: %s. Must be 'process' or 'local'", c.Sessions.Isolation)
	}

	if c.Telemetry.Kafka.Enabled {
		if len(c.Telemetry.Kafka.Brokers) == 0 {
			return errors.New("kafka brokers must be specified when kafka telemetry is enabled")
		}
		if c.Telemetry.Kafka.Topic == "" {
			return errors.New("kafka topic must be specified when kafka telemetry is enabled")
		}
	}

	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst < 1) {
		return errors.New("ratelimit.rps and ratelimit.burst must be positive")
	}
	return nil
}

// IsProduction reports whether the production API description is served
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}
