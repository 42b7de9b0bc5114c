// Package config loads server settings from defaults, an optional YAML
// file, SPOTDL_* environment variables and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// SPOTDL_STORAGE_ROOT for storage.root.
const EnvPrefix = "SPOTDL"

type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Tool      ToolConfig      `mapstructure:"tool" yaml:"tool"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Janitor   JanitorConfig   `mapstructure:"janitor" yaml:"janitor"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" yaml:"ratelimit"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Events    EventsConfig    `mapstructure:"events" yaml:"events"`
	Shutdown  ShutdownConfig  `mapstructure:"shutdown" yaml:"shutdown"`
	TLS       TLSConfig       `mapstructure:"tls" yaml:"tls"`
}

type ServerConfig struct {
	Port          int           `mapstructure:"port" yaml:"port"`
	PublicBaseURL string        `mapstructure:"public_base_url" yaml:"public_base_url"`
	TrustProxy    bool          `mapstructure:"trust_proxy_headers" yaml:"trust_proxy_headers"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

type StorageConfig struct {
	Root    string `mapstructure:"root" yaml:"root"`
	Scratch string `mapstructure:"scratch" yaml:"scratch"`
}

type ToolConfig struct {
	Binary          string        `mapstructure:"binary" yaml:"binary"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PlaylistTimeout time.Duration `mapstructure:"playlist_timeout" yaml:"playlist_timeout"`
	MetadataTimeout time.Duration `mapstructure:"metadata_timeout" yaml:"metadata_timeout"`
}

type CacheConfig struct {
	Backend string        `mapstructure:"backend" yaml:"backend"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis" yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Password string `mapstructure:"password" yaml:"password"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

type JanitorConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxAge   time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
	File  bool   `mapstructure:"file" yaml:"file"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled" yaml:"enabled"`
	RPS     float64 `mapstructure:"rps" yaml:"rps"`
	Burst   int     `mapstructure:"burst" yaml:"burst"`
}

type AuthConfig struct {
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	APIKeyHash string `mapstructure:"api_key_hash" yaml:"api_key_hash"`
}

type EventsConfig struct {
	Buffer int         `mapstructure:"buffer" yaml:"buffer"`
	Kafka  KafkaConfig `mapstructure:"kafka" yaml:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
}

type ShutdownConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type TLSConfig struct {
	Enabled           bool     `mapstructure:"enabled" yaml:"enabled"`
	CertFile          string   `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile           string   `mapstructure:"key_file" yaml:"key_file"`
	ClientCAFile      string   `mapstructure:"client_ca_file" yaml:"client_ca_file"`
	RequireClientCert bool     `mapstructure:"require_client_cert" yaml:"require_client_cert"`
	AutoGenerate      bool     `mapstructure:"auto_generate" yaml:"auto_generate"`
	Hosts             []string `mapstructure:"hosts" yaml:"hosts"`
}

// SetDefaults registers every key with its default value. Keys must be
// known to viper for AutomaticEnv to pick them up during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.public_base_url", "")
	v.SetDefault("server.trust_proxy_headers", false)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute)

	v.SetDefault("storage.root", "/data/downloads")
	v.SetDefault("storage.scratch", "/tmp/spotdl")

	v.SetDefault("tool.binary", "spotdl")
	v.SetDefault("tool.timeout", 120*time.Second)
	v.SetDefault("tool.playlist_timeout", 30*time.Minute)
	v.SetDefault("tool.metadata_timeout", 120*time.Second)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.prefix", "spotdl:cache:")

	v.SetDefault("janitor.enabled", true)
	v.SetDefault("janitor.interval", 5*time.Minute)
	v.SetDefault("janitor.max_age", time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)
	v.SetDefault("log.file", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.environment", "development")

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.rps", 5.0)
	v.SetDefault("ratelimit.burst", 10)

	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.api_key_hash", "")

	v.SetDefault("events.buffer", 500)
	v.SetDefault("events.kafka.brokers", []string{})
	v.SetDefault("events.kafka.topic", "spotdl.jobs")

	v.SetDefault("shutdown.timeout", 30*time.Second)

	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cert_file", "~/.spotdl/certs/server.crt")
	v.SetDefault("tls.key_file", "~/.spotdl/certs/server.key")
	v.SetDefault("tls.client_ca_file", "")
	v.SetDefault("tls.require_client_cert", false)
	v.SetDefault("tls.auto_generate", true)
	v.SetDefault("tls.hosts", []string{})
}

// Load reads configuration into a fresh Config. file may be empty.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		path, err := homedir.Expand(file)
		if err != nil {
			return nil, fmt.Errorf("failed to expand config path: %w", err)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// env values are comma separated and may carry spaces
	cfg.Events.Kafka.Brokers = splitList(strings.Join(cfg.Events.Kafka.Brokers, ","))
	cfg.TLS.Hosts = splitList(strings.Join(cfg.TLS.Hosts, ","))

	for key, p := range map[string]*string{
		"storage.root":       &cfg.Storage.Root,
		"storage.scratch":    &cfg.Storage.Scratch,
		"tls.cert_file":      &cfg.TLS.CertFile,
		"tls.key_file":       &cfg.TLS.KeyFile,
		"tls.client_ca_file": &cfg.TLS.ClientCAFile,
	} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		*p = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Storage.Root == "" {
		errs = append(errs, errors.New("storage.root is required"))
	}
	if c.Tool.Binary == "" {
		errs = append(errs, errors.New("tool.binary is required"))
	}

	durations := map[string]time.Duration{
		"tool.timeout":          c.Tool.Timeout,
		"tool.playlist_timeout": c.Tool.PlaylistTimeout,
		"tool.metadata_timeout": c.Tool.MetadataTimeout,
		"cache.ttl":             c.Cache.TTL,
		"janitor.interval":      c.Janitor.Interval,
		"janitor.max_age":       c.Janitor.MaxAge,
		"shutdown.timeout":      c.Shutdown.Timeout,
	}
	for _, key := range []string{
		"tool.timeout", "tool.playlist_timeout", "tool.metadata_timeout",
		"cache.ttl", "janitor.interval", "janitor.max_age", "shutdown.timeout",
	} {
		if durations[key] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, durations[key]))
		}
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.backend %q", c.Cache.Backend))
	}

	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("ratelimit.rps and ratelimit.burst must be positive"))
	}
	if c.Metrics.Enabled && c.Metrics.Port == c.Server.Port {
		errs = append(errs, errors.New("metrics.port must differ from server.port"))
	}
	if len(c.Events.Kafka.Brokers) > 0 && c.Events.Kafka.Topic == "" {
		errs = append(errs, errors.New("events.kafka.topic is required when brokers are set"))
	}

	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			errs = append(errs, errors.New("tls.cert_file and tls.key_file are required when tls is enabled"))
		}
		if c.TLS.RequireClientCert && c.TLS.ClientCAFile == "" {
			errs = append(errs, errors.New("tls.client_ca_file is required with tls.require_client_cert"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Redacted returns a copy safe to print
func (c Config) Redacted() Config {
	if c.Auth.APIKey != "" {
		c.Auth.APIKey = "***"
	}
	if c.Cache.Redis.Password != "" {
		c.Cache.Redis.Password = "***"
	}
	return c
}
