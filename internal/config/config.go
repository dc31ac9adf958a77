// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. CATALOG_SERVER_PORT.
const EnvPrefix = "CATALOG"

// Storage backends for crawl artifacts.
const (
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendGCS    = "gcs"
	BackendSFTP   = "sftp"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Progress ProgressConfig `mapstructure:"progress"`
	Redis    RedisConfig    `mapstructure:"redis"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	DB       DBConfig       `mapstructure:"db"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownSeconds int `mapstructure:"shutdown_seconds"`
}

// AuthConfig defines API authentication toggles. Only the crawl triggers
// are protected.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// HTTPConfig configures the outbound fetcher.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// CatalogConfig points at an optional source catalog file. Empty means the
// catalog compiled into the binary.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig selects where artifacts are written.
type StorageConfig struct {
	Backend   string     `mapstructure:"backend"`
	BaseDir   string     `mapstructure:"base_dir"`
	GCSBucket string     `mapstructure:"gcs_bucket"`
	Prefix    string     `mapstructure:"prefix"`
	SFTP      SFTPConfig `mapstructure:"sftp"`
}

// SFTPConfig holds remote delivery settings.
type SFTPConfig struct {
	Host                  string `mapstructure:"host"`
	Port                  int    `mapstructure:"port"`
	User                  string `mapstructure:"user"`
	Password              string `mapstructure:"password"`
	RemoteDir             string `mapstructure:"remote_dir"`
	HostKey               string `mapstructure:"host_key"`
	InsecureIgnoreHostKey bool   `mapstructure:"insecure_ignore_host_key"`
	DialTimeoutSeconds    int    `mapstructure:"dial_timeout_seconds"`
}

// ProgressConfig tunes the progress hub and the live event stream.
type ProgressConfig struct {
	BufferSize    int `mapstructure:"buffer_size"`
	BatchSize     int `mapstructure:"batch_size"`
	MaxWaitMS     int `mapstructure:"max_wait_ms"`
	SinkTimeoutMS int `mapstructure:"sink_timeout_ms"`
	StreamBuffer  int `mapstructure:"stream_buffer"`
}

// RedisConfig enables progress publishing on a Redis channel when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// PubSubConfig enables progress publishing on a Pub/Sub topic when both
// fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DBConfig controls the run-history database. Empty DSN keeps history in
// memory.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from an optional .env file, the YAML file at path and
// CATALOG_* environment variables, in increasing precedence.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.shutdown_seconds", 10)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "catalog-crawler/0.1")
	v.SetDefault("http.max_body_bytes", 0)
	v.SetDefault("catalog.path", "")
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.base_dir", ".")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.sftp.host", "")
	v.SetDefault("storage.sftp.port", 22)
	v.SetDefault("storage.sftp.user", "")
	v.SetDefault("storage.sftp.password", "")
	v.SetDefault("storage.sftp.remote_dir", ".")
	v.SetDefault("storage.sftp.host_key", "")
	v.SetDefault("storage.sftp.insecure_ignore_host_key", false)
	v.SetDefault("storage.sftp.dial_timeout_seconds", 15)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch_size", 64)
	v.SetDefault("progress.max_wait_ms", 100)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("progress.stream_buffer", 256)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "catalog.progress")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxBodyBytes < 0 {
		return fmt.Errorf("http.max_body_bytes must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case BackendMemory:
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case BackendSFTP:
		if c.Storage.SFTP.Host == "" || c.Storage.SFTP.User == "" {
			return fmt.Errorf("storage.sftp.host and storage.sftp.user must be set for the sftp backend")
		}
		if c.Storage.SFTP.HostKey == "" && !c.Storage.SFTP.InsecureIgnoreHostKey {
			return fmt.Errorf("storage.sftp.host_key must be set unless insecure_ignore_host_key is true")
		}
	default:
		return fmt.Errorf("storage.backend must be one of local, memory, gcs, sftp; got %q", c.Storage.Backend)
	}
	if c.Progress.BufferSize <= 0 || c.Progress.BatchSize <= 0 {
		return fmt.Errorf("progress.buffer_size and progress.batch_size must be > 0")
	}
	if c.Progress.MaxWaitMS <= 0 {
		return fmt.Errorf("progress.max_wait_ms must be > 0")
	}
	if c.Redis.Addr != "" && c.Redis.Channel == "" {
		return fmt.Errorf("redis.channel must be set when redis.addr is set")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// FetchTimeout is the per-request budget of the outbound fetcher.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}

// ProgressMaxWait is the longest an event waits before its batch flushes.
func (c Config) ProgressMaxWait() time.Duration {
	return time.Duration(c.Progress.MaxWaitMS) * time.Millisecond
}

// ProgressSinkTimeout bounds one sink Consume call.
func (c Config) ProgressSinkTimeout() time.Duration {
	return time.Duration(c.Progress.SinkTimeoutMS) * time.Millisecond
}

// SFTPDialTimeout bounds the SSH handshake.
func (c Config) SFTPDialTimeout() time.Duration {
	return time.Duration(c.Storage.SFTP.DialTimeoutSeconds) * time.Second
}
