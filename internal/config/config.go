package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"uploadhub/internal/storage"
)

const envPrefix = "UPLOADHUB"

var (
	ErrInvalidThrottleWindow = errors.New("upload.throttle_window_ms must not be negative")
	ErrInvalidPartialPolicy  = errors.New("upload.partial_policy must be remove or keep")
	ErrInvalidCollision      = errors.New("upload.collision_policy must be overwrite or rename")
	ErrMissingDestination    = errors.New("upload.destination_dir must be configured")
	ErrInvalidDriver         = errors.New("database.driver must be sqlite3, mysql or none")
	ErrInvalidMirrorConfig   = errors.New("mirror.endpoint and mirror.bucket are required when mirror is enabled")
)

// Config represents runtime configuration for the service and the upload client.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	Client   ClientConfig   `mapstructure:"client"`
	LogLevel string         `mapstructure:"log_level"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
	TLSCert string `mapstructure:"tls_cert"`
	TLSKey  string `mapstructure:"tls_key"`
}

type UploadConfig struct {
	DestinationDir   string `mapstructure:"destination_dir"`
	ThrottleWindowMs int    `mapstructure:"throttle_window_ms"`
	PartialPolicy    string `mapstructure:"partial_policy"`
	CollisionPolicy  string `mapstructure:"collision_policy"`
	MaxRequestBytes  int64  `mapstructure:"max_request_bytes"`
	RetentionMinutes int    `mapstructure:"retention_minutes"`
}

// ThrottleWindow converts the configured milliseconds to a duration.
func (u UploadConfig) ThrottleWindow() time.Duration {
	return time.Duration(u.ThrottleWindowMs) * time.Millisecond
}

// Retention returns zero when files are kept forever.
func (u UploadConfig) Retention() time.Duration {
	return time.Duration(u.RetentionMinutes) * time.Minute
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MirrorConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Secure    bool   `mapstructure:"secure"`
}

type ClientConfig struct {
	APIURL       string `mapstructure:"api_url"`
	CloseDelayMs int    `mapstructure:"close_delay_ms"`
}

// CloseDelay is how long the client keeps the upload surface open after a batch settles.
func (c ClientConfig) CloseDelay() time.Duration {
	return time.Duration(c.CloseDelayMs) * time.Millisecond
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":3333")
	v.SetDefault("upload.destination_dir", "./downloads")
	v.SetDefault("upload.throttle_window_ms", 2000)
	v.SetDefault("upload.partial_policy", "remove")
	v.SetDefault("upload.collision_policy", "overwrite")
	v.SetDefault("upload.max_request_bytes", 0)
	v.SetDefault("upload.retention_minutes", 0)
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "./data/uploadhub.db")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("mirror.enabled", false)
	v.SetDefault("mirror.secure", true)
	v.SetDefault("client.api_url", "http://localhost:3333")
	v.SetDefault("client.close_delay_ms", 1000)
	v.SetDefault("log_level", "info")
}

// LoadWith reads configuration from the provided path (optional) layered with
// UPLOADHUB_* env vars and whatever flags the caller bound to v.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var (
		baseDir string
		file    *viper.Viper
	)
	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		v.SetConfigFile(absPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", absPath, err)
		}
		// file alone, to tell file values from flag, env and default ones
		file = viper.New()
		file.SetConfigFile(absPath)
		if err := file.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", absPath, err)
		}
		baseDir = filepath.Dir(absPath)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// relative paths in a config file are relative to that file
	if baseDir != "" {
		if fromFile(file, "upload.destination_dir", cfg.Upload.DestinationDir) {
			cfg.Upload.DestinationDir = relativeTo(baseDir, cfg.Upload.DestinationDir)
		}
		if storage.NormalizeDriver(cfg.Database.Driver) == "sqlite3" && cfg.Database.DSN != ":memory:" &&
			fromFile(file, "database.dsn", cfg.Database.DSN) {
			cfg.Database.DSN = relativeTo(baseDir, cfg.Database.DSN)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// fromFile reports whether the effective value of key is the one the config file sets.
func fromFile(file *viper.Viper, key, value string) bool {
	return file.InConfig(key) && file.GetString(key) == value
}

func relativeTo(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Upload.DestinationDir) == "" {
		return ErrMissingDestination
	}
	if c.Upload.ThrottleWindowMs < 0 {
		return ErrInvalidThrottleWindow
	}
	switch c.Upload.PartialPolicy {
	case "remove", "keep":
	default:
		return ErrInvalidPartialPolicy
	}
	switch c.Upload.CollisionPolicy {
	case "overwrite", "rename":
	default:
		return ErrInvalidCollision
	}
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "sqlite3", "mysql", "none", "":
	default:
		return ErrInvalidDriver
	}
	if c.Mirror.Enabled && (c.Mirror.Endpoint == "" || c.Mirror.Bucket == "") {
		return ErrInvalidMirrorConfig
	}
	return nil
}
