package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWith(viper.New(), "")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Server.Address != ":3333" {
		t.Fatalf("unexpected address %q", cfg.Server.Address)
	}
	if got := cfg.Upload.ThrottleWindow(); got != 2*time.Second {
		t.Fatalf("unexpected throttle window %s", got)
	}
	if cfg.Upload.PartialPolicy != "remove" || cfg.Upload.CollisionPolicy != "overwrite" {
		t.Fatalf("unexpected policies %+v", cfg.Upload)
	}
	if cfg.Client.CloseDelay() != time.Second {
		t.Fatalf("unexpected close delay %s", cfg.Client.CloseDelay())
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"upload": {"destination_dir": "files", "throttle_window_ms": 500},
		"database": {"driver": "sqlite3", "dsn": "ledger.db"}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("UPLOADHUB_UPLOAD_PARTIAL_POLICY", "keep")

	cfg, err := LoadWith(viper.New(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Upload.DestinationDir != filepath.Join(dir, "files") {
		t.Fatalf("destination not resolved against config dir: %s", cfg.Upload.DestinationDir)
	}
	if cfg.Database.DSN != filepath.Join(dir, "ledger.db") {
		t.Fatalf("dsn not resolved against config dir: %s", cfg.Database.DSN)
	}
	if cfg.Upload.ThrottleWindowMs != 500 {
		t.Fatalf("throttle window from file ignored: %d", cfg.Upload.ThrottleWindowMs)
	}
	if cfg.Upload.PartialPolicy != "keep" {
		t.Fatalf("env override ignored: %s", cfg.Upload.PartialPolicy)
	}
}

func TestLoadResolvesOnlyFileValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "upload:\n  throttle_window_ms: 100\ndatabase:\n  driver: sqlite\n  dsn: data/ledger.db\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("dest", "./downloads", "")
	if err := flags.Parse([]string{"--dest", "./x"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	v := viper.New()
	if err := v.BindPFlag("upload.destination_dir", flags.Lookup("dest")); err != nil {
		t.Fatalf("bind: %v", err)
	}

	cfg, err := LoadWith(v, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Upload.DestinationDir != "./x" {
		t.Fatalf("flag value rewritten against config dir: %s", cfg.Upload.DestinationDir)
	}
	if cfg.Database.DSN != filepath.Join(dir, "data", "ledger.db") {
		t.Fatalf("sqlite dsn not resolved for the sqlite spelling: %s", cfg.Database.DSN)
	}

	defaults, err := LoadWith(viper.New(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if defaults.Upload.DestinationDir != "./downloads" {
		t.Fatalf("default destination rewritten against config dir: %s", defaults.Upload.DestinationDir)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Upload: UploadConfig{
				DestinationDir:  "/tmp",
				PartialPolicy:   "remove",
				CollisionPolicy: "overwrite",
			},
			Database: DatabaseConfig{Driver: "sqlite3"},
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{name: "valid", mutate: func(*Config) {}, want: nil},
		{name: "missing destination", mutate: func(c *Config) { c.Upload.DestinationDir = " " }, want: ErrMissingDestination},
		{name: "negative window", mutate: func(c *Config) { c.Upload.ThrottleWindowMs = -1 }, want: ErrInvalidThrottleWindow},
		{name: "zero window", mutate: func(c *Config) { c.Upload.ThrottleWindowMs = 0 }, want: nil},
		{name: "bad partial policy", mutate: func(c *Config) { c.Upload.PartialPolicy = "truncate" }, want: ErrInvalidPartialPolicy},
		{name: "bad collision policy", mutate: func(c *Config) { c.Upload.CollisionPolicy = "skip" }, want: ErrInvalidCollision},
		{name: "bad driver", mutate: func(c *Config) { c.Database.Driver = "postgres" }, want: ErrInvalidDriver},
		{name: "mirror without bucket", mutate: func(c *Config) {
			c.Mirror.Enabled = true
			c.Mirror.Endpoint = "localhost:9000"
		}, want: ErrInvalidMirrorConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v; want %v", err, tt.want)
			}
		})
	}
}
