// Package config loads catalogsync settings from defaults, a YAML file,
// .env files and CATALOGSYNC_ environment variables, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"catalogsync/internal/httpapi"
	"catalogsync/internal/logging"
	"catalogsync/internal/source"
	"catalogsync/internal/store"
	"catalogsync/internal/syncer"
	"catalogsync/internal/telemetry"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "CATALOGSYNC"
	fileName  = "catalogsync"
)

type Config struct {
	Log       logging.Config   `mapstructure:"log"`
	Source    source.Config    `mapstructure:"source"`
	Store     store.Config     `mapstructure:"store"`
	Sync      SyncConfig       `mapstructure:"sync"`
	HTTP      httpapi.Config   `mapstructure:"http"`
	Lock      LockConfig       `mapstructure:"lock"`
	History   HistoryConfig    `mapstructure:"history"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

type SyncConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	CycleTimeout time.Duration `mapstructure:"cycle_timeout"`
	Concurrency  int           `mapstructure:"concurrency" validate:"gte=0,lte=64"`
	RunOnStart   bool          `mapstructure:"run_on_start"`
}

// LockConfig enables cross-process single-flight when RedisAddr is set.
type LockConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" validate:"gte=0"`
	Key           string        `mapstructure:"key" validate:"required_with=RedisAddr"`
	TTL           time.Duration `mapstructure:"ttl"`
}

func (c LockConfig) Enabled() bool { return c.RedisAddr != "" }

type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

var defaults = map[string]any{
	"log.level":        "info",
	"log.format":       "auto",
	"log.output":       "stderr",
	"log.max_size_mb":  50,
	"log.max_backups":  5,
	"log.max_age_days": 14,

	"source.kind":               source.KindSheets,
	"source.spreadsheet_id":     "",
	"source.sheets":             []string{source.DefaultSheet},
	"source.credentials_file":   "",
	"source.credentials_json":   "",
	"source.workbook":           "",
	"source.max_workbook_bytes": source.DefaultMaxWorkbookBytes,

	"store.driver":         string(store.Postgres),
	"store.dsn":            "",
	"store.table":          store.DefaultTable,
	"store.auto_migrate":   false,
	"store.max_open_conns": 10,

	"sync.interval":      syncer.DefaultInterval,
	"sync.cycle_timeout": syncer.DefaultCycleTimeout,
	"sync.concurrency":   syncer.DefaultConcurrency,
	"sync.run_on_start":  true,

	"http.addr":            ":8080",
	"http.token_hash":      "",
	"http.token_salt":      "",
	"http.rate_per_minute": 6,
	"http.burst":           2,
	"http.wait_timeout":    2 * time.Minute,

	"lock.redis_addr":     "",
	"lock.redis_password": "",
	"lock.redis_db":       0,
	"lock.key":            "catalogsync:cycle",
	"lock.ttl":            10 * time.Minute,

	"history.enabled": true,

	"telemetry.otlp_endpoint": "",
	"telemetry.service_name":  "catalogsync",
	"telemetry.sample_ratio":  1.0,
	"telemetry.insecure":      false,
}

// Load reads the configuration. An empty path searches for catalogsync.yaml
// in the working directory and in $HOME/.config/catalogsync; a missing file
// is not an error then. An explicit path must exist.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(fileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", fileName))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the cross-section rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Lock.Enabled() && c.Lock.TTL < c.Sync.CycleTimeout {
		return fmt.Errorf("invalid config: lock.ttl (%s) must outlast sync.cycle_timeout (%s)",
			c.Lock.TTL, c.Sync.CycleTimeout)
	}
	return nil
}

// loadEnvFiles loads .env.local and .env. godotenv never overrides a set
// variable, so the real environment wins, then .env.local, then .env.
func loadEnvFiles() {
	for _, f := range []string{".env.local", ".env"} {
		_ = godotenv.Load(f)
	}
}
