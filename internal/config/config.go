package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	logx "peillute/pkg/logx"
)

// Refresh interval defaults: 2s for high-priority data (user list,
// balances), 3s for lower-priority data (history, system status). These
// are caller policy; the refresh core takes whatever it is given.
const (
	DefaultUsersInterval        = 2 * time.Second
	DefaultBalanceInterval      = 2 * time.Second
	DefaultTransactionsInterval = 3 * time.Second
	DefaultStatusInterval       = 3 * time.Second
)

// Config is peillute's YAML configuration.
//
// All durations are Go duration strings (e.g. "500ms", "2s", "1m").
type Config struct {
	Node    string        `yaml:"node,omitempty"`
	Logging LoggingConfig `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
	Refresh RefreshConfig `yaml:"refresh"`

	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

type LoggingConfig struct {
	Level   string      `yaml:"level"`
	Console bool        `yaml:"console"`
	File    LoggingFile `yaml:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

type StorageConfig struct {
	Path        string `yaml:"path"`
	BusyTimeout string `yaml:"busy_timeout,omitempty"`
}

// RefreshConfig holds per-view polling intervals.
type RefreshConfig struct {
	Users        string `yaml:"users,omitempty"`
	Balance      string `yaml:"balance,omitempty"`
	Transactions string `yaml:"transactions,omitempty"`
	Status       string `yaml:"status,omitempty"`
}

// MaintenanceConfig controls the housekeeping cron job.
type MaintenanceConfig struct {
	Enabled bool `yaml:"enabled"`
	// Schedule is a cron spec or descriptor ("@daily", "@every 6h").
	Schedule string `yaml:"schedule,omitempty"`
	// Keep is how much transaction history to retain ("2160h" = 90 days).
	// Empty disables pruning (vacuum still runs).
	Keep string `yaml:"keep,omitempty"`
}

func Default() *Config {
	return &Config{
		Node:    "local",
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Path: "./peillute.db", BusyTimeout: "5s"},
		Maintenance: MaintenanceConfig{
			Enabled:  true,
			Schedule: "@daily",
			Keep:     "2160h",
		},
	}
}

// Parse reads and strictly decodes the YAML file at path. Unknown keys
// are rejected so typos surface at load time instead of silently using
// defaults.
func Parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty file: defaults apply.
			return cfg, nil
		}
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	// Reject trailing documents (e.g. an accidental second "---").
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config %s: trailing document", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values beyond YAML well-formedness.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	for _, f := range []struct{ path, raw string }{
		{"refresh.users", c.Refresh.Users},
		{"refresh.balance", c.Refresh.Balance},
		{"refresh.transactions", c.Refresh.Transactions},
		{"refresh.status", c.Refresh.Status},
		{"maintenance.keep", c.Maintenance.Keep},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}

// Interval accessors resolve the configured duration or the documented
// default. Validate has already rejected malformed values.

func (c *Config) UsersInterval() time.Duration {
	d, _ := ParseDurationOrDefault("refresh.users", c.Refresh.Users, DefaultUsersInterval)
	return d
}

func (c *Config) BalanceInterval() time.Duration {
	d, _ := ParseDurationOrDefault("refresh.balance", c.Refresh.Balance, DefaultBalanceInterval)
	return d
}

func (c *Config) TransactionsInterval() time.Duration {
	d, _ := ParseDurationOrDefault("refresh.transactions", c.Refresh.Transactions, DefaultTransactionsInterval)
	return d
}

func (c *Config) StatusInterval() time.Duration {
	d, _ := ParseDurationOrDefault("refresh.status", c.Refresh.Status, DefaultStatusInterval)
	return d
}

func (c *Config) StorageBusyTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second)
	return d
}

func (c *Config) MaintenanceKeep() time.Duration {
	d, _ := ParseDurationField("maintenance.keep", c.Maintenance.Keep)
	return d
}

func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
