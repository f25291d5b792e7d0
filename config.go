package invoiceflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends selectable from configuration.
const (
	StoreBackendMemory   = "memory"
	StoreBackendSQLite   = "sqlite"
	StoreBackendPostgres = "postgres"
)

// Config is the service configuration loaded from YAML.
type Config struct {
	// Listen is the HTTP listen address, host:port.
	Listen string `yaml:"listen"`

	Store    StoreConfig    `yaml:"store"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Retry    RetryConfig    `yaml:"retry"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type StoreConfig struct {
	// Backend selects memory, sqlite or postgres.
	Backend string `yaml:"backend"`

	// Path is the database file for the sqlite backend.
	Path string `yaml:"path"`

	// DSN is the connection string for the postgres backend.
	DSN string `yaml:"dsn"`
}

// Duration unmarshals from YAML strings like "500ms" or "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

type RetryConfig struct {
	BaseWait Duration `yaml:"base_wait"`
	MaxWait  Duration `yaml:"max_wait"`
}

type LoggingConfig struct {
	// Format is "text" or "json".
	Format string `yaml:"format"`

	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Listen: ":8080",
		Store: StoreConfig{
			Backend: StoreBackendSQLite,
			Path:    "invoiceflow.db",
		},
		Pipeline: DefaultPipelineConfig(),
		Retry: RetryConfig{
			BaseWait: Duration(2 * time.Second),
			MaxWait:  Duration(30 * time.Second),
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// LoadConfig reads a YAML configuration file and fills in defaults for
// anything unset.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks values a typo would most plausibly break.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case StoreBackendMemory, StoreBackendSQLite, StoreBackendPostgres:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == StoreBackendSQLite && c.Store.Path == "" {
		return fmt.Errorf("sqlite backend requires store.path")
	}
	if c.Store.Backend == StoreBackendPostgres && c.Store.DSN == "" {
		return fmt.Errorf("postgres backend requires store.dsn")
	}
	if c.Pipeline.MatchThreshold < 0 || c.Pipeline.MatchThreshold > 1 {
		return fmt.Errorf("pipeline.match_threshold must be between 0 and 1")
	}
	if c.Pipeline.AutoApproveLimit < 0 {
		return fmt.Errorf("pipeline.auto_approve_limit must not be negative")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}
	return nil
}

// OpenStore builds the configured state store.
func (c Config) OpenStore() (StateStore, error) {
	switch c.Store.Backend {
	case StoreBackendMemory:
		return NewMemoryStore(), nil
	case StoreBackendSQLite:
		return NewSQLiteStore(c.Store.Path)
	case StoreBackendPostgres:
		return NewPostgresStore(c.Store.DSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
}
