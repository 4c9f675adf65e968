package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Tenant              string            `yaml:"tenant"`
	IgnoreState         bool              `yaml:"ignore_state"`
	DegreeOfParallelism int               `yaml:"degree_of_parallelism"`
	Poll                PollConfig        `yaml:"poll"`
	Retry               RetryConfig       `yaml:"retry"`
	Filter              FilterConfig      `yaml:"filter"`
	Thresholds          ThresholdConfig   `yaml:"thresholds"`
	Fetch               FetchConfig       `yaml:"fetch"`
	Store               StoreConfig       `yaml:"store"`
	Source              SourceConfig      `yaml:"source"`
	Processors          []ProcessorConfig `yaml:"processors"`
	Ledger              LedgerConfig      `yaml:"ledger"`
	Healthcheck         HealthcheckConfig `yaml:"healthcheck"`
	Log                 LogConfig         `yaml:"log"`
	ShutdownTimeout     Duration          `yaml:"shutdown_timeout"` // Bounds the final save of an interrupted run
}

// PollConfig controls how often runs start
type PollConfig struct {
	Interval         Duration `yaml:"interval"`
	Schedule         string   `yaml:"schedule"`          // Cron expression, overrides interval
	FailureThreshold int      `yaml:"failure_threshold"` // Consecutive failed runs before /ready fails
}

// RetryConfig contains retry and ban settings
type RetryConfig struct {
	MaxRetries  *int     `yaml:"max_retries"`
	BanDuration Duration `yaml:"ban_duration"`
}

// FilterConfig contains listing filters
type FilterConfig struct {
	SkipOlderThanDays int `yaml:"skip_older_than_days"` // 0 = disabled
}

// ThresholdConfig contains advisory duration thresholds
type ThresholdConfig struct {
	RunDuration      Duration `yaml:"run_duration"`
	ResourceDuration Duration `yaml:"resource_duration"`
}

// FetchConfig contains payload fetch settings
type FetchConfig struct {
	RateLimitRPS          float64 `yaml:"rate_limit_rps"` // 0 = unlimited
	SkipUnchangedChecksum *bool   `yaml:"skip_unchanged_checksum"`
}

// StoreConfig selects and configures the state store
type StoreConfig struct {
	Driver        string `yaml:"driver"` // sqlite, postgres or memory
	Path          string `yaml:"path"`
	DSN           string `yaml:"dsn"`
	Schema        string `yaml:"schema"`
	MaxConns      int32  `yaml:"max_conns"`
	SaveBatchSize int    `yaml:"save_batch_size"` // 0 = save once at end of run
	BulkThreshold int    `yaml:"bulk_threshold"`
}

// SourceConfig points the directory lister at its root
type SourceConfig struct {
	Dir     string `yaml:"dir"`
	Pattern string `yaml:"pattern"`
}

// ProcessorConfig declares one entry of the processor chain
type ProcessorConfig struct {
	Name    string            `yaml:"name"`
	Type    string            `yaml:"type"` // Registry key, defaults to name
	Options map[string]string `yaml:"options"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	Enabled         bool     `yaml:"enabled"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// GetMaxRetries returns the retry budget with default
func (c *RetryConfig) GetMaxRetries() int {
	if c.MaxRetries == nil {
		return 3
	}
	return *c.MaxRetries
}

// GetSkipUnchangedChecksum returns the checksum short-circuit flag with default
func (c *FetchConfig) GetSkipUnchangedChecksum() bool {
	if c.SkipUnchangedChecksum == nil {
		return true
	}
	return *c.SkipUnchangedChecksum
}

// SkipOlderThan returns the staleness threshold, 0 when disabled
func (c *FilterConfig) SkipOlderThan() time.Duration {
	return time.Duration(c.SkipOlderThanDays) * 24 * time.Hour
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from YAML, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.DegreeOfParallelism <= 0 {
		cfg.DegreeOfParallelism = runtime.NumCPU()
	}

	// Poll defaults
	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = Duration(5 * time.Minute)
	}
	if cfg.Poll.FailureThreshold == 0 {
		cfg.Poll.FailureThreshold = 3
	}

	if cfg.Retry.BanDuration == 0 {
		cfg.Retry.BanDuration = Duration(24 * time.Hour)
	}

	// Store defaults
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./pollsync.sqlite"
	}
	if cfg.Store.Schema == "" {
		cfg.Store.Schema = "public"
	}
	if cfg.Store.MaxConns == 0 {
		cfg.Store.MaxConns = int32(cfg.DegreeOfParallelism) + 2
	}
	if cfg.Store.BulkThreshold == 0 {
		cfg.Store.BulkThreshold = 2000
	}

	if cfg.Source.Pattern == "" {
		cfg.Source.Pattern = "*"
	}
	for i := range cfg.Processors {
		if cfg.Processors[i].Type == "" {
			cfg.Processors[i].Type = cfg.Processors[i].Name
		}
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(10 * time.Second)
	}
}

// Validate reports every invalid setting at once
func (cfg *Config) Validate() error {
	var errs []error

	if cfg.Tenant == "" {
		errs = append(errs, errors.New("tenant is required"))
	}
	if cfg.Retry.GetMaxRetries() < 0 {
		errs = append(errs, errors.New("retry.max_retries must not be negative"))
	}
	if cfg.Filter.SkipOlderThanDays < 0 {
		errs = append(errs, errors.New("filter.skip_older_than_days must not be negative"))
	}
	if cfg.Fetch.RateLimitRPS < 0 {
		errs = append(errs, errors.New("fetch.rate_limit_rps must not be negative"))
	}
	if cfg.Store.SaveBatchSize < 0 {
		errs = append(errs, errors.New("store.save_batch_size must not be negative"))
	}

	switch cfg.Store.Driver {
	case "sqlite", "memory":
	case "postgres":
		if cfg.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", cfg.Store.Driver))
	}

	if cfg.Source.Dir == "" {
		errs = append(errs, errors.New("source.dir is required"))
	}

	seen := make(map[string]bool)
	for i, p := range cfg.Processors {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("processors[%d].name is required", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("processor %q declared twice", p.Name))
		}
		seen[p.Name] = true
	}

	return errors.Join(errs...)
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
