// Package config loads the webstats configuration from YAML, .env files and
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the webstats tools
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	GoatCounter GoatCounterConfig `yaml:"goatcounter"`
	Ingest      IngestConfig      `yaml:"ingest"`
	DuckDB      DuckDBConfig      `yaml:"duckdb"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	Export      ExportConfig      `yaml:"export"`
	Query       QueryConfig       `yaml:"query"`
	API         APIConfig         `yaml:"api"`
}

// ServiceConfig contains service-level settings
type ServiceConfig struct {
	Name    string `yaml:"name"`
	JobName string `yaml:"job_name"`
}

// GoatCounterConfig describes the remote hit source
type GoatCounterConfig struct {
	// Site is the GoatCounter host, e.g. "example.goatcounter.com".
	Site string `yaml:"site"`
	// Token is the API bearer token. Never commit it; use GOATCOUNTER_TOKEN.
	Token string `yaml:"token"`
	// BaseURL overrides the https://<site>/api/v0 prefix.
	BaseURL        string `yaml:"base_url"`
	PageLimit      int    `yaml:"page_limit"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Paginate       bool   `yaml:"paginate"`
	MaxPages       int    `yaml:"max_pages"`
}

// DefaultOverlapDays is used when overlap_days is absent from both the file
// and the environment. An explicit 0 disables the overlap.
const DefaultOverlapDays = 7

// IngestConfig contains watermark settings
type IngestConfig struct {
	BootstrapDays int `yaml:"bootstrap_days"`
	OverlapDays   int `yaml:"overlap_days"`
}

// DuckDBConfig contains the local store location
type DuckDBConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains zap logger settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// MetricsConfig contains Prometheus settings for batch runs
type MetricsConfig struct {
	// TextfilePath, when set, receives the registry after each ingest run.
	TextfilePath string `yaml:"textfile_path"`
}

// SnapshotConfig contains settings for the raw parquet snapshot
type SnapshotConfig struct {
	ParquetPath string `yaml:"parquet_path"`
	Days        int    `yaml:"days"`
}

// ExportConfig contains settings for the spreadsheet export
type ExportConfig struct {
	XLSXPath string `yaml:"xlsx_path"`
}

// QueryConfig contains settings for the read-only query runner
type QueryConfig struct {
	SQLPath string `yaml:"sql_path"`
}

// APIConfig contains settings for the read-only HTTP API
type APIConfig struct {
	Port                int `yaml:"port"`
	ReadTimeoutSeconds  int `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
}

// Load reads the optional YAML file at path, loads .env files, applies
// environment overrides and defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	// Seeded before decoding so an explicit overlap_days: 0 survives.
	cfg := Config{Ingest: IngestConfig{OverlapDays: DefaultOverlapDays}}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ConfigError{Field: "config", Reason: fmt.Sprintf("cannot read %s", path), Err: err}
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, &ConfigError{Field: "config", Reason: fmt.Sprintf("cannot parse %s", path), Err: err}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// loadEnvFiles loads ENV_FILE if set, otherwise .env.local then .env.
// godotenv never overrides variables that are already set, so the first file
// to define a key wins.
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return &ConfigError{Field: "ENV_FILE", Reason: fmt.Sprintf("cannot load %s", envFile), Err: err}
		}
		return nil
	}
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// applyEnv copies environment overrides onto the config
func (c *Config) applyEnv() error {
	setString(&c.GoatCounter.Site, "GOATCOUNTER_SITE")
	setString(&c.GoatCounter.Token, "GOATCOUNTER_TOKEN")
	setString(&c.GoatCounter.BaseURL, "GOATCOUNTER_URL")
	setString(&c.Service.JobName, "WEBSTATS_JOB_NAME")
	setString(&c.DuckDB.Path, "WEBSTATS_DB_PATH")
	setString(&c.Logging.Level, "LOG_LEVEL")
	setString(&c.Logging.Format, "LOG_FORMAT")
	setString(&c.Metrics.TextfilePath, "WEBSTATS_METRICS_TEXTFILE")

	ints := []struct {
		dst   *int
		key   string
		field string
	}{
		{&c.Ingest.BootstrapDays, "WEBSTATS_BOOTSTRAP_DAYS", "ingest.bootstrap_days"},
		{&c.Ingest.OverlapDays, "WEBSTATS_OVERLAP_DAYS", "ingest.overlap_days"},
		{&c.API.Port, "WEBSTATS_API_PORT", "api.port"},
	}
	for _, i := range ints {
		if err := setInt(i.dst, i.key, i.field); err != nil {
			return err
		}
	}
	return nil
}

// ApplyDefaults fills in default values for optional fields. overlap_days is
// left alone: Load seeds it, since 0 is a meaningful value there.
func (c *Config) ApplyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "webstats"
	}
	if c.Service.JobName == "" {
		c.Service.JobName = "weekly_goatcounter_to_duckdb"
	}

	if c.GoatCounter.PageLimit == 0 {
		c.GoatCounter.PageLimit = 10000
	}
	if c.GoatCounter.TimeoutSeconds == 0 {
		c.GoatCounter.TimeoutSeconds = 30
	}
	if c.GoatCounter.MaxPages == 0 {
		c.GoatCounter.MaxPages = 100
	}

	if c.Ingest.BootstrapDays == 0 {
		c.Ingest.BootstrapDays = 30
	}

	if c.DuckDB.Path == "" {
		c.DuckDB.Path = "output/webstats.duckdb"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Snapshot.ParquetPath == "" {
		c.Snapshot.ParquetPath = "output/goatcounter_hits.parquet"
	}
	if c.Snapshot.Days == 0 {
		c.Snapshot.Days = 2
	}

	if c.Export.XLSXPath == "" {
		c.Export.XLSXPath = "output/duckdb_tables_columns.xlsx"
	}

	if c.API.Port == 0 {
		c.API.Port = 8095
	}
	if c.API.ReadTimeoutSeconds == 0 {
		c.API.ReadTimeoutSeconds = 15
	}
	if c.API.WriteTimeoutSeconds == 0 {
		c.API.WriteTimeoutSeconds = 30
	}
}

// Validate checks the settings every command relies on
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DuckDB.Path) == "" {
		return &ConfigError{Field: "duckdb.path", Reason: "is required"}
	}
	if c.Ingest.BootstrapDays < 1 {
		return &ConfigError{Field: "ingest.bootstrap_days", Reason: fmt.Sprintf("must be at least 1, got %d", c.Ingest.BootstrapDays)}
	}
	if c.Ingest.OverlapDays < 0 {
		return &ConfigError{Field: "ingest.overlap_days", Reason: fmt.Sprintf("must not be negative, got %d", c.Ingest.OverlapDays)}
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return &ConfigError{Field: "logging.format", Reason: fmt.Sprintf("must be 'json' or 'console', got %q", c.Logging.Format)}
	}
	return nil
}

// ValidateSource checks the settings needed to talk to GoatCounter
func (c *Config) ValidateSource() error {
	g := c.GoatCounter
	if g.Site == "" && g.BaseURL == "" {
		return &ConfigError{Field: "goatcounter.site", Reason: "is required (set GOATCOUNTER_SITE)"}
	}
	if g.Token == "" {
		return &ConfigError{Field: "goatcounter.token", Reason: "is required (set GOATCOUNTER_TOKEN)"}
	}
	if g.PageLimit < 1 || g.PageLimit > 100000 {
		return &ConfigError{Field: "goatcounter.page_limit", Reason: fmt.Sprintf("must be between 1 and 100000, got %d", g.PageLimit)}
	}
	if g.TimeoutSeconds < 1 {
		return &ConfigError{Field: "goatcounter.timeout_seconds", Reason: fmt.Sprintf("must be positive, got %d", g.TimeoutSeconds)}
	}
	if g.MaxPages < 1 {
		return &ConfigError{Field: "goatcounter.max_pages", Reason: fmt.Sprintf("must be positive, got %d", g.MaxPages)}
	}
	return nil
}

// HitsURL returns the stats/hits endpoint
func (g *GoatCounterConfig) HitsURL() string {
	base := strings.TrimRight(g.BaseURL, "/")
	if base == "" {
		base = "https://" + strings.TrimSpace(g.Site) + "/api/v0"
	}
	return base + "/stats/hits"
}

// Timeout returns the request timeout as a Duration
func (g *GoatCounterConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// GetConfigPath returns the config path from CONFIG_PATH or the default.
func GetConfigPath(defaultPath string) string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return defaultPath
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.Trim(v, "\"'")
	}
}

func setInt(dst *int, key, field string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	i, err := strconv.Atoi(strings.Trim(strings.TrimSpace(v), "\"'"))
	if err != nil {
		return &ConfigError{Field: field, Reason: fmt.Sprintf("must be an integer, got %s=%q", key, v), Err: err}
	}
	*dst = i
	return nil
}
