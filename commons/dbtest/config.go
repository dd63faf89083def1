package dbtest

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/LerianStudio/lib-dbtest/commons/migration"
	"github.com/LerianStudio/lib-dbtest/commons/postgres"
)

// Config holds the configuration of a Manager.
type Config struct {
	// DatabaseURL points at the administrative database of the target server. Test
	// databases are created on the same server with the same credentials.
	DatabaseURL string `yaml:"database_url"`

	// MaxConnections is the budget of connections open to test databases at once.
	// Default: 20
	MaxConnections int `yaml:"max_connections"`

	// PoolMaxConnections caps each pooled handle.
	// Default: 10
	PoolMaxConnections int `yaml:"pool_max_connections"`

	// AdminMaxConnections caps the admin pool used for DDL and the control table.
	// Default: 5
	AdminMaxConnections int `yaml:"admin_max_connections"`

	// FinalizeTimeout bounds the cleanup of one test once its body has returned,
	// including when the test context was cancelled.
	// Default: 1m
	FinalizeTimeout time.Duration `yaml:"finalize_timeout"`

	// Reuse keeps databases of passing tests, emptied, for the next run of the same test
	// with the same migrations instead of dropping them.
	Reuse bool `yaml:"reuse"`

	// MigrationsTable is the version table written by the migration runner; Reuse keeps it.
	// Default: "schema_migrations"
	MigrationsTable string `yaml:"migrations_table"`

	// MaxSequence is the highest name suffix tried before giving up on a test identity.
	// Default: 100
	MaxSequence int `yaml:"max_sequence"`

	// CollectorEndpoint enables OTLP export of traces, metrics and logs.
	CollectorEndpoint string `yaml:"collector_endpoint"`

	// CollectorInsecure disables TLS towards the collector.
	CollectorInsecure bool `yaml:"collector_insecure"`

	// Environment and ServiceVersion tag the exported telemetry.
	Environment    string `yaml:"environment"`
	ServiceVersion string `yaml:"service_version"`

	// DisableTraces, DisableMetrics and DisableLogs turn single signals off while
	// exporting the others.
	DisableTraces  bool `yaml:"disable_traces"`
	DisableMetrics bool `yaml:"disable_metrics"`
	DisableLogs    bool `yaml:"disable_logs"`
}

// DefaultConfig returns a Config with default values and no DatabaseURL.
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:      DefaultMaxConnections,
		PoolMaxConnections:  10,
		AdminMaxConnections: 5,
		FinalizeTimeout:     time.Minute,
		MigrationsTable:     migration.DefaultMigrationsTable,
		MaxSequence:         100,
	}
}

// ConfigFromEnv creates a Config from environment variables, loading a .env file from
// the working directory first when present. Invalid values fall back to the defaults.
//
// Environment variables:
//   - DATABASE_URL: string
//   - DBTEST_MAX_CONNECTIONS: integer (default: 20)
//   - DBTEST_POOL_MAX_CONNECTIONS: integer (default: 10)
//   - DBTEST_ADMIN_MAX_CONNECTIONS: integer (default: 5)
//   - DBTEST_FINALIZE_TIMEOUT: duration string (default: 1m)
//   - DBTEST_REUSE: boolean (default: false)
//   - DBTEST_MIGRATIONS_TABLE: string (default: "schema_migrations")
//   - DBTEST_MAX_SEQUENCE: integer (default: 100)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: string
//   - OTEL_EXPORTER_OTLP_INSECURE: boolean (default: false)
//   - OTEL_TRACES_EXPORTER, OTEL_METRICS_EXPORTER, OTEL_LOGS_EXPORTER: "none" disables the signal
//   - ENV_NAME: string
//   - DBTEST_SERVICE_VERSION: string
func ConfigFromEnv() *Config {
	// Variables already set in the environment win over the file.
	_ = godotenv.Load()

	cfg := DefaultConfig()
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	envInt("DBTEST_MAX_CONNECTIONS", &cfg.MaxConnections)
	envInt("DBTEST_POOL_MAX_CONNECTIONS", &cfg.PoolMaxConnections)
	envInt("DBTEST_ADMIN_MAX_CONNECTIONS", &cfg.AdminMaxConnections)
	envInt("DBTEST_MAX_SEQUENCE", &cfg.MaxSequence)

	if s := os.Getenv("DBTEST_FINALIZE_TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.FinalizeTimeout = d
		}
	}

	if table := os.Getenv("DBTEST_MIGRATIONS_TABLE"); table != "" {
		cfg.MigrationsTable = table
	}

	cfg.CollectorEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.Environment = os.Getenv("ENV_NAME")
	cfg.ServiceVersion = os.Getenv("DBTEST_SERVICE_VERSION")

	envBool("DBTEST_REUSE", &cfg.Reuse)
	envBool("OTEL_EXPORTER_OTLP_INSECURE", &cfg.CollectorInsecure)

	cfg.DisableTraces = exporterDisabled("OTEL_TRACES_EXPORTER")
	cfg.DisableMetrics = exporterDisabled("OTEL_METRICS_EXPORTER")
	cfg.DisableLogs = exporterDisabled("OTEL_LOGS_EXPORTER")

	return cfg
}

// LoadConfigFile reads a YAML config file. Unset keys keep their defaults.
func LoadConfigFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	return cfg, nil
}

func envInt(key string, target *int) {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			*target = n
		}
	}
}

func envBool(key string, target *bool) {
	if s := os.Getenv(key); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			*target = b
		}
	}
}

func exporterDisabled(key string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), "none")
}

// ApplyDefaults sets default values for zero-valued fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.MaxConnections == 0 {
		c.MaxConnections = defaults.MaxConnections
	}

	if c.PoolMaxConnections == 0 {
		c.PoolMaxConnections = defaults.PoolMaxConnections
	}

	if c.AdminMaxConnections == 0 {
		c.AdminMaxConnections = defaults.AdminMaxConnections
	}

	if c.FinalizeTimeout == 0 {
		c.FinalizeTimeout = defaults.FinalizeTimeout
	}

	if c.MigrationsTable == "" {
		c.MigrationsTable = defaults.MigrationsTable
	}

	if c.MaxSequence == 0 {
		c.MaxSequence = defaults.MaxSequence
	}
}

// Validate checks if the Config is valid.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}

	if c.MaxConnections <= 0 {
		errs = append(errs, errors.New("max connections must be a positive integer"))
	}

	if c.PoolMaxConnections <= 0 {
		errs = append(errs, errors.New("pool max connections must be a positive integer"))
	}

	if c.AdminMaxConnections <= 0 {
		errs = append(errs, errors.New("admin max connections must be a positive integer"))
	}

	if c.FinalizeTimeout <= 0 {
		errs = append(errs, errors.New("finalize timeout must be a positive duration"))
	}

	if c.MaxSequence < 0 {
		errs = append(errs, errors.New("max sequence cannot be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

// String returns a human-readable representation with the password redacted.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{DatabaseURL: %s, MaxConnections: %d, PoolMaxConnections: %d, AdminMaxConnections: %d, FinalizeTimeout: %s, Reuse: %t, MigrationsTable: %s, MaxSequence: %d}",
		postgres.RedactDSN(c.DatabaseURL),
		c.MaxConnections,
		c.PoolMaxConnections,
		c.AdminMaxConnections,
		c.FinalizeTimeout,
		c.Reuse,
		c.MigrationsTable,
		c.MaxSequence,
	)
}
