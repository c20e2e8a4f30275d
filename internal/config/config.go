// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"airlift-demo/internal/domain"
)

// Required environment variables. Their absence is a configuration error
// surfaced before any work starts.
const (
	EnvDBTProjectDir = "TUTORIAL_DBT_PROJECT_DIR"
	EnvAirflowHome   = "AIRFLOW_HOME"
	EnvExampleDir    = "TUTORIAL_EXAMPLE_DIR"
)

// Transformation runner kinds.
const (
	TransformRunnerDuckDB = "duckdb"
	TransformRunnerDBT    = "dbt"
)

// AirflowConfig holds the connection settings for the external task engine.
type AirflowConfig struct {
	WebserverURL string // default http://localhost:8080
	Username     string // default admin
	Password     string // default admin
	InstanceName string // default airflow_instance_one
}

// Config holds the configuration for the tutorial runtime.
type Config struct {
	DBTProjectDir string // TUTORIAL_DBT_PROJECT_DIR
	AirflowHome   string // AIRFLOW_HOME
	ExampleDir    string // TUTORIAL_EXAMPLE_DIR

	MetaDBPath string // SQLite event store (default <AIRFLOW_HOME>/airlift_meta.sqlite)
	ListenAddr string // HTTP listen address (default ":3333")
	LogLevel   string // debug, info, warn, error (default "info")
	LogFormat  string // text or json (default "text")

	Airflow          AirflowConfig
	PeerPollSchedule string // cron spec for peering polls (default "@every 30s")
	DBTExecutable    string // default "dbt"
	TransformRunner  string // "duckdb" (default) or "dbt"

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 50)
	RateLimitBurst int     // burst capacity (default 100)

	// CORS
	CORSAllowedOrigins []string // default ["*"]

	// S3 fields are optional and nil when not configured. When set, the
	// exported CSV is published to the bucket after every export.
	S3KeyID    *string
	S3Secret   *string
	S3Endpoint *string
	S3Region   *string
	S3Bucket   *string

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// HasS3Config returns true if all required S3 fields are set.
func (c *Config) HasS3Config() bool {
	return c.S3KeyID != nil && c.S3Secret != nil &&
		c.S3Region != nil && c.S3Bucket != nil
}

// DBTManifestPath is the manifest produced by the transformation project's
// build step.
func (c *Config) DBTManifestPath() string {
	return filepath.Join(c.DBTProjectDir, "target", "manifest.json")
}

// AirflowDagsDir is the directory holding the DAG sources and CSV fixtures.
func (c *Config) AirflowDagsDir() string {
	return filepath.Join(c.ExampleDir, "tutorial_example", "airflow_dags")
}

// ProxiedStateDir holds one YAML file per DAG describing migrated tasks.
func (c *Config) ProxiedStateDir() string {
	return filepath.Join(c.AirflowDagsDir(), "proxied_state")
}

// DuckDBPath is the shared analytical database file.
func (c *Config) DuckDBPath() string {
	return filepath.Join(c.AirflowHome, "jaffle_shop.duckdb")
}

// ExportCSVPath is where the customers table is exported.
func (c *Config) ExportCSVPath() string {
	return filepath.Join(c.ExampleDir, "customers.csv")
}

// LoadFromEnv loads configuration from environment variables.
// The three tutorial directories are required; everything else has a default.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		DBTProjectDir:    os.Getenv(EnvDBTProjectDir),
		AirflowHome:      os.Getenv(EnvAirflowHome),
		ExampleDir:       os.Getenv(EnvExampleDir),
		MetaDBPath:       os.Getenv("META_DB_PATH"),
		ListenAddr:       os.Getenv("LISTEN_ADDR"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		LogFormat:        os.Getenv("LOG_FORMAT"),
		PeerPollSchedule: os.Getenv("PEER_POLL_SCHEDULE"),
		DBTExecutable:    os.Getenv("DBT_EXECUTABLE"),
		TransformRunner:  strings.ToLower(os.Getenv("TRANSFORM_RUNNER")),
		Airflow: AirflowConfig{
			WebserverURL: os.Getenv("AIRFLOW_WEBSERVER_URL"),
			Username:     os.Getenv("AIRFLOW_USERNAME"),
			Password:     os.Getenv("AIRFLOW_PASSWORD"),
			InstanceName: os.Getenv("AIRFLOW_INSTANCE_NAME"),
		},
	}

	for _, req := range []struct{ key, val string }{
		{EnvDBTProjectDir, cfg.DBTProjectDir},
		{EnvAirflowHome, cfg.AirflowHome},
		{EnvExampleDir, cfg.ExampleDir},
	} {
		if req.val == "" {
			return nil, domain.ErrConfig("%s must be set", req.key)
		}
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	// S3 fields are optional
	if v := os.Getenv("KEY_ID"); v != "" {
		cfg.S3KeyID = &v
	}
	if v := os.Getenv("SECRET"); v != "" {
		cfg.S3Secret = &v
	}
	if v := os.Getenv("ENDPOINT"); v != "" {
		cfg.S3Endpoint = &v
	}
	if v := os.Getenv("REGION"); v != "" {
		cfg.S3Region = &v
	}
	if v := os.Getenv("BUCKET"); v != "" {
		cfg.S3Bucket = &v
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	// Defaults
	if cfg.MetaDBPath == "" {
		cfg.MetaDBPath = filepath.Join(cfg.AirflowHome, "airlift_meta.sqlite")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":3333"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.PeerPollSchedule == "" {
		cfg.PeerPollSchedule = "@every 30s"
	}
	if cfg.DBTExecutable == "" {
		cfg.DBTExecutable = "dbt"
	}
	switch cfg.TransformRunner {
	case "":
		cfg.TransformRunner = TransformRunnerDuckDB
	case TransformRunnerDuckDB, TransformRunnerDBT:
	default:
		return nil, domain.ErrConfig("TRANSFORM_RUNNER must be %q or %q, got %q",
			TransformRunnerDuckDB, TransformRunnerDBT, cfg.TransformRunner)
	}
	if cfg.Airflow.WebserverURL == "" {
		cfg.Airflow.WebserverURL = "http://localhost:8080"
	}
	if cfg.Airflow.Username == "" {
		cfg.Airflow.Username = "admin"
	}
	if cfg.Airflow.Password == "" {
		cfg.Airflow.Password = "admin"
		cfg.Warnings = append(cfg.Warnings, "AIRFLOW_PASSWORD not set; using tutorial default credentials")
	}
	if cfg.Airflow.InstanceName == "" {
		cfg.Airflow.InstanceName = "airflow_instance_one"
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 50
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 100
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.S3Bucket != nil && !cfg.HasS3Config() {
		cfg.Warnings = append(cfg.Warnings, "BUCKET is set but S3 credentials are incomplete; CSV publishing disabled")
	}

	return cfg, nil
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
