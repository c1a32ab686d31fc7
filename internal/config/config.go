// Package config loads rankeval's YAML configuration, applies environment
// overrides and validates the result.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fractal-lba/rankeval/internal/eval"
	"github.com/fractal-lba/rankeval/internal/store"
	"github.com/fractal-lba/rankeval/pkg/otel"
)

// Config is the full rankeval configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level" json:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Database   DatabaseConfig   `yaml:"database" json:"database"`
	Redis      RedisConfig      `yaml:"redis" json:"redis"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
	Evaluation EvaluationConfig `yaml:"evaluation" json:"evaluation"`
	Tracing    TracingConfig    `yaml:"tracing" json:"tracing"`

	TestingMetricGroups  []eval.MetricGroup `yaml:"testing_metric_groups" json:"testing_metric_groups" validate:"dive"`
	TrainingMetricGroups []eval.MetricGroup `yaml:"training_metric_groups" json:"training_metric_groups" validate:"dive"`
}

// DatabaseConfig selects the results database. SubsetDSN points at the
// Postgres database holding subset tables and defaults to DSN when the
// driver is postgres.
type DatabaseConfig struct {
	Driver    string `yaml:"driver" json:"driver" validate:"required,oneof=postgres sqlite"`
	DSN       string `yaml:"dsn" json:"dsn" validate:"required"`
	SubsetDSN string `yaml:"subset_dsn,omitempty" json:"subset_dsn,omitempty"`
}

// RedisConfig enables cross-process scope locks. An empty Addr disables them.
type RedisConfig struct {
	Addr     string        `yaml:"addr" json:"addr"`
	Password string        `yaml:"password" json:"-"`
	DB       int           `yaml:"db" json:"db" validate:"gte=0,lte=15"`
	LockTTL  time.Duration `yaml:"lock_ttl" json:"lock_ttl" validate:"gte=0"`
}

// MetricsConfig controls pushing run metrics to a Prometheus Pushgateway.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" json:"pushgateway_url" validate:"omitempty,url"`
	Job            string `yaml:"job" json:"job"`
}

// EvaluationConfig tunes trials and writes.
type EvaluationConfig struct {
	SortTrials        int           `yaml:"sort_trials" json:"sort_trials" validate:"gte=0"`
	RelativeTolerance float64       `yaml:"relative_tolerance" json:"relative_tolerance" validate:"gte=0"`
	TrialParallelism  int           `yaml:"trial_parallelism" json:"trial_parallelism" validate:"gte=0"`
	MaxWriteRetries   int           `yaml:"max_write_retries" json:"max_write_retries" validate:"gte=0"`
	RetryBackoff      time.Duration `yaml:"retry_backoff" json:"retry_backoff" validate:"gte=0"`
	WriteRate         float64       `yaml:"write_rate" json:"write_rate" validate:"gte=0"`
	SubsetCacheSize   int           `yaml:"subset_cache_size" json:"subset_cache_size" validate:"gte=0"`
	SubsetCacheTTL    time.Duration `yaml:"subset_cache_ttl" json:"subset_cache_ttl" validate:"gte=0"`
}

// TracingConfig enables OTLP trace export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint" validate:"required_if=Enabled true"`
	Insecure    bool    `yaml:"insecure" json:"insecure"`
	SampleRate  float64 `yaml:"sample_rate" json:"sample_rate" validate:"gte=0,lte=1"`
	Environment string  `yaml:"environment" json:"environment"`
}

// Default returns a configuration for a local sqlite results file.
func Default() Config {
	return Config{
		LogLevel: "info",
		Database: DatabaseConfig{Driver: "sqlite", DSN: "rankeval.db"},
		Redis:    RedisConfig{LockTTL: 10 * time.Minute},
		Metrics:  MetricsConfig{Job: "rankeval"},
		Evaluation: EvaluationConfig{
			SortTrials:        eval.DefaultSortTrials,
			RelativeTolerance: eval.DefaultRelativeTolerance,
			MaxWriteRetries:   store.DefaultConfig().MaxRetries,
			RetryBackoff:      store.DefaultConfig().RetryBackoff,
			SubsetCacheSize:   64,
			SubsetCacheTTL:    30 * time.Minute,
		},
		Tracing: TracingConfig{Endpoint: "localhost:4317", Insecure: true, SampleRate: 1.0, Environment: "development"},
	}
}

var validate = validator.New()

// Load reads path over the defaults, applies environment overrides and
// validates. An empty path loads defaults and environment only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Database.Driver = getEnv("RANKEVAL_DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("RANKEVAL_DB_DSN", c.Database.DSN)
	c.Database.SubsetDSN = getEnv("RANKEVAL_SUBSET_DSN", c.Database.SubsetDSN)
	c.Redis.Addr = getEnv("RANKEVAL_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("RANKEVAL_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("RANKEVAL_REDIS_DB", c.Redis.DB)
	c.LogLevel = getEnv("RANKEVAL_LOG_LEVEL", c.LogLevel)
	c.Metrics.PushgatewayURL = getEnv("RANKEVAL_PUSHGATEWAY_URL", c.Metrics.PushgatewayURL)
	if endpoint := os.Getenv("RANKEVAL_OTLP_ENDPOINT"); endpoint != "" {
		c.Tracing.Endpoint = endpoint
		c.Tracing.Enabled = true
	}
	c.Evaluation.SortTrials = getEnvInt("RANKEVAL_SORT_TRIALS", c.Evaluation.SortTrials)
}

// Validate runs struct tag validation and the metric group range checks.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for i, g := range c.TestingMetricGroups {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("testing_metric_groups[%d]: %w", i, err)
		}
	}
	for i, g := range c.TrainingMetricGroups {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("training_metric_groups[%d]: %w", i, err)
		}
	}
	return nil
}

// SubsetDSN returns the Postgres DSN for subset tables, or "" when subsets
// cannot be queried.
func (c Config) SubsetDSN() string {
	if c.Database.SubsetDSN != "" {
		return c.Database.SubsetDSN
	}
	if c.Database.Driver == "postgres" {
		return c.Database.DSN
	}
	return ""
}

// EvalConfig maps the evaluation section onto the evaluator settings.
func (c Config) EvalConfig() eval.Config {
	ec := eval.DefaultConfig()
	if c.Evaluation.SortTrials > 0 {
		ec.SortTrials = c.Evaluation.SortTrials
	}
	// Zero is a valid tolerance: trials are skipped only on exact agreement.
	if c.Evaluation.RelativeTolerance >= 0 {
		ec.RelativeTolerance = c.Evaluation.RelativeTolerance
	}
	if c.Evaluation.TrialParallelism > 0 {
		ec.Parallelism = c.Evaluation.TrialParallelism
	}
	return ec
}

// StoreConfig maps the evaluation section onto the write settings.
func (c Config) StoreConfig() store.Config {
	sc := store.DefaultConfig()
	sc.MaxRetries = c.Evaluation.MaxWriteRetries
	if c.Evaluation.RetryBackoff > 0 {
		sc.RetryBackoff = c.Evaluation.RetryBackoff
	}
	sc.WriteRate = c.Evaluation.WriteRate
	return sc
}

// TracerConfig maps the tracing section onto the OpenTelemetry settings.
func (c Config) TracerConfig(version string) *otel.Config {
	tc := otel.DefaultConfig("rankeval")
	tc.ServiceVersion = version
	tc.CollectorEndpoint = c.Tracing.Endpoint
	tc.CollectorInsecure = c.Tracing.Insecure
	tc.SamplingRate = c.Tracing.SampleRate
	if c.Tracing.Environment != "" {
		tc.Environment = c.Tracing.Environment
	}
	return tc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
