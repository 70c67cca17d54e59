// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all pipeline configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Endpoints EndpointsConfig `mapstructure:"endpoints"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Source    SourceConfig    `mapstructure:"source"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the observability HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// EndpointsConfig describes the metrics endpoints and their health policy.
type EndpointsConfig struct {
	URLs                []string `mapstructure:"urls"`
	IntervalSeconds     int      `mapstructure:"interval_seconds"`
	FailureThreshold    int      `mapstructure:"failure_threshold"`
	HealthCheckInterval int      `mapstructure:"health_check_interval_seconds"`
}

// DispatchConfig configures the per-request HTTP behavior.
type DispatchConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// RunnerConfig governs retry and circuit-breaker behavior.
type RunnerConfig struct {
	MaxRetries             int     `mapstructure:"max_retries"`
	RetryDelayBaseMs       int     `mapstructure:"retry_delay_base_ms"`
	RetryDelayMaxMs        int     `mapstructure:"retry_delay_max_ms"`
	CircuitThreshold       int     `mapstructure:"circuit_threshold"`
	CircuitCooldownSeconds int     `mapstructure:"circuit_cooldown_seconds"`
	FailureRateThreshold   float64 `mapstructure:"failure_rate_threshold"`
	MinSampleBatches       int     `mapstructure:"min_sample_batches"`
}

// PipelineConfig governs batching and buffering.
type PipelineConfig struct {
	BatchSize      int `mapstructure:"batch_size"`
	FlushThreshold int `mapstructure:"flush_threshold"`
}

// BudgetConfig governs the wall-clock budget and checkpoint cadence.
type BudgetConfig struct {
	MaxRuntimeHours     float64 `mapstructure:"max_runtime_hours"`
	SafetyMarginMinutes int     `mapstructure:"safety_margin_minutes"`
	SaveInterval        int     `mapstructure:"save_interval"`
	CommitInterval      int     `mapstructure:"commit_interval"`
	CommitEnabled       bool    `mapstructure:"commit_enabled"`
}

// SourceConfig selects where keywords come from.
type SourceConfig struct {
	// Kind is "file" or "sitemap".
	Kind       string `mapstructure:"kind"`
	Path       string `mapstructure:"path"`
	SitemapURL string `mapstructure:"sitemap_url"`
}

// DBConfig controls the relational persistence sink. An empty DSN disables it.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PubSubConfig holds metadata for the submission topic. An empty project
// disables submission.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// StorageConfig controls the external commit sink. An empty bucket disables it.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KWPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("endpoints.interval_seconds", 1)
	v.SetDefault("endpoints.failure_threshold", 3)
	v.SetDefault("endpoints.health_check_interval_seconds", 300)
	v.SetDefault("dispatch.timeout_seconds", 30)
	v.SetDefault("dispatch.user_agent", "keyword-volume-pipeline/0.1")
	v.SetDefault("runner.max_retries", 2)
	v.SetDefault("runner.retry_delay_base_ms", 1000)
	v.SetDefault("runner.retry_delay_max_ms", 60000)
	v.SetDefault("runner.circuit_threshold", 5)
	v.SetDefault("runner.circuit_cooldown_seconds", 300)
	v.SetDefault("runner.failure_rate_threshold", 0.3)
	v.SetDefault("runner.min_sample_batches", 10)
	v.SetDefault("pipeline.batch_size", 20)
	v.SetDefault("pipeline.flush_threshold", 5)
	v.SetDefault("budget.max_runtime_hours", 5)
	v.SetDefault("budget.save_interval", 1000)
	v.SetDefault("budget.commit_interval", 5000)
	v.SetDefault("budget.commit_enabled", false)
	v.SetDefault("source.kind", "file")
	v.SetDefault("storage.prefix", "checkpoints")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if len(c.Endpoints.URLs) == 0 {
		return fmt.Errorf("endpoints.urls must not be empty")
	}
	if c.Endpoints.IntervalSeconds <= 0 {
		return fmt.Errorf("endpoints.interval_seconds must be > 0")
	}
	if c.Dispatch.TimeoutSeconds <= 0 {
		return fmt.Errorf("dispatch.timeout_seconds must be > 0")
	}
	if c.Runner.FailureRateThreshold <= 0 || c.Runner.FailureRateThreshold >= 1 {
		return fmt.Errorf("runner.failure_rate_threshold must be in (0, 1)")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if c.Budget.MaxRuntimeHours <= 0 {
		return fmt.Errorf("budget.max_runtime_hours must be > 0")
	}
	switch c.Source.Kind {
	case "file":
		if c.Source.Path == "" {
			return fmt.Errorf("source.path must be set for the file source")
		}
	case "sitemap":
		if c.Source.SitemapURL == "" {
			return fmt.Errorf("source.sitemap_url must be set for the sitemap source")
		}
	default:
		return fmt.Errorf("source.kind must be file or sitemap, got %q", c.Source.Kind)
	}
	if c.Storage.GCSBucket == "" && c.Budget.CommitEnabled {
		return fmt.Errorf("storage.gcs_bucket must be set when budget.commit_enabled is true")
	}
	return nil
}

// MaxRuntime converts the budget hours into a duration.
func (c Config) MaxRuntime() time.Duration {
	return time.Duration(c.Budget.MaxRuntimeHours * float64(time.Hour))
}
