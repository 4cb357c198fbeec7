// Package perfconfig loads and validates the CLI's run configuration
// using viper for layered file/env/default resolution.
package perfconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds everything a single inferperf invocation needs.
type Config struct {
	Model   ModelConfig   `mapstructure:"model" validate:"required"`
	Load    LoadConfig    `mapstructure:"load" validate:"required"`
	Sweep   SweepConfig   `mapstructure:"sweep" validate:"required"`
	Output  OutputConfig  `mapstructure:"output"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ModelConfig identifies the model under test and how to reach it.
type ModelConfig struct {
	Name     string `mapstructure:"name" validate:"required"`
	Version  int64  `mapstructure:"version"` // negative = latest
	URL      string `mapstructure:"url" validate:"required"`
	Protocol string `mapstructure:"protocol" validate:"required,oneof=http HTTP grpc GRPC"`
}

// LoadConfig configures the generated load itself.
type LoadConfig struct {
	BatchSize           uint32        `mapstructure:"batch_size" validate:"required,min=1"`
	Async               bool          `mapstructure:"async"`
	MeasurementWindow   time.Duration `mapstructure:"measurement_window" validate:"required"`
	StabilityTolerance  float64       `mapstructure:"stability_tolerance" validate:"gt=0"`
	MaxMeasurementCount int           `mapstructure:"max_measurement_count" validate:"required,min=1"`
}

// SweepConfig configures the fixed/dynamic sweep behavior.
type SweepConfig struct {
	Dynamic          bool          `mapstructure:"dynamic"`
	StartConcurrency uint32        `mapstructure:"start_concurrency" validate:"required,min=1"`
	FixedConcurrency uint32        `mapstructure:"fixed_concurrency"`
	ConcurrencyCap   uint32        `mapstructure:"concurrency_cap"`
	LatencyThreshold time.Duration `mapstructure:"latency_threshold"`
}

// OutputConfig configures report emission.
type OutputConfig struct {
	CSVPath string `mapstructure:"csv_path"`
	Verbose bool   `mapstructure:"verbose"`
}

// LoggingConfig mirrors internal/logging.Config.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional file, then environment
// variables, then validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// With SetConfigFile a missing file surfaces as an fs "not exist"
			// error rather than ConfigFileNotFoundError.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model.version", -1)
	v.SetDefault("model.protocol", "http")

	v.SetDefault("load.batch_size", 1)
	v.SetDefault("load.measurement_window", 5*time.Second)
	v.SetDefault("load.stability_tolerance", 0.10)
	v.SetDefault("load.max_measurement_count", 10)

	v.SetDefault("sweep.start_concurrency", 1)
	v.SetDefault("sweep.fixed_concurrency", 1)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("model.url", "INFERPERF_MODEL_URL")
	_ = v.BindEnv("model.name", "INFERPERF_MODEL_NAME")
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
}

// Validate applies struct-tag validation and the cross-field checks the
// tags can't express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if !c.Sweep.Dynamic && c.Sweep.FixedConcurrency == 0 {
		return fmt.Errorf("sweep.fixed_concurrency must be > 0 in fixed mode")
	}
	if c.Sweep.Dynamic && c.Sweep.LatencyThreshold <= 0 {
		return fmt.Errorf("sweep.latency_threshold must be > 0 in dynamic mode")
	}
	return nil
}
