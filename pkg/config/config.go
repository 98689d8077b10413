// Package config loads and validates the testbench's ambient run
// configuration: logging, the metrics listener, default execution
// parameters, safety limits, and the emergency-stop file. Scenario data
// (links, schedules) is a separate, unrelated JSON format handled by
// pkg/scenario/parser.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the testbench's ambient configuration.
type Config struct {
	Framework FrameworkConfig `yaml:"framework"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Reporting ReportingConfig `yaml:"reporting"`
	Emergency EmergencyConfig `yaml:"emergency"`
	Execution ExecutionConfig `yaml:"execution"`
	Safety    SafetyConfig    `yaml:"safety"`
	Bitrate   BitrateConfig   `yaml:"bitrate"`
}

// FrameworkConfig contains general framework settings.
type FrameworkConfig struct {
	Version   string `yaml:"version"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// MetricsConfig controls the producer-side Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// ReportingConfig contains run-report output settings.
type ReportingConfig struct {
	OutputDir string   `yaml:"output_dir"`
	KeepLastN int      `yaml:"keep_last_n"`
	Formats   []string `yaml:"formats"`
}

// EmergencyConfig contains emergency stop settings.
type EmergencyConfig struct {
	StopFile           string        `yaml:"stop_file"`
	AutoCleanupTimeout time.Duration `yaml:"auto_cleanup_timeout"`
}

// ExecutionConfig contains default scenario execution settings, used
// when a scenario file doesn't specify its own.
type ExecutionConfig struct {
	DefaultDurationSeconds int    `yaml:"default_duration_seconds"`
	DefaultSeed            uint64 `yaml:"default_seed"`
}

// SafetyConfig contains safety limits enforced before a run starts.
type SafetyConfig struct {
	MaxDuration         time.Duration `yaml:"max_duration"`
	RequireConfirmation bool          `yaml:"require_confirmation"`
}

// BitrateConfig is the adaptive bitrate controller surface: bounds,
// step size, the loss target and RTT reference the decisions compare
// against, and whether a downward step also requests a keyframe.
type BitrateConfig struct {
	StartKbps        float64 `yaml:"start_kbps"`
	MinKbps          float64 `yaml:"min_kbps"`
	MaxKbps          float64 `yaml:"max_kbps"`
	StepKbps         float64 `yaml:"step_kbps"`
	TargetLossPct    float64 `yaml:"target_loss_pct"`
	MinRtxRttMs      float64 `yaml:"min_rtx_rtt_ms"`
	DownscaleKeyunit bool    `yaml:"downscale_keyunit"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Framework: FrameworkConfig{
			Version:   "v1",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":9109",
		},
		Reporting: ReportingConfig{
			OutputDir: "./reports",
			KeepLastN: 50,
			Formats:   []string{"json"},
		},
		Emergency: EmergencyConfig{
			StopFile:           "/tmp/netbench-emergency-stop",
			AutoCleanupTimeout: 5 * time.Minute,
		},
		Execution: ExecutionConfig{
			DefaultDurationSeconds: 60,
			DefaultSeed:            0,
		},
		Safety: SafetyConfig{
			MaxDuration:         1 * time.Hour,
			RequireConfirmation: false,
		},
		Bitrate: BitrateConfig{
			StartKbps:        4000,
			MinKbps:          1000,
			MaxKbps:          8000,
			StepKbps:         500,
			TargetLossPct:    0.01,
			MinRtxRttMs:      150,
			DownscaleKeyunit: false,
		},
	}
}

// Load loads configuration from a YAML file. A missing file is not an
// error: the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	if err := yaml.Unmarshal(expandedData, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if addr := os.Getenv("NETBENCH_METRICS_ADDR"); addr != "" {
		cfg.Metrics.ListenAddr = addr
	}

	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Reporting.OutputDir == "" {
		return fmt.Errorf("reporting.output_dir is required")
	}

	if c.Execution.DefaultDurationSeconds < 1 {
		return fmt.Errorf("execution.default_duration_seconds must be at least 1")
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics.enabled is true")
	}

	if c.Bitrate.MinKbps <= 0 || c.Bitrate.MaxKbps <= c.Bitrate.MinKbps {
		return fmt.Errorf("bitrate bounds invalid: min_kbps %.0f, max_kbps %.0f", c.Bitrate.MinKbps, c.Bitrate.MaxKbps)
	}
	if c.Bitrate.StepKbps <= 0 {
		return fmt.Errorf("bitrate.step_kbps must be > 0")
	}
	if c.Bitrate.TargetLossPct < 0 || c.Bitrate.TargetLossPct > 1 {
		return fmt.Errorf("bitrate.target_loss_pct must be in [0,1]")
	}

	return nil
}
