// Package config handles configuration loading and management for obfusk8.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/obfusk8/obfusk8/internal/labyrinth"
	"github.com/obfusk8/obfusk8/pkg/types"
)

// Config represents the global build configuration
type Config struct {
	Build  BuildConfig  `yaml:"build" mapstructure:"build"`
	Passes PassConfig   `yaml:"passes" mapstructure:"passes"`
	Worker WorkerConfig `yaml:"worker" mapstructure:"worker"`
	Output OutputConfig `yaml:"output" mapstructure:"output"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// BuildConfig defines the obfuscation context of a build
type BuildConfig struct {
	Seed     uint64 `yaml:"seed" mapstructure:"seed"`
	Profile  string `yaml:"profile" mapstructure:"profile"` // light, medium, heavy
	Capacity uint64 `yaml:"capacity" mapstructure:"capacity"`
}

// PassConfig tunes the individual passes
type PassConfig struct {
	MBADepth      int     `yaml:"mba_depth" mapstructure:"mba_depth"`
	VerifySamples int     `yaml:"verify_samples" mapstructure:"verify_samples"`
	DecoyRatio    float64 `yaml:"decoy_ratio" mapstructure:"decoy_ratio"`
	// Disabled lists passes to leave out even when the profile selects them
	Disabled []string `yaml:"disabled" mapstructure:"disabled"`
}

// WorkerConfig defines how many regions are protected at once
type WorkerConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// OutputConfig defines the output configuration
type OutputConfig struct {
	Format      string `yaml:"format" mapstructure:"format"` // text, json, yaml
	OutputFile  string `yaml:"output_file" mapstructure:"output_file"`
	ReportFile  string `yaml:"report_file" mapstructure:"report_file"`
	MetricsFile string `yaml:"metrics_file" mapstructure:"metrics_file"`
	Verbose     bool   `yaml:"verbose" mapstructure:"verbose"`
	EnableTUI   bool   `yaml:"enable_tui" mapstructure:"enable_tui"`
	QuietMode   bool   `yaml:"quiet_mode" mapstructure:"quiet_mode"`
}

// LogConfig selects log level and formatter
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // text, json
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Build: BuildConfig{
			Seed:     1,
			Profile:  types.Light.String(),
			Capacity: 1 << 20,
		},
		Passes: PassConfig{
			MBADepth:      2,
			VerifySamples: 256,
			DecoyRatio:    0.5,
		},
		Output: OutputConfig{
			Format: "text",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path on top of the defaults. An empty path
// loads defaults only. OBFUSK8_SEED and OBFUSK8_PROFILE override the file,
// as does any OBFUSK8_<SECTION>_<KEY> variable.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix("OBFUSK8")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("build.seed", "OBFUSK8_SEED")
	v.BindEnv("build.profile", "OBFUSK8_PROFILE")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("build.seed", d.Build.Seed)
	v.SetDefault("build.profile", d.Build.Profile)
	v.SetDefault("build.capacity", d.Build.Capacity)
	v.SetDefault("passes.mba_depth", d.Passes.MBADepth)
	v.SetDefault("passes.verify_samples", d.Passes.VerifySamples)
	v.SetDefault("passes.decoy_ratio", d.Passes.DecoyRatio)
	v.SetDefault("worker.workers", d.Worker.Workers)
	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.output_file", d.Output.OutputFile)
	v.SetDefault("output.report_file", d.Output.ReportFile)
	v.SetDefault("output.metrics_file", d.Output.MetricsFile)
	v.SetDefault("output.verbose", d.Output.Verbose)
	v.SetDefault("output.enable_tui", d.Output.EnableTUI)
	v.SetDefault("output.quiet_mode", d.Output.QuietMode)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Validate checks values the passes cannot work with
func (c *Config) Validate() error {
	if _, err := types.ParseProfile(c.Build.Profile); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Build.Capacity == 0 {
		return fmt.Errorf("config: build.capacity must be positive")
	}
	if c.Passes.MBADepth < 0 {
		return fmt.Errorf("config: passes.mba_depth must not be negative")
	}
	if c.Passes.VerifySamples < 0 {
		return fmt.Errorf("config: passes.verify_samples must not be negative")
	}
	if r := c.Passes.DecoyRatio; r < 0 || r > labyrinth.MaxDecoyRatio {
		return fmt.Errorf("config: passes.decoy_ratio %v outside [0, %v]", r, labyrinth.MaxDecoyRatio)
	}
	switch c.Output.Format {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("config: unknown output format %q", c.Output.Format)
	}
	return nil
}

// Profile returns the configured default profile
func (c *Config) Profile() types.Profile {
	p, _ := types.ParseProfile(c.Build.Profile)
	return p
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
