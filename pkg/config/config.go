// Package config provides configuration loading and management for sinorecon.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`

		// Backend names the FFT library: gonum, go-dsp or algo-fft
		Backend string `yaml:"backend"`

		// Interpolation is the rotation kernel: nearest, linear or cubic
		Interpolation string `yaml:"interpolation"`

		// AllowPartial keeps going when a channel fails, substituting a zero plane
		AllowPartial bool `yaml:"allowPartial"`
	} `yaml:"processing"`

	// Ramp filter parameters
	Filter struct {
		// Layout is how the ramp formula indexes the spectrum: packed or half-spectrum
		Layout string `yaml:"layout"`

		// Window is the apodization applied to the ramp: none, hamming or hann
		Window string `yaml:"window"`
	} `yaml:"filter"`

	// Output parameters
	Output struct {
		// Greyscale adds a luminance channel reconstructed alongside the colour channels
		Greyscale bool `yaml:"greyscale"`

		// DegeneratePolicy handles blank channels: fail or zero
		DegeneratePolicy string `yaml:"degeneratePolicy"`

		// SaveIntermediaryResults determines whether to save intermediary processing results
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir is where intermediary results are written
		IntermediaryDir string `yaml:"intermediaryDir"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	// Simulation parameters for phantom round trips
	Simulation struct {
		// Phantom is the synthetic object: point, disk or shepp-logan
		Phantom string `yaml:"phantom"`

		// Size is the phantom width and height in pixels
		Size int `yaml:"size"`

		// Projections is the number of angles acquired over 180 degrees
		Projections int `yaml:"projections"`
	} `yaml:"simulation"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.Backend = "gonum"
	cfg.Processing.Interpolation = "linear"
	cfg.Processing.AllowPartial = false

	// Set default filter parameters
	cfg.Filter.Layout = "packed"
	cfg.Filter.Window = "none"

	// Set default output parameters
	cfg.Output.Greyscale = false
	cfg.Output.DegeneratePolicy = "fail"
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary_results"
	cfg.Output.Verbose = false

	// Set default simulation parameters
	cfg.Simulation.Phantom = "shepp-logan"
	cfg.Simulation.Size = 128
	cfg.Simulation.Projections = 180

	return cfg
}

// Validate checks numeric ranges. Names are checked where they are parsed.
func (c *Config) Validate() error {
	if c.Processing.NumCores < 0 {
		return fmt.Errorf("numCores must be non-negative, got %d", c.Processing.NumCores)
	}
	if c.Simulation.Size <= 0 {
		return fmt.Errorf("simulation size must be positive, got %d", c.Simulation.Size)
	}
	if c.Simulation.Projections <= 0 {
		return fmt.Errorf("simulation projections must be positive, got %d", c.Simulation.Projections)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
