package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Isolation modes for parallel workers.
const (
	IsolationGoroutine = "goroutine"
	IsolationProcess   = "process"
)

// Config represents the minitest configuration
type Config struct {
	Parallel    *bool    `json:"parallel,omitempty" yaml:"parallel,omitempty"`
	MaxWorkers  int      `json:"maxWorkers,omitempty" yaml:"maxWorkers,omitempty"`
	Timeout     int      `json:"timeout,omitempty" yaml:"timeout,omitempty"`         // default case timeout, milliseconds
	FileTimeout int      `json:"fileTimeout,omitempty" yaml:"fileTimeout,omitempty"` // per-file deadline in workers, milliseconds
	Isolation   string   `json:"isolation,omitempty" yaml:"isolation,omitempty"`
	TestMatch   []string `json:"testMatch,omitempty" yaml:"testMatch,omitempty"`
	Ignore      []string `json:"ignore,omitempty" yaml:"ignore,omitempty"`
	Reporters   []string `json:"reporters,omitempty" yaml:"reporters,omitempty"`
	OutputDir   string   `json:"outputDir,omitempty" yaml:"outputDir,omitempty"`
	EnvFile     string   `json:"envFile,omitempty" yaml:"envFile,omitempty"`
	Verbose     *bool    `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	NoColor     *bool    `json:"noColor,omitempty" yaml:"noColor,omitempty"`
}

// BoolPtr returns a pointer to b
func BoolPtr(b bool) *bool {
	return &b
}

// getBool returns the value of a bool pointer, or the default if nil
func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

// GetParallel returns the parallel setting, defaulting to false
func (c *Config) GetParallel() bool {
	return getBool(c.Parallel, false)
}

// GetVerbose returns the verbose setting, defaulting to false
func (c *Config) GetVerbose() bool {
	return getBool(c.Verbose, false)
}

// GetNoColor returns the no color setting, defaulting to false
func (c *Config) GetNoColor() bool {
	return getBool(c.NoColor, false)
}

// GetMaxWorkers returns the worker cap, never less than 1
func (c *Config) GetMaxWorkers() int {
	if c.MaxWorkers < 1 {
		return DefaultMaxWorkers
	}
	return c.MaxWorkers
}

// CaseTimeout returns the default case timeout as a duration
func (c *Config) CaseTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout * time.Millisecond
	}
	return time.Duration(c.Timeout) * time.Millisecond
}

// FileDeadline returns the per-file deadline, zero meaning unlimited
func (c *Config) FileDeadline() time.Duration {
	if c.FileTimeout <= 0 {
		return 0
	}
	return time.Duration(c.FileTimeout) * time.Millisecond
}

// GetIsolation returns the isolation mode, defaulting to goroutine
func (c *Config) GetIsolation() string {
	if c.Isolation == "" {
		return IsolationGoroutine
	}
	return c.Isolation
}

// ConfigFilenames contains the possible config file names
var ConfigFilenames = []string{
	".minitest.config.json",
	"minitest.config.json",
	"minitest.config.yaml",
	"minitest.config.yml",
}

// LoadConfig loads configuration from the specified path or searches for config files
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		return loadConfigFromFile(path)
	}

	return FindAndLoadConfig(".")
}

// FindAndLoadConfig searches for a config file in the given directory
func FindAndLoadConfig(dir string) (*Config, error) {
	for _, filename := range ConfigFilenames {
		configPath := filepath.Join(dir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return loadConfigFromFile(configPath)
		}
	}

	// Return defaults if no config file found
	return DefaultConfig(), nil
}

// loadConfigFromFile loads configuration from a specific file
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return config, nil
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	if c.MaxWorkers < 0 {
		return fmt.Errorf("maxWorkers must be positive, got %d", c.MaxWorkers)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %d", c.Timeout)
	}
	if c.FileTimeout < 0 {
		return fmt.Errorf("fileTimeout must not be negative, got %d", c.FileTimeout)
	}
	switch c.Isolation {
	case "", IsolationGoroutine, IsolationProcess:
	default:
		return fmt.Errorf("unknown isolation %q (want %s or %s)", c.Isolation, IsolationGoroutine, IsolationProcess)
	}
	return nil
}

// FromEnv builds a partial config from MINITEST_* environment variables.
// Unset or malformed variables leave their field unset.
func FromEnv(getenv func(string) string) *Config {
	if getenv == nil {
		getenv = os.Getenv
	}

	c := &Config{}
	if b, ok := parseBool(getenv("MINITEST_PARALLEL")); ok {
		c.Parallel = BoolPtr(b)
	}
	if n, err := strconv.Atoi(getenv("MINITEST_MAX_WORKERS")); err == nil && n > 0 {
		c.MaxWorkers = n
	}
	if n, err := strconv.Atoi(getenv("MINITEST_TIMEOUT")); err == nil && n > 0 {
		c.Timeout = n
	}
	if n, err := strconv.Atoi(getenv("MINITEST_FILE_TIMEOUT")); err == nil && n > 0 {
		c.FileTimeout = n
	}
	if v := getenv("MINITEST_ISOLATION"); v != "" {
		c.Isolation = v
	}
	if v := getenv("MINITEST_ENV_FILE"); v != "" {
		c.EnvFile = v
	}
	if b, ok := parseBool(getenv("MINITEST_NO_COLOR")); ok {
		c.NoColor = BoolPtr(b)
	}
	if b, ok := parseBool(getenv("MINITEST_VERBOSE")); ok {
		c.Verbose = BoolPtr(b)
	}
	return c
}

func parseBool(s string) (bool, bool) {
	if s == "" {
		return false, false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, false
	}
	return b, true
}

// Merge merges another config into this one, with other taking precedence
func (c *Config) Merge(other *Config) *Config {
	if other == nil {
		return c
	}

	result := *c // Copy

	if other.MaxWorkers > 0 {
		result.MaxWorkers = other.MaxWorkers
	}
	if other.Timeout > 0 {
		result.Timeout = other.Timeout
	}
	if other.FileTimeout > 0 {
		result.FileTimeout = other.FileTimeout
	}
	if other.Isolation != "" {
		result.Isolation = other.Isolation
	}
	if other.OutputDir != "" {
		result.OutputDir = other.OutputDir
	}
	if other.EnvFile != "" {
		result.EnvFile = other.EnvFile
	}

	// Boolean flags - only override if explicitly set in other config
	if other.Parallel != nil {
		result.Parallel = other.Parallel
	}
	if other.Verbose != nil {
		result.Verbose = other.Verbose
	}
	if other.NoColor != nil {
		result.NoColor = other.NoColor
	}

	if len(other.TestMatch) > 0 {
		result.TestMatch = other.TestMatch
	}
	if len(other.Ignore) > 0 {
		result.Ignore = other.Ignore
	}
	if len(other.Reporters) > 0 {
		result.Reporters = other.Reporters
	}

	return &result
}

// SaveConfig saves the configuration to a file
func (c *Config) SaveConfig(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
