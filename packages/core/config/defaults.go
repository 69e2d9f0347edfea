package config

const (
	// DefaultMaxWorkers is the worker cap when none is configured
	DefaultMaxWorkers = 2
	// DefaultTimeout is the default case timeout in milliseconds
	DefaultTimeout = 5000
	// DefaultTestMatch selects test scripts under test/
	DefaultTestMatch = "test/**/*.mt"
)

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Parallel:    BoolPtr(false),
		MaxWorkers:  DefaultMaxWorkers,
		Timeout:     DefaultTimeout,
		FileTimeout: 0,
		Isolation:   IsolationGoroutine,
		TestMatch:   []string{DefaultTestMatch},
		Ignore:      []string{"**/node_modules/**", "**/.git/**"},
		Reporters:   []string{"console"},
		Verbose:     BoolPtr(false),
		NoColor:     BoolPtr(false),
	}
}

// IsDefault returns true if the config matches defaults
func (c *Config) IsDefault() bool {
	defaults := DefaultConfig()
	return c.GetParallel() == defaults.GetParallel() &&
		c.MaxWorkers == defaults.MaxWorkers &&
		c.Timeout == defaults.Timeout &&
		c.FileTimeout == defaults.FileTimeout &&
		c.GetIsolation() == defaults.GetIsolation() &&
		equalStrings(c.TestMatch, defaults.TestMatch) &&
		c.OutputDir == defaults.OutputDir &&
		c.EnvFile == defaults.EnvFile &&
		c.GetVerbose() == defaults.GetVerbose() &&
		c.GetNoColor() == defaults.GetNoColor()
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
