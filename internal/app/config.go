package app

import (
	"pfctl/internal/config"
)

// Config holds the global command line settings. Non-empty values
// override what the configuration files say.
type Config struct {
	KubeContext string
	LogLevel    string

	// PfctlConfig is the merged configuration, set by NewApplication.
	PfctlConfig *config.PfctlConfig
}

// NewConfig creates a new application configuration
func NewConfig(kubeContext, logLevel string) *Config {
	return &Config{
		KubeContext: kubeContext,
		LogLevel:    logLevel,
	}
}

// applyOverrides copies the command line settings over loaded.
func (c *Config) applyOverrides(loaded *config.PfctlConfig) {
	if c.KubeContext != "" {
		loaded.KubeContext = c.KubeContext
	}
	if c.LogLevel != "" {
		loaded.LogLevel = c.LogLevel
	}
}
