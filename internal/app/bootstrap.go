package app

import (
	"fmt"
	"io"
	"os"

	"pfctl/internal/config"
	"pfctl/pkg/logging"
)

// Application is the main application structure that bootstraps and runs pfctl
type Application struct {
	config *Config
	in     io.Reader
	out    io.Writer

	// For mocking in tests
	newServices func(cfg config.PfctlConfig) (*Services, error)
}

// NewApplication loads the layered configuration, applies the command line
// overrides and initializes logging.
func NewApplication(cfg *Config) (*Application, error) {
	pfctlCfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load pfctl configuration: %w", err)
	}
	cfg.applyOverrides(&pfctlCfg)

	level, ok := logging.ParseLevel(pfctlCfg.LogLevel)
	if !ok {
		return nil, fmt.Errorf("unknown log level %q, expected debug, info, warn or error", pfctlCfg.LogLevel)
	}
	// Logs go to stderr so stdout only carries command output.
	logging.InitForCLI(level, os.Stderr)
	logging.Debug("Bootstrap", "Loaded configuration (context %q, bind address %s)", pfctlCfg.KubeContext, pfctlCfg.BindAddress)

	cfg.PfctlConfig = &pfctlCfg
	return newApplication(cfg, os.Stdin, os.Stdout), nil
}

func newApplication(cfg *Config, in io.Reader, out io.Writer) *Application {
	return &Application{
		config:      cfg,
		in:          in,
		out:         out,
		newServices: InitializeServices,
	}
}

// PfctlConfig returns the effective configuration.
func (a *Application) PfctlConfig() config.PfctlConfig {
	return *a.config.PfctlConfig
}
