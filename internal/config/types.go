package config

import (
	"fmt"
	"time"

	"pfctl/internal/session"
	"pfctl/pkg/logging"
)

// PfctlConfig is the merged configuration of the defaults, the user file
// and the project file.
type PfctlConfig struct {
	// KubeContext selects the kubeconfig context. Empty means the
	// kubeconfig's current context.
	KubeContext string `yaml:"kubeContext,omitempty"`
	// BindAddress is the local address forwards listen on.
	BindAddress string `yaml:"bindAddress,omitempty"`
	// ReadyTimeout bounds how long a new tunnel may take to come up.
	ReadyTimeout time.Duration   `yaml:"readyTimeout,omitempty"`
	Reconnect    ReconnectConfig `yaml:"reconnect,omitempty"`
	// PortForwardOpenBrowser is "always", "ask" or "never".
	PortForwardOpenBrowser string       `yaml:"portForwardOpenBrowser,omitempty"`
	LogLevel               string       `yaml:"logLevel,omitempty"`
	Server                 ServerConfig `yaml:"server,omitempty"`
}

// ReconnectConfig tunes how a broken forward is rebound.
type ReconnectConfig struct {
	Attempts       int           `yaml:"attempts,omitempty"`
	InitialBackoff time.Duration `yaml:"initialBackoff,omitempty"`
	MaxBackoff     time.Duration `yaml:"maxBackoff,omitempty"`
}

// ServerConfig is where the local control server listens.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// OpenBrowser returns the parsed browser preference.
func (c PfctlConfig) OpenBrowser() session.OpenBrowserPreference {
	p, err := session.ParseOpenBrowserPreference(c.PortForwardOpenBrowser)
	if err != nil {
		return session.OpenBrowserAsk
	}
	return p
}

// Validate reports the first invalid setting.
func (c PfctlConfig) Validate() error {
	if c.PortForwardOpenBrowser != "" {
		if _, err := session.ParseOpenBrowserPreference(c.PortForwardOpenBrowser); err != nil {
			return fmt.Errorf("portForwardOpenBrowser: %w", err)
		}
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("logLevel: unknown level %q", c.LogLevel)
	}
	if c.ReadyTimeout < 0 {
		return fmt.Errorf("readyTimeout must not be negative")
	}
	if c.Reconnect.Attempts < 0 {
		return fmt.Errorf("reconnect.attempts must not be negative")
	}
	if c.Reconnect.MaxBackoff > 0 && c.Reconnect.MaxBackoff < c.Reconnect.InitialBackoff {
		return fmt.Errorf("reconnect.maxBackoff (%s) is shorter than reconnect.initialBackoff (%s)", c.Reconnect.MaxBackoff, c.Reconnect.InitialBackoff)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	return nil
}
