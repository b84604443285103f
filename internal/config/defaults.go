package config

import (
	"pfctl/internal/session"
	"pfctl/internal/tunnel"
)

const (
	DefaultServerHost = "localhost"
	DefaultServerPort = 8090
)

// GetDefaultConfig returns the built-in configuration every file layers on.
func GetDefaultConfig() PfctlConfig {
	return PfctlConfig{
		BindAddress:  tunnel.DefaultBindAddress,
		ReadyTimeout: tunnel.DefaultReadyTimeout,
		Reconnect: ReconnectConfig{
			Attempts:       tunnel.DefaultReconnectAttempts,
			InitialBackoff: tunnel.DefaultInitialBackoff,
			MaxBackoff:     tunnel.DefaultMaxBackoff,
		},
		PortForwardOpenBrowser: string(session.OpenBrowserAsk),
		LogLevel:               "info",
		Server: ServerConfig{
			Host: DefaultServerHost,
			Port: DefaultServerPort,
		},
	}
}

// TunnelOptions converts the configuration into engine options.
func (c PfctlConfig) TunnelOptions() tunnel.Options {
	return tunnel.Options{
		BindAddress:  c.BindAddress,
		ReadyTimeout: c.ReadyTimeout,
		Reconnect:    tunnel.NewBackoff(c.Reconnect.Attempts, c.Reconnect.InitialBackoff, c.Reconnect.MaxBackoff),
	}
}
