// Package config provides configuration management for pfctl.
//
// Configuration is loaded and merged in the following order, later sources
// overriding earlier ones:
//
//  1. Default configuration (built in)
//  2. User configuration (~/.config/pfctl/config.yaml)
//  3. Project configuration (./.pfctl/config.yaml)
//
// Command-line flags are applied on top by the cmd package.
//
// # Configuration Structure
//
//	kubeContext: my-cluster        # empty: kubeconfig current context
//	bindAddress: 127.0.0.1
//	readyTimeout: 30s
//	reconnect:
//	  attempts: 5
//	  initialBackoff: 1s
//	  maxBackoff: 30s
//	portForwardOpenBrowser: ask    # always | ask | never
//	logLevel: info
//	server:
//	  host: localhost
//	  port: 8090
//
// # Persisted Settings
//
// Settings implements session.Settings. Remembered answers to the
// "open in browser?" prompt are written back to the user configuration
// file as portForwardOpenBrowser; every other key in that file is kept.
package config
