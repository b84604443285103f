package config

import (
	"fmt"
	"os"
	"path/filepath"

	"pfctl/pkg/logging"

	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/pfctl"
	projectConfigDir = ".pfctl"
	configFileName   = "config.yaml"
)

// LoadConfig layers the user and project files over the defaults. Missing
// files are skipped; unreadable or invalid ones are errors.
func LoadConfig() (PfctlConfig, error) {
	config := GetDefaultConfig()

	userConfigPath, err := getUserConfigPath()
	if err != nil {
		logging.Warn("Config", "Could not determine user config path: %v", err)
	} else {
		config, err = layerFile(config, userConfigPath)
		if err != nil {
			return PfctlConfig{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
		}
	}

	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		logging.Warn("Config", "Could not determine project config path: %v", err)
	} else {
		config, err = layerFile(config, projectConfigPath)
		if err != nil {
			return PfctlConfig{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
		}
	}

	if err := config.Validate(); err != nil {
		return PfctlConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

// UserConfigPath returns the file user-level settings are saved to.
func UserConfigPath() (string, error) {
	return getUserConfigPath()
}

func layerFile(base PfctlConfig, path string) (PfctlConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return base, nil
	}
	overlay, err := loadConfigFromFile(path)
	if err != nil {
		return PfctlConfig{}, err
	}
	logging.Debug("Config", "Loaded configuration from %s", path)
	return mergeConfigs(base, overlay), nil
}

// loadConfigFromFile loads a PfctlConfig from a YAML file.
func loadConfigFromFile(filePath string) (PfctlConfig, error) {
	var config PfctlConfig
	data, err := os.ReadFile(filePath)
	if err != nil {
		return PfctlConfig{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return PfctlConfig{}, err
	}
	return config, nil
}

// mergeConfigs merges 'overlay' config into 'base' config. Zero values in
// overlay leave base untouched.
func mergeConfigs(base, overlay PfctlConfig) PfctlConfig {
	merged := base

	if overlay.KubeContext != "" {
		merged.KubeContext = overlay.KubeContext
	}
	if overlay.BindAddress != "" {
		merged.BindAddress = overlay.BindAddress
	}
	if overlay.ReadyTimeout != 0 {
		merged.ReadyTimeout = overlay.ReadyTimeout
	}
	if overlay.Reconnect.Attempts != 0 {
		merged.Reconnect.Attempts = overlay.Reconnect.Attempts
	}
	if overlay.Reconnect.InitialBackoff != 0 {
		merged.Reconnect.InitialBackoff = overlay.Reconnect.InitialBackoff
	}
	if overlay.Reconnect.MaxBackoff != 0 {
		merged.Reconnect.MaxBackoff = overlay.Reconnect.MaxBackoff
	}
	if overlay.PortForwardOpenBrowser != "" {
		merged.PortForwardOpenBrowser = overlay.PortForwardOpenBrowser
	}
	if overlay.LogLevel != "" {
		merged.LogLevel = overlay.LogLevel
	}
	if overlay.Server.Host != "" {
		merged.Server.Host = overlay.Server.Host
	}
	if overlay.Server.Port != 0 {
		merged.Server.Port = overlay.Server.Port
	}

	return merged
}

// GetUserConfigDir returns the user configuration directory path
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir), nil
}
