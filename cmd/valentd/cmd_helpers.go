package main

import (
	"fmt"
	"os"

	"github.com/kuuji/valent/internal/valentconfig"
)

// resolvedConfigPath returns the config file path, using the global flag
// if set, otherwise the default system path (/etc/valent/config.toml).
func resolvedConfigPath() string {
	if globalConfigPath != "" {
		return globalConfigPath
	}
	return valentconfig.DefaultConfigPath()
}

// loadConfig loads the TOML config from the resolved path.
func loadConfig() (*valentconfig.Config, error) {
	cfgPath := resolvedConfigPath()
	cfg, err := valentconfig.LoadConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", cfgPath, err)
	}
	return cfg, nil
}

// ensureDeviceName fills in cfg.Device.Name from the machine hostname if
// it hasn't been set, so a freshly installed daemon has a sensible
// default identity without requiring a setup wizard.
func ensureDeviceName(cfg *valentconfig.Config) {
	if cfg.Device.Name != "" {
		return
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "valent-device"
	}
	cfg.Device.Name = host
}
