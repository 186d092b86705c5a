// Package valentconfig loads and saves the daemon's TOML configuration
// file: the data directory, enabled plugin set, device identity fields,
// and the LAN listen port base.
package valentconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultConfigDir is the system-wide config directory for valent.
const DefaultConfigDir = "/etc/valent"

// DefaultListenPortBase is the TCP port the LAN transport listens on for
// incoming channel connections when no override is configured.
const DefaultListenPortBase = 1716

// DefaultEnabledPlugins is the plugin set enabled on a fresh install.
var DefaultEnabledPlugins = []string{
	"kdeconnect.battery",
	"kdeconnect.clipboard",
	"kdeconnect.notification",
	"kdeconnect.ping",
	"kdeconnect.share",
}

// Config is the top-level daemon configuration, persisted as a TOML file
// at DefaultConfigPath().
//
// Unlike a split-file config model, valent keeps everything here in one
// file: the device's private key lives under DataDir in certstore's own
// directory, not in this TOML, so there is no secrets file to separate
// out.
type Config struct {
	// DataDir holds the device's certificate/key material and the
	// persisted device index (internal/certstore, internal/manager).
	DataDir string `toml:"data_dir"`

	// EnabledPlugins lists the plugin packet-type prefixes active for
	// every device (e.g. "kdeconnect.ping"). A plugin only actually
	// activates for a given peer when its own capability also appears
	// in that peer's advertised capability set.
	EnabledPlugins []string `toml:"enabled_plugins"`

	Device DeviceConfig `toml:"device"`

	// ListenPortBase overrides the TCP port the LAN transport binds
	// for incoming channel connections. Zero means DefaultListenPortBase.
	ListenPortBase int `toml:"listen_port_base,omitempty"`
}

// DeviceConfig identifies this device to the devices it pairs with.
type DeviceConfig struct {
	// Name is the human-readable device name advertised in identity
	// packets (e.g. "kelly-laptop").
	Name string `toml:"name"`

	// Type is the device type advertised in identity packets: one of
	// "desktop", "laptop", "phone", "tablet", "tv".
	Type string `toml:"type"`
}

// DefaultConfig returns a Config populated with sensible defaults. The
// device name is left empty and is filled in by `valentd up` on first
// run (defaulting to the machine's hostname).
func DefaultConfig() *Config {
	return &Config{
		DataDir:        DefaultDataDir(),
		EnabledPlugins: append([]string(nil), DefaultEnabledPlugins...),
		Device: DeviceConfig{
			Type: "desktop",
		},
		ListenPortBase: DefaultListenPortBase,
	}
}

// DefaultDataDir returns the default directory for certificate and
// device-index state.
func DefaultDataDir() string {
	return filepath.Join(DefaultConfigDir, "data")
}

// DefaultConfigPath returns the default path for the valent config file.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir, "config.toml")
}

// LoadConfig reads path, applying defaults for zero-valued optional
// fields. If path does not exist, the error wraps fs.ErrNotExist.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// SaveConfig writes cfg to path as TOML, creating the parent directory
// (mode 0755) if it doesn't exist. The file itself is written 0644:
// world-readable, since nothing in it is secret.
func SaveConfig(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding TOML: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Chmod(path, 0644); err != nil {
		return fmt.Errorf("setting permissions on %s: %w", path, err)
	}
	return nil
}

// ParseTOML decodes a TOML config from a string. Used by the mobile
// binding layer, where configs are passed as strings rather than file
// paths.
func ParseTOML(s string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.Decode(s, cfg); err != nil {
		return nil, fmt.Errorf("decoding TOML config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// MarshalTOML encodes cfg to a TOML string.
func MarshalTOML(cfg *Config) (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return "", fmt.Errorf("encoding TOML config: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// applyDefaults fills in zero-valued optional fields after TOML decoding.
func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if len(cfg.EnabledPlugins) == 0 {
		cfg.EnabledPlugins = append([]string(nil), DefaultEnabledPlugins...)
	}
	if cfg.Device.Type == "" {
		cfg.Device.Type = "desktop"
	}
	if cfg.ListenPortBase == 0 {
		cfg.ListenPortBase = DefaultListenPortBase
	}
}
