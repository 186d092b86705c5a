package valentconfig

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	if cfg.ListenPortBase != DefaultListenPortBase {
		t.Errorf("default ListenPortBase = %d, want %d", cfg.ListenPortBase, DefaultListenPortBase)
	}
	if cfg.Device.Type != "desktop" {
		t.Errorf("default Device.Type = %q, want %q", cfg.Device.Type, "desktop")
	}
	if len(cfg.EnabledPlugins) != len(DefaultEnabledPlugins) {
		t.Errorf("default EnabledPlugins count = %d, want %d", len(cfg.EnabledPlugins), len(DefaultEnabledPlugins))
	}
	if cfg.DataDir == "" {
		t.Error("default DataDir should not be empty")
	}
}

func TestSaveAndLoadConfig_roundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "valent", "config.toml")

	original := &Config{
		DataDir:        filepath.Join(dir, "data"),
		EnabledPlugins: []string{"kdeconnect.ping", "kdeconnect.battery"},
		Device: DeviceConfig{
			Name: "kelly-laptop",
			Type: "laptop",
		},
		ListenPortBase: 1717,
	}

	if err := SaveConfig(path, original); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0644 {
		t.Errorf("config.toml permissions = %o, want 0644", perm)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if loaded.DataDir != original.DataDir {
		t.Errorf("DataDir = %q, want %q", loaded.DataDir, original.DataDir)
	}
	if loaded.Device.Name != original.Device.Name {
		t.Errorf("Device.Name = %q, want %q", loaded.Device.Name, original.Device.Name)
	}
	if loaded.Device.Type != original.Device.Type {
		t.Errorf("Device.Type = %q, want %q", loaded.Device.Type, original.Device.Type)
	}
	if loaded.ListenPortBase != original.ListenPortBase {
		t.Errorf("ListenPortBase = %d, want %d", loaded.ListenPortBase, original.ListenPortBase)
	}
	if len(loaded.EnabledPlugins) != len(original.EnabledPlugins) {
		t.Fatalf("EnabledPlugins count = %d, want %d", len(loaded.EnabledPlugins), len(original.EnabledPlugins))
	}
	for i, p := range loaded.EnabledPlugins {
		if p != original.EnabledPlugins[i] {
			t.Errorf("EnabledPlugins[%d] = %q, want %q", i, p, original.EnabledPlugins[i])
		}
	}
}

func TestLoadConfig_missingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing", "config.toml"))
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("error = %v, want one wrapping fs.ErrNotExist", err)
	}
}

func TestLoadConfig_appliesDefaultsForZeroFields(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	// A minimal file with only the device name set — everything else
	// should come back at its default.
	minimal := "[device]\nname = \"bare-box\"\n"
	if err := os.WriteFile(path, []byte(minimal), 0644); err != nil {
		t.Fatalf("writing minimal config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.Device.Name != "bare-box" {
		t.Errorf("Device.Name = %q, want %q", cfg.Device.Name, "bare-box")
	}
	if cfg.Device.Type != "desktop" {
		t.Errorf("Device.Type = %q, want %q (default)", cfg.Device.Type, "desktop")
	}
	if cfg.ListenPortBase != DefaultListenPortBase {
		t.Errorf("ListenPortBase = %d, want %d (default)", cfg.ListenPortBase, DefaultListenPortBase)
	}
	if len(cfg.EnabledPlugins) != len(DefaultEnabledPlugins) {
		t.Errorf("EnabledPlugins count = %d, want %d (default)", len(cfg.EnabledPlugins), len(DefaultEnabledPlugins))
	}
}
