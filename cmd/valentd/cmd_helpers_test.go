package main

import (
	"testing"

	"github.com/kuuji/valent/internal/valentconfig"
)

func TestEnsureDeviceName_fillsHostnameWhenEmpty(t *testing.T) {
	t.Parallel()

	cfg := &valentconfig.Config{}
	ensureDeviceName(cfg)

	if cfg.Device.Name == "" {
		t.Fatal("ensureDeviceName left Device.Name empty")
	}
}

func TestEnsureDeviceName_leavesExistingNameAlone(t *testing.T) {
	t.Parallel()

	cfg := &valentconfig.Config{Device: valentconfig.DeviceConfig{Name: "kelly-laptop"}}
	ensureDeviceName(cfg)

	if cfg.Device.Name != "kelly-laptop" {
		t.Errorf("Device.Name = %q, want %q", cfg.Device.Name, "kelly-laptop")
	}
}

func TestResolvedConfigPath_usesGlobalFlagWhenSet(t *testing.T) {
	old := globalConfigPath
	defer func() { globalConfigPath = old }()

	globalConfigPath = "/tmp/custom.toml"
	if got := resolvedConfigPath(); got != "/tmp/custom.toml" {
		t.Errorf("resolvedConfigPath() = %q, want %q", got, "/tmp/custom.toml")
	}
}

func TestResolvedConfigPath_fallsBackToDefault(t *testing.T) {
	old := globalConfigPath
	defer func() { globalConfigPath = old }()

	globalConfigPath = ""
	if got := resolvedConfigPath(); got != valentconfig.DefaultConfigPath() {
		t.Errorf("resolvedConfigPath() = %q, want %q", got, valentconfig.DefaultConfigPath())
	}
}

func TestCapabilitiesForEnabledPlugins(t *testing.T) {
	t.Parallel()

	incoming, outgoing := capabilitiesForEnabledPlugins([]string{"kdeconnect.ping"})
	if len(incoming) != 1 || incoming[0] != "kdeconnect.ping" {
		t.Errorf("incoming = %v, want [kdeconnect.ping]", incoming)
	}
	if len(outgoing) != 1 || outgoing[0] != "kdeconnect.ping" {
		t.Errorf("outgoing = %v, want [kdeconnect.ping]", outgoing)
	}
}
