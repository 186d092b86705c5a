package main

import "github.com/kuuji/valent/internal/plugin"

// newEnabledPlugins builds the set of plugins registered on every newly
// constructed device, filtered to enabled. No concrete feature plugin
// (ping, battery, clipboard, ...) ships with this daemon yet — only the
// plugin host and its dispatch/activation machinery are implemented —
// so this always returns an empty set and ignores enabled. It is the
// seam where plugin instances for the enabled IDs get built.
func newEnabledPlugins(enabled []string) []plugin.Plugin {
	return nil
}
