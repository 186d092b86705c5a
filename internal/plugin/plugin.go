// Package plugin defines the device-plugin contract and the per-device
// host that loads plugins, dispatches inbound packets to them, and
// collects their action surface.
package plugin

import (
	"github.com/kuuji/valent/pkg/packet"
)

// StateFlags describes a device's connected/paired state at the moment
// UpdateState is invoked.
type StateFlags struct {
	Connected bool
	Paired    bool
}

// ActionHandler is invoked when an action registered by a plugin is
// activated from outside the core (e.g. by the control surface or a
// CLI command).
type ActionHandler func(param any) error

// Context is the per-device surface a plugin is bound to. Core
// implements this (internal/device.Device); plugins never see the
// device's internals directly.
type Context interface {
	// DeviceID returns the id of the device this context is bound to.
	DeviceID() string

	// SendPacket emits a packet over the device's channel. Returns an
	// error if the device is currently disconnected and the packet is
	// not persistable.
	SendPacket(p packet.Packet) error

	// RegisterAction adds a named action to the device's action group,
	// keyed as "<plugin-id>.<name>" by the host.
	RegisterAction(name string, handler ActionHandler)

	// SetActionEnabled toggles whether a previously registered action
	// may currently be invoked.
	SetActionEnabled(name string, enabled bool)

	// Setting returns a plugin-scoped configuration value.
	Setting(key string) (string, bool)

	// DataDir returns a plugin-scoped directory for persisted state.
	DataDir() string
}

// Plugin is a polymorphic per-device extension that consumes packets of
// declared types and emits packets through its Context.
type Plugin interface {
	// ID names the plugin; actions are exposed as "<ID()>.<action>".
	ID() string

	// IncomingCapabilities lists the packet types this plugin wants
	// delivered to HandlePacket.
	IncomingCapabilities() []string

	// OutgoingCapabilities lists the packet types this plugin may send.
	OutgoingCapabilities() []string

	// Activate is invoked when the device first connects with this
	// plugin's capabilities enabled (peer outgoing ∩ our incoming is
	// non-empty, or the plugin declares no packet dependencies).
	Activate(ctx Context) error

	// Deactivate is invoked on disconnect; must release any queued
	// resources without blocking.
	Deactivate() error

	// HandlePacket is invoked for each inbound packet whose type is in
	// IncomingCapabilities(). It must not block on I/O; long-running
	// work should be dispatched to its own goroutine.
	HandlePacket(p packet.Packet) error

	// UpdateState is invoked whenever the device's connected/paired
	// state changes.
	UpdateState(flags StateFlags)
}
