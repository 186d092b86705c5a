package plugin

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/kuuji/valent/pkg/packet"
)

// scopedContext wraps a device-wide Context so that a plugin's action
// names, settings keys, and data directory are automatically namespaced
// under its own ID, without the plugin having to do it itself.
type scopedContext struct {
	Context
	pluginID string
}

func (s *scopedContext) RegisterAction(name string, handler ActionHandler) {
	s.Context.RegisterAction(s.pluginID+"."+name, handler)
}

func (s *scopedContext) SetActionEnabled(name string, enabled bool) {
	s.Context.SetActionEnabled(s.pluginID+"."+name, enabled)
}

func (s *scopedContext) Setting(key string) (string, bool) {
	return s.Context.Setting(s.pluginID + "." + key)
}

func (s *scopedContext) DataDir() string {
	return filepath.Join(s.Context.DataDir(), s.pluginID)
}

// Host owns the set of plugins bound to a single device and dispatches
// inbound packets to whichever active plugins declared interest in
// that packet's type. A plugin that panics or returns an error is
// logged; the device and channel stay up regardless.
type Host struct {
	log *slog.Logger

	mu      sync.RWMutex
	plugins []Plugin
	byType  map[string][]Plugin
	active  map[string]bool // plugin ID -> currently activated
}

// NewHost constructs an empty Host. Plugins are added with Register
// before the device's channel binds.
func NewHost(log *slog.Logger) *Host {
	if log == nil {
		log = slog.Default()
	}
	return &Host{
		log:    log.With("component", "plugin.host"),
		byType: make(map[string][]Plugin),
		active: make(map[string]bool),
	}
}

// Register adds a plugin to the host. Must be called before Activate.
func (h *Host) Register(p Plugin) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.plugins = append(h.plugins, p)
	for _, t := range p.IncomingCapabilities() {
		h.byType[t] = append(h.byType[t], p)
	}
}

// Plugins returns the registered plugins in registration order.
func (h *Host) Plugins() []Plugin {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Plugin, len(h.plugins))
	copy(out, h.plugins)
	return out
}

// ActiveTypes intersects the locally-registered incoming capabilities
// with the peer's outgoing capabilities, per the protocol's capability
// negotiation rule. Packets whose type falls outside this set are
// dropped by the caller before reaching Dispatch.
func (h *Host) ActiveTypes(peerOutgoing []string) []string {
	peerSet := setOf(peerOutgoing)

	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]struct{})
	var active []string
	for t := range h.byType {
		if _, ok := peerSet[t]; !ok {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		active = append(active, t)
	}
	return active
}

// isEligible reports whether p should activate given the peer's
// outgoing capabilities: either its incoming capabilities intersect
// peerOutgoing, or it declares no packet dependencies at all.
func isEligible(p Plugin, peerSet map[string]struct{}) bool {
	incoming := p.IncomingCapabilities()
	if len(incoming) == 0 {
		return true
	}
	for _, t := range incoming {
		if _, ok := peerSet[t]; ok {
			return true
		}
	}
	return false
}

func setOf(items []string) map[string]struct{} {
	s := make(map[string]struct{}, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

// Activate activates every registered plugin whose capabilities are
// eligible given peerOutgoing (the peer's outgoing_capabilities),
// skipping plugins already active. Returns the IDs of the plugins it
// activated.
func (h *Host) Activate(ctx Context, peerOutgoing []string) []string {
	peerSet := setOf(peerOutgoing)

	h.mu.Lock()
	var toActivate []Plugin
	for _, p := range h.plugins {
		if h.active[p.ID()] {
			continue
		}
		if !isEligible(p, peerSet) {
			continue
		}
		toActivate = append(toActivate, p)
	}
	h.mu.Unlock()

	var activated []string
	for _, p := range toActivate {
		scoped := &scopedContext{Context: ctx, pluginID: p.ID()}
		ok := h.callSafely(p.ID(), "activate", func() error {
			return p.Activate(scoped)
		})
		if ok {
			h.mu.Lock()
			h.active[p.ID()] = true
			h.mu.Unlock()
			activated = append(activated, p.ID())
		}
	}
	return activated
}

// Deactivate deactivates every currently-active plugin, in
// registration order, isolating failures the same way Activate does.
func (h *Host) Deactivate() {
	h.mu.Lock()
	var toDeactivate []Plugin
	for _, p := range h.plugins {
		if h.active[p.ID()] {
			toDeactivate = append(toDeactivate, p)
		}
	}
	h.mu.Unlock()

	for _, p := range toDeactivate {
		h.callSafely(p.ID(), "deactivate", func() error {
			return p.Deactivate()
		})
		h.mu.Lock()
		delete(h.active, p.ID())
		h.mu.Unlock()
	}
}

// UpdateState notifies every currently-active plugin of a
// connected/paired state change.
func (h *Host) UpdateState(flags StateFlags) {
	h.mu.RLock()
	var active []Plugin
	for _, p := range h.plugins {
		if h.active[p.ID()] {
			active = append(active, p)
		}
	}
	h.mu.RUnlock()

	for _, p := range active {
		h.callSafely(p.ID(), "update_state", func() error {
			p.UpdateState(flags)
			return nil
		})
	}
}

// Dispatch routes an inbound packet to every active plugin registered
// for its type, in registration order. A handler that panics or
// errors does not prevent the remaining handlers from running.
func (h *Host) Dispatch(p packet.Packet) {
	h.mu.RLock()
	var handlers []Plugin
	for _, plug := range h.byType[p.Type] {
		if h.active[plug.ID()] {
			handlers = append(handlers, plug)
		}
	}
	h.mu.RUnlock()

	if len(handlers) == 0 {
		h.log.Debug("no active plugin for packet type", "type", p.Type)
		return
	}

	for _, plug := range handlers {
		h.callSafely(plug.ID(), "handle_packet", func() error {
			return plug.HandlePacket(p)
		})
	}
}

// callSafely invokes fn, recovering from panics and logging both
// panics and returned errors so that one misbehaving plugin can never
// wedge the device or the channel. Returns false if fn panicked or
// returned an error.
func (h *Host) callSafely(pluginID, op string, fn func() error) (ok bool) {
	ok = true
	defer func() {
		if r := recover(); r != nil {
			ok = false
			h.log.Error("plugin panicked", "plugin", pluginID, "op", op, "panic", fmt.Sprint(r))
		}
	}()
	if err := fn(); err != nil {
		ok = false
		h.log.Warn("plugin returned an error", "plugin", pluginID, "op", op, "error", err)
	}
	return ok
}
