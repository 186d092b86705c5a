// Package device implements the per-peer state machine: pairing,
// channel binding, capability negotiation, and the plugin dispatch
// surface a device presents to its plugins.
package device

import (
	"crypto/x509"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kuuji/valent/internal/certstore"
	"github.com/kuuji/valent/internal/channel"
	"github.com/kuuji/valent/internal/plugin"
	"github.com/kuuji/valent/pkg/packet"
)

// Config constructs a Device, either freshly discovered (PeerCertificate
// nil, PairState Unpaired) or restored from the persisted device index
// (PairState Paired, PeerCertificate set).
type Config struct {
	ID                   string
	Name                 string
	DeviceType           string
	IncomingCapabilities []string
	OutgoingCapabilities []string
	PeerCertificate      *x509.Certificate
	PairState            PairState
	// PeerIncomingCapabilities/PeerOutgoingCapabilities seed the device
	// with the peer's last-known advertised capabilities, so a device
	// restored from the persisted index reports a sensible ActiveTypes
	// set (and a plugin's eligibility is known) before the peer is ever
	// seen live again. Bind overwrites both with the freshly announced
	// values once the peer reconnects.
	PeerIncomingCapabilities []string
	PeerOutgoingCapabilities []string
	DataDir                  string
	Pins                     *certstore.Pinstore
	Logger                   *slog.Logger
}

// Device tracks one peer across reconnects: its identity, pairing
// state, live channel (if any), and the plugin host bound to it.
type Device struct {
	id                   string
	name                 string
	deviceType           string
	incomingCapabilities []string
	outgoingCapabilities []string

	pins *certstore.Pinstore
	host *plugin.Host
	log  *slog.Logger

	dataDir string

	mu           sync.Mutex
	ch           *channel.Channel
	peerCert     *x509.Certificate
	pairState    PairState
	pairTimer    *time.Timer
	peerIncoming []string
	peerOutgoing []string

	settingsMu sync.RWMutex
	settings   map[string]string

	actionsMu     sync.RWMutex
	actions       map[string]plugin.ActionHandler
	actionEnabled map[string]bool
}

// New constructs a Device bound to host, which must already have every
// applicable plugin registered.
func New(cfg Config, host *plugin.Host) *Device {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Device{
		id:                   cfg.ID,
		name:                 cfg.Name,
		deviceType:           cfg.DeviceType,
		incomingCapabilities: cfg.IncomingCapabilities,
		outgoingCapabilities: cfg.OutgoingCapabilities,
		peerCert:             cfg.PeerCertificate,
		pairState:            cfg.PairState,
		peerIncoming:         cfg.PeerIncomingCapabilities,
		peerOutgoing:         cfg.PeerOutgoingCapabilities,
		dataDir:              cfg.DataDir,
		pins:                 cfg.Pins,
		host:                 host,
		log:                  log.With("device_id", cfg.ID),
		settings:             make(map[string]string),
		actions:              make(map[string]plugin.ActionHandler),
		actionEnabled:        make(map[string]bool),
	}
}

// ID returns the device's identifier (the peer certificate CN).
func (d *Device) ID() string { return d.id }

// DeviceID satisfies plugin.Context.
func (d *Device) DeviceID() string { return d.id }

// SendPacket satisfies plugin.Context by delegating to Send.
func (d *Device) SendPacket(p packet.Packet) error { return d.Send(p) }

// Name returns the peer's self-reported device name.
func (d *Device) Name() string { return d.name }

// Type returns the peer's self-reported device type (e.g. "phone").
func (d *Device) Type() string { return d.deviceType }

// PairState returns the current pairing state.
func (d *Device) PairState() PairState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pairState
}

// Connected reports whether a live channel is bound.
func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ch != nil
}

// Channel returns the currently bound channel, or nil if disconnected.
// Used by the device manager's read pump to detect a channel replacement
// (Bind called again with a new channel) versus a genuine disconnect: a
// pump reading a channel that no longer equals Channel() belongs to a
// channel the device has already moved on from.
func (d *Device) Channel() *channel.Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ch
}

// PeerCertificate returns the pinned peer certificate, or nil if the
// device has never completed pairing.
func (d *Device) PeerCertificate() *x509.Certificate {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peerCert
}

// IncomingCapabilities returns the packet types this device (the local
// side) declares it can receive.
func (d *Device) IncomingCapabilities() []string { return d.incomingCapabilities }

// OutgoingCapabilities returns the packet types this device (the local
// side) declares it can send.
func (d *Device) OutgoingCapabilities() []string { return d.outgoingCapabilities }

// PeerIncomingCapabilities returns the capabilities last announced by
// the peer in its identity packet.
func (d *Device) PeerIncomingCapabilities() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peerIncoming
}

// PeerOutgoingCapabilities returns the capabilities last announced by
// the peer in its identity packet.
func (d *Device) PeerOutgoingCapabilities() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peerOutgoing
}

// Bind attaches a newly-established channel to the device: it sets the
// channel, re-evaluates plugin activation against the peer's
// capabilities, and flushes state to every plugin.
//
// If the device is already paired, the channel's certificate must match
// the one pinned at pairing time; a mismatch returns
// ErrCertificateMismatch and leaves the device's existing channel (if
// any) untouched. This is defense in depth on top of the pin check
// internal/lan's handshake already performs before a channel ever
// reaches here.
func (d *Device) Bind(ch *channel.Channel) error {
	d.mu.Lock()
	if d.pairState == Paired && !certstore.IsSame(d.peerCert, ch.PeerCertificate()) {
		d.mu.Unlock()
		return ErrCertificateMismatch
	}
	old := d.ch
	d.ch = ch
	peer := ch.PeerIdentity()
	d.peerIncoming = peer.IncomingCapabilities
	d.peerOutgoing = peer.OutgoingCapabilities
	d.name = peer.DeviceName
	d.deviceType = peer.DeviceType
	pairState := d.pairState
	d.mu.Unlock()

	if old != nil {
		old.Close()
	}

	activated := d.host.Activate(d, peer.OutgoingCapabilities)
	d.log.Info("channel bound", "activated_plugins", activated, "pair_state", pairState.String())

	d.host.UpdateState(plugin.StateFlags{Connected: true, Paired: pairState == Paired})
	return nil
}

// Unbind detaches the current channel, deactivates plugins, and
// reports whether the device should now be dropped entirely (it was
// never paired, so there is nothing to keep around).
func (d *Device) Unbind() (remove bool) {
	d.mu.Lock()
	d.ch = nil
	d.stopPairTimerLocked()
	pairState := d.pairState
	d.mu.Unlock()

	d.host.Deactivate()
	d.host.UpdateState(plugin.StateFlags{Connected: false, Paired: pairState == Paired})

	if pairState != Unpaired {
		d.disableNonPersistableActions()
	}
	return pairState == Unpaired
}

// ActiveTypes returns the packet types currently dispatched to plugins
// on this device: the intersection of local incoming capabilities and
// the peer's outgoing capabilities, limited to types that some plugin
// registered on the host handles.
func (d *Device) ActiveTypes() []string {
	d.mu.Lock()
	peerOutgoing := d.peerOutgoing
	d.mu.Unlock()

	local := make(map[string]struct{}, len(d.incomingCapabilities))
	for _, t := range d.incomingCapabilities {
		local[t] = struct{}{}
	}
	var active []string
	for _, t := range d.host.ActiveTypes(peerOutgoing) {
		if _, ok := local[t]; ok {
			active = append(active, t)
		}
	}
	return active
}

// HandlePacket routes one inbound packet: pairing packets drive the
// pair state machine directly; every other packet is filtered against
// the active capability set and fanned out to plugins.
func (d *Device) HandlePacket(p packet.Packet) error {
	if p.Type == packet.PairType {
		var body packet.PairBody
		if err := p.DecodeBody(&body); err != nil {
			return fmt.Errorf("decoding pair body: %w", err)
		}
		return d.onPairPacket(body.Pair)
	}

	active := d.ActiveTypes()
	for _, t := range active {
		if t == p.Type {
			d.host.Dispatch(p)
			return nil
		}
	}
	d.log.Debug("dropping packet outside active capability set", "type", p.Type)
	return nil
}

// Send writes a packet on the device's channel. A disconnected device
// drops the packet, since no packet type in the core is marked
// persistable.
func (d *Device) Send(p packet.Packet) error {
	d.mu.Lock()
	ch := d.ch
	d.mu.Unlock()

	if ch == nil {
		return ErrDisconnected
	}
	if err := ch.WritePacket(p); err != nil {
		return fmt.Errorf("sending packet on device %s: %w", d.id, err)
	}
	return nil
}

// DataDir returns the device's own data directory (plugins receive a
// subdirectory of this, scoped by plugin ID).
func (d *Device) DataDir() string { return d.dataDir }

// Setting returns a device-scoped configuration value. Values are set
// in-process only for now; persistence is the manager's job.
func (d *Device) Setting(key string) (string, bool) {
	d.settingsMu.RLock()
	defer d.settingsMu.RUnlock()
	v, ok := d.settings[key]
	return v, ok
}

// SetSetting stores a device-scoped configuration value.
func (d *Device) SetSetting(key, value string) {
	d.settingsMu.Lock()
	defer d.settingsMu.Unlock()
	d.settings[key] = value
}

// RegisterAction adds a named action to the device's merged action
// group. Called (indirectly, via plugin.Host's scopedContext) by a
// plugin during Activate.
func (d *Device) RegisterAction(name string, handler plugin.ActionHandler) {
	d.actionsMu.Lock()
	defer d.actionsMu.Unlock()
	d.actions[name] = handler
	d.actionEnabled[name] = true
}

// SetActionEnabled toggles whether a previously registered action may
// currently be invoked.
func (d *Device) SetActionEnabled(name string, enabled bool) {
	d.actionsMu.Lock()
	defer d.actionsMu.Unlock()
	if _, ok := d.actions[name]; ok {
		d.actionEnabled[name] = enabled
	}
}

// Actions returns the names of every registered action currently
// enabled.
func (d *Device) Actions() []string {
	d.actionsMu.RLock()
	defer d.actionsMu.RUnlock()
	var names []string
	for name, enabled := range d.actionEnabled {
		if enabled {
			names = append(names, name)
		}
	}
	return names
}

// InvokeAction runs a registered action's handler with param.
func (d *Device) InvokeAction(name string, param any) error {
	d.actionsMu.RLock()
	handler, ok := d.actions[name]
	enabled := d.actionEnabled[name]
	d.actionsMu.RUnlock()

	if !ok {
		return fmt.Errorf("device %s: unknown action %q", d.id, name)
	}
	if !enabled {
		return fmt.Errorf("device %s: action %q is disabled", d.id, name)
	}
	return handler(param)
}

// disableNonPersistableActions disables every currently-registered
// action on disconnect; since no action state in the core is
// persistable, this is equivalent to disabling them all.
func (d *Device) disableNonPersistableActions() {
	d.actionsMu.Lock()
	defer d.actionsMu.Unlock()
	for name := range d.actionEnabled {
		d.actionEnabled[name] = false
	}
}
