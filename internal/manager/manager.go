// Package manager owns the device population: it aggregates one or more
// channel services, binds incoming channels to devices by id, persists a
// cache of devices ever seen, and exposes the observable device list that
// the control surface and CLI read from.
package manager

import (
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kuuji/valent/internal/certstore"
	"github.com/kuuji/valent/internal/channel"
	"github.com/kuuji/valent/internal/device"
	"github.com/kuuji/valent/internal/plugin"
)

// ChannelService is the small surface a transport (internal/lan, or any
// future transport) must expose to be aggregated by a Manager.
type ChannelService interface {
	// Start binds sockets/listeners and begins producing channels.
	Start(ctx context.Context) error
	// Events returns newly established channels as they are handshaked.
	Events() <-chan *channel.Channel
	// Identify broadcasts this device's presence so peers can discover it.
	Identify() error
	// Stop releases the service's sockets/listeners.
	Stop() error
}

// Config configures a Manager.
type Config struct {
	DataDir              string
	Identity             *certstore.Identity
	Pins                 *certstore.Pinstore
	DeviceName           string
	DeviceType           string
	IncomingCapabilities []string
	OutgoingCapabilities []string
	// NewPlugins builds a fresh set of plugins for a newly constructed
	// device. Called once per device so plugin instances are never
	// shared across peers. May be nil for a manager with no plugins
	// registered (exercising only pairing/capability negotiation).
	NewPlugins func() []plugin.Plugin
	Logger     *slog.Logger
}

// Manager owns every known device and the channel services that feed it
// new connections.
type Manager struct {
	cfg Config
	log *slog.Logger

	services []ChannelService
	idx      *index
	events   *broadcaster

	mu      sync.Mutex
	devices map[string]*device.Device

	wg sync.WaitGroup
}

// New constructs a Manager. Call Start to load the persisted index and
// begin consuming channel service events.
func New(cfg Config, services ...ChannelService) (*Manager, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	idx, err := openIndex(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening device index: %w", err)
	}
	return &Manager{
		cfg:      cfg,
		log:      log.With("component", "manager"),
		services: services,
		idx:      idx,
		events:   newBroadcaster(),
		devices:  make(map[string]*device.Device),
	}, nil
}

// Subscribe registers for manager events. Call the returned function to
// unsubscribe and release the channel.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch, unsubscribe := m.events.subscribe()
	return ch, unsubscribe
}

// Devices returns a snapshot of every known device, connected or not.
func (m *Manager) Devices() []*device.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*device.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out
}

// Device looks up a known device by id.
func (m *Manager) Device(id string) (*device.Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	return d, ok
}

// Start loads the persisted device index (instantiating a disconnected
// Device for every previously paired peer), then starts every channel
// service and begins consuming their events.
func (m *Manager) Start(ctx context.Context) error {
	for _, e := range m.idx.Entries() {
		if !e.Paired {
			continue
		}
		if _, err := m.loadPairedDevice(e); err != nil {
			m.log.Warn("loading cached device", "device_id", e.ID, "error", err)
		}
	}

	for _, svc := range m.services {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("starting channel service: %w", err)
		}
		m.wg.Add(1)
		go m.consume(ctx, svc)
	}

	for _, svc := range m.services {
		if err := svc.Identify(); err != nil {
			m.log.Warn("broadcasting identity", "error", err)
		}
	}

	m.log.Info("manager started", "cached_devices", len(m.devices))
	return nil
}

// Shutdown stops every channel service, closes every bound channel, waits
// for the consume loops and read pumps to drain, persists final device
// state, and drops the device set.
func (m *Manager) Shutdown() error {
	var firstErr error
	for _, svc := range m.services {
		if err := svc.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.mu.Lock()
	var live []*channel.Channel
	for _, d := range m.devices {
		if ch := d.Channel(); ch != nil {
			live = append(live, ch)
		}
	}
	m.mu.Unlock()
	for _, ch := range live {
		ch.Close()
	}
	m.wg.Wait()

	m.mu.Lock()
	for _, d := range m.devices {
		if d.PairState() == device.Paired {
			if err := m.idx.Put(entryFromDevice(d)); err != nil {
				m.log.Warn("persisting device on shutdown", "device_id", d.ID(), "error", err)
			}
		}
	}
	m.devices = make(map[string]*device.Device)
	m.mu.Unlock()

	m.log.Info("manager stopped")
	return firstErr
}

// loadPairedDevice reconstructs a Paired, disconnected Device from a
// cached index entry, registered under its own fresh plugin set.
func (m *Manager) loadPairedDevice(e indexEntry) (*device.Device, error) {
	cert, err := e.parseCertificate()
	if err != nil {
		return nil, err
	}
	d := m.newDevice(device.Config{
		ID:                       e.ID,
		Name:                     e.Name,
		DeviceType:               e.Type,
		IncomingCapabilities:     m.cfg.IncomingCapabilities,
		OutgoingCapabilities:     m.cfg.OutgoingCapabilities,
		PeerIncomingCapabilities: e.IncomingCapabilities,
		PeerOutgoingCapabilities: e.OutgoingCapabilities,
		PeerCertificate:          cert,
		PairState:                device.Paired,
	})
	m.mu.Lock()
	m.devices[e.ID] = d
	m.mu.Unlock()
	m.events.publish(Event{Kind: DeviceAdded, DeviceID: e.ID})
	return d, nil
}

// consume runs for the lifetime of one channel service, binding every
// channel it produces to the right device.
func (m *Manager) consume(ctx context.Context, svc ChannelService) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-svc.Events():
			if !ok {
				return
			}
			m.handleChannel(ch)
		}
	}
}

// handleChannel binds a freshly established channel to the device it
// belongs to, instantiating the device on first contact. A second
// channel for an already-connected device replaces the old one: the
// previous channel is closed only after the new one is installed, so the
// device is never observably disconnected in between.
func (m *Manager) handleChannel(ch *channel.Channel) {
	id := ch.DeviceID()

	m.mu.Lock()
	d, known := m.devices[id]
	var isNew bool
	if !known {
		pairState := device.Unpaired
		var cert *x509.Certificate
		if pinned, ok := m.cfg.Pins.Lookup(id); ok {
			cert = pinned
			pairState = device.Paired
		}
		d = m.newDevice(device.Config{
			ID:                   id,
			Name:                 ch.PeerIdentity().DeviceName,
			DeviceType:           ch.PeerIdentity().DeviceType,
			PeerCertificate:      cert,
			PairState:            pairState,
			IncomingCapabilities: m.cfg.IncomingCapabilities,
			OutgoingCapabilities: m.cfg.OutgoingCapabilities,
		})
		m.devices[id] = d
		isNew = true
	}
	m.mu.Unlock()

	wasConnected := d.Connected()
	if err := d.Bind(ch); err != nil {
		m.log.Warn("rejecting channel", "device_id", id, "error", err)
		ch.Close()
		return
	}
	if wasConnected {
		m.log.Info("replacing existing channel", "device_id", id)
	}

	m.wg.Add(1)
	go m.readPump(d, ch)

	if isNew {
		m.events.publish(Event{Kind: DeviceAdded, DeviceID: id})
	} else {
		m.events.publish(Event{Kind: DeviceUpdated, DeviceID: id})
	}

	if d.PairState() == device.Paired {
		if err := m.idx.Put(entryFromDevice(d)); err != nil {
			m.log.Warn("persisting device", "device_id", id, "error", err)
		}
	}
}

// newDevice constructs a Device bound to a fresh plugin host and plugin
// set, built fresh for every device so plugin state is never shared
// across peers.
func (m *Manager) newDevice(cfg device.Config) *device.Device {
	cfg.DataDir = m.cfg.DataDir
	cfg.Pins = m.cfg.Pins
	cfg.Logger = m.log

	host := plugin.NewHost(m.log)
	if m.cfg.NewPlugins != nil {
		for _, p := range m.cfg.NewPlugins() {
			host.Register(p)
		}
	}

	return device.New(cfg, host)
}

// readPump owns one channel's packet stream for its whole lifetime,
// feeding every packet it reads into the device's HandlePacket, the
// shape internal/device's own tests model with their pumpPackets helper.
// When the read loop ends, it only treats that as a disconnect if ch is
// still the device's current channel — a replaced channel's old pump
// exits quietly instead of tearing the device down.
func (m *Manager) readPump(d *device.Device, ch *channel.Channel) {
	defer m.wg.Done()
	for {
		p, err := ch.ReadPacket()
		if err != nil {
			break
		}
		if err := d.HandlePacket(p); err != nil {
			m.log.Warn("handling packet", "device_id", d.ID(), "type", p.Type, "error", err)
		}
	}

	if d.Channel() != ch {
		return // superseded by a newer channel; that pump owns the device now
	}
	m.onDisconnect(d)
}

// onDisconnect runs when a device's current channel is lost: it unbinds
// the device and, if the device was never paired, removes it from the
// known set entirely.
func (m *Manager) onDisconnect(d *device.Device) {
	remove := d.Unbind()

	m.mu.Lock()
	if remove {
		delete(m.devices, d.ID())
	}
	m.mu.Unlock()

	if remove {
		if err := m.idx.Remove(d.ID()); err != nil {
			m.log.Warn("removing device from index", "device_id", d.ID(), "error", err)
		}
		m.events.publish(Event{Kind: DeviceRemoved, DeviceID: d.ID()})
		return
	}
	m.events.publish(Event{Kind: DeviceUpdated, DeviceID: d.ID()})
}
