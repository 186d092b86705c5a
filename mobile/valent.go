// Package mobile provides a gomobile-compatible API for the valent
// device-integration core. This package is compiled to an Android AAR
// via `gomobile bind`.
//
// All exported types and methods are designed to work within gomobile's
// type restrictions: only basic types (string, int, bool, []byte,
// error) and interfaces with methods using those types are supported
// at the boundary.
//
// Usage from Kotlin/Android:
//
//	val engine = Mobile.newEngine(configTOML)
//	engine.setLogger(logCallback)
//	engine.start()  // blocks until stopped or error; run on a background thread
//	engine.stop()
package mobile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/kuuji/valent/internal/certstore"
	"github.com/kuuji/valent/internal/device"
	"github.com/kuuji/valent/internal/lan"
	"github.com/kuuji/valent/internal/manager"
	"github.com/kuuji/valent/internal/plugin"
	"github.com/kuuji/valent/internal/valentconfig"
)

// Logger receives log messages from the Go core. Implement this
// interface in Kotlin and pass it to Engine.SetLogger().
//
// Level values: 0=Debug, 1=Info, 2=Warn, 3=Error
type Logger interface {
	Log(level int, msg string)
}

// Engine represents a valent core instance: LAN discovery, pairing, and
// the device manager. Create one with NewEngine(), configure it, then
// call Start() to begin discovering and pairing with peers.
type Engine struct {
	cfg    *valentconfig.Config
	logger Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	mgr     *manager.Manager
}

// NewEngine creates a new Engine from a TOML configuration string. The
// TOML should contain the same structure as valentd's config.toml.
func NewEngine(configTOML string) (*Engine, error) {
	cfg, err := valentconfig.ParseTOML(configTOML)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	// ParseTOML fills in a default data directory, so look at the raw
	// document to tell whether data_dir was given at all.
	var raw struct {
		DataDir string `toml:"data_dir"`
	}
	if _, err := toml.Decode(configTOML, &raw); err != nil || raw.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required")
	}
	return &Engine{cfg: cfg}, nil
}

// SetLogger sets a callback for log messages from the Go core. Must be
// called before Start().
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// Start begins LAN discovery and pairing. Blocks until Stop() is called
// or a fatal error occurs; call it from a background thread/coroutine.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine is already running")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	var logger *slog.Logger
	if e.logger != nil {
		logger = slog.New(&mobileLogHandler{callback: e.logger})
	} else {
		logger = slog.Default()
	}

	identity, err := certstore.LoadOrGenerateIdentity(e.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("loading device identity: %w", err)
	}
	pins, err := certstore.OpenPinstore(e.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening peer pin store: %w", err)
	}

	caps := append([]string(nil), e.cfg.EnabledPlugins...)

	svc := lan.New(lan.Config{
		Identity:             identity,
		Pins:                 pins,
		DeviceName:           e.cfg.Device.Name,
		DeviceType:           e.cfg.Device.Type,
		IncomingCapabilities: caps,
		OutgoingCapabilities: caps,
		ListenPortBase:       e.cfg.ListenPortBase,
		Logger:               logger,
	})

	mgr, err := manager.New(manager.Config{
		DataDir:              e.cfg.DataDir,
		Identity:             identity,
		Pins:                 pins,
		DeviceName:           e.cfg.Device.Name,
		DeviceType:           e.cfg.Device.Type,
		IncomingCapabilities: caps,
		OutgoingCapabilities: caps,
		NewPlugins:           func() []plugin.Plugin { return nil },
		Logger:               logger,
	}, svc)
	if err != nil {
		return fmt.Errorf("constructing device manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancel = cancel
	e.mgr = mgr
	e.mu.Unlock()

	if err := mgr.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("starting device manager: %w", err)
	}

	<-ctx.Done()
	mgr.Shutdown()
	return nil
}

// Stop gracefully shuts down the engine. Safe to call from any thread.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// IsRunning returns whether the engine is currently active.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// mobileDeviceStatus is the JSON shape returned by GetDevices, mirroring
// internal/control's wire status without importing it (mobile has no
// control socket — it talks to the manager in-process).
type mobileDeviceStatus struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	PairState string `json:"pair_state"`
	Connected bool   `json:"connected"`
}

// GetDevices returns a JSON-encoded array of known devices. Returns "[]"
// if the engine is not running.
func (e *Engine) GetDevices() string {
	e.mu.Lock()
	mgr := e.mgr
	e.mu.Unlock()
	if mgr == nil {
		return "[]"
	}

	devices := mgr.Devices()
	out := make([]mobileDeviceStatus, 0, len(devices))
	for _, d := range devices {
		out = append(out, mobileDeviceStatus{
			ID:        d.ID(),
			Name:      d.Name(),
			Type:      d.Type(),
			PairState: d.PairState().String(),
			Connected: d.Connected(),
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// Pair requests pairing with deviceID, or accepts its pending request
// if one is already waiting.
func (e *Engine) Pair(deviceID string) error {
	d, ok := e.device(deviceID)
	if !ok {
		return fmt.Errorf("unknown device: %s", deviceID)
	}
	if d.PairState() == device.RequestedByPeer {
		return d.Accept()
	}
	return d.RequestPair()
}

// Unpair revokes pairing with deviceID.
func (e *Engine) Unpair(deviceID string) error {
	d, ok := e.device(deviceID)
	if !ok {
		return fmt.Errorf("unknown device: %s", deviceID)
	}
	d.Unpair()
	return nil
}

func (e *Engine) device(id string) (*device.Device, bool) {
	e.mu.Lock()
	mgr := e.mgr
	e.mu.Unlock()
	if mgr == nil {
		return nil, false
	}
	return mgr.Device(id)
}

// GetFingerprint returns this device's own certificate fingerprint, for
// display during out-of-band pairing verification. The identity is
// loaded from DataDir, or generated and saved there if none exists yet,
// so this works before Start(). Returns "" if the identity can be
// neither loaded nor generated.
func (e *Engine) GetFingerprint() string {
	identity, err := certstore.LoadOrGenerateIdentity(e.cfg.DataDir)
	if err != nil {
		return ""
	}
	return identity.Fingerprint()
}

// mobileLogHandler adapts Go's slog to the mobile Logger callback.
type mobileLogHandler struct {
	callback Logger
	attrs    []slog.Attr
	groups   []string
}

func (h *mobileLogHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *mobileLogHandler) Handle(_ context.Context, r slog.Record) error {
	var level int
	switch {
	case r.Level < slog.LevelInfo:
		level = 0
	case r.Level < slog.LevelWarn:
		level = 1
	case r.Level < slog.LevelError:
		level = 2
	default:
		level = 3
	}

	msg := r.Message
	r.Attrs(func(a slog.Attr) bool {
		msg += " " + a.Key + "=" + a.Value.String()
		return true
	})
	for _, a := range h.attrs {
		msg += " " + a.Key + "=" + a.Value.String()
	}

	h.callback.Log(level, msg)
	return nil
}

func (h *mobileLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &mobileLogHandler{
		callback: h.callback,
		attrs:    append(h.attrs, attrs...),
		groups:   h.groups,
	}
}

func (h *mobileLogHandler) WithGroup(name string) slog.Handler {
	return &mobileLogHandler{
		callback: h.callback,
		attrs:    h.attrs,
		groups:   append(h.groups, name),
	}
}
