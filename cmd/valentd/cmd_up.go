package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kuuji/valent/internal/certstore"
	"github.com/kuuji/valent/internal/control"
	"github.com/kuuji/valent/internal/lan"
	"github.com/kuuji/valent/internal/manager"
	"github.com/kuuji/valent/internal/plugin"
	"github.com/kuuji/valent/internal/valentconfig"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start the daemon",
	Long: `Start valentd: generate or load this device's identity, begin
broadcasting and listening for peers on the LAN, and serve the local
control socket for the CLI subcommands.`,
	RunE: runUp,
}

func runUp(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ensureDeviceName(cfg)

	identity, err := certstore.LoadOrGenerateIdentity(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("loading device identity: %w", err)
	}
	pins, err := certstore.OpenPinstore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening peer pin store: %w", err)
	}

	globalLogger.Info("device identity", "device_id", identity.DeviceID, "fingerprint", identity.Fingerprint())

	incoming, outgoing := capabilitiesForEnabledPlugins(cfg.EnabledPlugins)

	svc := lan.New(lan.Config{
		Identity:             identity,
		Pins:                 pins,
		DeviceName:           cfg.Device.Name,
		DeviceType:           cfg.Device.Type,
		IncomingCapabilities: incoming,
		OutgoingCapabilities: outgoing,
		ListenPortBase:       cfg.ListenPortBase,
		Logger:               globalLogger,
	})

	mgr, err := manager.New(manager.Config{
		DataDir:              cfg.DataDir,
		Identity:             identity,
		Pins:                 pins,
		DeviceName:           cfg.Device.Name,
		DeviceType:           cfg.Device.Type,
		IncomingCapabilities: incoming,
		OutgoingCapabilities: outgoing,
		NewPlugins:           func() []plugin.Plugin { return newEnabledPlugins(cfg.EnabledPlugins) },
		Logger:               globalLogger,
	}, svc)
	if err != nil {
		return fmt.Errorf("constructing device manager: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("starting device manager: %w", err)
	}
	defer mgr.Shutdown()

	ctl := newControlServer(mgr, identity, cfg.Device.Name)
	if err := ctl.Start(); err != nil {
		return fmt.Errorf("starting control server: %w", err)
	}
	defer ctl.Stop()

	globalLogger.Info("valentd running", "device_name", cfg.Device.Name, "socket", control.ResolveSocketPath())

	<-ctx.Done()
	globalLogger.Info("valentd stopped")
	return nil
}

// capabilitiesForEnabledPlugins derives the incoming/outgoing capability
// sets advertised in this device's identity packets from its enabled
// plugin list. Plugin capabilities are declared by convention as
// "<pluginID>" for both directions, since no concrete feature plugin is
// implemented yet (see internal/plugin) — the list only shapes what a
// peer would consider this device eligible to speak with, once plugins
// exist to back it.
func capabilitiesForEnabledPlugins(enabled []string) (incoming, outgoing []string) {
	incoming = append([]string(nil), enabled...)
	outgoing = append([]string(nil), enabled...)
	return incoming, outgoing
}
