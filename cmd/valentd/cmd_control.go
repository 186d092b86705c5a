package main

import (
	"fmt"
	"time"

	"github.com/kuuji/valent/internal/certstore"
	"github.com/kuuji/valent/internal/control"
	"github.com/kuuji/valent/internal/device"
	"github.com/kuuji/valent/internal/manager"
)

// newControlServer adapts a running Manager into the control package's
// decoupled closure types, so internal/control never imports
// internal/manager directly.
func newControlServer(mgr *manager.Manager, identity *certstore.Identity, deviceName string) *control.Server {
	startedAt := time.Now()

	status := func() control.Status {
		devices := mgr.Devices()
		out := make([]control.DeviceStatus, 0, len(devices))
		for _, d := range devices {
			out = append(out, control.DeviceStatus{
				ID:        d.ID(),
				Name:      d.Name(),
				Type:      d.Type(),
				PairState: d.PairState().String(),
				Connected: d.Connected(),
			})
		}
		return control.Status{
			DeviceID:      identity.DeviceID,
			DeviceName:    deviceName,
			UptimeSeconds: time.Since(startedAt).Seconds(),
			Devices:       out,
		}
	}

	srv := control.NewServer(control.ResolveSocketPath(), status, globalLogger)

	srv.SetEventsFunc(func() (<-chan control.Event, func()) {
		src, unsubscribe := mgr.Subscribe()
		out := make(chan control.Event, 32)
		go func() {
			defer close(out)
			for ev := range src {
				out <- control.Event{Kind: ev.Kind.String(), DeviceID: ev.DeviceID}
			}
		}()
		return out, unsubscribe
	})

	srv.SetPairFunc(func(id string) error {
		d, ok := mgr.Device(id)
		if !ok {
			return fmt.Errorf("unknown device: %s", id)
		}
		if d.PairState() == device.RequestedByPeer {
			return d.Accept()
		}
		return d.RequestPair()
	})

	srv.SetUnpairFunc(func(id string) error {
		d, ok := mgr.Device(id)
		if !ok {
			return fmt.Errorf("unknown device: %s", id)
		}
		d.Unpair()
		return nil
	})

	return srv
}
