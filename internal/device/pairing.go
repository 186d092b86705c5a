package device

import (
	"time"

	"github.com/kuuji/valent/internal/channel"
	"github.com/kuuji/valent/pkg/packet"
)

// RequestPair sends a pair:true request and moves Unpaired ->
// RequestedByUs, starting the 30s response timeout.
func (d *Device) RequestPair() error {
	d.mu.Lock()
	if d.pairState != Unpaired {
		d.mu.Unlock()
		return ErrAlreadyPending
	}
	ch := d.ch
	d.mu.Unlock()

	if ch == nil {
		return ErrDisconnected
	}

	p, err := packet.NewPairPacket(true, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	if err := ch.WritePacket(p); err != nil {
		return err
	}

	d.mu.Lock()
	d.pairState = RequestedByUs
	d.startPairTimerLocked()
	d.mu.Unlock()

	d.log.Info("pair requested")
	return nil
}

// Accept confirms a pending RequestedByPeer request: sends pair:true,
// pins the peer certificate, records the peer's name and type, and moves
// to Paired.
func (d *Device) Accept() error {
	d.mu.Lock()
	if d.pairState != RequestedByPeer {
		d.mu.Unlock()
		return ErrNotPending
	}
	ch := d.ch
	d.mu.Unlock()

	if ch == nil {
		return ErrDisconnected
	}

	p, err := packet.NewPairPacket(true, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	if err := ch.WritePacket(p); err != nil {
		return err
	}

	d.completePairing(ch)
	d.log.Info("pair accepted")
	return nil
}

// Reject declines a pending RequestedByPeer request: sends pair:false
// and moves back to Unpaired.
func (d *Device) Reject() error {
	d.mu.Lock()
	if d.pairState != RequestedByPeer {
		d.mu.Unlock()
		return ErrNotPending
	}
	ch := d.ch
	d.stopPairTimerLocked()
	d.pairState = Unpaired
	d.mu.Unlock()

	d.log.Info("pair rejected")
	if ch == nil {
		return nil
	}
	p, err := packet.NewPairPacket(false, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	return ch.WritePacket(p)
}

// Unpair forgets the pinned certificate and moves to Unpaired from any
// state, notifying the peer with a best-effort pair:false if connected.
func (d *Device) Unpair() {
	d.mu.Lock()
	ch := d.ch
	d.stopPairTimerLocked()
	d.pairState = Unpaired
	d.peerCert = nil
	d.mu.Unlock()

	if d.pins != nil {
		if err := d.pins.Forget(d.id); err != nil {
			d.log.Warn("forgetting pinned certificate", "error", err)
		}
	}
	d.log.Info("device unpaired")

	if ch != nil {
		if p, err := packet.NewPairPacket(false, time.Now().UnixMilli()); err == nil {
			_ = ch.WritePacket(p)
		}
	}
}

// onPairPacket applies one inbound pair:<bool> packet to the state
// machine, per the transition table.
func (d *Device) onPairPacket(pair bool) error {
	d.mu.Lock()
	state := d.pairState
	ch := d.ch
	d.mu.Unlock()

	switch {
	case state == Unpaired && pair:
		d.mu.Lock()
		d.pairState = RequestedByPeer
		d.startPairTimerLocked()
		d.mu.Unlock()
		d.log.Info("incoming pair request")

	case state == RequestedByUs && pair:
		d.completePairing(ch)
		d.log.Info("pairing confirmed by peer")

	case state == RequestedByUs && !pair:
		d.mu.Lock()
		d.stopPairTimerLocked()
		d.pairState = Unpaired
		d.mu.Unlock()
		d.log.Info("pairing declined by peer")

	case state == Paired && pair:
		// Idempotent: the peer is re-confirming an already-paired link.

	case state == Paired && !pair:
		d.Unpair()

	case state == RequestedByPeer:
		// A second request while already pending; ignore until the
		// local user accepts or rejects, or the timeout fires.

	default:
		// Unpaired && !pair: nothing to do.
	}
	return nil
}

// completePairing transitions to Paired, records the peer's certificate,
// name and type on the device, and writes the certificate to the pin
// store. The name and type are held in memory only; this does not write
// the manager's device index.
func (d *Device) completePairing(ch *channel.Channel) {
	d.mu.Lock()
	d.stopPairTimerLocked()
	d.pairState = Paired
	if ch != nil {
		d.peerCert = ch.PeerCertificate()
		d.name = ch.PeerIdentity().DeviceName
		d.deviceType = ch.PeerIdentity().DeviceType
	}
	cert := d.peerCert
	d.mu.Unlock()

	if d.pins != nil && cert != nil {
		if err := d.pins.Trust(d.id, cert); err != nil {
			d.log.Warn("pinning peer certificate", "error", err)
		}
	}
}

// startPairTimerLocked arms the 30s pairing response timeout. Caller
// must hold d.mu.
func (d *Device) startPairTimerLocked() {
	d.stopPairTimerLocked()
	d.pairTimer = time.AfterFunc(pairTimeout, d.onPairTimeout)
}

// stopPairTimerLocked cancels any armed pairing timeout. Caller must
// hold d.mu.
func (d *Device) stopPairTimerLocked() {
	if d.pairTimer != nil {
		d.pairTimer.Stop()
		d.pairTimer = nil
	}
}

// onPairTimeout reverts a pending pair request to Unpaired once the
// 30s window elapses without a response.
func (d *Device) onPairTimeout() {
	d.mu.Lock()
	if d.pairState == RequestedByUs || d.pairState == RequestedByPeer {
		d.pairState = Unpaired
		d.pairTimer = nil
	}
	d.mu.Unlock()
	d.log.Info("pair request timed out")
}
