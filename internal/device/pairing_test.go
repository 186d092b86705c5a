package device

import (
	"testing"
	"time"

	"github.com/kuuji/valent/internal/channel"
	"github.com/kuuji/valent/internal/plugin"
	"github.com/kuuji/valent/pkg/packet"
)

// pumpPackets feeds every packet read from ch into d.HandlePacket until
// ch is closed, modeling the manager's read loop that a live device
// normally runs under.
func pumpPackets(d *Device, ch *channel.Channel) {
	go func() {
		for {
			p, err := ch.ReadPacket()
			if err != nil {
				return
			}
			_ = d.HandlePacket(p)
		}
	}()
}

// readResult carries the outcome of one background ReadPacket.
type readResult struct {
	p   packet.Packet
	err error
}

// readAsync starts one ReadPacket on ch in the background. The test
// channels run over net.Pipe, whose writes block until the other end
// reads, so the read must be in flight before the device writes.
func readAsync(ch *channel.Channel) <-chan readResult {
	out := make(chan readResult, 1)
	go func() {
		p, err := ch.ReadPacket()
		out <- readResult{p, err}
	}()
	return out
}

func waitForState(t *testing.T, d *Device, want PairState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if d.PairState() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("PairState() did not reach %v in time (still %v)", want, d.PairState())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPairing_RequestAndConfirm(t *testing.T) {
	t.Parallel()

	host := plugin.NewHost(nil)
	d := newTestDevice(t, host)
	local, peer, _, _ := testChannelPair(t, "local", "peer", nil, nil, nil, nil)
	defer local.Close()
	defer peer.Close()

	d.Bind(local)
	pumpPackets(d, local)
	reqCh := readAsync(peer)

	if err := d.RequestPair(); err != nil {
		t.Fatalf("RequestPair() error: %v", err)
	}
	if d.PairState() != RequestedByUs {
		t.Fatalf("PairState() = %v, want RequestedByUs", d.PairState())
	}

	r := <-reqCh
	req, err := r.p, r.err
	if err != nil {
		t.Fatalf("peer ReadPacket() error: %v", err)
	}
	if req.Type != packet.PairType {
		t.Fatalf("Type = %q, want %q", req.Type, packet.PairType)
	}

	confirm, err := packet.NewPairPacket(true, time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("NewPairPacket() error: %v", err)
	}
	if err := peer.WritePacket(confirm); err != nil {
		t.Fatalf("peer WritePacket() error: %v", err)
	}

	waitForState(t, d, Paired)
	if d.PeerCertificate() == nil {
		t.Error("PeerCertificate() should be pinned after pairing completes")
	}
}

func TestPairing_RequestedByUsTimeoutRevertsToUnpaired(t *testing.T) {
	t.Parallel()

	old := pairTimeout
	pairTimeout = 20 * time.Millisecond
	defer func() { pairTimeout = old }()

	host := plugin.NewHost(nil)
	d := newTestDevice(t, host)
	local, peer, _, _ := testChannelPair(t, "local", "peer", nil, nil, nil, nil)
	defer local.Close()
	defer peer.Close()

	d.Bind(local)
	pumpPackets(d, local)
	go func() { _, _ = peer.ReadPacket() }() // drain the pair request

	if err := d.RequestPair(); err != nil {
		t.Fatalf("RequestPair() error: %v", err)
	}

	waitForState(t, d, Unpaired)
}

func TestPairing_IncomingRequestAccept(t *testing.T) {
	t.Parallel()

	host := plugin.NewHost(nil)
	d := newTestDevice(t, host)
	local, peer, _, _ := testChannelPair(t, "local", "peer", nil, nil, nil, nil)
	defer local.Close()
	defer peer.Close()

	d.Bind(local)
	pumpPackets(d, local)

	req, err := packet.NewPairPacket(true, time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("NewPairPacket() error: %v", err)
	}
	if err := peer.WritePacket(req); err != nil {
		t.Fatalf("peer WritePacket() error: %v", err)
	}

	waitForState(t, d, RequestedByPeer)
	ackCh := readAsync(peer)

	if err := d.Accept(); err != nil {
		t.Fatalf("Accept() error: %v", err)
	}
	if d.PairState() != Paired {
		t.Fatalf("PairState() = %v, want Paired", d.PairState())
	}

	r := <-ackCh
	ack, err := r.p, r.err
	if err != nil {
		t.Fatalf("peer ReadPacket() error: %v", err)
	}
	var body packet.PairBody
	if err := ack.DecodeBody(&body); err != nil {
		t.Fatalf("DecodeBody() error: %v", err)
	}
	if !body.Pair {
		t.Error("ack body.Pair = false, want true")
	}
}

func TestPairing_IncomingRequestReject(t *testing.T) {
	t.Parallel()

	host := plugin.NewHost(nil)
	d := newTestDevice(t, host)
	local, peer, _, _ := testChannelPair(t, "local", "peer", nil, nil, nil, nil)
	defer local.Close()
	defer peer.Close()

	d.Bind(local)
	pumpPackets(d, local)

	req, err := packet.NewPairPacket(true, time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("NewPairPacket() error: %v", err)
	}
	if err := peer.WritePacket(req); err != nil {
		t.Fatalf("peer WritePacket() error: %v", err)
	}
	waitForState(t, d, RequestedByPeer)
	ackCh := readAsync(peer)

	if err := d.Reject(); err != nil {
		t.Fatalf("Reject() error: %v", err)
	}
	if d.PairState() != Unpaired {
		t.Fatalf("PairState() = %v, want Unpaired", d.PairState())
	}

	r := <-ackCh
	ack, err := r.p, r.err
	if err != nil {
		t.Fatalf("peer ReadPacket() error: %v", err)
	}
	var body packet.PairBody
	if err := ack.DecodeBody(&body); err != nil {
		t.Fatalf("DecodeBody() error: %v", err)
	}
	if body.Pair {
		t.Error("ack body.Pair = true, want false")
	}
}

func TestPairing_PeerUnpairsRevertsPairedDevice(t *testing.T) {
	t.Parallel()

	host := plugin.NewHost(nil)
	d := newTestDevice(t, host)
	local, peer, _, _ := testChannelPair(t, "local", "peer", nil, nil, nil, nil)
	defer local.Close()
	defer peer.Close()

	d.Bind(local)
	d.completePairing(local)
	pumpPackets(d, local)

	unpair, err := packet.NewPairPacket(false, time.Now().UnixMilli())
	if err != nil {
		t.Fatalf("NewPairPacket() error: %v", err)
	}
	if err := peer.WritePacket(unpair); err != nil {
		t.Fatalf("peer WritePacket() error: %v", err)
	}

	waitForState(t, d, Unpaired)
	if d.PeerCertificate() != nil {
		t.Error("PeerCertificate() should be cleared after peer-initiated unpair")
	}
}

func TestPairing_RequestPairFailsWhenAlreadyPending(t *testing.T) {
	t.Parallel()

	host := plugin.NewHost(nil)
	d := newTestDevice(t, host)
	local, peer, _, _ := testChannelPair(t, "local", "peer", nil, nil, nil, nil)
	defer local.Close()
	defer peer.Close()

	d.Bind(local)
	go func() { _, _ = peer.ReadPacket() }()

	if err := d.RequestPair(); err != nil {
		t.Fatalf("first RequestPair() error: %v", err)
	}
	if err := d.RequestPair(); err != ErrAlreadyPending {
		t.Errorf("second RequestPair() error = %v, want ErrAlreadyPending", err)
	}
}

func TestPairing_AcceptFailsWithoutPendingRequest(t *testing.T) {
	t.Parallel()

	host := plugin.NewHost(nil)
	d := newTestDevice(t, host)
	if err := d.Accept(); err != ErrNotPending {
		t.Errorf("Accept() without a pending request error = %v, want ErrNotPending", err)
	}
}
