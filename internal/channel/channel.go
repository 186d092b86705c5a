// Package channel implements the duplex packet stream over a TLS
// connection, plus its payload transfer subchannel, that a device uses
// to exchange packets with a peer.
package channel

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kuuji/valent/pkg/packet"
)

// MaxPacketSize is the bound passed to pkg/packet's framing reader for
// every channel, matching the size the codec package defaults to.
const MaxPacketSize = packet.DefaultMaxPacketSize

// Channel is a duplex packet stream over TLS: (stream, local identity,
// peer identity, local certificate, peer certificate). It is created by
// a channel service and handed to a device, which owns it exclusively
// for its lifetime.
type Channel struct {
	conn     *tls.Conn
	local    packet.IdentityBody
	peer     packet.IdentityBody
	peerCert *x509.Certificate
	log      *slog.Logger

	reader *packet.Reader

	writeMu sync.Mutex
	writer  *packet.Writer

	closeOnce sync.Once
	closed    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New wraps an already-handshaked TLS connection as a Channel. conn's
// peer certificate chain must already have been validated by the
// caller (channel service) against the pin store.
func New(conn *tls.Conn, local, peer packet.IdentityBody, peerCert *x509.Certificate, log *slog.Logger) *Channel {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		conn:     conn,
		local:    local,
		peer:     peer,
		peerCert: peerCert,
		log:      log.With("peer_device_id", peer.DeviceID),
		reader:   packet.NewReader(conn, MaxPacketSize),
		writer:   packet.NewWriter(conn),
		closed:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// LocalIdentity returns the identity this side announced on the channel.
func (c *Channel) LocalIdentity() packet.IdentityBody { return c.local }

// PeerIdentity returns the identity the peer announced on the channel.
func (c *Channel) PeerIdentity() packet.IdentityBody { return c.peer }

// PeerCertificate returns the peer's TLS certificate, as pinned at
// handshake time.
func (c *Channel) PeerCertificate() *x509.Certificate { return c.peerCert }

// DeviceID returns the peer's device id (== peer certificate CN).
func (c *Channel) DeviceID() string { return c.peer.DeviceID }

// RemoteAddr returns the underlying connection's remote address,
// used by the payload subchannel to locate the peer.
func (c *Channel) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Done returns a context that is cancelled when the channel is closed,
// so payload subchannels started from a packet on this channel are torn
// down if the main channel goes away.
func (c *Channel) Done() context.Context { return c.ctx }

// WritePacket serializes and writes a packet. Writes are serialized:
// concurrent callers observe FIFO order, matching the packet codec's
// single-writer assumption.
func (c *Channel) WritePacket(p packet.Packet) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.writer.WritePacket(p); err != nil {
		select {
		case <-c.closed:
			return ErrClosed
		default:
		}
		return fmt.Errorf("writing packet: %w", err)
	}
	return nil
}

// ReadPacket consumes one packet from the stream.
func (c *Channel) ReadPacket() (packet.Packet, error) {
	p, err := c.reader.ReadPacket()
	if err != nil {
		switch {
		case errors.Is(err, packet.ErrClosed):
			return packet.Packet{}, ErrClosed
		case errors.Is(err, packet.ErrInvalid), errors.Is(err, packet.ErrTooLarge):
			_ = c.Close()
			return packet.Packet{}, fmt.Errorf("%w: %v", ErrInvalidData, err)
		default:
			select {
			case <-c.closed:
				return packet.Packet{}, ErrClosed
			default:
			}
			return packet.Packet{}, err
		}
	}
	return p, nil
}

// Close is idempotent: it attempts a TLS close-notify then a TCP close,
// and unblocks any pending read/write with ErrClosed. Closing the main
// channel cancels outstanding payload transfers derived from Done().
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancel()
		err = c.conn.Close()
		if err != nil {
			c.log.Debug("channel close", "error", err)
		}
	})
	return nil
}
