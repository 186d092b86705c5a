package channel

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/kuuji/valent/internal/certstore"
	"github.com/kuuji/valent/pkg/packet"
)

// acceptTimeout is the bounded interval an upload listener waits for the
// peer to connect before giving up, per the "≥ 10s" requirement.
const acceptTimeout = 15 * time.Second

// PayloadListener is the sender side of a payload transfer: a listener
// on a single port from the allowed range, bound but not yet serving,
// so its port can be advertised in a packet's payloadTransferInfo
// before the transfer itself runs.
type PayloadListener struct {
	ln   net.Listener
	port int
}

// ListenPayload binds a listener on the first free port in
// [packet.MinTCPPort, packet.MaxTCPPort].
func ListenPayload() (*PayloadListener, error) {
	for port := packet.MinTCPPort; port <= packet.MaxTCPPort; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			return &PayloadListener{ln: ln, port: port}, nil
		}
	}
	return nil, fmt.Errorf("no free port in [%d,%d] for payload transfer", packet.MinTCPPort, packet.MaxTCPPort)
}

// Port returns the bound port, for stamping into payloadTransferInfo.
func (pl *PayloadListener) Port() int { return pl.port }

// Close releases the listener without serving a transfer.
func (pl *PayloadListener) Close() error { return pl.ln.Close() }

// Serve accepts exactly one connection, upgrades it to TLS as the
// server using identity, requires the peer to present peerCert (the
// same certificate pinned on the main channel), then copies size bytes
// from src to the connection. If no connection arrives within
// acceptTimeout, it returns ErrTimeout. Errors here are surfaced to the
// initiating caller and never close the main channel.
func (pl *PayloadListener) Serve(ctx context.Context, identity *certstore.Identity, peerCert *x509.Certificate, size int64, src io.Reader) error {
	defer pl.ln.Close()

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	resCh := make(chan acceptResult, 1)
	go func() {
		conn, err := pl.ln.Accept()
		resCh <- acceptResult{conn, err}
	}()

	var raw net.Conn
	select {
	case res := <-resCh:
		if res.err != nil {
			return fmt.Errorf("accepting payload connection: %w", res.err)
		}
		raw = res.conn
	case <-time.After(acceptTimeout):
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
	defer raw.Close()

	tlsConn := tls.Server(raw, payloadTLSConfig(identity))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("payload TLS handshake: %w", err)
	}
	if err := verifyPeerCertificate(tlsConn, peerCert); err != nil {
		return err
	}

	var w io.Writer = tlsConn
	if size >= 0 {
		if _, err := io.CopyN(w, src, size); err != nil {
			return fmt.Errorf("writing payload: %w", err)
		}
	} else {
		if _, err := io.Copy(w, src); err != nil {
			return fmt.Errorf("writing payload: %w", err)
		}
	}
	return nil
}

// Download opens a TCP connection to addr, upgrades it to TLS as the
// client using identity, requires the peer to present peerCert, then
// copies size bytes (or until EOF if size < 0) into dst.
func Download(ctx context.Context, addr string, identity *certstore.Identity, peerCert *x509.Certificate, size int64, dst io.Writer) error {
	dialer := &net.Dialer{}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing payload source %s: %w", addr, err)
	}
	defer raw.Close()

	tlsConn := tls.Client(raw, payloadTLSConfig(identity))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("payload TLS handshake: %w", err)
	}
	if err := verifyPeerCertificate(tlsConn, peerCert); err != nil {
		return err
	}

	if size >= 0 {
		if _, err := io.CopyN(dst, tlsConn, size); err != nil {
			return fmt.Errorf("reading payload: %w", err)
		}
	} else {
		if _, err := io.Copy(dst, tlsConn); err != nil {
			return fmt.Errorf("reading payload: %w", err)
		}
	}
	return nil
}

func payloadTLSConfig(identity *certstore.Identity) *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{identity.TLSCertificate()},
		InsecureSkipVerify: true, // identity is checked explicitly against the pinned peer cert
		ClientAuth:         tls.RequireAnyClientCert,
	}
}

// verifyPeerCertificate requires the subchannel's peer to present
// exactly the certificate pinned on the main channel.
func verifyPeerCertificate(conn *tls.Conn, want *x509.Certificate) error {
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return fmt.Errorf("%w: no peer certificate presented on subchannel", ErrAuthenticationFailed)
	}
	if !certstore.IsSame(state.PeerCertificates[0], want) {
		return fmt.Errorf("%w: subchannel peer certificate does not match main channel", ErrAuthenticationFailed)
	}
	return nil
}
