// Package lan implements the channel service: UDP broadcast discovery
// and TCP/TLS channel establishment on the KDE Connect LAN transport.
package lan

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/kuuji/valent/internal/certstore"
	"github.com/kuuji/valent/internal/channel"
	"github.com/kuuji/valent/pkg/packet"
)

// handshakeTimeout bounds dialing and the TLS handshake on a new
// connection (spec: TLS handshake ≥ 10s). The plaintext identity
// exchange before the TLS upgrade runs without a deadline.
const handshakeTimeout = 15 * time.Second

// Config configures a Service.
type Config struct {
	Identity             *certstore.Identity
	Pins                 *certstore.Pinstore
	DeviceName           string
	DeviceType           string
	IncomingCapabilities []string
	OutgoingCapabilities []string

	// ListenPortBase overrides the first TCP port tried when binding the
	// channel listener; the search still runs up to packet.MaxTCPPort.
	// Zero means packet.MinTCPPort.
	ListenPortBase int

	Logger *slog.Logger
}

// Service owns the UDP discovery socket and the TCP/TLS listener for a
// single network interface's worth of LAN transport. Channel events it
// produces are consumed by the device manager.
type Service struct {
	cfg Config
	log *slog.Logger

	udpConn  *net.UDPConn
	tcpLn    net.Listener
	tcpPort  int

	events chan *channel.Channel

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// New constructs a Service. Call Start to bind sockets and begin
// accepting connections.
func New(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		log:    log.With("component", "lan"),
		events: make(chan *channel.Channel, 16),
		closed: make(chan struct{}),
	}
}

// Events returns the channel on which newly established Channels are
// delivered.
func (s *Service) Events() <-chan *channel.Channel { return s.events }

// Start binds the UDP discovery socket on port 1716 and a TCP listener
// in [1716, 1764], preferring 1716 and incrementing on bind failure,
// then starts the accept and discovery loops.
func (s *Service) Start(ctx context.Context) error {
	udpAddr := &net.UDPAddr{Port: packet.MinTCPPort}
	udpConn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return fmt.Errorf("binding UDP discovery socket: %w", err)
	}
	if err := enableBroadcast(udpConn); err != nil {
		udpConn.Close()
		return fmt.Errorf("enabling broadcast: %w", err)
	}
	s.udpConn = udpConn

	portBase := s.cfg.ListenPortBase
	if portBase == 0 {
		portBase = packet.MinTCPPort
	}

	var tcpLn net.Listener
	for port := portBase; port <= packet.MaxTCPPort; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			tcpLn = ln
			s.tcpPort = port
			break
		}
	}
	if tcpLn == nil {
		udpConn.Close()
		return fmt.Errorf("no free TCP port in [%d,%d]", packet.MinTCPPort, packet.MaxTCPPort)
	}
	s.tcpLn = tcpLn

	s.log.Info("lan service started", "tcp_port", s.tcpPort)

	s.wg.Add(2)
	go s.udpReadLoop(ctx)
	go s.tcpAcceptLoop(ctx)

	return nil
}

// Identify broadcasts this device's identity packet on UDP 1716.
func (s *Service) Identify() error {
	body := s.localIdentity()
	p, err := packet.NewIdentityPacket(body, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("building identity packet: %w", err)
	}
	data, err := packet.Encode(p)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: packet.MinTCPPort}
	if _, err := s.udpConn.WriteToUDP(data, dst); err != nil {
		return fmt.Errorf("broadcasting identity: %w", err)
	}
	return nil
}

// Stop closes the discovery socket and listener and waits for the
// accept/discovery loops to finish.
func (s *Service) Stop() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.udpConn != nil {
			s.udpConn.Close()
		}
		if s.tcpLn != nil {
			s.tcpLn.Close()
		}
	})
	s.wg.Wait()
	return nil
}

func (s *Service) localIdentity() packet.IdentityBody {
	return packet.IdentityBody{
		DeviceID:             s.cfg.Identity.DeviceID,
		DeviceName:           s.cfg.DeviceName,
		DeviceType:           s.cfg.DeviceType,
		ProtocolVersion:      packet.ProtocolVersion,
		IncomingCapabilities: s.cfg.IncomingCapabilities,
		OutgoingCapabilities: s.cfg.OutgoingCapabilities,
		TCPPort:              s.tcpPort,
	}
}

// udpReadLoop consumes broadcast identity packets and, per the
// exactly-one-initiator rule, connects out to every peer whose
// broadcast we receive.
func (s *Service) udpReadLoop(ctx context.Context) {
	defer s.wg.Done()

	buf := make([]byte, packet.DefaultMaxPacketSize)
	for {
		n, src, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
				s.log.Warn("udp read error", "error", err)
				return
			}
		}

		line := bytes.TrimRight(buf[:n], "\r\n")
		p, err := packet.Decode(line)
		if err != nil {
			s.log.Debug("ignoring malformed discovery packet", "error", err)
			continue
		}
		if p.Type != packet.IdentityType {
			continue
		}
		var body packet.IdentityBody
		if err := p.DecodeBody(&body); err != nil {
			s.log.Debug("ignoring malformed identity body", "error", err)
			continue
		}
		if body.DeviceID == s.cfg.Identity.DeviceID {
			continue // our own broadcast
		}
		if body.TCPPort < packet.MinTCPPort || body.TCPPort > packet.MaxTCPPort {
			s.log.Debug("ignoring identity with invalid tcpPort", "device_id", body.DeviceID, "port", body.TCPPort)
			continue
		}

		addr := net.JoinHostPort(src.IP.String(), fmt.Sprintf("%d", body.TCPPort))
		go s.connectAndHandshake(ctx, addr, body.DeviceID)
	}
}

// tcpAcceptLoop accepts inbound connections from peers who received our
// broadcast.
func (s *Service) tcpAcceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.tcpLn.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
				s.log.Warn("tcp accept error", "error", err)
				return
			}
		}
		go s.acceptAndHandshake(ctx, conn)
	}
}

// connectAndHandshake is the connector side: it reads the accepter's
// identity in plaintext, upgrades to TLS as the client, sends its own
// identity as the first encrypted packet, then hands the resulting
// channel to Events().
func (s *Service) connectAndHandshake(ctx context.Context, addr, expectedDeviceID string) {
	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	dialer := &net.Dialer{}
	raw, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		s.log.Debug("connect failed", "addr", addr, "error", err)
		return
	}

	peerIdentity, err := readPlaintextIdentity(raw)
	if err != nil {
		s.log.Warn("reading accepter identity", "addr", addr, "error", err)
		raw.Close()
		return
	}
	if peerIdentity.DeviceID != expectedDeviceID {
		s.log.Warn("accepter identity mismatch", "addr", addr, "got", peerIdentity.DeviceID, "want", expectedDeviceID)
		raw.Close()
		return
	}

	tlsConn := tls.Client(raw, s.tlsConfig())
	if err := tlsConn.HandshakeContext(dialCtx); err != nil {
		s.log.Warn("client TLS handshake failed", "addr", addr, "error", err)
		raw.Close()
		return
	}

	peerCert, err := s.verifyHandshake(tlsConn, peerIdentity.DeviceID)
	if err != nil {
		s.log.Warn("authentication failed", "addr", addr, "error", err)
		tlsConn.Close()
		return
	}

	ownIdentity := s.localIdentity()
	selfPacket, err := packet.NewIdentityPacket(ownIdentity, time.Now().UnixMilli())
	if err != nil {
		tlsConn.Close()
		return
	}
	if err := packet.NewWriter(tlsConn).WritePacket(selfPacket); err != nil {
		s.log.Warn("sending identity over channel", "addr", addr, "error", err)
		tlsConn.Close()
		return
	}

	ch := channel.New(tlsConn, ownIdentity, peerIdentity, peerCert, s.log)
	s.deliver(ch)
}

// acceptAndHandshake is the accepter side: it sends its own identity in
// plaintext, upgrades to TLS as the server, then reads the connector's
// identity as the first encrypted packet.
func (s *Service) acceptAndHandshake(ctx context.Context, raw net.Conn) {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	ownIdentity := s.localIdentity()
	selfPacket, err := packet.NewIdentityPacket(ownIdentity, time.Now().UnixMilli())
	if err != nil {
		raw.Close()
		return
	}
	if err := packet.NewWriter(raw).WritePacket(selfPacket); err != nil {
		s.log.Warn("sending plaintext identity", "error", err)
		raw.Close()
		return
	}

	tlsConn := tls.Server(raw, s.tlsConfig())
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		s.log.Warn("server TLS handshake failed", "error", err)
		raw.Close()
		return
	}

	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		s.log.Warn("no peer certificate presented")
		tlsConn.Close()
		return
	}
	peerDeviceID := state.PeerCertificates[0].Subject.CommonName

	peerCert, err := s.verifyHandshake(tlsConn, peerDeviceID)
	if err != nil {
		s.log.Warn("authentication failed", "error", err)
		tlsConn.Close()
		return
	}

	peerIdentity, err := readEncryptedIdentity(tlsConn)
	if err != nil {
		s.log.Warn("reading connector identity", "error", err)
		tlsConn.Close()
		return
	}
	if peerIdentity.DeviceID != peerDeviceID {
		s.log.Warn("connector identity mismatch", "got", peerIdentity.DeviceID, "want", peerDeviceID)
		tlsConn.Close()
		return
	}

	ch := channel.New(tlsConn, ownIdentity, peerIdentity, peerCert, s.log)
	s.deliver(ch)
}

func (s *Service) deliver(ch *channel.Channel) {
	select {
	case s.events <- ch:
	case <-s.closed:
		ch.Close()
	}
}

func (s *Service) tlsConfig() *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{s.cfg.Identity.TLSCertificate()},
		InsecureSkipVerify: true, // we verify the presented cert against the pin store ourselves
		ClientAuth:         tls.RequireAnyClientCert,
	}
}

// verifyHandshake applies the trust-on-first-use policy from
// internal/certstore to the peer certificate presented on conn.
func (s *Service) verifyHandshake(conn *tls.Conn, deviceID string) (*x509.Certificate, error) {
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, errors.New("no peer certificate presented")
	}
	cert := state.PeerCertificates[0]
	if cert.Subject.CommonName != deviceID {
		return nil, fmt.Errorf("certificate CN %q does not match device id %q", cert.Subject.CommonName, deviceID)
	}
	if err := s.cfg.Pins.Accept(deviceID, cert); err != nil {
		return nil, err
	}
	return cert, nil
}
