package lan

import (
	"fmt"
	"io"

	"github.com/kuuji/valent/pkg/packet"
)

// readPlaintextIdentity reads a single line-delimited identity packet
// from r (the accepter's pre-TLS announcement).
func readPlaintextIdentity(r io.Reader) (packet.IdentityBody, error) {
	return readIdentity(r)
}

// readEncryptedIdentity reads a single line-delimited identity packet
// from r (the connector's first packet over the established channel).
func readEncryptedIdentity(r io.Reader) (packet.IdentityBody, error) {
	return readIdentity(r)
}

func readIdentity(r io.Reader) (packet.IdentityBody, error) {
	reader := packet.NewReader(r, packet.DefaultMaxPacketSize)
	p, err := reader.ReadPacket()
	if err != nil {
		return packet.IdentityBody{}, fmt.Errorf("reading identity packet: %w", err)
	}
	if p.Type != packet.IdentityType {
		return packet.IdentityBody{}, fmt.Errorf("expected %s, got %s", packet.IdentityType, p.Type)
	}
	var body packet.IdentityBody
	if err := p.DecodeBody(&body); err != nil {
		return packet.IdentityBody{}, fmt.Errorf("decoding identity body: %w", err)
	}
	return body, nil
}
