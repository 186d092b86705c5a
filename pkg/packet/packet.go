// Package packet defines the KDE Connect wire envelope used by valent
// channels: a line-delimited JSON object carrying an id, a dotted type
// string, and a body map, with an optional out-of-band payload
// announcement.
//
// This package is intentionally free of external dependencies, the same
// way bamgate's pkg/protocol is, so it can be vendored into adapters that
// don't want the rest of the module.
package packet

import (
	"encoding/json"
	"fmt"
)

// MinTCPPort and MaxTCPPort bound the advertised TCP/payload ports, per
// the KDE Connect LAN transport (protocol version 7).
const (
	MinTCPPort = 1716
	MaxTCPPort = 1764

	// ProtocolVersion is the protocol version this implementation speaks.
	ProtocolVersion = 7

	// IdentityType is the packet type of the identity announcement.
	IdentityType = "kdeconnect.identity"

	// PairType is the packet type of the pairing request/response.
	PairType = "kdeconnect.pair"

	// PingType is the packet type of the ping plugin's payload-free probe,
	// used here as the reference plugin exercising the plugin host.
	PingType = "kdeconnect.ping"
)

// TransferInfo is the transport-specific hint set carried in
// payloadTransferInfo. The LAN transport always sets Port.
type TransferInfo struct {
	Port int `json:"port"`
}

// Packet is the on-wire envelope exchanged over a channel. Body holds
// arbitrary per-type fields; PayloadSize/PayloadTransferInfo are present
// iff the packet carries an out-of-band payload.
type Packet struct {
	ID                  int64           `json:"id"`
	Type                string          `json:"type"`
	Body                json.RawMessage `json:"body"`
	PayloadSize         *int64          `json:"payloadSize,omitempty"`
	PayloadTransferInfo *TransferInfo   `json:"payloadTransferInfo,omitempty"`
}

// HasPayload reports whether the packet announces an out-of-band payload.
func (p Packet) HasPayload() bool {
	return p.PayloadSize != nil
}

// DecodeBody unmarshals the packet's body into v.
func (p Packet) DecodeBody(v interface{}) error {
	if len(p.Body) == 0 {
		return fmt.Errorf("packet %q has no body", p.Type)
	}
	return json.Unmarshal(p.Body, v)
}

// Validate checks the invariants from the wire-format specification:
// type is non-empty, body is a JSON object, and the two payload fields
// are either both present or both absent, with a well-formed port.
func (p Packet) Validate() error {
	if p.Type == "" {
		return fmt.Errorf("%w: empty type", ErrInvalid)
	}
	if len(p.Body) == 0 {
		return fmt.Errorf("%w: missing body", ErrInvalid)
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(p.Body, &probe); err != nil {
		return fmt.Errorf("%w: body is not an object: %v", ErrInvalid, err)
	}

	hasSize := p.PayloadSize != nil
	hasInfo := p.PayloadTransferInfo != nil
	if hasSize != hasInfo {
		return fmt.Errorf("%w: payloadSize and payloadTransferInfo must both be present or both absent", ErrInvalid)
	}
	if hasInfo {
		port := p.PayloadTransferInfo.Port
		if port < MinTCPPort || port > MaxTCPPort {
			return fmt.Errorf("%w: payloadTransferInfo.port %d out of range [%d,%d]", ErrInvalid, port, MinTCPPort, MaxTCPPort)
		}
	}
	return nil
}

// New constructs a packet of the given type with body marshaled from v.
// ID is left zero; callers normally go through a Builder (see builder.go)
// which stamps ID at finalization time.
func New(typ string, v interface{}) (Packet, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Packet{}, fmt.Errorf("marshaling body for %q: %w", typ, err)
	}
	return Packet{Type: typ, Body: body}, nil
}

// Encode serializes the packet compactly (no intermediate whitespace).
// The caller is responsible for appending the line delimiter.
func Encode(p Packet) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling packet %q: %w", p.Type, err)
	}
	return data, nil
}

// Decode parses and validates a single packet from data (one JSON object,
// without the trailing delimiter).
func Decode(data []byte) (Packet, error) {
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return Packet{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := p.Validate(); err != nil {
		return Packet{}, err
	}
	return p, nil
}
