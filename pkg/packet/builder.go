package packet

import (
	"encoding/json"
	"fmt"
)

// Builder constructs a packet incrementally and stamps its id at
// finalization, mirroring the two-step marshal bamgate's pkg/protocol uses
// for its Message envelope.
type Builder struct {
	typ     string
	body    interface{}
	size    int64
	hasSize bool
	port    int
}

// NewBuilder starts building a packet of the given type with body v.
func NewBuilder(typ string, v interface{}) *Builder {
	return &Builder{typ: typ, body: v}
}

// WithPayload attaches a payload announcement of size bytes, to be fetched
// on the given port.
func (b *Builder) WithPayload(size int64, port int) *Builder {
	b.size = size
	b.hasSize = true
	b.port = port
	return b
}

// Build finalizes the packet, stamping ID with nowMillis.
func (b *Builder) Build(nowMillis int64) (Packet, error) {
	body, err := json.Marshal(b.body)
	if err != nil {
		return Packet{}, fmt.Errorf("marshaling body for %q: %w", b.typ, err)
	}
	p := Packet{
		ID:   nowMillis,
		Type: b.typ,
		Body: body,
	}
	if b.hasSize {
		if b.port < MinTCPPort || b.port > MaxTCPPort {
			return Packet{}, fmt.Errorf("%w: payload port %d out of range [%d,%d]", ErrInvalid, b.port, MinTCPPort, MaxTCPPort)
		}
		size := b.size
		p.PayloadSize = &size
		p.PayloadTransferInfo = &TransferInfo{Port: b.port}
	}
	if err := p.Validate(); err != nil {
		return Packet{}, err
	}
	return p, nil
}
