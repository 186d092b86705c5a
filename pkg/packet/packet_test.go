package packet

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    Packet
	}{
		{
			name: "identity",
			p: mustPacket(t)(NewIdentityPacket(IdentityBody{
				DeviceID:             "laptop-1",
				DeviceName:           "laptop",
				DeviceType:           "laptop",
				ProtocolVersion:      ProtocolVersion,
				IncomingCapabilities: []string{"kdeconnect.ping"},
				OutgoingCapabilities: []string{"kdeconnect.ping"},
			}, 1000)),
		},
		{
			name: "pair",
			p:    mustPacket(t)(NewPairPacket(true, 2000)),
		},
		{
			name: "with payload",
			p: mustPacket(t)(NewBuilder("kdeconnect.share.request", map[string]string{"filename": "a.txt"}).
				WithPayload(1024, MinTCPPort).
				Build(3000)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data, err := Encode(tt.p)
			if err != nil {
				t.Fatalf("Encode() error: %v", err)
			}

			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode() error: %v", err)
			}
			if got.Type != tt.p.Type {
				t.Errorf("Type = %q, want %q", got.Type, tt.p.Type)
			}
			if got.HasPayload() != tt.p.HasPayload() {
				t.Errorf("HasPayload() = %v, want %v", got.HasPayload(), tt.p.HasPayload())
			}
			if !bytes.Equal(got.Body, tt.p.Body) {
				t.Errorf("Body = %s, want %s", got.Body, tt.p.Body)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	size := int64(10)
	tests := []struct {
		name    string
		p       Packet
		wantErr bool
	}{
		{
			name:    "empty type",
			p:       Packet{Type: "", Body: []byte(`{}`)},
			wantErr: true,
		},
		{
			name:    "missing body",
			p:       Packet{Type: "kdeconnect.ping"},
			wantErr: true,
		},
		{
			name:    "body not an object",
			p:       Packet{Type: "kdeconnect.ping", Body: []byte(`[1,2,3]`)},
			wantErr: true,
		},
		{
			name:    "size without transfer info",
			p:       Packet{Type: "kdeconnect.share.request", Body: []byte(`{}`), PayloadSize: &size},
			wantErr: true,
		},
		{
			name: "transfer info without size",
			p: Packet{Type: "kdeconnect.share.request", Body: []byte(`{}`),
				PayloadTransferInfo: &TransferInfo{Port: MinTCPPort}},
			wantErr: true,
		},
		{
			name: "port out of range",
			p: Packet{Type: "kdeconnect.share.request", Body: []byte(`{}`),
				PayloadSize:         &size,
				PayloadTransferInfo: &TransferInfo{Port: MinTCPPort - 1}},
			wantErr: true,
		},
		{
			name: "valid with payload",
			p: Packet{Type: "kdeconnect.share.request", Body: []byte(`{}`),
				PayloadSize:         &size,
				PayloadTransferInfo: &TransferInfo{Port: MinTCPPort}},
			wantErr: false,
		},
		{
			name:    "valid without payload",
			p:       Packet{Type: "kdeconnect.ping", Body: []byte(`{}`)},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() error = %v, want it to wrap ErrInvalid", err)
			}
		})
	}
}

func TestDecode_MalformedJSON(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte(`{not json`))
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Decode() error = %v, want ErrInvalid", err)
	}
}

func TestReader_ReadPacket(t *testing.T) {
	t.Parallel()

	p := mustPacket(t)(NewPairPacket(true, 42))
	line, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	r := NewReader(bytes.NewReader(append(line, '\n')), 0)
	got, err := r.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket() error: %v", err)
	}
	if got.Type != PairType {
		t.Errorf("Type = %q, want %q", got.Type, PairType)
	}

	if _, err := r.ReadPacket(); !errors.Is(err, ErrClosed) {
		t.Errorf("second ReadPacket() error = %v, want ErrClosed", err)
	}
}

func TestReader_TooLarge(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("x", 200)
	p := mustPacket(t)(NewBuilder("kdeconnect.ping", map[string]string{"pad": body}).Build(1))
	line, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	r := NewReader(bytes.NewReader(append(line, '\n')), 16)
	if _, err := r.ReadPacket(); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("ReadPacket() error = %v, want ErrTooLarge", err)
	}
}

func TestWriter_WritePacket(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)

	p := mustPacket(t)(NewPairPacket(false, 7))
	if err := w.WritePacket(p); err != nil {
		t.Fatalf("WritePacket() error: %v", err)
	}

	if !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
		t.Error("WritePacket() did not append newline delimiter")
	}

	r := NewReader(&buf, 0)
	got, err := r.ReadPacket()
	if err != nil {
		t.Fatalf("round-trip ReadPacket() error: %v", err)
	}
	if got.Type != PairType {
		t.Errorf("Type = %q, want %q", got.Type, PairType)
	}
}

func mustPacket(t *testing.T) func(Packet, error) Packet {
	return func(p Packet, err error) Packet {
		t.Helper()
		if err != nil {
			t.Fatalf("building test packet: %v", err)
		}
		return p
	}
}
