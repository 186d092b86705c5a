package packet

// IdentityBody is the body of a kdeconnect.identity packet: the sender's
// self-announcement, broadcast over UDP and re-sent as the first packet of
// every new TCP connection.
type IdentityBody struct {
	DeviceID             string   `json:"deviceId"`
	DeviceName           string   `json:"deviceName"`
	DeviceType           string   `json:"deviceType"`
	ProtocolVersion      int      `json:"protocolVersion"`
	IncomingCapabilities []string `json:"incomingCapabilities"`
	OutgoingCapabilities []string `json:"outgoingCapabilities"`
	TCPPort              int      `json:"tcpPort,omitempty"`
}

// NewIdentityPacket builds a kdeconnect.identity packet. The UDP broadcast
// form carries tcpPort so receivers know where to connect; a zero TCPPort
// is left out of the encoding.
func NewIdentityPacket(body IdentityBody, nowMillis int64) (Packet, error) {
	return NewBuilder(IdentityType, body).Build(nowMillis)
}

// PairBody is the body of a kdeconnect.pair packet.
type PairBody struct {
	Pair            bool  `json:"pair"`
	TimestampMillis int64 `json:"timestamp,omitempty"`
}

// NewPairPacket builds a kdeconnect.pair packet requesting or confirming
// (pair=true) or rejecting/unpairing (pair=false).
func NewPairPacket(pair bool, nowMillis int64) (Packet, error) {
	return NewBuilder(PairType, PairBody{Pair: pair, TimestampMillis: nowMillis}).Build(nowMillis)
}
