package kdtransport

import "sync"

// PacketChannel sends and receives typed packets by composing a Decoder
// atop a ByteTransport. Writes are serialized with writeMu so two
// concurrent senders are never interleaved on the wire; there is exactly
// one reader (EventRouter), so RecvPacket needs no lock of its own.
type PacketChannel struct {
	transport ByteTransport
	dec       *Decoder
	writeMu   sync.Mutex
}

// NewPacketChannel wraps transport in a PacketChannel.
func NewPacketChannel(transport ByteTransport) *PacketChannel {
	return &PacketChannel{transport: transport, dec: NewDecoder()}
}

// SendCmd writes a header-only packet.
func (c *PacketChannel) SendCmd(typ PacketType, action PacketAction) error {
	return c.send(Header{Indicator: Indicator, Type: typ, Action: action}.marshal(), nil)
}

// SendCmdWithPayload writes a header followed by payload as a single
// frame: the peer's FrameCodec observes header||payload terminated by
// one sentinel.
func (c *PacketChannel) SendCmdWithPayload(typ PacketType, action PacketAction, payload []byte) error {
	return c.send(Header{Indicator: Indicator, Type: typ, Action: action}.marshal(), payload)
}

func (c *PacketChannel) send(header, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	frame := make([]byte, 0, len(header)+len(payload)+len(Sentinel))
	frame = append(frame, header...)
	frame = append(frame, payload...)
	frame = append(frame, Sentinel[:]...)

	if err := c.transport.WriteAll(frame); err != nil {
		return newErr(KindTransportBroken, "packet write", err)
	}
	return nil
}

// RecvPacket decodes one frame and splits it into header and payload.
func (c *PacketChannel) RecvPacket() (Header, []byte, error) {
	for {
		b, err := c.transport.ReadByte()
		if err != nil {
			return Header{}, nil, err
		}
		frame, complete, err := c.dec.Feed(b)
		if err != nil {
			return Header{}, nil, err
		}
		if !complete {
			continue
		}
		if len(frame) < HeaderSize {
			return Header{}, nil, newErr(KindOversizedFrame, "packet frame shorter than header", nil)
		}
		header, err := unmarshalHeader(frame[:HeaderSize])
		if err != nil {
			return Header{}, nil, err
		}
		return header, frame[HeaderSize:], nil
	}
}

// Close releases the underlying transport.
func (c *PacketChannel) Close() error {
	return c.transport.Close()
}
