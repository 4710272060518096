package kdtransport

// Sentinel is the 4-byte end-of-frame marker. The fixed structured
// records and length-prefixed buffers this protocol carries are laid
// out so the sequence does not occur by accident. Usermode print
// payloads are the raw message bytes with no length prefix, and
// nothing checks them for the sequence before sending.
var Sentinel = [4]byte{0x00, 0x4B, 0x44, 0x45}

// MaxFrame bounds how much a Decoder will buffer before giving up on
// finding a sentinel. It is shared between FrameCodec and PacketChannel
// as the transport's maximum packet size.
const MaxFrame = 4096

// Decoder reassembles frames fed to it one byte at a time, the same
// chunking discipline the underlying ByteTransport exposes.
type Decoder struct {
	buf []byte
}

// NewDecoder returns a Decoder ready to accept bytes.
func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, 256)}
}

// Feed appends b to the internal buffer and reports whether the buffer
// now ends with Sentinel. On a match it returns the payload (sentinel
// stripped) and resets internal state for the next frame. If the buffer
// would grow past MaxFrame before a sentinel is seen, it returns a
// *Error of KindOversizedFrame; the caller must tear down the connection since
// framing is now desynchronized.
func (d *Decoder) Feed(b byte) (payload []byte, complete bool, err error) {
	d.buf = append(d.buf, b)

	if len(d.buf) > MaxFrame {
		d.buf = d.buf[:0]
		return nil, false, newErr(KindOversizedFrame, "frame decode", nil)
	}

	if len(d.buf) < len(Sentinel) {
		return nil, false, nil
	}

	tail := d.buf[len(d.buf)-len(Sentinel):]
	for i, s := range Sentinel {
		if tail[i] != s {
			return nil, false, nil
		}
	}

	out := make([]byte, len(d.buf)-len(Sentinel))
	copy(out, d.buf[:len(d.buf)-len(Sentinel)])
	d.buf = d.buf[:0]
	return out, true, nil
}

// Reset discards any partially buffered frame.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

// Encode returns payload followed by the frame terminator.
func Encode(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+len(Sentinel))
	out = append(out, payload...)
	out = append(out, Sentinel[:]...)
	return out
}
