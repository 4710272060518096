package kdtransport

// serialTransport is the synchronous ByteTransport variant: blocking
// reads and writes directly on the fd, no cancellation. This is what
// the debuggee side uses; only the debugger needs interruptible reads.
type serialTransport struct {
	port *Port
}

// NewSerialTransport opens and configures a serial port the way the
// debuggee side of the connection needs it: purged queues, raw 8N1 at
// baud.
func NewSerialTransport(device string, baud uint32) (ByteTransport, error) {
	port, err := OpenSerialPort(device, baud)
	if err != nil {
		return nil, err
	}
	return &serialTransport{port: port}, nil
}

func (t *serialTransport) ReadByte() (byte, error) {
	var b [1]byte
	for {
		n, err := t.port.read(b[:])
		if err != nil {
			return 0, newErr(KindTransportBroken, "serial read", err)
		}
		if n == 1 {
			return b[0], nil
		}
		// n == 0 with no error: nothing read yet, retry.
	}
}

func (t *serialTransport) WriteAll(p []byte) error {
	for len(p) > 0 {
		n, err := t.port.write(p)
		if err != nil {
			return newErr(KindTransportBroken, "serial write", err)
		}
		p = p[n:]
	}
	return nil
}

func (t *serialTransport) Close() error {
	return t.port.Close()
}
