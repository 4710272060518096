package kdtransport

import (
	"time"

	"github.com/daedaluz/fdev/poll"
)

// pollInterval is the default bound on how long a single poll.WaitInput
// wait can block before cancelableSerialTransport rechecks whether
// Cancel was called; Options.PollInterval overrides it per connection.
// Linux has no fd-level "abandon this read" primitive, so a bounded
// poll loop stands in for overlapped-I/O completion events.
const pollInterval = 100 * time.Millisecond

// cancelableSerialTransport is the debugger-side ByteTransport variant:
// a pending ReadByte can be abandoned by Cancel.
type cancelableSerialTransport struct {
	port         *Port
	cancel       chan struct{}
	pollInterval time.Duration
}

// NewCancelableSerialTransport opens and configures a serial port the
// same way NewSerialTransport does, for the debugger side of the
// connection. pollEvery rechecks Cancel at this interval; a non-positive
// value falls back to pollInterval.
func NewCancelableSerialTransport(device string, baud uint32, pollEvery time.Duration) (Cancelable, error) {
	if pollEvery <= 0 {
		pollEvery = pollInterval
	}
	port, err := OpenSerialPort(device, baud)
	if err != nil {
		return nil, err
	}
	return &cancelableSerialTransport{port: port, cancel: make(chan struct{}, 1), pollInterval: pollEvery}, nil
}

func (t *cancelableSerialTransport) ReadByte() (byte, error) {
	var b [1]byte
	for {
		select {
		case <-t.cancel:
			return 0, newErr(KindTimeout, "serial read cancelled", nil)
		default:
		}

		err := poll.WaitInput(t.port.Fd(), t.pollInterval)
		if err != nil {
			if isPollTimeout(err) {
				continue
			}
			return 0, newErr(KindTransportBroken, "serial poll", err)
		}

		n, err := t.port.read(b[:])
		if err != nil {
			return 0, newErr(KindTransportBroken, "serial read", err)
		}
		if n == 1 {
			return b[0], nil
		}
	}
}

func (t *cancelableSerialTransport) WriteAll(p []byte) error {
	for len(p) > 0 {
		n, err := t.port.write(p)
		if err != nil {
			return newErr(KindTransportBroken, "serial write", err)
		}
		p = p[n:]
	}
	return nil
}

// Cancel abandons the in-flight or next ReadByte. It is safe to call any
// number of times; extra signals are coalesced, matching break
// coalescing in the coordinator above it.
func (t *cancelableSerialTransport) Cancel() {
	select {
	case t.cancel <- struct{}{}:
	default:
	}
}

func (t *cancelableSerialTransport) Close() error {
	return t.port.Close()
}

// isPollTimeout reports whether err from poll.WaitInput signals a plain
// timeout (no data yet) rather than a genuine I/O failure.
func isPollTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if te, ok := err.(timeouter); ok {
		return te.Timeout()
	}
	return false
}
