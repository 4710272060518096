package kdtransport

import "fmt"

// Kind classifies the errors this package can return, per the taxonomy
// in the design document: transport/framing failures are fatal to a
// session, the rest are refusals the caller can recover from.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransportBroken
	KindOversizedFrame
	KindIndicatorMismatch
	KindTimeout
	KindNoChange
	KindIoctlFailed
	KindDriverNotLoaded
	KindAlreadyConnected
	KindInvalidTransportKind
)

func (k Kind) String() string {
	switch k {
	case KindTransportBroken:
		return "transport broken"
	case KindOversizedFrame:
		return "oversized frame"
	case KindIndicatorMismatch:
		return "indicator mismatch"
	case KindTimeout:
		return "timeout"
	case KindNoChange:
		return "no change"
	case KindIoctlFailed:
		return "ioctl failed"
	case KindDriverNotLoaded:
		return "driver not loaded"
	case KindAlreadyConnected:
		return "already connected"
	case KindInvalidTransportKind:
		return "invalid transport kind"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with an operation name and, for IOCTL failures, the
// raw result code. An optional wrapped cause is reachable through
// Unwrap for errors.Is/As.
type Error struct {
	Kind Kind
	Op   string
	Code int
	err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %#x)", msg, e.Code)
	}
	if e.err != nil {
		msg += ": " + e.err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.err
}

func newErr(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, err: cause}
}

func newIoctlErr(op string, code int, cause error) *Error {
	return &Error{Kind: KindIoctlFailed, Op: op, Code: code, err: cause}
}

// Is reports whether err (or anything it wraps) is a *Error of kind k.
func Is(err error, k Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == k {
				return true
			}
			err = e.err
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

var (
	// ErrClosed reports that the connection's teardown latch has
	// already tripped.
	ErrClosed = &Error{Kind: KindTransportBroken, Op: "connection already closed"}
)
