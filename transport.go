package kdtransport

// ByteTransport abstracts a reliable, ordered byte channel with
// blocking reads and writes: a physical serial port or a named-pipe
// bridge. Implementations surface any I/O error as a *Error of
// KindTransportBroken.
type ByteTransport interface {
	ReadByte() (byte, error)
	WriteAll(p []byte) error
	Close() error
}

// Cancelable is a ByteTransport whose pending ReadByte can be abandoned.
// Only the debugger side needs this: the break handler must be able to
// give up on a read that is waiting for data that may never come once
// the debuggee has stopped talking.
type Cancelable interface {
	ByteTransport
	// Cancel abandons the current (or next) ReadByte, which then
	// returns a *Error of KindTimeout. It does not close the
	// transport and may be called any number of times.
	Cancel()
}
