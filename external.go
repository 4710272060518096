package kdtransport

import "context"

// MessageSink receives inbound traffic that isn't a direct reply to an
// outstanding CommandCoordinator request: log chatter, script results,
// and raw usermode print buffers. The EventRouter calls these directly
// from its reader goroutine, so implementations must not block.
type MessageSink interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	ScriptResult(text string)
	UsermodePrint(text string)
}

// NopMessageSink discards everything; useful for callers that only
// care about the rendezvous-driven request/response half of the
// protocol.
type NopMessageSink struct{}

func (NopMessageSink) Info(string, ...any)  {}
func (NopMessageSink) Warn(string, ...any)  {}
func (NopMessageSink) ScriptResult(string)  {}
func (NopMessageSink) UsermodePrint(string) {}

// DriverChannel abstracts the three ioctls the debuggee side issues
// against the local hypervisor driver to hand off bytes received over
// the wire and to report command completion.
// Implementations outside Linux, or outside a real driver entirely,
// can satisfy this without touching the transport/session/rendezvous
// layers above.
type DriverChannel interface {
	// PrepareDebuggee hands the driver the negotiated port/baud and the
	// resolved OS name so it can start accepting commands.
	PrepareDebuggee(ctx context.Context, port uint32, baud uint32, osName string) error
	// SendCommandExecutionFinished notifies the driver that the command
	// currently running to completion (e.g. a breakpoint continue) is done.
	SendCommandExecutionFinished(ctx context.Context) error
	// SendUsermodeMessages hands a usermode print buffer to the local
	// driver; Connection.RelayUsermodePrint then sends it to the
	// debugger side.
	SendUsermodeMessages(ctx context.Context, msg []byte) error
	Close() error
}

// NopDriverChannel is a DriverChannel that does nothing; it lets the
// lifecycle and coordinator code run against a fake driver in tests,
// or on a host with no hypervisor driver loaded at all.
type NopDriverChannel struct{}

func (NopDriverChannel) PrepareDebuggee(context.Context, uint32, uint32, string) error {
	return nil
}
func (NopDriverChannel) SendCommandExecutionFinished(context.Context) error { return nil }
func (NopDriverChannel) SendUsermodeMessages(context.Context, []byte) error { return nil }
func (NopDriverChannel) Close() error                                      { return nil }
