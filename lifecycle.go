package kdtransport

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// connectionActive enforces one connection per process: SessionState is
// a process-global record, so a second Connect or PrepareDebuggee
// before the first Close is a programming error, not a new independent
// session.
var connectionActive atomic.Bool

// Connection bundles the transport, rendezvous, router and coordinator
// into the session lifecycle: wait-for-peer, running, paused, teardown.
// One Connection exists per process; it owns the background EventRouter
// goroutine and the break handler.
type Connection struct {
	session     *SessionState
	table       *RendezvousTable
	channel     *PacketChannel
	router      *EventRouter
	Coordinator *CommandCoordinator

	driver DriverChannel
	log    *zap.SugaredLogger

	breakStop chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

// Connect brings a debugger-side connection up: opens the configured
// transport (serial or named pipe, always the cancelable variant so a
// break can abandon an in-flight read), wires the components, starts
// the EventRouter goroutine, waits for the debuggee's started
// announcement, and only then installs the SIGINT break handler. ctx
// bounds the wait for the peer.
func Connect(ctx context.Context, opts *Options, sink MessageSink, log *zap.SugaredLogger) (*Connection, error) {
	if !connectionActive.CompareAndSwap(false, true) {
		return nil, newErr(KindAlreadyConnected, "connect", nil)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	transport, err := openCancelableTransport(opts)
	if err != nil {
		connectionActive.Store(false)
		return nil, err
	}

	session := NewSessionState()
	session.SetRole(RoleDebugger)
	session.SetLink(opts.Link)

	table := NewRendezvousTable()
	channel := NewPacketChannel(transport)
	router := NewEventRouter(channel, table, session, sink, log)
	coordinator := NewCommandCoordinator(channel, table, session, sink, log)

	conn := &Connection{
		session:     session,
		table:       table,
		channel:     channel,
		router:      router,
		Coordinator: coordinator,
		driver:      NopDriverChannel{},
		log:         log,
		breakStop:   make(chan struct{}),
		closed:      make(chan struct{}),
	}

	go router.Run()

	if _, err := table.StartedPacketReceived.Wait(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	conn.installBreakHandler(transport)

	return conn, nil
}

// PrepareDebuggee brings a debuggee-side connection up: opens the
// synchronous transport, hands the baud rate and the local OS name to
// driver via PrepareDebuggee (its port argument is always 0), starts the
// EventRouter goroutine as the listener, and then announces readiness to
// the debugger. The debuggee side has no
// break handler of its own.
func PrepareDebuggee(ctx context.Context, opts *Options, driver DriverChannel, sink MessageSink, log *zap.SugaredLogger) (*Connection, error) {
	if !connectionActive.CompareAndSwap(false, true) {
		return nil, newErr(KindAlreadyConnected, "prepare debuggee", nil)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if driver == nil {
		driver = NopDriverChannel{}
	}
	if opts.Link == LinkNamedPipe {
		connectionActive.Store(false)
		return nil, newErr(KindInvalidTransportKind, "prepare debuggee: named pipe is debugger-side only", nil)
	}
	transport, err := openSyncTransport(opts)
	if err != nil {
		connectionActive.Store(false)
		return nil, err
	}

	osName := resolveOSName(log)
	if err := driver.PrepareDebuggee(ctx, 0, opts.BaudRate, osName); err != nil {
		transport.Close()
		connectionActive.Store(false)
		return nil, err
	}

	session := NewSessionState()
	session.SetRole(RoleDebuggee)
	session.SetLink(opts.Link)
	session.SetModulesLoaded(true)

	table := NewRendezvousTable()
	channel := NewPacketChannel(transport)
	router := NewEventRouter(channel, table, session, sink, log)
	coordinator := NewCommandCoordinator(channel, table, session, sink, log)

	conn := &Connection{
		session:     session,
		table:       table,
		channel:     channel,
		router:      router,
		Coordinator: coordinator,
		driver:      driver,
		log:         log,
		breakStop:   make(chan struct{}),
		closed:      make(chan struct{}),
	}

	go router.Run()

	if err := channel.SendCmd(PacketTypeVMXRoot, ActionStarted); err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}

// installBreakHandler wires SIGINT (Ctrl-C) to Cancel the in-flight
// read and send a pause request. SIGBREAK has no POSIX equivalent, so
// only SIGINT is handled on this target.
func (c *Connection) installBreakHandler(transport Cancelable) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		for {
			select {
			case <-sigCh:
				transport.Cancel()
				c.Coordinator.OnBreak()
			case <-c.breakStop:
				signal.Stop(sigCh)
				return
			}
		}
	}()
}

// Snapshot exposes the underlying SessionState's snapshot for callers
// that want to observe connection state without reaching into package
// internals.
func (c *Connection) Snapshot() Snapshot {
	return c.session.Snapshot()
}

// WaitRunning is the idle "remote system is executing" wait: it blocks
// until the debuggee stops (a pause, step completion, or breakpoint
// reported through PausedDetails), the connection is torn down, or ctx
// expires. When the wake-up was caused by a transport failure, that
// failure is returned so the caller can report it and revert to the
// unconnected state.
func (c *Connection) WaitRunning(ctx context.Context) error {
	v, err := c.table.IsDebuggerRunning.Wait(ctx)
	if err != nil {
		return err
	}
	if e, ok := v.(error); ok {
		return e
	}
	return nil
}

// Closed is closed once teardown has finished. The debuggee's main
// goroutine parks on this after bring-up.
func (c *Connection) Closed() <-chan struct{} {
	return c.closed
}

// FinishCommandExecution is the debuggee-side completion path for a
// user-input command: it notifies the local driver, then reports the
// completion to the debugger so its SendUserInput call returns.
func (c *Connection) FinishCommandExecution(ctx context.Context) error {
	if c.session.IsClosed() {
		return ErrClosed
	}
	if err := c.driver.SendCommandExecutionFinished(ctx); err != nil {
		return err
	}
	return c.channel.SendCmd(PacketTypeUserMode, ActionFinishedCommand)
}

// RelayUsermodePrint forwards a user-mode print buffer produced on the
// debuggee to the local driver and on to the debugger's message sink.
func (c *Connection) RelayUsermodePrint(ctx context.Context, msg []byte) error {
	if c.session.IsClosed() {
		return ErrClosed
	}
	if err := c.driver.SendUsermodeMessages(ctx, msg); err != nil {
		return err
	}
	return c.channel.SendCmdWithPayload(PacketTypeUserMode, ActionUsermodePrint, msg)
}

// Close tears the connection down. It is idempotent: the first call
// does the work, every later call returns nil immediately. On the
// debugger side the two-packet close sequence goes out first (skipped
// when the session latch already tripped, meaning the peer is gone or
// announced teardown itself); then the transport closes, the break
// handler stops, the EventRouter goroutine is joined, the idle wait is
// released, the driver channel closes, and SessionState resets.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.teardown() })
	return err
}

func (c *Connection) teardown() error {
	role := c.session.Snapshot().Role
	firstClose := c.session.MarkClosed()

	var sendErr error
	if firstClose && role == RoleDebugger {
		sendErr = c.Coordinator.SendClose()
	}
	closeErr := c.channel.Close()

	close(c.breakStop)
	<-c.router.Done()

	c.table.IsDebuggerRunning.Signal(nil)

	if c.driver != nil {
		if err := c.driver.Close(); err != nil {
			c.log.Warnw("close: driver channel close failed", "err", err)
		}
	}

	c.session.Reset()
	connectionActive.Store(false)
	close(c.closed)

	if sendErr != nil {
		return sendErr
	}
	return closeErr
}

func openCancelableTransport(opts *Options) (Cancelable, error) {
	switch opts.Link {
	case LinkSerial:
		return NewCancelableSerialTransport(opts.SerialDevice, opts.BaudRate, opts.PollInterval)
	case LinkNamedPipe:
		return DialNamedPipe(opts.PipePath)
	default:
		return nil, newErr(KindInvalidTransportKind, fmt.Sprintf("link kind %d", opts.Link), nil)
	}
}

func openSyncTransport(opts *Options) (ByteTransport, error) {
	switch opts.Link {
	case LinkSerial:
		return NewSerialTransport(opts.SerialDevice, opts.BaudRate)
	default:
		return nil, newErr(KindInvalidTransportKind, fmt.Sprintf("link kind %d", opts.Link), nil)
	}
}
