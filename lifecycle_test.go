package kdtransport

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
)

// newTestConnection builds a *Connection directly atop a net.Pipe,
// bypassing Connect/PrepareDebuggee's transport-opening logic (which
// needs a real serial device or socket path) so the lifecycle/teardown
// behavior can be tested without hardware.
func newTestConnection(t *testing.T) (conn *Connection, peer *PacketChannel) {
	t.Helper()
	connA, connB := net.Pipe()
	t.Cleanup(func() { connB.Close() })

	session := NewSessionState()
	session.SetRole(RoleDebugger)
	table := NewRendezvousTable()
	channel := NewPacketChannel(NewPipeTransport(connA))
	router := NewEventRouter(channel, table, session, NopMessageSink{}, nil)
	coordinator := NewCommandCoordinator(channel, table, session, nil, nil)

	conn = &Connection{
		session:     session,
		table:       table,
		channel:     channel,
		router:      router,
		Coordinator: coordinator,
		driver:      NopDriverChannel{},
		log:         zap.NewNop().Sugar(),
		breakStop:   make(chan struct{}),
		closed:      make(chan struct{}),
	}

	go router.Run()
	peer = NewPacketChannel(NewPipeTransport(connB))
	return
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	conn, peer := newTestConnection(t)
	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		for {
			if _, _, err := peer.RecvPacket(); err != nil {
				return
			}
		}
	}()

	if err := conn.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}

	select {
	case <-drainDone:
	case <-time.After(time.Second):
		t.Fatal("peer's RecvPacket loop never observed the transport close")
	}
}

func TestConnectionCloseJoinsRouter(t *testing.T) {
	conn, peer := newTestConnection(t)
	go func() {
		for {
			if _, _, err := peer.RecvPacket(); err != nil {
				return
			}
		}
	}()

	done := make(chan error, 1)
	go func() { done <- conn.Close() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not return; router goroutine may not have been joined")
	}

	select {
	case <-conn.router.Done():
	default:
		t.Fatal("expected router.Done() closed after Close returns")
	}
}

// TestConnectionWaitRunningReleasedOnPause: the idle "remote is
// executing" wait must wake when the debuggee reports a stop, even with
// no operator command outstanding (an asynchronous breakpoint hit).
func TestConnectionWaitRunningReleasedOnPause(t *testing.T) {
	conn, peer := newTestConnection(t)
	conn.session.MarkRunning()

	waitErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		waitErr <- conn.WaitRunning(ctx)
	}()

	payload := make([]byte, 8)
	payload[0] = 1
	if err := peer.SendCmdWithPayload(PacketTypeVMXRoot, ActionPausedDetails, payload); err != nil {
		t.Fatalf("peer SendCmdWithPayload: %v", err)
	}

	if err := <-waitErr; err != nil {
		t.Fatalf("WaitRunning: %v", err)
	}
	if conn.Snapshot().Running {
		t.Fatal("expected session paused after PausedDetails")
	}
}

// TestConnectionCloseReleasesWaitRunning: teardown must unblock an idle
// waiter instead of leaving it parked forever.
func TestConnectionCloseReleasesWaitRunning(t *testing.T) {
	conn, peer := newTestConnection(t)
	go func() {
		for {
			if _, _, err := peer.RecvPacket(); err != nil {
				return
			}
		}
	}()

	waitErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		waitErr <- conn.WaitRunning(ctx)
	}()

	// Give the waiter a moment to park before tearing down.
	time.Sleep(20 * time.Millisecond)
	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := <-waitErr; err != nil {
		t.Fatalf("WaitRunning after Close: %v", err)
	}

	select {
	case <-conn.Closed():
	default:
		t.Fatal("Closed() should be closed after teardown")
	}
}
