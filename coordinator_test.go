package kdtransport

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

// newCoordinatorUnderTest wires a CommandCoordinator against one end of
// a net.Pipe and returns the raw PacketChannel on the other end so
// tests can play the debuggee side by hand.
func newCoordinatorUnderTest(t *testing.T) (coord *CommandCoordinator, peer *PacketChannel, table *RendezvousTable, session *SessionState, sink *recordingSink) {
	t.Helper()
	connA, connB := net.Pipe()
	t.Cleanup(func() { connA.Close(); connB.Close() })

	table = NewRendezvousTable()
	session = NewSessionState()
	sink = &recordingSink{}
	channel := NewPacketChannel(NewPipeTransport(connA))
	coord = NewCommandCoordinator(channel, table, session, sink, nil)
	peer = NewPacketChannel(NewPipeTransport(connB))
	return
}

// TestCoordinatorContinueSendsAndMarksRunning: Continue has no reply to
// await; once the packet is on the wire the session is running with no
// stopped core.
func TestCoordinatorContinueSendsAndMarksRunning(t *testing.T) {
	coord, peer, _, session, _ := newCoordinatorUnderTest(t)
	session.MarkPaused(2)

	errCh := make(chan error, 1)
	go func() { errCh <- coord.Continue() }()

	header, _, err := peer.RecvPacket()
	if err != nil {
		t.Fatalf("RecvPacket: %v", err)
	}
	if header.Action != ActionContinue || header.Type != PacketTypeVMXRoot {
		t.Fatalf("got %v/%v, want VMXRoot/Continue", header.Type, header.Action)
	}

	if err := <-errCh; err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if !session.IsRunning() {
		t.Fatal("expected session running after Continue")
	}
	if session.CurrentCore() != NoCore {
		t.Fatalf("CurrentCore = %#x after Continue, want NoCore", session.CurrentCore())
	}
}

func TestCoordinatorContinueWhileRunningIsNoChange(t *testing.T) {
	coord, _, _, session, _ := newCoordinatorUnderTest(t)
	session.MarkRunning()

	if err := coord.Continue(); !Is(err, KindNoChange) {
		t.Fatalf("got %v, want KindNoChange", err)
	}
}

func TestCoordinatorSwitchCoreNoOpWhenAlreadyThere(t *testing.T) {
	coord, _, _, session, sink := newCoordinatorUnderTest(t)
	session.SetCurrentCore(2)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := coord.SwitchCore(ctx, 2)
	if !Is(err, KindNoChange) {
		t.Fatalf("got %v, want KindNoChange", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.infoLines) != 1 || !strings.Contains(sink.infoLines[0], "not changed") {
		t.Fatalf("expected a \"not changed\" diagnostic on the sink, got %v", sink.infoLines)
	}
}

func TestCoordinatorSwitchCoreSendsAndWaits(t *testing.T) {
	coord, peer, table, session, _ := newCoordinatorUnderTest(t)
	session.SetCurrentCore(0)

	resultCh := make(chan struct {
		res CoreSwitchResultPayload
		err error
	}, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		res, err := coord.SwitchCore(ctx, 5)
		resultCh <- struct {
			res CoreSwitchResultPayload
			err error
		}{res, err}
	}()

	header, payload, err := peer.RecvPacket()
	if err != nil {
		t.Fatalf("RecvPacket: %v", err)
	}
	if header.Action != ActionChangeCore {
		t.Fatalf("got action %v, want ActionChangeCore", header.Action)
	}
	if len(payload) < 4 || payload[0] != 5 {
		t.Fatalf("unexpected change-core payload %v", payload)
	}

	// Simulate the EventRouter delivering the reply.
	table.CoreSwitchingResult.Signal(CoreSwitchResultPayload{Result: ResultOK})

	got := <-resultCh
	if got.err != nil {
		t.Fatalf("SwitchCore: %v", got.err)
	}
	if got.res.Result != ResultOK {
		t.Fatalf("got result %v, want ResultOK", got.res.Result)
	}
	if session.CurrentCore() != 5 {
		t.Fatalf("CurrentCore = %d, want 5", session.CurrentCore())
	}
}

// TestCoordinatorWaitInstalledBeforeSend is the core ordering property:
// the coordinator must register its rendezvous wait before the command
// reaches the peer, so a reply that arrives "instantly" (as it does
// here, on an unbuffered net.Pipe) is never missed.
func TestCoordinatorWaitInstalledBeforeSend(t *testing.T) {
	coord, peer, table, session, _ := newCoordinatorUnderTest(t)
	session.SetCurrentCore(0)

	// Reply before SwitchCore's send can possibly have been observed by
	// this goroutine, racing the coordinator's internal ordering.
	go func() {
		peer.RecvPacket()
		table.CoreSwitchingResult.Signal(CoreSwitchResultPayload{Result: ResultOK})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := coord.SwitchCore(ctx, 1); err != nil {
		t.Fatalf("SwitchCore: %v", err)
	}
}

// TestCoordinatorSendUserInput: the input buffer goes out with its
// length prefix, and the call does not return until the debuggee
// reports the command finished.
func TestCoordinatorSendUserInput(t *testing.T) {
	coord, peer, table, _, _ := newCoordinatorUnderTest(t)

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		errCh <- coord.SendUserInput(ctx, "!process 0 0")
	}()

	header, payload, err := peer.RecvPacket()
	if err != nil {
		t.Fatalf("RecvPacket: %v", err)
	}
	if header.Action != ActionUserInputBuffer {
		t.Fatalf("got action %v, want ActionUserInputBuffer", header.Action)
	}
	if string(payload[4:]) != "!process 0 0" {
		t.Fatalf("got payload text %q", string(payload[4:]))
	}

	select {
	case err := <-errCh:
		t.Fatalf("SendUserInput returned before the command finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// Simulate the EventRouter observing the finished-command packet.
	table.DebuggeeFinishedCommand.Signal(struct{}{})

	if err := <-errCh; err != nil {
		t.Fatalf("SendUserInput: %v", err)
	}
}
