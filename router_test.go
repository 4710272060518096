package kdtransport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu            sync.Mutex
	infoLines     []string
	usermodeLines []string
	scriptResults []string
}

func (s *recordingSink) Info(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infoLines = append(s.infoLines, fmt.Sprintf(format, args...))
}
func (s *recordingSink) Warn(string, ...any) {}
func (s *recordingSink) ScriptResult(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scriptResults = append(s.scriptResults, text)
}
func (s *recordingSink) UsermodePrint(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usermodeLines = append(s.usermodeLines, text)
}

func newRouterUnderTest(t *testing.T) (sender *PacketChannel, router *EventRouter, table *RendezvousTable, session *SessionState, sink *recordingSink) {
	t.Helper()
	connA, connB := net.Pipe()
	t.Cleanup(func() { connA.Close(); connB.Close() })

	sender = NewPacketChannel(NewPipeTransport(connA))
	recvChannel := NewPacketChannel(NewPipeTransport(connB))
	table = NewRendezvousTable()
	session = NewSessionState()
	sink = &recordingSink{}
	router = NewEventRouter(recvChannel, table, session, sink, nil)
	go router.Run()
	return
}

func TestEventRouterStartedMarksRunning(t *testing.T) {
	sender, _, table, session, _ := newRouterUnderTest(t)

	if err := sender.SendCmd(PacketTypeVMXRoot, ActionStarted); err != nil {
		t.Fatalf("SendCmd: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := table.StartedPacketReceived.Wait(ctx); err != nil {
		t.Fatalf("StartedPacketReceived.Wait: %v", err)
	}
	if !session.IsRunning() {
		t.Fatal("expected session to be running after ActionStarted")
	}
}

func TestEventRouterPausedDetailsMarksPaused(t *testing.T) {
	sender, _, table, session, _ := newRouterUnderTest(t)
	session.MarkRunning()

	payload := make([]byte, 8)
	payload[0] = 3 // Core = 3, little-endian
	if err := sender.SendCmdWithPayload(PacketTypeVMXRoot, ActionPausedDetails, payload); err != nil {
		t.Fatalf("SendCmdWithPayload: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := table.PausedDebuggeeDetails.Wait(ctx)
	if err != nil {
		t.Fatalf("PausedDebuggeeDetails.Wait: %v", err)
	}
	details, ok := v.(PausedDetailsPayload)
	if !ok || details.Core != 3 {
		t.Fatalf("got %+v", v)
	}
	if session.IsRunning() {
		t.Fatal("expected session to be paused")
	}
	if session.CurrentCore() != 3 {
		t.Fatalf("CurrentCore = %d, want 3", session.CurrentCore())
	}
}

func TestEventRouterUsermodePrintForwardsToSink(t *testing.T) {
	sender, _, _, _, sink := newRouterUnderTest(t)

	if err := sender.SendCmdWithPayload(PacketTypeUserMode, ActionUsermodePrint, []byte("hello from the debuggee")); err != nil {
		t.Fatalf("SendCmdWithPayload: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sink.mu.Lock()
		n := len(sink.usermodeLines)
		sink.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.usermodeLines) != 1 || sink.usermodeLines[0] != "hello from the debuggee" {
		t.Fatalf("got %v", sink.usermodeLines)
	}
}

func TestEventRouterCloseAndUnloadClosesSession(t *testing.T) {
	sender, router, table, session, _ := newRouterUnderTest(t)

	if err := sender.SendCmd(PacketTypeVMXRoot, ActionCloseAndUnload); err != nil {
		t.Fatalf("SendCmd: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := table.IsDebuggerRunning.Wait(ctx); err != nil {
		t.Fatalf("IsDebuggerRunning.Wait: %v", err)
	}
	if !session.IsClosed() {
		t.Fatal("expected session closed after ActionCloseAndUnload")
	}

	sender.Close()
	select {
	case <-router.Done():
	case <-time.After(time.Second):
		t.Fatal("router did not exit after transport closed")
	}
}
