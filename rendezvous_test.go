package kdtransport

import (
	"context"
	"testing"
	"time"
)

func TestMailboxSignalThenWait(t *testing.T) {
	m := newMailbox()
	m.Signal(42)

	got, err := m.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got.(int) != 42 {
		t.Fatalf("got %v, want 42", got)
	}
}

func TestMailboxWaitThenSignal(t *testing.T) {
	m := newMailbox()
	result := make(chan any, 1)
	go func() {
		v, err := m.Wait(context.Background())
		if err != nil {
			t.Errorf("Wait: %v", err)
			return
		}
		result <- v
	}()

	time.Sleep(10 * time.Millisecond)
	m.Signal("paused")

	select {
	case v := <-result:
		if v.(string) != "paused" {
			t.Fatalf("got %v, want paused", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait never returned")
	}
}

func TestMailboxSignalCoalesces(t *testing.T) {
	m := newMailbox()
	m.Signal(1)
	m.Signal(2) // second signal before any Wait: coalesced, not queued

	got, err := m.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got.(int) != 2 {
		t.Fatalf("got %v, want 2 (last signal wins)", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Wait(ctx); err == nil {
		t.Fatal("expected a second Wait to block past the deadline, it returned instead")
	}
}

func TestMailboxWaitRespectsContext(t *testing.T) {
	m := newMailbox()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := m.Wait(ctx); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestRendezvousTableFieldsIndependent(t *testing.T) {
	rt := NewRendezvousTable()
	rt.StartedPacketReceived.Signal(struct{}{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := rt.PausedDebuggeeDetails.Wait(ctx); err == nil {
		t.Fatal("PausedDebuggeeDetails should not observe a signal sent to StartedPacketReceived")
	}

	if _, err := rt.StartedPacketReceived.Wait(context.Background()); err != nil {
		t.Fatalf("StartedPacketReceived.Wait: %v", err)
	}
}
