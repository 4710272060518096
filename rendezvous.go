package kdtransport

import "context"

// mailbox is a one-shot, auto-reset signal with an attached payload
// slot. A buffered channel of capacity 1 gives the auto-reset semantics
// for free: Signal never blocks (a pending signal is simply replaced),
// and Wait consumes exactly one pending signal per call.
type mailbox struct {
	ch      chan struct{}
	payload any
}

func newMailbox() *mailbox {
	return &mailbox{ch: make(chan struct{}, 1)}
}

// Signal stores payload in the mailbox and wakes one waiter. If a
// previous signal is still pending (unlikely under the one-outstanding-
// request discipline) it is coalesced into this one.
func (m *mailbox) Signal(payload any) {
	m.payload = payload
	select {
	case m.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until Signal is called (or ctx is done) and returns the
// payload that was delivered.
func (m *mailbox) Wait(ctx context.Context) (any, error) {
	select {
	case <-m.ch:
		return m.payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RendezvousTable is the fixed-cardinality table of named mailboxes
// CommandCoordinator waits on and EventRouter signals. One named field
// per rendezvous rather than an array keyed by an integer enum, which
// is easy to index wrong.
type RendezvousTable struct {
	StartedPacketReceived   *mailbox
	PausedDebuggeeDetails   *mailbox
	CoreSwitchingResult     *mailbox
	ProcessSwitchingResult  *mailbox
	ScriptRunningResult     *mailbox
	ScriptFormatsResult     *mailbox
	DebuggeeFinishedCommand *mailbox
	IsDebuggerRunning       *mailbox
}

// NewRendezvousTable allocates a fresh table of mailboxes. Called once
// at connection bring-up and discarded at teardown.
func NewRendezvousTable() *RendezvousTable {
	return &RendezvousTable{
		StartedPacketReceived:   newMailbox(),
		PausedDebuggeeDetails:   newMailbox(),
		CoreSwitchingResult:     newMailbox(),
		ProcessSwitchingResult:  newMailbox(),
		ScriptRunningResult:     newMailbox(),
		ScriptFormatsResult:     newMailbox(),
		DebuggeeFinishedCommand: newMailbox(),
		IsDebuggerRunning:       newMailbox(),
	}
}
