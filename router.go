package kdtransport

import (
	"sync"

	"go.uber.org/zap"
)

// EventRouter owns the single background goroutine that reads packets
// off a PacketChannel and either signals a RendezvousTable mailbox (for
// traffic a CommandCoordinator call is waiting on) or forwards it to a
// MessageSink (for everything else). There is exactly one of these per
// connection, matching the one-reader discipline PacketChannel relies
// on to avoid a recv-side lock.
type EventRouter struct {
	channel *PacketChannel
	table   *RendezvousTable
	sink    MessageSink
	session *SessionState
	log     *zap.SugaredLogger

	done chan struct{}
	once sync.Once
}

// NewEventRouter wires a router atop channel. sink and log may be nil;
// nil sink is treated as NopMessageSink, nil log as a no-op logger.
func NewEventRouter(channel *PacketChannel, table *RendezvousTable, session *SessionState, sink MessageSink, log *zap.SugaredLogger) *EventRouter {
	if sink == nil {
		sink = NopMessageSink{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &EventRouter{
		channel: channel,
		table:   table,
		sink:    sink,
		session: session,
		log:     log,
		done:    make(chan struct{}),
	}
}

// Run is the router's reader loop; call it in its own goroutine. It
// returns once the channel is closed or a frame-level error is hit, and
// always closes Done() on return. A cancelled read (KindTimeout, the
// break handler abandoning an in-flight read via Cancel) is not a
// session-ending event: the transport is still healthy, so Run loops
// back into RecvPacket instead of exiting, leaving the just-installed
// rendezvous wait for the pause reply intact. A genuine transport or
// framing failure trips the session's teardown latch and releases the
// idle wait before exiting, so the operator gets control back instead
// of blocking on a dead wire.
func (r *EventRouter) Run() {
	defer r.once.Do(func() { close(r.done) })

	for {
		header, payload, err := r.channel.RecvPacket()
		if err != nil {
			if Is(err, KindTimeout) {
				continue
			}
			if !r.session.IsClosed() {
				r.log.Errorw("event router: receive failed, tearing session down", "err", err)
				r.session.MarkClosed()
				r.table.IsDebuggerRunning.Signal(err)
			}
			return
		}
		if header.Indicator != Indicator {
			r.log.Warnw("event router: indicator mismatch, dropping frame", "got", header.Indicator)
			continue
		}
		if stop := r.dispatch(header.Action, payload); stop {
			return
		}
	}
}

// Done is closed once Run has returned.
func (r *EventRouter) Done() <-chan struct{} {
	return r.done
}

// dispatch routes one inbound packet. It returns true when the loop
// should stop reading: the peer announced teardown, or told this side
// to stop consuming the wire entirely.
func (r *EventRouter) dispatch(action PacketAction, payload []byte) (stop bool) {
	switch action {
	case ActionStarted:
		r.session.MarkRunning()
		r.table.StartedPacketReceived.Signal(struct{}{})

	case ActionPausedDetails:
		details, err := unmarshalPausedDetails(payload)
		if err != nil {
			r.log.Warnw("event router: paused-details", "err", err)
			return false
		}
		r.session.MarkPaused(details.Core)
		r.table.PausedDebuggeeDetails.Signal(details)
		// Release the idle "remote is running" wait too: an
		// asynchronous stop (breakpoint hit) arrives with no operator
		// command outstanding, and the operator is parked there.
		r.table.IsDebuggerRunning.Signal(details)

	case ActionCoreSwitchResult:
		res, err := unmarshalCoreSwitchResult(payload)
		if err != nil {
			r.log.Warnw("event router: core-switch-result", "err", err)
			return false
		}
		r.table.CoreSwitchingResult.Signal(res)

	case ActionProcessSwitchResult:
		res, err := unmarshalProcessSwitchResult(payload)
		if err != nil {
			r.log.Warnw("event router: process-switch-result", "err", err)
			return false
		}
		r.table.ProcessSwitchingResult.Signal(res)

	case ActionScriptResult:
		res, err := unmarshalScriptResult(payload)
		if err != nil {
			r.log.Warnw("event router: script-result", "err", err)
			return false
		}
		r.sink.ScriptResult(res.Result.String())
		r.table.ScriptRunningResult.Signal(res)

	case ActionScriptFormatResult:
		res, err := unmarshalScriptFormatResult(payload)
		if err != nil {
			r.log.Warnw("event router: script-format-result", "err", err)
			return false
		}
		r.sink.ScriptResult(res.Text)
		r.table.ScriptFormatsResult.Signal(res)

	case ActionFinishedCommand:
		r.table.DebuggeeFinishedCommand.Signal(struct{}{})

	case ActionUsermodePrint:
		r.sink.UsermodePrint(string(payload))

	case ActionDoNotReadAnyPacket:
		return true

	case ActionCloseAndUnload:
		r.session.MarkClosed()
		r.table.IsDebuggerRunning.Signal(false)
		return true

	default:
		r.log.Warnw("event router: unhandled action", "action", action.String())
	}
	return false
}
