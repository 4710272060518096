package kdtransport

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// CommandCoordinator serializes outbound commands over a PacketChannel
// and awaits the matching RendezvousTable signal for each. cmdMu is
// held for the full duration of every public method, so at most one
// request is ever outstanding. Every wait is installed before the
// corresponding send so a reply racing ahead of the wait can never be
// missed.
type CommandCoordinator struct {
	cmdMu sync.Mutex

	channel *PacketChannel
	table   *RendezvousTable
	session *SessionState
	sink    MessageSink
	log     *zap.SugaredLogger

	// pauseRequested is set while a break-triggered pause is in flight
	// (sent, PausedDetails not yet observed) and cleared again by
	// Continue. It coalesces a second OnBreak that lands in the race
	// window between sending Pause and the debuggee reporting paused;
	// outside that window session.IsRunning() already being false does
	// the coalescing.
	pauseRequested atomic.Bool
}

// NewCommandCoordinator wires a coordinator atop channel/table/session.
// sink and log may be nil, treated as NopMessageSink and a no-op logger.
func NewCommandCoordinator(channel *PacketChannel, table *RendezvousTable, session *SessionState, sink MessageSink, log *zap.SugaredLogger) *CommandCoordinator {
	if sink == nil {
		sink = NopMessageSink{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &CommandCoordinator{channel: channel, table: table, session: session, sink: sink, log: log}
}

// Continue resumes a paused debuggee. There is no reply to await: the
// debuggee goes back to executing, so Continue marks the session running
// (clearing the current core) as soon as the packet is on the wire and
// returns. The caller observes the next stop via WaitRunning or Pause.
func (c *CommandCoordinator) Continue() error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.session.IsClosed() {
		return ErrClosed
	}
	if c.session.IsRunning() {
		return newErr(KindNoChange, "continue: debuggee already running", nil)
	}
	if err := c.channel.SendCmd(PacketTypeVMXRoot, ActionContinue); err != nil {
		return err
	}
	c.pauseRequested.Store(false)
	c.session.MarkRunning()
	return nil
}

// Pause interrupts a running debuggee and waits for PausedDetails.
func (c *CommandCoordinator) Pause(ctx context.Context) (PausedDetailsPayload, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.session.IsClosed() {
		return PausedDetailsPayload{}, ErrClosed
	}
	if !c.session.IsRunning() {
		return PausedDetailsPayload{}, newErr(KindNoChange, "pause: debuggee already paused", nil)
	}
	result := make(chan any, 1)
	go func() {
		v, err := c.table.PausedDebuggeeDetails.Wait(ctx)
		if err != nil {
			result <- err
			return
		}
		result <- v
	}()
	if err := c.channel.SendCmd(PacketTypeUserMode, ActionPause); err != nil {
		return PausedDetailsPayload{}, err
	}
	switch v := (<-result).(type) {
	case error:
		return PausedDetailsPayload{}, v
	case PausedDetailsPayload:
		return v, nil
	default:
		return PausedDetailsPayload{}, newErr(KindUnknown, "pause: unexpected rendezvous payload", nil)
	}
}

// OnBreak is the non-blocking half of Pause the break handler goroutine
// calls: it only sends the pause request and returns. The resulting
// PausedDetails packet wakes whoever is parked in the idle WaitRunning
// state. A break while already paused is
// silent (IsRunning is false by then). A second break in the narrow
// race window before PausedDetails has arrived (IsRunning still true)
// is coalesced via pauseRequested rather than sent again: only one
// pause packet ever reaches the wire per pause cycle.
func (c *CommandCoordinator) OnBreak() {
	if c.session.IsClosed() || !c.session.IsRunning() {
		return
	}
	if !c.pauseRequested.CompareAndSwap(false, true) {
		return
	}
	if err := c.channel.SendCmd(PacketTypeUserMode, ActionPause); err != nil {
		c.pauseRequested.Store(false)
		c.log.Warnw("break: send pause failed", "err", err)
	}
}

// Step issues a single-step of the given kind and waits for the
// debuggee to report its next pause.
func (c *CommandCoordinator) Step(ctx context.Context, kind StepKind) (PausedDetailsPayload, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.session.IsClosed() {
		return PausedDetailsPayload{}, ErrClosed
	}
	waitCh := c.waitPaused(ctx)
	payload := StepPayload{Kind: kind}.marshal()
	if err := c.channel.SendCmdWithPayload(PacketTypeVMXRoot, ActionStep, payload); err != nil {
		return PausedDetailsPayload{}, err
	}
	v := <-waitCh
	return v.payload, v.err
}

// SwitchCore requests the debuggee move its active core to newCore.
func (c *CommandCoordinator) SwitchCore(ctx context.Context, newCore uint32) (CoreSwitchResultPayload, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.session.IsClosed() {
		return CoreSwitchResultPayload{}, ErrClosed
	}
	if c.session.CurrentCore() == newCore {
		c.sink.Info("core %d is the active core, not changed", newCore)
		return CoreSwitchResultPayload{Result: ResultOK}, newErr(KindNoChange, "switch-core: core not changed", nil)
	}

	result := make(chan any, 1)
	go func() {
		v, err := c.table.CoreSwitchingResult.Wait(ctx)
		if err != nil {
			result <- err
			return
		}
		result <- v
	}()
	payload := ChangeCorePayload{NewCore: newCore}.marshal()
	if err := c.channel.SendCmdWithPayload(PacketTypeVMXRoot, ActionChangeCore, payload); err != nil {
		return CoreSwitchResultPayload{}, err
	}
	switch v := (<-result).(type) {
	case error:
		return CoreSwitchResultPayload{}, v
	case CoreSwitchResultPayload:
		if v.Result == ResultOK {
			c.session.SetCurrentCore(newCore)
		}
		return v, nil
	default:
		return CoreSwitchResultPayload{}, newErr(KindUnknown, "switch-core: unexpected rendezvous payload", nil)
	}
}

// SwitchProcess either queries the debuggee's current process (getCurrent
// true) or requests a switch to pid.
func (c *CommandCoordinator) SwitchProcess(ctx context.Context, getCurrent bool, pid uint32) (ProcessSwitchResultPayload, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.session.IsClosed() {
		return ProcessSwitchResultPayload{}, ErrClosed
	}
	result := make(chan any, 1)
	go func() {
		v, err := c.table.ProcessSwitchingResult.Wait(ctx)
		if err != nil {
			result <- err
			return
		}
		result <- v
	}()
	payload := ChangeProcessPayload{GetRemotePid: getCurrent, ProcessID: pid}.marshal()
	if err := c.channel.SendCmdWithPayload(PacketTypeVMXRoot, ActionChangeProcess, payload); err != nil {
		return ProcessSwitchResultPayload{}, err
	}
	switch v := (<-result).(type) {
	case error:
		return ProcessSwitchResultPayload{}, v
	case ProcessSwitchResultPayload:
		return v, nil
	default:
		return ProcessSwitchResultPayload{}, newErr(KindUnknown, "switch-process: unexpected rendezvous payload", nil)
	}
}

// RunScript sends a compiled script buffer (or, when isFormat is true,
// a format-string buffer) and waits for the matching result.
func (c *CommandCoordinator) RunScript(ctx context.Context, script []byte, pointer uint32, isFormat bool) (ScriptResultPayload, ScriptFormatResultPayload, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.session.IsClosed() {
		return ScriptResultPayload{}, ScriptFormatResultPayload{}, ErrClosed
	}
	scriptCh := make(chan any, 1)
	formatCh := make(chan any, 1)
	go func() {
		if isFormat {
			v, err := c.table.ScriptFormatsResult.Wait(ctx)
			if err != nil {
				formatCh <- err
				return
			}
			formatCh <- v
			return
		}
		v, err := c.table.ScriptRunningResult.Wait(ctx)
		if err != nil {
			scriptCh <- err
			return
		}
		scriptCh <- v
	}()

	header := ScriptPayloadHeader{Length: uint32(len(script)), Pointer: pointer, IsFormat: isFormat}
	if err := c.channel.SendCmdWithPayload(PacketTypeVMXRoot, ActionRunScript, header.marshal(script)); err != nil {
		return ScriptResultPayload{}, ScriptFormatResultPayload{}, err
	}

	if isFormat {
		switch v := (<-formatCh).(type) {
		case error:
			return ScriptResultPayload{}, ScriptFormatResultPayload{}, v
		case ScriptFormatResultPayload:
			return ScriptResultPayload{}, v, nil
		default:
			return ScriptResultPayload{}, ScriptFormatResultPayload{}, newErr(KindUnknown, "run-script: unexpected rendezvous payload", nil)
		}
	}
	switch v := (<-scriptCh).(type) {
	case error:
		return ScriptResultPayload{}, ScriptFormatResultPayload{}, v
	case ScriptResultPayload:
		return v, ScriptFormatResultPayload{}, nil
	default:
		return ScriptResultPayload{}, ScriptFormatResultPayload{}, newErr(KindUnknown, "run-script: unexpected rendezvous payload", nil)
	}
}

// SendUserInput forwards a raw command-line buffer typed at the
// debugger's REPL (outside this package) to the debuggee and waits for
// the debuggee to report the command finished executing.
func (c *CommandCoordinator) SendUserInput(ctx context.Context, text string) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.session.IsClosed() {
		return ErrClosed
	}
	done := make(chan error, 1)
	go func() {
		_, err := c.table.DebuggeeFinishedCommand.Wait(ctx)
		done <- err
	}()
	buf := []byte(text)
	header := UserInputPayloadHeader{Length: uint32(len(buf))}
	if err := c.channel.SendCmdWithPayload(PacketTypeVMXRoot, ActionUserInputBuffer, header.marshal(buf)); err != nil {
		return err
	}
	return <-done
}

// SendClose issues the two-packet close sequence:
// VMXRoot/CloseAndUnload tells the kernel helper to unload, then
// UserMode/DoNotReadAnyPacket unblocks the debuggee's user-mode reader.
// It does not wait for a reply or close the underlying channel: the
// debuggee is expected to tear down its side and stop producing
// traffic, and the caller owns the channel's lifetime.
func (c *CommandCoordinator) SendClose() error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if err := c.channel.SendCmd(PacketTypeVMXRoot, ActionCloseAndUnload); err != nil {
		return err
	}
	return c.channel.SendCmd(PacketTypeUserMode, ActionDoNotReadAnyPacket)
}

type pausedWaitResult struct {
	payload PausedDetailsPayload
	err     error
}

func (c *CommandCoordinator) waitPaused(ctx context.Context) <-chan pausedWaitResult {
	out := make(chan pausedWaitResult, 1)
	go func() {
		v, err := c.table.PausedDebuggeeDetails.Wait(ctx)
		if err != nil {
			out <- pausedWaitResult{err: err}
			return
		}
		details, ok := v.(PausedDetailsPayload)
		if !ok {
			out <- pausedWaitResult{err: newErr(KindUnknown, "step: unexpected rendezvous payload", nil)}
			return
		}
		out <- pausedWaitResult{payload: details}
	}()
	return out
}
