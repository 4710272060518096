package kdtransport

import (
	"encoding/binary"
	"fmt"
)

// Indicator is the magic constant identifying this protocol on the wire.
const Indicator uint32 = 0x4B444247 // "KDBG" packed little-endian

// NoCore is the sentinel CurrentCore value meaning "the debuggee is
// running, no core is stopped".
const NoCore uint32 = 0xFFFFFFFF

// PacketType partitions traffic into the two planes the debuggee's
// kernel helper understands.
type PacketType uint32

const (
	PacketTypeUnknown PacketType = iota
	PacketTypeVMXRoot
	PacketTypeUserMode
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeVMXRoot:
		return "vmx-root"
	case PacketTypeUserMode:
		return "user-mode"
	default:
		return "unknown"
	}
}

// PacketAction enumerates the request/event kinds carried within a
// plane, across both directions of the wire.
type PacketAction uint32

const (
	ActionUnknown PacketAction = iota

	// Debugger -> debuggee, VMX-root plane.
	ActionContinue
	ActionStep
	ActionChangeCore
	ActionChangeProcess
	ActionRunScript
	ActionUserInputBuffer
	ActionCloseAndUnload

	// Debugger -> debuggee, user-mode plane.
	ActionPause
	ActionDoNotReadAnyPacket

	// Debuggee -> debugger.
	ActionStarted
	ActionPausedDetails
	ActionCoreSwitchResult
	ActionProcessSwitchResult
	ActionScriptResult
	ActionScriptFormatResult
	ActionFinishedCommand
	ActionUsermodePrint
)

func (a PacketAction) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionStep:
		return "step"
	case ActionChangeCore:
		return "change-core"
	case ActionChangeProcess:
		return "change-process"
	case ActionRunScript:
		return "run-script"
	case ActionUserInputBuffer:
		return "user-input"
	case ActionCloseAndUnload:
		return "close-and-unload"
	case ActionPause:
		return "pause"
	case ActionDoNotReadAnyPacket:
		return "do-not-read"
	case ActionStarted:
		return "started"
	case ActionPausedDetails:
		return "paused-details"
	case ActionCoreSwitchResult:
		return "core-switch-result"
	case ActionProcessSwitchResult:
		return "process-switch-result"
	case ActionScriptResult:
		return "script-result"
	case ActionScriptFormatResult:
		return "script-format-result"
	case ActionFinishedCommand:
		return "finished-command"
	case ActionUsermodePrint:
		return "usermode-print"
	default:
		return "unknown"
	}
}

// StepKind distinguishes the two stepping modes CommandCoordinator.Step
// accepts. It is always marshalled into the outgoing step packet so the
// debuggee knows which kind was requested.
type StepKind uint32

const (
	StepIn StepKind = iota
	StepOut
)

func (k StepKind) String() string {
	if k == StepOut {
		return "step-out"
	}
	return "step-in"
}

// PausedEventType records why the debuggee stopped, carried in
// PausedDetailsPayload.
type PausedEventType uint32

const (
	PausedEventUnknown PausedEventType = iota
	PausedEventPauseRequest
	PausedEventStepComplete
	PausedEventBreakpointHit
)

// ResultCode is the generic success/failure code embedded in *Result
// payloads.
type ResultCode uint32

const (
	ResultOK ResultCode = iota
	ResultFailed
)

func (r ResultCode) String() string {
	if r == ResultOK {
		return "ok"
	}
	return "failed"
}

// HeaderSize is the fixed, wire-encoded size of Header.
const HeaderSize = 4 + 4 + 4

// Header is the fixed-size prefix of every packet.
type Header struct {
	Indicator uint32
	Type      PacketType
	Action    PacketAction
}

func (h Header) marshal() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Indicator)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Type))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Action))
	return buf
}

func unmarshalHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, newErr(KindOversizedFrame, "packet header truncated", nil)
	}
	return Header{
		Indicator: binary.LittleEndian.Uint32(buf[0:4]),
		Type:      PacketType(binary.LittleEndian.Uint32(buf[4:8])),
		Action:    PacketAction(binary.LittleEndian.Uint32(buf[8:12])),
	}, nil
}

// ChangeCorePayload requests the debuggee switch its active core.
type ChangeCorePayload struct {
	NewCore uint32
}

func (p ChangeCorePayload) marshal() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, p.NewCore)
	return buf
}

// ChangeProcessPayload either queries the current process or requests a
// switch to ProcessID.
type ChangeProcessPayload struct {
	GetRemotePid bool
	ProcessID    uint32
}

func (p ChangeProcessPayload) marshal() []byte {
	buf := make([]byte, 8)
	if p.GetRemotePid {
		binary.LittleEndian.PutUint32(buf[0:4], 1)
	}
	binary.LittleEndian.PutUint32(buf[4:8], p.ProcessID)
	return buf
}

// StepPayload carries the stepping mode; see REDESIGN FLAGS.
type StepPayload struct {
	Kind StepKind
}

func (p StepPayload) marshal() []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(p.Kind))
	return buf
}

// ScriptPayloadHeader precedes the raw script bytes in a run-script
// packet.
type ScriptPayloadHeader struct {
	Length   uint32
	Pointer  uint32
	IsFormat bool
}

func (p ScriptPayloadHeader) marshal(script []byte) []byte {
	buf := make([]byte, 12+len(script))
	binary.LittleEndian.PutUint32(buf[0:4], p.Length)
	binary.LittleEndian.PutUint32(buf[4:8], p.Pointer)
	if p.IsFormat {
		binary.LittleEndian.PutUint32(buf[8:12], 1)
	}
	copy(buf[12:], script)
	return buf
}

// UserInputPayloadHeader precedes the raw UTF-8 command bytes in a
// user-input packet.
type UserInputPayloadHeader struct {
	Length uint32
}

func (p UserInputPayloadHeader) marshal(text []byte) []byte {
	buf := make([]byte, 4+len(text))
	binary.LittleEndian.PutUint32(buf[0:4], p.Length)
	copy(buf[4:], text)
	return buf
}

// PausedDetailsPayload is delivered when the debuggee stops.
type PausedDetailsPayload struct {
	Core      uint32
	EventType PausedEventType
}

func unmarshalPausedDetails(buf []byte) (PausedDetailsPayload, error) {
	if len(buf) < 8 {
		return PausedDetailsPayload{}, fmt.Errorf("paused-details payload too short: %d bytes", len(buf))
	}
	return PausedDetailsPayload{
		Core:      binary.LittleEndian.Uint32(buf[0:4]),
		EventType: PausedEventType(binary.LittleEndian.Uint32(buf[4:8])),
	}, nil
}

// CoreSwitchResultPayload reports the outcome of a change-core request.
type CoreSwitchResultPayload struct {
	Result ResultCode
}

func unmarshalCoreSwitchResult(buf []byte) (CoreSwitchResultPayload, error) {
	if len(buf) < 4 {
		return CoreSwitchResultPayload{}, fmt.Errorf("core-switch-result payload too short: %d bytes", len(buf))
	}
	return CoreSwitchResultPayload{Result: ResultCode(binary.LittleEndian.Uint32(buf[0:4]))}, nil
}

// ProcessSwitchResultPayload reports the outcome of a change-process
// request, or the current process when queried.
type ProcessSwitchResultPayload struct {
	Result    ResultCode
	ProcessID uint32
}

func unmarshalProcessSwitchResult(buf []byte) (ProcessSwitchResultPayload, error) {
	if len(buf) < 8 {
		return ProcessSwitchResultPayload{}, fmt.Errorf("process-switch-result payload too short: %d bytes", len(buf))
	}
	return ProcessSwitchResultPayload{
		Result:    ResultCode(binary.LittleEndian.Uint32(buf[0:4])),
		ProcessID: binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// ScriptResultPayload reports whether the script engine ran to
// completion.
type ScriptResultPayload struct {
	Result ResultCode
}

func unmarshalScriptResult(buf []byte) (ScriptResultPayload, error) {
	if len(buf) < 4 {
		return ScriptResultPayload{}, fmt.Errorf("script-result payload too short: %d bytes", len(buf))
	}
	return ScriptResultPayload{Result: ResultCode(binary.LittleEndian.Uint32(buf[0:4]))}, nil
}

// ScriptFormatResultPayload carries the formatted-print text a script
// produced, preceded by its length.
type ScriptFormatResultPayload struct {
	Text string
}

func unmarshalScriptFormatResult(buf []byte) (ScriptFormatResultPayload, error) {
	if len(buf) < 4 {
		return ScriptFormatResultPayload{}, fmt.Errorf("script-format-result payload too short: %d bytes", len(buf))
	}
	length := binary.LittleEndian.Uint32(buf[0:4])
	if uint32(len(buf)-4) < length {
		return ScriptFormatResultPayload{}, fmt.Errorf("script-format-result payload truncated: want %d have %d", length, len(buf)-4)
	}
	return ScriptFormatResultPayload{Text: string(buf[4 : 4+length])}, nil
}
