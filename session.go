package kdtransport

import "sync"

// Role is which side of the connection this process plays.
type Role int

const (
	RoleUnconnected Role = iota
	RoleDebugger
	RoleDebuggee
)

func (r Role) String() string {
	switch r {
	case RoleDebugger:
		return "debugger"
	case RoleDebuggee:
		return "debuggee"
	default:
		return "unconnected"
	}
}

// LinkKind is which transport kind backs the connection.
type LinkKind int

const (
	LinkNone LinkKind = iota
	LinkSerial
	LinkNamedPipe
)

// Snapshot is an immutable copy of SessionState at one instant, used by
// tests and anything that wants to observe state without holding the
// lock.
type Snapshot struct {
	Role          Role
	Link          LinkKind
	Running       bool
	CurrentCore   uint32
	ConnClosed    bool
	ModulesLoaded bool
}

// SessionState is the process-wide, mutex-guarded record of the
// connection: role, link kind, running-vs-paused, the active remote
// core, and the teardown latch. Accessors are deliberately narrow:
// nothing outside this file flips these flags directly.
type SessionState struct {
	mu sync.Mutex

	role          Role
	link          LinkKind
	running       bool
	currentCore   uint32
	connClosed    bool
	modulesLoaded bool
}

// NewSessionState returns a SessionState in the Unconnected role with no
// core selected.
func NewSessionState() *SessionState {
	return &SessionState{currentCore: NoCore}
}

func (s *SessionState) SetRole(r Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = r
}

func (s *SessionState) SetLink(l LinkKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.link = l
}

// MarkRunning transitions to running and clears the current core, per
// the invariant running ⇒ CurrentCore == NoCore.
func (s *SessionState) MarkRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.currentCore = NoCore
}

// MarkPaused transitions to paused at the given core.
func (s *SessionState) MarkPaused(core uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.currentCore = core
}

func (s *SessionState) SetCurrentCore(core uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentCore = core
}

// MarkClosed trips the teardown latch and reports whether this call was
// the one that tripped it (false means a prior call already had).
func (s *SessionState) MarkClosed() (tripped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connClosed {
		return false
	}
	s.connClosed = true
	return true
}

func (s *SessionState) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connClosed
}

func (s *SessionState) SetModulesLoaded(loaded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modulesLoaded = loaded
}

// Reset returns the session to its Unconnected, freshly-created state.
// Called once by Connection.teardown at the end of teardown.
func (s *SessionState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = RoleUnconnected
	s.link = LinkNone
	s.running = false
	s.currentCore = NoCore
	s.connClosed = false
	s.modulesLoaded = false
}

// IsRunning reports the running flag.
func (s *SessionState) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// CurrentCore reports the currently selected core.
func (s *SessionState) CurrentCore() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentCore
}

// Snapshot returns an immutable copy of the whole state.
func (s *SessionState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Role:          s.role,
		Link:          s.link,
		Running:       s.running,
		CurrentCore:   s.currentCore,
		ConnClosed:    s.connClosed,
		ModulesLoaded: s.modulesLoaded,
	}
}
