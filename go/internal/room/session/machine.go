package session

import "sync"

// Phase is the session state of a room as seen by one client
type Phase string

const (
	PhaseLobby    Phase = "LOBBY"
	PhaseActive   Phase = "ACTIVE"
	PhaseComplete Phase = "COMPLETE"
	PhaseTimedOut Phase = "TIMED_OUT"
)

// Transition records one phase change.
type Transition struct {
	From  Phase
	To    Phase
	Epoch int64
}

// Machine sequences a room through Lobby -> Active -> (Complete | TimedOut),
// and back to Active when a new epoch begins.
//
// Completion freezes the epoch: once Complete is observed, a late expiry check
// for the same epoch cannot move the session to TimedOut.
type Machine struct {
	mu           sync.Mutex
	phase        Phase
	epoch        int64
	hasEpoch     bool
	onTransition func(Transition)
}

// NewMachine creates a machine in the lobby.
func NewMachine() *Machine {
	return &Machine{phase: PhaseLobby}
}

// OnTransition registers a hook invoked after every phase change. The hook
// runs with the machine locked and must not call back into it.
func (m *Machine) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = fn
}

func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Epoch returns the current epoch, if one has begun.
func (m *Machine) Epoch() (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch, m.hasEpoch
}

// Start handles START: Lobby -> Active. In any other phase it is ignored.
func (m *Machine) Start() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseLobby {
		return false
	}
	m.set(PhaseActive)
	return true
}

// BeginEpoch handles TIMER_START. A new epoch moves any phase to Active and
// lifts the completion freeze; the current epoch again is a no-op.
func (m *Machine) BeginEpoch(epoch int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasEpoch && m.epoch == epoch {
		return false
	}
	m.epoch = epoch
	m.hasEpoch = true
	if m.phase != PhaseActive {
		m.set(PhaseActive)
	}
	return true
}

// Evaluate applies the racing completion and timeout conditions. Completion
// wins when both hold. Outside Active it does nothing.
func (m *Machine) Evaluate(teamComplete, timerExpired bool) Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseActive {
		return m.phase
	}
	switch {
	case teamComplete:
		m.set(PhaseComplete)
	case timerExpired && m.hasEpoch:
		m.set(PhaseTimedOut)
	}
	return m.phase
}

// Reset returns to the lobby and forgets the epoch, as when a room is
// recreated after emptying.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasEpoch = false
	m.epoch = 0
	if m.phase != PhaseLobby {
		m.set(PhaseLobby)
	}
}

func (m *Machine) set(to Phase) {
	t := Transition{From: m.phase, To: to, Epoch: m.epoch}
	m.phase = to
	if m.onTransition != nil {
		m.onTransition(t)
	}
}
