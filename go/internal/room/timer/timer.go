package timer

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultDuration is the countdown length when the host does not send one.
const DefaultDuration = 120 * time.Second

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) clockwork.Ticker
}

// State is one countdown epoch as broadcast by the host. No ticking state is
// kept anywhere; everyone derives the remainder from Epoch and Duration.
type State struct {
	Epoch    time.Time
	Duration time.Duration
}

// FromPayload builds a State from a TIMER_START payload. start is unix
// milliseconds.
func FromPayload(start int64, durationSeconds int) State {
	d := DefaultDuration
	if durationSeconds > 0 {
		d = time.Duration(durationSeconds) * time.Second
	}
	return State{Epoch: time.UnixMilli(start), Duration: d}
}

// EpochMillis returns the epoch as unix milliseconds, the epoch's identity on
// the wire.
func (s State) EpochMillis() int64 {
	return s.Epoch.UnixMilli()
}

// RemainingSeconds is max(0, duration - whole seconds elapsed since epoch).
// A now before the epoch (clock skew) reports the full duration.
func (s State) RemainingSeconds(now time.Time) int {
	total := int(s.Duration / time.Second)
	elapsed := now.Sub(s.Epoch)
	if elapsed <= 0 {
		return total
	}
	left := total - int(elapsed/time.Second)
	if left < 0 {
		return 0
	}
	return left
}

// Expired reports whether the countdown reached zero at now.
func (s State) Expired(now time.Time) bool {
	return s.RemainingSeconds(now) == 0
}

// Synchronizer derives a local countdown from the last epoch it was given.
// It is safe for concurrent use.
type Synchronizer struct {
	clock  Clock
	offset *Offset

	mu      sync.RWMutex
	state   State
	running bool
}

// NewSynchronizer creates a synchronizer. A nil clock means the real clock.
func NewSynchronizer(clock Clock) *Synchronizer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Synchronizer{clock: clock, offset: &Offset{}}
}

// Offset exposes the server clock estimator fed by received envelopes.
func (s *Synchronizer) Offset() *Offset {
	return s.offset
}

// Start installs a new epoch. Receiving the same epoch again is a no-op and
// returns false.
func (s *Synchronizer) Start(state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.state.Epoch.Equal(state.Epoch) && s.state.Duration == state.Duration {
		return false
	}
	s.state = state
	s.running = true
	return true
}

// Stop forgets the current epoch.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.state = State{}
}

// State returns the current epoch, if one was started.
func (s *Synchronizer) State() (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.running
}

// ServerNow is the local clock corrected by the estimated server offset.
func (s *Synchronizer) ServerNow() time.Time {
	return s.offset.ServerNow(s.clock.Now())
}

// RemainingSeconds returns the remainder of the running epoch. Without an
// epoch it returns -1.
func (s *Synchronizer) RemainingSeconds() int {
	st, ok := s.State()
	if !ok {
		return -1
	}
	return st.RemainingSeconds(s.ServerNow())
}

// Expired reports whether a running epoch has reached zero.
func (s *Synchronizer) Expired() bool {
	return s.RemainingSeconds() == 0
}

// Run re-evaluates the countdown every interval and calls onTick with the
// remaining seconds while an epoch is running. It blocks until ctx is done.
func (s *Synchronizer) Run(ctx context.Context, interval time.Duration, onTick func(remaining int)) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if remaining := s.RemainingSeconds(); remaining >= 0 {
				onTick(remaining)
			}
		}
	}
}
