package client

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopsync/go/internal/room/events"
	"github.com/mcdev12/coopsync/go/internal/room/presence"
	"github.com/mcdev12/coopsync/go/internal/room/puzzle"
	"github.com/mcdev12/coopsync/go/internal/room/session"
	"github.com/mcdev12/coopsync/go/internal/room/timer"
)

const seenWindow = 512

// State is one client's view of a room, derived only from the envelopes it
// receives. Two States fed the same envelope sequence reach the same view.
type State struct {
	roomID string
	selfID string
	clock  clockwork.Clock

	mu       sync.Mutex
	roster   presence.Roster
	progress puzzle.Progress
	mode     puzzle.Mode
	seqLen   int
	machine  *session.Machine
	timer    *timer.Synchronizer
	lastSeq  int64
	seen     map[string]struct{}
	seenRing []string
}

// View is a comparable snapshot of a State
type View struct {
	Players     []presence.Player
	Phase       session.Phase
	Mode        puzzle.Mode
	Epoch       int64
	Progress    puzzle.Progress
	CurrentStep int
	Complete    bool
}

type Option func(*State)

func WithClock(clock clockwork.Clock) Option {
	return func(s *State) { s.clock = clock }
}

// WithSelf sets the local player, used to pick the local riddle.
func WithSelf(playerID string) Option {
	return func(s *State) { s.selfID = playerID }
}

// WithStrictHost mirrors the server's one-host rule in the local roster.
func WithStrictHost(strict bool) Option {
	return func(s *State) { s.roster.StrictHost = strict }
}

// WithTransitionHook is called after every session phase change. It runs
// inside Apply or Tick and must not call back into the State.
func WithTransitionHook(fn func(session.Transition)) Option {
	return func(s *State) { s.machine.OnTransition(fn) }
}

func NewState(roomID string, opts ...Option) *State {
	s := &State{
		roomID:   roomID,
		clock:    clockwork.NewRealClock(),
		progress: make(puzzle.Progress),
		mode:     puzzle.ModeRiddle,
		machine:  session.NewMachine(),
		seen:     make(map[string]struct{}, seenWindow),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.timer = timer.NewSynchronizer(s.clock)
	return s
}

// Apply folds one envelope into the state and reports whether it was used.
// Duplicates (same id, or a seq already covered), unknown types and
// envelopes of other rooms are ignored. An unknown type still consumes its
// seq.
func (s *State) Apply(env events.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if env.RoomID != "" && env.RoomID != s.roomID {
		return false
	}
	if s.isDuplicate(env) {
		log.Debug().Str("room_id", s.roomID).Str("envelope_id", env.ID).Int64("seq", env.Seq).Msg("duplicate envelope ignored")
		return false
	}
	if env.ServerTimestamp > 0 {
		s.timer.Offset().Observe(env.Time(), s.clock.Now())
	}
	if !env.Type.Known() {
		log.Debug().Str("room_id", s.roomID).Str("type", string(env.Type)).Msg("unknown envelope type ignored")
		return false
	}

	if err := s.applyLocked(env); err != nil {
		log.Warn().Err(err).Str("room_id", s.roomID).Str("type", string(env.Type)).Msg("envelope ignored")
		return false
	}
	s.evaluateLocked()
	return true
}

func (s *State) isDuplicate(env events.Envelope) bool {
	if env.ID != "" {
		if _, ok := s.seen[env.ID]; ok {
			return true
		}
		s.remember(env.ID)
	}
	if env.Type == events.TypeFullState {
		// a snapshot rebases the sequence, including after room recreation
		s.lastSeq = env.Seq
		return false
	}
	if env.Seq > 0 {
		if env.Seq <= s.lastSeq {
			return true
		}
		if env.Seq > s.lastSeq+1 && s.lastSeq > 0 {
			log.Debug().Str("room_id", s.roomID).Int64("expected", s.lastSeq+1).Int64("got", env.Seq).Msg("sequence gap")
		}
		s.lastSeq = env.Seq
	}
	return false
}

func (s *State) remember(id string) {
	if len(s.seenRing) >= seenWindow {
		delete(s.seen, s.seenRing[0])
		s.seenRing = s.seenRing[1:]
	}
	s.seen[id] = struct{}{}
	s.seenRing = append(s.seenRing, id)
}

func (s *State) applyLocked(env events.Envelope) error {
	switch {
	case env.Type == events.TypeFullState:
		p, err := events.Decode[events.FullStatePayload](env.Payload)
		if err != nil {
			return err
		}
		s.applyFullState(p)

	case env.Type.IsRosterOp():
		op, _, err := events.RosterOp(env.Type, env.Payload)
		if err != nil {
			return err
		}
		s.roster.Apply(op)
		if op.Kind == presence.OpLeave {
			s.progress.Forget(op.PlayerID)
		}

	case env.Type == events.TypeStart:
		p, err := events.DecodeOptional[events.StartPayload](env.Payload)
		if err != nil {
			return err
		}
		s.mode = puzzle.ParseMode(p.Mode)
		s.seqLen = p.SequenceLength
		s.machine.Start()

	case env.Type == events.TypeTimerStart:
		p, err := events.DecodeOptional[events.TimerStartPayload](env.Payload)
		if err != nil {
			return err
		}
		if p.Start == 0 {
			p.Start = env.ServerTimestamp
		}
		s.beginEpoch(p)

	case env.Type.IsProgress():
		id, marker, err := events.ProgressOp(env.Type, env.Payload)
		if err != nil {
			return err
		}
		if s.roster.Contains(id) && s.mode.Accepts(marker.Kind) {
			s.progress.Record(id, marker)
		}
	}
	return nil
}

// beginEpoch installs a timer epoch. Only a new epoch clears progress.
func (s *State) beginEpoch(p events.TimerStartPayload) bool {
	if !s.timer.Start(timer.FromPayload(p.Start, p.DurationSeconds)) {
		return false
	}
	s.progress.Reset()
	s.machine.BeginEpoch(p.Start)
	return true
}

func (s *State) applyFullState(p events.FullStatePayload) {
	s.roster.Replace(p.Players)

	if !p.Started {
		s.mode = puzzle.ModeRiddle
		s.seqLen = 0
		s.timer.Stop()
		s.progress.Reset()
		s.machine.Reset()
		return
	}

	s.mode = puzzle.ParseMode(p.Mode)
	s.seqLen = p.SequenceLength
	s.machine.Start()
	if p.Timer != nil {
		s.beginEpoch(*p.Timer)
	}

	s.progress.Reset()
	for id, e := range p.Progress {
		if !s.roster.Contains(id) {
			continue
		}
		switch {
		case e.Solved:
			s.progress.Record(id, puzzle.SolvedMarker())
		case e.Step > 0:
			s.progress.Record(id, puzzle.StepMarker(e.Step))
		}
	}
}

func (s *State) goal() puzzle.Goal {
	return puzzle.GoalFor(s.mode, s.seqLen)
}

func (s *State) teamCompleteLocked() bool {
	return puzzle.IsTeamComplete(s.roster.IDs(), s.progress, s.goal())
}

func (s *State) evaluateLocked() session.Phase {
	return s.machine.Evaluate(s.teamCompleteLocked(), s.timer.Expired())
}

// Tick re-evaluates the session against the clock and returns the phase.
func (s *State) Tick() session.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evaluateLocked()
}

// Run calls Tick every interval until ctx is done.
func (s *State) Run(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Tick()
		}
	}
}

// Verdict is the current session phase.
func (s *State) Verdict() session.Phase {
	return s.machine.Phase()
}

// TeamComplete reports whether every player on the roster met the goal.
func (s *State) TeamComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teamCompleteLocked()
}

// CurrentStep is the group barrier in sequence mode.
func (s *State) CurrentStep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return puzzle.CurrentStep(s.roster.IDs(), s.progress)
}

// Remaining is the countdown in whole seconds, -1 before any epoch.
func (s *State) Remaining() int {
	return s.timer.RemainingSeconds()
}

func (s *State) Players() []presence.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster.Snapshot()
}

func (s *State) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	epoch, _ := s.machine.Epoch()
	return View{
		Players:     s.roster.Snapshot(),
		Phase:       s.machine.Phase(),
		Mode:        s.mode,
		Epoch:       epoch,
		Progress:    s.progress.Clone(),
		CurrentStep: puzzle.CurrentStep(s.roster.IDs(), s.progress),
		Complete:    s.teamCompleteLocked(),
	}
}
