package registry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/mcdev12/coopsync/go/internal/room/events"
	"github.com/mcdev12/coopsync/go/internal/room/presence"
	"github.com/mcdev12/coopsync/go/internal/room/puzzle"
)

// room is the state of one room. Every field is guarded by mu.
type room struct {
	id     string
	mu     sync.Mutex
	closed bool

	subscribers map[string]Subscriber
	roster      presence.Roster
	progress    puzzle.Progress
	timer       *events.TimerStartPayload

	started        bool
	mode           puzzle.Mode
	sequenceLength int

	seq        int64
	createdAt  time.Time
	lastActive time.Time
}

func newRoom(id string, strictHost bool, now time.Time) *room {
	return &room{
		id:          id,
		subscribers: make(map[string]Subscriber),
		roster:      presence.Roster{StrictHost: strictHost},
		progress:    make(puzzle.Progress),
		mode:        puzzle.ModeRiddle,
		createdAt:   now,
		lastActive:  now,
	}
}

// apply mutates the room for one submission and returns the payload to
// broadcast. JOIN and UPDATE are re-encoded from the stored entry when the
// roster rules changed the player, so receivers hold exactly what the room
// holds. Unknown types change nothing.
func (rm *room) apply(s events.Submission) (json.RawMessage, error) {
	switch {
	case s.Type.IsRosterOp():
		op, _, err := events.RosterOp(s.Type, s.Payload)
		if err != nil {
			return nil, err
		}
		rm.applyRoster(op)
		if op.Kind == presence.OpLeave {
			return s.Payload, nil
		}
		stored, ok := rm.roster.Get(op.Player.ID)
		if !ok || stored == op.Player {
			return s.Payload, nil
		}
		return events.Encode(events.PlayerPayload{Player: stored})

	case s.Type == events.TypeStart:
		p, err := events.DecodeOptional[events.StartPayload](s.Payload)
		if err != nil {
			return nil, err
		}
		rm.started = true
		rm.mode = puzzle.ParseMode(p.Mode)
		rm.sequenceLength = p.SequenceLength

	case s.Type == events.TypeTimerStart:
		p, err := events.DecodeOptional[events.TimerStartPayload](s.Payload)
		if err != nil {
			return nil, err
		}
		rm.timer = &p
		rm.started = true
		rm.progress.Reset()

	case s.Type.IsProgress():
		id, marker, err := events.ProgressOp(s.Type, s.Payload)
		if err != nil {
			return nil, err
		}
		// progress only ever holds ids on the current roster, in the room's mode
		if rm.roster.Contains(id) && rm.mode.Accepts(marker.Kind) {
			rm.progress.Record(id, marker)
		}
	}
	return s.Payload, nil
}

// applyRoster applies op and purges progress of players who left.
func (rm *room) applyRoster(op presence.Op) {
	rm.roster.Apply(op)
	if op.Kind == presence.OpLeave {
		rm.progress.Forget(op.PlayerID)
	}
}

func (rm *room) hasPlayerConnection(playerID string) bool {
	for _, sub := range rm.subscribers {
		if sub.PlayerID() == playerID {
			return true
		}
	}
	return false
}

// fullState builds the FULL_STATE envelope for one new subscriber. It carries
// the current seq without advancing it: FULL_STATE is not part of the room's
// broadcast order.
func (rm *room) fullState(now time.Time) (events.Envelope, error) {
	payload := events.FullStatePayload{
		Players:  rm.roster.Snapshot(),
		Started:  rm.started,
		Timer:    rm.timer,
		Progress: progressEntries(rm.progress),
	}
	if rm.started {
		payload.Mode = string(rm.mode)
		payload.SequenceLength = rm.sequenceLength
	}
	raw, err := events.Encode(payload)
	if err != nil {
		return events.Envelope{}, err
	}
	return events.Envelope{
		ID:              newEnvelopeID(),
		Type:            events.TypeFullState,
		Payload:         raw,
		RoomID:          rm.id,
		ServerTimestamp: now.UnixMilli(),
		Seq:             rm.seq,
	}, nil
}

func (rm *room) state() RoomState {
	st := RoomState{
		RoomID:      rm.id,
		Players:     rm.roster.Snapshot(),
		Started:     rm.started,
		Timer:       rm.timer,
		Progress:    progressEntries(rm.progress),
		Subscribers: len(rm.subscribers),
		Seq:         rm.seq,
		CreatedAt:   rm.createdAt,
	}
	if rm.started {
		st.Mode = string(rm.mode)
	}
	return st
}

func progressEntries(p puzzle.Progress) map[string]events.ProgressEntry {
	out := make(map[string]events.ProgressEntry, len(p))
	for id, m := range p {
		switch m.Kind {
		case puzzle.KindSolved:
			out[id] = events.ProgressEntry{Solved: m.Solved}
		case puzzle.KindStep:
			out[id] = events.ProgressEntry{Step: m.Step}
		}
	}
	return out
}
