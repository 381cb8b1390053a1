package events

import (
	"encoding/json"

	"github.com/mcdev12/coopsync/go/internal/room/presence"
	"github.com/mcdev12/coopsync/go/internal/room/puzzle"
)

// Payload types shared by the server registry and clients

// PlayerPayload is the payload of JOIN and UPDATE
type PlayerPayload struct {
	Player presence.Player `json:"player"`
}

// LeavePayload is the payload of LEAVE
type LeavePayload struct {
	PlayerID string `json:"playerId"`
}

// StartPayload is the payload of START
type StartPayload struct {
	StartedBy      string `json:"startedBy"`
	Mode           string `json:"mode,omitempty"`
	SequenceLength int    `json:"sequenceLength,omitempty"`
}

// TimerStartPayload is the payload of TIMER_START. Start is unix milliseconds;
// a zero Start is stamped by the server with the broadcast timestamp.
type TimerStartPayload struct {
	Start           int64 `json:"start"`
	DurationSeconds int   `json:"durationSeconds,omitempty"`
}

// RiddleSolvedPayload is the payload of RIDDLE_SOLVED
type RiddleSolvedPayload struct {
	PlayerID string `json:"playerId"`
}

// SequenceStepPayload is the payload of SEQUENCE_STEP
type SequenceStepPayload struct {
	PlayerID string `json:"playerId"`
	Step     int    `json:"step"`
}

// ProgressEntry is one player's marker in a FULL_STATE snapshot.
type ProgressEntry struct {
	Solved bool `json:"solved,omitempty"`
	Step   int  `json:"step,omitempty"`
}

// FullStatePayload is sent to a single new subscriber. Only Players is
// required; the rest lets a late joiner pick up a session already underway.
type FullStatePayload struct {
	Players        []presence.Player        `json:"players"`
	Started        bool                     `json:"started,omitempty"`
	Mode           string                   `json:"mode,omitempty"`
	SequenceLength int                      `json:"sequenceLength,omitempty"`
	Timer          *TimerStartPayload       `json:"timer,omitempty"`
	Progress       map[string]ProgressEntry `json:"progress,omitempty"`
}

// RosterOp decodes a JOIN, UPDATE or LEAVE payload into a roster operation.
// ok is false for every other type.
func RosterOp(t Type, raw json.RawMessage) (op presence.Op, ok bool, err error) {
	switch t {
	case TypeJoin, TypeUpdate:
		p, err := Decode[PlayerPayload](raw)
		if err != nil {
			return op, true, err
		}
		if p.Player.ID == "" {
			return op, true, ErrMissingPlayer
		}
		kind := presence.OpJoin
		if t == TypeUpdate {
			kind = presence.OpUpdate
		}
		return presence.Op{Kind: kind, Player: p.Player}, true, nil
	case TypeLeave:
		p, err := Decode[LeavePayload](raw)
		if err != nil {
			return op, true, err
		}
		if p.PlayerID == "" {
			return op, true, ErrMissingPlayer
		}
		return presence.Op{Kind: presence.OpLeave, PlayerID: p.PlayerID}, true, nil
	default:
		return op, false, nil
	}
}

// SubjectPlayer returns the player a roster or progress message is about.
func SubjectPlayer(t Type, raw json.RawMessage) (string, error) {
	switch t {
	case TypeJoin, TypeUpdate, TypeLeave:
		op, _, err := RosterOp(t, raw)
		if err != nil {
			return "", err
		}
		if op.Kind == presence.OpLeave {
			return op.PlayerID, nil
		}
		return op.Player.ID, nil
	case TypeRiddleSolved, TypeSequenceStep, TypeSequenceClick:
		id, _, err := ProgressOp(t, raw)
		return id, err
	default:
		return "", nil
	}
}

// ProgressOp decodes a progress message into the player it concerns and the
// marker it records. Other types yield an empty id and a zero marker.
func ProgressOp(t Type, raw json.RawMessage) (playerID string, marker puzzle.Marker, err error) {
	switch t {
	case TypeRiddleSolved:
		p, err := Decode[RiddleSolvedPayload](raw)
		if err != nil {
			return "", marker, err
		}
		playerID, marker = p.PlayerID, puzzle.SolvedMarker()
	case TypeSequenceStep, TypeSequenceClick:
		p, err := Decode[SequenceStepPayload](raw)
		if err != nil {
			return "", marker, err
		}
		step := p.Step
		if t == TypeSequenceClick {
			step++
		}
		playerID, marker = p.PlayerID, puzzle.StepMarker(step)
	default:
		return "", marker, nil
	}
	if playerID == "" {
		return "", marker, ErrMissingPlayer
	}
	return playerID, marker, nil
}

// DecodeOptional is Decode for payloads that may be absent; an empty or null
// payload yields the zero value.
func DecodeOptional[T any](raw json.RawMessage) (T, error) {
	if len(raw) == 0 || string(raw) == "null" {
		var zero T
		return zero, nil
	}
	return Decode[T](raw)
}
