package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type is the closed tag carried by every envelope
type Type string

const (
	TypeJoin         Type = "JOIN"
	TypeUpdate       Type = "UPDATE"
	TypeLeave        Type = "LEAVE"
	TypeFullState    Type = "FULL_STATE"
	TypeStart        Type = "START"
	TypeTimerStart   Type = "TIMER_START"
	TypeRiddleSolved Type = "RIDDLE_SOLVED"
	TypeSequenceStep Type = "SEQUENCE_STEP"

	// TypeSequenceClick is the browser calibration game's step message. Its
	// step is the index just entered rather than the step reached.
	TypeSequenceClick Type = "PUZZLE1_CLICK"
)

var knownTypes = map[Type]bool{
	TypeJoin:         true,
	TypeUpdate:       true,
	TypeLeave:        true,
	TypeFullState:    true,
	TypeStart:        true,
	TypeTimerStart:   true,
	TypeRiddleSolved: true,
	TypeSequenceStep: true,

	TypeSequenceClick: true,
}

// Known reports whether t is part of the protocol. Unknown types are still
// relayed verbatim; consumers ignore them.
func (t Type) Known() bool {
	return knownTypes[t]
}

// IsRosterOp reports whether t mutates the roster.
func (t Type) IsRosterOp() bool {
	return t == TypeJoin || t == TypeUpdate || t == TypeLeave
}

// IsProgress reports whether t carries a puzzle progress marker.
func (t Type) IsProgress() bool {
	return t == TypeRiddleSolved || t == TypeSequenceStep || t == TypeSequenceClick
}

var (
	// ErrMalformed is the parent of every submission validation error.
	ErrMalformed = errors.New("malformed submission")

	ErrMissingRoom   = fmt.Errorf("%w: roomId required", ErrMalformed)
	ErrMissingType   = fmt.Errorf("%w: type required", ErrMalformed)
	ErrReservedType  = fmt.Errorf("%w: FULL_STATE is server-only", ErrMalformed)
	ErrMissingPlayer = fmt.Errorf("%w: player id required", ErrMalformed)
	ErrBadPayload    = fmt.Errorf("%w: invalid payload", ErrMalformed)
)

// Envelope is the unit delivered to room subscribers. It is stamped by the
// server at broadcast time and treated as immutable afterwards.
type Envelope struct {
	ID              string          `json:"id"`
	Type            Type            `json:"type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	SenderID        string          `json:"senderId,omitempty"`
	RoomID          string          `json:"roomId"`
	ServerTimestamp int64           `json:"ts"`  // unix milliseconds
	Seq             int64           `json:"seq"` // per-room broadcast order
}

// Time returns the server timestamp as a time.Time.
func (e Envelope) Time() time.Time {
	return time.UnixMilli(e.ServerTimestamp)
}

// Submission is an envelope as submitted by a client, before the server
// stamps it.
type Submission struct {
	RoomID   string          `json:"roomId"`
	Type     Type            `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	SenderID string          `json:"senderId,omitempty"`
}

// Validate rejects submissions that cannot be routed. It does not inspect
// payloads of unknown types.
func (s Submission) Validate() error {
	if s.RoomID == "" {
		return ErrMissingRoom
	}
	if s.Type == "" {
		return ErrMissingType
	}
	if s.Type == TypeFullState {
		return ErrReservedType
	}
	return nil
}

// NewSubmission encodes payload and builds a submission.
func NewSubmission(roomID string, t Type, senderID string, payload any) (Submission, error) {
	raw, err := Encode(payload)
	if err != nil {
		return Submission{}, err
	}
	return Submission{RoomID: roomID, Type: t, Payload: raw, SenderID: senderID}, nil
}

// Encode marshals a payload. A nil payload encodes to nothing.
func Encode(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

// Decode unmarshals a raw payload into T.
func Decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, ErrBadPayload
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return v, nil
}
