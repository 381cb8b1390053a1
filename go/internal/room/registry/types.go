package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/coopsync/go/internal/room/events"
	"github.com/mcdev12/coopsync/go/internal/room/presence"
)

var (
	// ErrForbidden is the parent of every policy rejection.
	ErrForbidden = errors.New("forbidden")

	ErrNotHost  = fmt.Errorf("%w: only the host may send this message", ErrForbidden)
	ErrNotOwner = fmt.Errorf("%w: players may only act for themselves", ErrForbidden)
)

// Subscriber is a live connection to one room. Deliver must not block; an
// error means the connection is gone and it is dropped from the room.
type Subscriber interface {
	ID() string
	// PlayerID is the player behind the connection, or "" if unknown.
	PlayerID() string
	Deliver(env events.Envelope) error
}

// Mirror receives a copy of every broadcast envelope.
type Mirror interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// Policy holds the server-side integrity checks applied to submissions.
type Policy struct {
	// HostOnlyControl accepts START and TIMER_START only from the room's host.
	HostOnlyControl bool
	// OwnerOnlyUpdates accepts JOIN, UPDATE, LEAVE and progress messages only
	// when senderId is the player concerned.
	OwnerOnlyUpdates bool
	// StrictHost keeps isHost fixed once a player exists and allows one host.
	StrictHost bool
	// LeaveOnDisconnect broadcasts a LEAVE when a player's last connection to
	// a room goes away.
	LeaveOnDisconnect bool
}

// DefaultPolicy enables every check.
func DefaultPolicy() Policy {
	return Policy{
		HostOnlyControl:   true,
		OwnerOnlyUpdates:  true,
		StrictHost:        true,
		LeaveOnDisconnect: true,
	}
}

// RoomState is a read-only view of one room.
type RoomState struct {
	RoomID      string                          `json:"room_id"`
	Players     []presence.Player               `json:"players"`
	Started     bool                            `json:"started"`
	Mode        string                          `json:"mode,omitempty"`
	Timer       *events.TimerStartPayload       `json:"timer,omitempty"`
	Progress    map[string]events.ProgressEntry `json:"progress"`
	Subscribers int                             `json:"subscribers"`
	Seq         int64                           `json:"seq"`
	CreatedAt   time.Time                       `json:"created_at"`
}

// Stats summarizes the registry.
type Stats struct {
	Rooms       int            `json:"active_rooms"`
	Subscribers int            `json:"total_connections"`
	PerRoom     map[string]int `json:"room_connections"`
}
