package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopsync/go/internal/room/events"
	"github.com/mcdev12/coopsync/go/internal/room/presence"
	"github.com/mcdev12/coopsync/go/internal/room/timer"
)

// Registry owns every room's subscriber set and shared state. Construct one
// per process and inject it into the transport handlers.
//
// Each room has its own lock; a mutation and the broadcast that follows it
// happen under that lock, so all subscribers of a room observe one order and
// a new subscriber's FULL_STATE is never interleaved with a mutation.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room

	clock           clockwork.Clock
	policy          Policy
	mirror          Mirror
	defaultDuration time.Duration
	idleTTL         time.Duration
}

// Option configures a Registry
type Option func(*Registry)

func WithClock(clock clockwork.Clock) Option {
	return func(r *Registry) { r.clock = clock }
}

func WithPolicy(p Policy) Option {
	return func(r *Registry) { r.policy = p }
}

func WithMirror(m Mirror) Option {
	return func(r *Registry) { r.mirror = m }
}

// WithDefaultDuration sets the countdown stamped on TIMER_START messages that
// carry no duration.
func WithDefaultDuration(d time.Duration) Option {
	return func(r *Registry) { r.defaultDuration = d }
}

// WithIdleTTL sets how long a room that never had (or no longer has)
// subscribers survives before Sweep removes it.
func WithIdleTTL(d time.Duration) Option {
	return func(r *Registry) { r.idleTTL = d }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		rooms:           make(map[string]*room),
		clock:           clockwork.NewRealClock(),
		policy:          DefaultPolicy(),
		defaultDuration: timer.DefaultDuration,
		idleTTL:         time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers sub with the room and immediately delivers a FULL_STATE
// to it alone. It returns the roster that snapshot carried.
func (r *Registry) Subscribe(roomID string, sub Subscriber) []presence.Player {
	rm := r.lockRoom(roomID)
	defer rm.mu.Unlock()

	rm.subscribers[sub.ID()] = sub
	rm.lastActive = r.clock.Now()
	players := rm.roster.Snapshot()

	env, err := rm.fullState(r.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to build full state")
		return players
	}
	if err := sub.Deliver(env); err != nil {
		log.Warn().
			Err(err).
			Str("room_id", roomID).
			Str("subscriber_id", sub.ID()).
			Msg("failed to deliver full state, dropping subscriber")
		r.dropLocked(context.Background(), rm, []Subscriber{sub})
		return players
	}

	log.Info().
		Str("room_id", roomID).
		Str("subscriber_id", sub.ID()).
		Str("player_id", sub.PlayerID()).
		Int("subscribers", len(rm.subscribers)).
		Int("players", len(players)).
		Msg("subscriber registered")
	return players
}

// Unsubscribe removes sub. When the room's subscriber set becomes empty its
// roster, progress and timer are released.
func (r *Registry) Unsubscribe(roomID string, sub Subscriber) {
	rm := r.lookupRoom(roomID)
	if rm == nil {
		return
	}
	defer rm.mu.Unlock()

	if _, ok := rm.subscribers[sub.ID()]; !ok {
		return
	}
	r.dropLocked(context.Background(), rm, []Subscriber{sub})
}

// Submit applies a client submission to its room and broadcasts the stamped
// envelope to every subscriber, the sender included. It returns once the
// broadcast was handed to the subscribers.
func (r *Registry) Submit(ctx context.Context, s events.Submission) (events.Envelope, error) {
	if err := s.Validate(); err != nil {
		return events.Envelope{}, err
	}

	rm := r.lockRoom(s.RoomID)
	defer rm.mu.Unlock()

	if err := r.authorize(rm, s); err != nil {
		log.Debug().
			Err(err).
			Str("room_id", s.RoomID).
			Str("type", string(s.Type)).
			Str("sender_id", s.SenderID).
			Msg("submission rejected by policy")
		return events.Envelope{}, err
	}
	return r.applyLocked(ctx, rm, s)
}

// ApplyRosterOp mutates a room's roster without broadcasting and returns the
// updated roster.
func (r *Registry) ApplyRosterOp(roomID string, op presence.Op) []presence.Player {
	rm := r.lockRoom(roomID)
	defer rm.mu.Unlock()

	rm.applyRoster(op)
	rm.lastActive = r.clock.Now()
	return rm.roster.Snapshot()
}

// Snapshot returns the current state of a room without creating it.
func (r *Registry) Snapshot(roomID string) (RoomState, bool) {
	rm := r.lookupRoom(roomID)
	if rm == nil {
		return RoomState{}, false
	}
	defer rm.mu.Unlock()
	return rm.state(), true
}

// Stats counts rooms and their subscribers.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	stats := Stats{PerRoom: make(map[string]int, len(rooms))}
	for _, rm := range rooms {
		rm.mu.Lock()
		if !rm.closed {
			n := len(rm.subscribers)
			stats.Rooms++
			stats.Subscribers += n
			stats.PerRoom[rm.id] = n
		}
		rm.mu.Unlock()
	}
	return stats
}

// Sweep removes rooms without subscribers that have been idle for the idle
// TTL. Such rooms exist when messages arrive before anyone subscribes.
func (r *Registry) Sweep() int {
	now := r.clock.Now()

	r.mu.Lock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	removed := 0
	for _, rm := range rooms {
		rm.mu.Lock()
		if !rm.closed && len(rm.subscribers) == 0 && now.Sub(rm.lastActive) >= r.idleTTL {
			r.closeLocked(rm)
			removed++
		}
		rm.mu.Unlock()
	}
	if removed > 0 {
		log.Debug().Int("rooms", removed).Msg("swept idle rooms")
	}
	return removed
}

// Run sweeps idle rooms every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	log.Info().Dur("interval", interval).Msg("room registry sweeper started")
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("room registry sweeper shutting down")
			return
		case <-ticker.Chan():
			r.Sweep()
		}
	}
}

// lockRoom returns the room locked, creating it if needed. A room closed
// between lookup and locking is retried so callers never touch a dead room.
func (r *Registry) lockRoom(roomID string) *room {
	for {
		r.mu.Lock()
		rm, ok := r.rooms[roomID]
		if !ok {
			rm = newRoom(roomID, r.policy.StrictHost, r.clock.Now())
			r.rooms[roomID] = rm
		}
		r.mu.Unlock()

		rm.mu.Lock()
		if !rm.closed {
			return rm
		}
		rm.mu.Unlock()
	}
}

// lookupRoom returns the room locked, or nil if it does not exist.
func (r *Registry) lookupRoom(roomID string) *room {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	rm.mu.Lock()
	if rm.closed {
		rm.mu.Unlock()
		return nil
	}
	return rm
}

// closeLocked marks rm dead and removes it from the registry. Caller holds
// rm.mu; the registry lock is never held while waiting for a room lock.
func (r *Registry) closeLocked(rm *room) {
	rm.closed = true
	r.mu.Lock()
	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
	}
	r.mu.Unlock()
	log.Info().Str("room_id", rm.id).Msg("room released")
}

// dropLocked removes subscribers, emits a LEAVE for players who lost their
// last connection, and releases the room once nobody is left. Broadcasting a
// LEAVE may drop further dead subscribers; those are handled in turn.
func (r *Registry) dropLocked(ctx context.Context, rm *room, dropped []Subscriber) {
	for len(dropped) > 0 {
		sub := dropped[0]
		dropped = dropped[1:]

		if _, ok := rm.subscribers[sub.ID()]; !ok {
			continue
		}
		delete(rm.subscribers, sub.ID())
		log.Info().
			Str("room_id", rm.id).
			Str("subscriber_id", sub.ID()).
			Int("subscribers", len(rm.subscribers)).
			Msg("subscriber unregistered")

		playerID := sub.PlayerID()
		if !r.policy.LeaveOnDisconnect || playerID == "" || !rm.roster.Contains(playerID) || rm.hasPlayerConnection(playerID) {
			continue
		}
		leave, err := events.NewSubmission(rm.id, events.TypeLeave, playerID, events.LeavePayload{PlayerID: playerID})
		if err != nil {
			continue
		}
		rm.applyRoster(presence.Op{Kind: presence.OpLeave, PlayerID: playerID})
		env := r.stamp(rm, leave)
		dropped = append(dropped, r.broadcastLocked(ctx, rm, env)...)
	}

	if len(rm.subscribers) == 0 {
		r.closeLocked(rm)
	}
}

// applyLocked mutates room state for s, stamps and broadcasts the envelope.
func (r *Registry) applyLocked(ctx context.Context, rm *room, s events.Submission) (events.Envelope, error) {
	if s.Type == events.TypeTimerStart {
		stamped, err := r.stampTimer(s.Payload)
		if err != nil {
			return events.Envelope{}, err
		}
		s.Payload = stamped
	}
	payload, err := rm.apply(s)
	if err != nil {
		return events.Envelope{}, fmt.Errorf("failed to apply %s: %w", s.Type, err)
	}
	s.Payload = payload

	env := r.stamp(rm, s)
	rm.lastActive = r.clock.Now()
	if dropped := r.broadcastLocked(ctx, rm, env); len(dropped) > 0 {
		r.dropLocked(ctx, rm, dropped)
	}
	return env, nil
}

// stampTimer fills in the server epoch and default duration of TIMER_START.
func (r *Registry) stampTimer(raw []byte) ([]byte, error) {
	p, err := events.DecodeOptional[events.TimerStartPayload](raw)
	if err != nil {
		return nil, err
	}
	if p.Start == 0 {
		p.Start = r.clock.Now().UnixMilli()
	}
	if p.DurationSeconds <= 0 {
		p.DurationSeconds = int(r.defaultDuration / time.Second)
	}
	return events.Encode(p)
}
