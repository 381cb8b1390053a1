package registry

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopsync/go/internal/room/events"
)

func newEnvelopeID() string {
	return uuid.New().String()
}

// stamp assigns the broadcast-time identity of an envelope: id, server
// timestamp and the room's next sequence number.
func (r *Registry) stamp(rm *room, s events.Submission) events.Envelope {
	rm.seq++
	return events.Envelope{
		ID:              newEnvelopeID(),
		Type:            s.Type,
		Payload:         s.Payload,
		SenderID:        s.SenderID,
		RoomID:          rm.id,
		ServerTimestamp: r.clock.Now().UnixMilli(),
		Seq:             rm.seq,
	}
}

// broadcastLocked delivers env to every subscriber of rm and returns the ones
// whose delivery failed. A dead subscriber never stops delivery to the rest.
func (r *Registry) broadcastLocked(ctx context.Context, rm *room, env events.Envelope) []Subscriber {
	var dropped []Subscriber
	for _, sub := range rm.subscribers {
		if err := sub.Deliver(env); err != nil {
			log.Warn().
				Err(err).
				Str("room_id", rm.id).
				Str("subscriber_id", sub.ID()).
				Msg("delivery failed, dropping subscriber")
			dropped = append(dropped, sub)
		}
	}

	if r.mirror != nil {
		if err := r.mirror.Publish(ctx, env); err != nil {
			log.Error().Err(err).Str("room_id", rm.id).Int64("seq", env.Seq).Msg("failed to mirror envelope")
		}
	}

	log.Debug().
		Str("event_type", string(env.Type)).
		Str("room_id", rm.id).
		Int64("seq", env.Seq).
		Int("subscribers", len(rm.subscribers)).
		Int("dropped", len(dropped)).
		Msg("envelope broadcasted")
	return dropped
}

// authorize enforces the registry policy for s against the room's roster.
func (r *Registry) authorize(rm *room, s events.Submission) error {
	switch {
	case s.Type == events.TypeStart || s.Type == events.TypeTimerStart:
		if !r.policy.HostOnlyControl {
			return nil
		}
		host, ok := rm.roster.Host()
		if !ok || s.SenderID == "" || host.ID != s.SenderID {
			return ErrNotHost
		}

	case s.Type.IsRosterOp() || s.Type.IsProgress():
		if !r.policy.OwnerOnlyUpdates {
			return nil
		}
		subject, err := events.SubjectPlayer(s.Type, s.Payload)
		if err != nil {
			return err
		}
		if s.SenderID != subject {
			return ErrNotOwner
		}
	}
	return nil
}
