package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopsync/go/internal/room/events"
)

var (
	errSubscriberClosed = errors.New("subscriber closed")
	errSlowConsumer     = errors.New("subscriber buffer full")
)

// streamSubscriber is the registry side of one SSE connection. Envelopes
// are queued for the handler goroutine, which owns the ResponseWriter.
type streamSubscriber struct {
	id       string
	playerID string
	send     chan events.Envelope

	mu     sync.Mutex
	closed bool
}

func newStreamSubscriber(playerID string, buffer int) *streamSubscriber {
	return &streamSubscriber{
		id:       uuid.New().String(),
		playerID: playerID,
		send:     make(chan events.Envelope, buffer),
	}
}

func (s *streamSubscriber) ID() string       { return s.id }
func (s *streamSubscriber) PlayerID() string { return s.playerID }

// Deliver queues env without blocking. A full buffer closes the subscriber so
// the handler stops streaming.
func (s *streamSubscriber) Deliver(env events.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSubscriberClosed
	}
	select {
	case s.send <- env:
		return nil
	default:
		s.closeLocked()
		return errSlowConsumer
	}
}

func (s *streamSubscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *streamSubscriber) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// serveEvents streams a room's envelopes as Server-Sent Events until the
// client goes away or falls too far behind.
func (s *Service) serveEvents(w http.ResponseWriter, r *http.Request, roomID, playerID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := newStreamSubscriber(playerID, s.config.SubscriberBuffer)
	s.registry.Subscribe(roomID, sub)
	defer func() {
		s.registry.Unsubscribe(roomID, sub)
		sub.close()
	}()

	keepAlive := time.NewTicker(s.config.KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case env, ok := <-sub.send:
			if !ok {
				log.Warn().
					Str("room_id", roomID).
					Str("subscriber_id", sub.ID()).
					Msg("event stream evicted")
				return
			}
			if err := writeEvent(w, env); err != nil {
				log.Debug().Err(err).Str("subscriber_id", sub.ID()).Msg("event stream write failed")
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ":keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
