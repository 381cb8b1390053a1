package mirror

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/coopsync/go/internal/room/events"
)

var (
	ErrQueueFull = errors.New("mirror queue full")
	ErrClosed    = errors.New("mirror closed")
)

// Async hands envelopes to a single worker that publishes them to the wrapped
// mirror in order. Publish never waits on the broker; when the queue is full
// the envelope is dropped and ErrQueueFull returned.
type Async struct {
	next  Mirror
	queue chan events.Envelope
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewAsync(next Mirror, buffer int) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	a := &Async{
		next:  next,
		queue: make(chan events.Envelope, buffer),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Publish(_ context.Context, env events.Envelope) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- env:
		return nil
	default:
		return ErrQueueFull
	}
}

func (a *Async) run() {
	defer close(a.done)
	for env := range a.queue {
		// the submitting request may be gone by now
		if err := a.next.Publish(context.Background(), env); err != nil {
			log.Error().
				Err(err).
				Str("room_id", env.RoomID).
				Str("envelope_id", env.ID).
				Int64("seq", env.Seq).
				Msg("failed to mirror envelope")
		}
	}
}

// Close stops accepting envelopes, waits for the queue to drain and closes the
// wrapped mirror.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.next.Close()
}
