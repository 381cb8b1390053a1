package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mcdev12/coopsync/go/internal/room/events"
)

func TestSubject(t *testing.T) {
	cases := []struct {
		room string
		typ  events.Type
		want string
	}{
		{"abc", events.TypeJoin, "rooms.events.abc.JOIN"},
		{"a.b", events.TypeLeave, "rooms.events.a_b.LEAVE"},
		{"x *>", "CUSTOM", "rooms.events.x___.CUSTOM"},
		{"", events.TypeStart, "rooms.events._.START"},
	}
	for _, tc := range cases {
		if got := Subject("rooms.events", tc.room, tc.typ); got != tc.want {
			t.Fatalf("Subject(%q, %q) = %q, want %q", tc.room, tc.typ, got, tc.want)
		}
	}
}

func TestMessageCarriesEnvelopeAndHeaders(t *testing.T) {
	m := &JetStreamMirror{config: DefaultJetStreamConfig()}
	env := events.Envelope{ID: "e1", Type: events.TypeStart, RoomID: "r1", Seq: 7, ServerTimestamp: 42}

	msg, err := m.message(env)
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if msg.Subject != "rooms.events.r1.START" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if got := msg.Header.Get("Room-Seq"); got != "7" {
		t.Fatalf("expected Room-Seq 7, got %q", got)
	}
	var decoded events.Envelope
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := cmp.Diff(env, decoded); diff != "" {
		t.Fatalf("envelope mismatch (-want +got):\n%s", diff)
	}
}

func TestStreamConfigComparison(t *testing.T) {
	m := &JetStreamMirror{config: DefaultJetStreamConfig()}
	sc := m.streamConfig()
	if !isStreamConfigEqual(sc, m.streamConfig()) {
		t.Fatalf("identical configs compare unequal")
	}
	changed := m.streamConfig()
	changed.Subjects = []string{"other.>"}
	if isStreamConfigEqual(sc, changed) {
		t.Fatalf("subject change not detected")
	}
	if sc.Retention != jetstream.LimitsPolicy {
		t.Fatalf("expected limits retention")
	}
}

func TestNop(t *testing.T) {
	var m Mirror = Nop{}
	if err := m.Publish(context.Background(), events.Envelope{}); err != nil {
		t.Fatalf("nop publish: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("nop close: %v", err)
	}
}

// gatedMirror records envelopes, optionally waiting on gate before each one
type gatedMirror struct {
	gate chan struct{}

	mu     sync.Mutex
	got    []int64
	closed bool
}

func (m *gatedMirror) Publish(_ context.Context, env events.Envelope) error {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, env.Seq)
	return nil
}

func (m *gatedMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestAsyncPublishesInOrderAndDrainsOnClose(t *testing.T) {
	inner := &gatedMirror{}
	a := NewAsync(inner, 64)

	ctx, cancel := context.WithCancel(context.Background())
	var want []int64
	for seq := int64(1); seq <= 20; seq++ {
		if err := a.Publish(ctx, events.Envelope{ID: strconv.FormatInt(seq, 10), Seq: seq}); err != nil {
			t.Fatalf("publish %d: %v", seq, err)
		}
		want = append(want, seq)
	}
	// queued envelopes outlive the submitting request
	cancel()

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	inner.mu.Lock()
	defer inner.mu.Unlock()
	if diff := cmp.Diff(want, inner.got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	if !inner.closed {
		t.Fatalf("Close should close the wrapped mirror")
	}
	if err := a.Publish(context.Background(), events.Envelope{Seq: 21}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestAsyncDropsWhenFull(t *testing.T) {
	inner := &gatedMirror{gate: make(chan struct{})}
	a := NewAsync(inner, 1)

	// the worker takes one envelope and blocks on the gate; one more fits
	// the queue, after which Publish refuses without waiting
	var full bool
	deadline := time.After(time.Second)
	for seq := int64(1); !full; seq++ {
		select {
		case <-deadline:
			t.Fatalf("queue never reported full")
		default:
		}
		err := a.Publish(context.Background(), events.Envelope{Seq: seq})
		switch {
		case errors.Is(err, ErrQueueFull):
			full = true
		case err != nil:
			t.Fatalf("publish %d: %v", seq, err)
		}
	}

	close(inner.gate)
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
