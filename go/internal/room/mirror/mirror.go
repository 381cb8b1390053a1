package mirror

import (
	"context"
	"strings"

	"github.com/mcdev12/coopsync/go/internal/room/events"
)

// Mirror receives a copy of every envelope broadcast by the registry.
type Mirror interface {
	Publish(ctx context.Context, env events.Envelope) error
	Close() error
}

// Nop discards everything. It is the mirror used when mirroring is disabled.
type Nop struct{}

func (Nop) Publish(context.Context, events.Envelope) error { return nil }
func (Nop) Close() error                                    { return nil }

// Subject builds the subject an envelope is published on:
// <prefix>.<roomID>.<type>. Characters NATS treats specially are replaced so a
// room id always stays a single token.
func Subject(prefix, roomID string, t events.Type) string {
	return prefix + "." + token(roomID) + "." + token(string(t))
}

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_", "\n", "_", "\r", "_")

func token(s string) string {
	if s == "" {
		return "_"
	}
	return tokenReplacer.Replace(s)
}
