package timer

import (
	"sync"
	"time"
)

// Offset estimates server time minus local time from envelope timestamps.
//
// A server timestamp is taken before the envelope travels, so ts - localReceive
// never overestimates the true offset; the largest sample seen is the
// tightest estimate.
type Offset struct {
	mu  sync.Mutex
	est time.Duration
	set bool
}

// Observe feeds one sample: the server timestamp of an envelope and the local
// time it was received.
func (o *Offset) Observe(server, localReceive time.Time) {
	sample := server.Sub(localReceive)
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.set || sample > o.est {
		o.est = sample
		o.set = true
	}
}

// Value returns the current estimate, zero before any sample.
func (o *Offset) Value() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.est
}

// ServerNow converts a local time to estimated server time.
func (o *Offset) ServerNow(local time.Time) time.Time {
	return local.Add(o.Value())
}

// Reset drops every sample, e.g. after reconnecting to a different server.
func (o *Offset) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.est = 0
	o.set = false
}
