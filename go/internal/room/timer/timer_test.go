package timer

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestRemainingSeconds(t *testing.T) {
	epoch := time.UnixMilli(1_000_000)
	st := State{Epoch: epoch, Duration: 120 * time.Second}

	cases := []struct {
		name string
		at   time.Duration
		want int
	}{
		{"at epoch", 0, 120},
		{"before epoch", -5 * time.Second, 120},
		{"partial second", 1500 * time.Millisecond, 119},
		{"one minute", time.Minute, 60},
		{"at zero", 120 * time.Second, 0},
		{"long after", time.Hour, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := st.RemainingSeconds(epoch.Add(tc.at)); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestFromPayloadDefaultsDuration(t *testing.T) {
	st := FromPayload(5000, 0)
	if st.Duration != DefaultDuration {
		t.Fatalf("expected default duration, got %s", st.Duration)
	}
	if st.EpochMillis() != 5000 {
		t.Fatalf("epoch round trip failed: %d", st.EpochMillis())
	}
	if FromPayload(5000, 30).Duration != 30*time.Second {
		t.Fatalf("explicit duration ignored")
	}
}

func TestSynchronizerRestartsOnlyOnNewEpoch(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(10_000))
	s := NewSynchronizer(clock)
	if s.RemainingSeconds() != -1 {
		t.Fatalf("no epoch should report -1")
	}

	st := FromPayload(10_000, 60)
	if !s.Start(st) {
		t.Fatalf("first start should install the epoch")
	}
	clock.Advance(10 * time.Second)
	if s.Start(st) {
		t.Fatalf("duplicate epoch should be a no-op")
	}
	if got := s.RemainingSeconds(); got != 50 {
		t.Fatalf("expected 50s left, got %d", got)
	}

	if !s.Start(FromPayload(clock.Now().UnixMilli(), 60)) {
		t.Fatalf("new epoch should restart the countdown")
	}
	if got := s.RemainingSeconds(); got != 60 {
		t.Fatalf("expected restarted countdown, got %d", got)
	}
	clock.Advance(2 * time.Minute)
	if !s.Expired() {
		t.Fatalf("countdown should be expired")
	}
}

func TestSynchronizerAppliesServerOffset(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(100_000))
	s := NewSynchronizer(clock)

	// the server runs 30s ahead of this client
	s.Offset().Observe(time.UnixMilli(130_000), clock.Now())
	s.Start(FromPayload(130_000, 60))
	if got := s.RemainingSeconds(); got != 60 {
		t.Fatalf("offset not applied, got %d", got)
	}
}

func TestOffsetKeepsTightestSample(t *testing.T) {
	var o Offset
	local := time.UnixMilli(0)
	o.Observe(time.UnixMilli(400), local)
	o.Observe(time.UnixMilli(900), local)
	o.Observe(time.UnixMilli(100), local)
	if o.Value() != 900*time.Millisecond {
		t.Fatalf("expected 900ms, got %s", o.Value())
	}
	o.Reset()
	if o.Value() != 0 {
		t.Fatalf("reset should clear the estimate")
	}
}

func TestRunTicksWhileEpochRuns(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(0))
	s := NewSynchronizer(clock)
	s.Start(FromPayload(0, 10))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks := make(chan int, 4)
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Second, func(remaining int) { ticks <- remaining })
		close(done)
	}()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("ticker never registered: %v", err)
	}
	clock.Advance(time.Second)
	select {
	case got := <-ticks:
		if got != 9 {
			t.Fatalf("expected 9s left, got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("no tick delivered")
	}

	cancel()
	<-done
}
