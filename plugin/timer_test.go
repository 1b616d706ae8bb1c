package plugin_test

import (
	"testing"
	"time"

	"github.com/turntide/turntide/clock"
	"github.com/turntide/turntide/plugin"
)

func newTimers() (*plugin.Timers, *clock.Manual) {
	mc := clock.NewManual(time.Unix(1_700_000_000, 0))
	return plugin.NewTimers(mc, nil), mc
}

func TestTimerFires(t *testing.T) {
	timers, mc := newTimers()

	var got any
	timers.Start("skip", 30*time.Second, "payload", func(data any) error {
		got = data
		return nil
	})

	mc.Advance(29 * time.Second)
	if got != nil {
		t.Fatal("timer fired early")
	}
	mc.Advance(time.Second)
	if got != "payload" {
		t.Fatalf("timer data = %v, want payload", got)
	}
	if _, ok := timers.Get("skip"); ok {
		t.Fatal("fired timer still live")
	}
}

func TestTimerStartReplaces(t *testing.T) {
	timers, mc := newTimers()

	var fired []string
	timers.Start("skip", 10*time.Second, nil, func(any) error {
		fired = append(fired, "first")
		return nil
	})
	mc.Advance(5 * time.Second)
	timers.Start("skip", 10*time.Second, nil, func(any) error {
		fired = append(fired, "second")
		return nil
	})

	mc.Advance(20 * time.Second)
	if len(fired) != 1 || fired[0] != "second" {
		t.Fatalf("fired = %v, want [second]", fired)
	}
}

func TestTimerClear(t *testing.T) {
	timers, mc := newTimers()

	fired := false
	timers.Start("skip", time.Second, nil, func(any) error {
		fired = true
		return nil
	})

	if !timers.Clear("skip") {
		t.Fatal("Clear(live) = false")
	}
	if timers.Clear("skip") {
		t.Fatal("Clear(cleared) = true")
	}
	mc.Advance(2 * time.Second)
	if fired {
		t.Fatal("cleared timer fired")
	}
}

func TestTimerReset(t *testing.T) {
	timers, mc := newTimers()

	fired := 0
	timers.Start("skip", 10*time.Second, nil, func(any) error {
		fired++
		return nil
	})

	mc.Advance(8 * time.Second)
	if !timers.Reset("skip") {
		t.Fatal("Reset(live) = false")
	}

	mc.Advance(9 * time.Second)
	if fired != 0 {
		t.Fatal("reset timer fired on original deadline")
	}
	mc.Advance(time.Second)
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	if timers.Reset("skip") {
		t.Fatal("Reset(fired) = true")
	}
}

func TestTimerRemaining(t *testing.T) {
	timers, mc := newTimers()
	timers.Start("skip", 30*time.Second, nil, func(any) error { return nil })

	mc.Advance(10 * time.Second)
	rem, ok := timers.Remaining("skip")
	if !ok || rem != 20*time.Second {
		t.Fatalf("Remaining() = %v, %v, want 20s", rem, ok)
	}

	mc.Advance(20 * time.Second)
	if _, ok := timers.Remaining("skip"); ok {
		t.Fatal("Remaining() = true after fire")
	}
}

func TestTimerPanicIsContained(t *testing.T) {
	timers, mc := newTimers()
	timers.Start("boom", time.Second, nil, func(any) error {
		panic("handler bug")
	})

	// Must not propagate out of Advance.
	mc.Advance(2 * time.Second)

	if _, ok := timers.Get("boom"); ok {
		t.Fatal("panicked timer still live")
	}
}

func TestClearAll(t *testing.T) {
	timers, mc := newTimers()

	fired := 0
	for _, id := range []string{"a", "b", "c"} {
		timers.Start(id, time.Second, nil, func(any) error {
			fired++
			return nil
		})
	}
	timers.ClearAll()
	mc.Advance(2 * time.Second)

	if fired != 0 {
		t.Fatalf("fired = %d after ClearAll, want 0", fired)
	}
	if got := timers.All(); len(got) != 0 {
		t.Fatalf("All() = %v after ClearAll", got)
	}
}
