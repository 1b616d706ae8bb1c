package clock_test

import (
	"testing"
	"time"

	"github.com/turntide/turntide/clock"
)

func TestManualAdvanceFiresInDeadlineOrder(t *testing.T) {
	mc := clock.NewManual(time.Unix(1_700_000_000, 0))

	var order []string
	mc.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	mc.AfterFunc(1*time.Second, func() { order = append(order, "a") })
	mc.AfterFunc(2*time.Second, func() { order = append(order, "b") })

	mc.Advance(5 * time.Second)

	want := []string{"a", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("fired %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("fired %v, want %v", order, want)
		}
	}
}

func TestManualCallbackObservesDeadline(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	mc := clock.NewManual(start)

	var at time.Time
	mc.AfterFunc(2*time.Second, func() { at = mc.Now() })
	mc.Advance(10 * time.Second)

	if want := start.Add(2 * time.Second); !at.Equal(want) {
		t.Fatalf("callback saw %v, want %v", at, want)
	}
	if want := start.Add(10 * time.Second); !mc.Now().Equal(want) {
		t.Fatalf("clock at %v after advance, want %v", mc.Now(), want)
	}
}

func TestManualStop(t *testing.T) {
	mc := clock.NewManual(time.Unix(1_700_000_000, 0))

	fired := false
	tm := mc.AfterFunc(time.Second, func() { fired = true })

	if !tm.Stop() {
		t.Fatal("first Stop = false, want true")
	}
	if tm.Stop() {
		t.Fatal("second Stop = true, want false")
	}
	mc.Advance(2 * time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}
}

func TestManualNotDueDoesNotFire(t *testing.T) {
	mc := clock.NewManual(time.Unix(1_700_000_000, 0))

	fired := false
	mc.AfterFunc(time.Second, func() { fired = true })

	mc.Advance(999 * time.Millisecond)
	if fired {
		t.Fatal("timer fired before its deadline")
	}
	mc.Advance(time.Millisecond)
	if !fired {
		t.Fatal("timer did not fire at its deadline")
	}
}
