package sched_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/turntide/turntide"
	"github.com/turntide/turntide/sched"
)

func waitRun(t *testing.T, ran <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-ran:
	case <-time.After(d):
		t.Fatal("job did not run in time")
	}
}

func TestScheduleRejectsInvalidSpec(t *testing.T) {
	s := sched.New()
	err := s.Schedule(sched.Job{
		Name:    "bad",
		Spec:    "not-a-cron",
		Handler: func(context.Context) error { return nil },
	})
	if !errors.Is(err, turntide.ErrInvalidSchedule) {
		t.Fatalf("Schedule() error = %v, want ErrInvalidSchedule", err)
	}
	if len(s.Status()) != 0 {
		t.Fatal("invalid job was registered")
	}
}

func TestScheduleIgnoresDuplicateName(t *testing.T) {
	s := sched.New()
	job := sched.Job{
		Name:    "poll-r1",
		Spec:    "@every 1h",
		Handler: func(context.Context) error { return nil },
	}
	if err := s.Schedule(job); err != nil {
		t.Fatalf("Schedule() error: %v", err)
	}
	if err := s.Schedule(job); err != nil {
		t.Fatalf("duplicate Schedule() error: %v, want nil", err)
	}
	if got := len(s.Status()); got != 1 {
		t.Fatalf("registered %d jobs, want 1", got)
	}
}

func TestScheduleRunAtFiresImmediately(t *testing.T) {
	s := sched.New()
	ran := make(chan struct{}, 1)
	err := s.Schedule(sched.Job{
		Name:    "poll-r1",
		Spec:    "@every 1h",
		Enabled: true,
		RunAt:   time.Now().UTC(),
		Handler: func(context.Context) error {
			ran <- struct{}{}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Schedule() error: %v", err)
	}
	waitRun(t, ran, 2*time.Second)
}

func TestScheduleRunAtDisabledDoesNotFire(t *testing.T) {
	s := sched.New()
	ran := make(chan struct{}, 1)
	_ = s.Schedule(sched.Job{
		Name:    "poll-r1",
		Spec:    "@every 1h",
		Enabled: false,
		RunAt:   time.Now().UTC(),
		Handler: func(context.Context) error {
			ran <- struct{}{}
			return nil
		},
	})
	select {
	case <-ran:
		t.Fatal("disabled job ran")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestTickRunsDueJobs(t *testing.T) {
	s := sched.New(sched.WithTickInterval(20 * time.Millisecond))
	ran := make(chan struct{}, 4)
	_ = s.Schedule(sched.Job{
		Name:    "fast",
		Spec:    "@every 1s",
		Enabled: true,
		Handler: func(context.Context) error {
			ran <- struct{}{}
			return nil
		},
	})

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer func() {
		if err := s.Stop(ctx); err != nil {
			t.Fatalf("Stop() error: %v", err)
		}
	}()

	waitRun(t, ran, 3*time.Second)

	// Run bookkeeping lands just after the handler returns.
	deadline := time.Now().Add(2 * time.Second)
	for {
		status := s.Status()
		if len(status) != 1 {
			t.Fatalf("Status() has %d jobs, want 1", len(status))
		}
		if status[0].Runs >= 1 {
			if status[0].LastError != "" {
				t.Fatalf("last error = %q, want empty", status[0].LastError)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run not recorded: %+v", status[0])
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDisableStopsRuns(t *testing.T) {
	s := sched.New(sched.WithTickInterval(20 * time.Millisecond))
	ran := make(chan struct{}, 16)
	_ = s.Schedule(sched.Job{
		Name:    "fast",
		Spec:    "@every 1s",
		Enabled: true,
		Handler: func(context.Context) error {
			ran <- struct{}{}
			return nil
		},
	})

	ctx := context.Background()
	_ = s.Start(ctx)
	defer func() { _ = s.Stop(ctx) }()

	waitRun(t, ran, 3*time.Second)

	if !s.Disable("fast") {
		t.Fatal("Disable(fast) = false")
	}
	// Drain anything already in flight, then verify silence.
	time.Sleep(100 * time.Millisecond)
	for {
		select {
		case <-ran:
			continue
		default:
		}
		break
	}
	select {
	case <-ran:
		t.Fatal("disabled job kept running")
	case <-time.After(1500 * time.Millisecond):
	}
}

func TestEnableDisableRemoveUnknown(t *testing.T) {
	s := sched.New()
	if s.Enable("ghost") || s.Disable("ghost") || s.Remove("ghost") {
		t.Fatal("operations on unknown job reported true")
	}
}

func TestRemove(t *testing.T) {
	s := sched.New()
	_ = s.Schedule(sched.Job{
		Name:    "poll-r1",
		Spec:    "@every 1h",
		Handler: func(context.Context) error { return nil },
	})
	if !s.Remove("poll-r1") {
		t.Fatal("Remove(existing) = false")
	}
	if len(s.Status()) != 0 {
		t.Fatal("removed job still in status")
	}
}

func TestJobErrorRecordedNotFatal(t *testing.T) {
	s := sched.New()
	ran := make(chan struct{}, 1)
	_ = s.Schedule(sched.Job{
		Name:    "failing",
		Spec:    "@every 1h",
		Enabled: true,
		RunAt:   time.Now().UTC(),
		Handler: func(context.Context) error {
			defer func() { ran <- struct{}{} }()
			return errors.New("poll blew up")
		},
	})
	waitRun(t, ran, 2*time.Second)

	// The run bookkeeping happens after the handler returns.
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := s.Status()[0]
		if st.Runs == 1 {
			if st.LastError != "poll blew up" {
				t.Fatalf("last error = %q", st.LastError)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("run not recorded: %+v", st)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
