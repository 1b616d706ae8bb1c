package plugin

import (
	"log/slog"
	"sync"
	"time"

	"github.com/turntide/turntide/clock"
)

// TimerFunc runs when a timer fires. data is the opaque payload given to
// Start. Errors are logged, never propagated — a timer callback must not
// take the process down.
type TimerFunc func(data any) error

// TimerInfo is the observable snapshot of a live timer. The underlying
// deferred handle is never exposed.
type TimerInfo struct {
	ID        string
	Duration  time.Duration
	StartedAt time.Time
	Data      any
}

type timer struct {
	info   TimerInfo
	fn     TimerFunc
	handle clock.Timer
}

// Timers manages the named deferred callbacks of one plugin instance.
// Timer ids are unique within the set: starting a timer with an existing
// id atomically cancels and replaces the old one.
type Timers struct {
	mu     sync.Mutex
	clk    clock.Clock
	logger *slog.Logger
	live   map[string]*timer
}

// NewTimers creates an empty timer set on the given clock.
func NewTimers(clk clock.Clock, logger *slog.Logger) *Timers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Timers{
		clk:    clk,
		logger: logger,
		live:   make(map[string]*timer),
	}
}

// Start schedules fn to run after d, replacing any live timer with the
// same id.
func (t *Timers) Start(id string, d time.Duration, data any, fn TimerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.live[id]; ok {
		old.handle.Stop()
		delete(t.live, id)
	}
	tm := &timer{
		info: TimerInfo{ID: id, Duration: d, StartedAt: t.clk.Now(), Data: data},
		fn:   fn,
	}
	tm.handle = t.clk.AfterFunc(d, func() { t.fire(id, tm) })
	t.live[id] = tm
}

// fire removes the timer from the live set, then runs its callback.
// A superseded generation (same id, replaced timer) is ignored.
func (t *Timers) fire(id string, tm *timer) {
	t.mu.Lock()
	current, ok := t.live[id]
	if !ok || current != tm {
		t.mu.Unlock()
		return
	}
	delete(t.live, id)
	t.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("timer callback panic",
				slog.String("timer_id", id),
				slog.Any("panic", r),
			)
		}
	}()
	if err := tm.fn(tm.info.Data); err != nil {
		t.logger.Warn("timer callback error",
			slog.String("timer_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// Clear cancels and removes the timer. Reports whether one existed.
func (t *Timers) Clear(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	tm, ok := t.live[id]
	if !ok {
		return false
	}
	tm.handle.Stop()
	delete(t.live, id)
	return true
}

// ClearAll cancels every live timer.
func (t *Timers) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, tm := range t.live {
		tm.handle.Stop()
		delete(t.live, id)
	}
}

// Get returns a snapshot of the live timer with the given id.
func (t *Timers) Get(id string) (TimerInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tm, ok := t.live[id]
	if !ok {
		return TimerInfo{}, false
	}
	return tm.info, true
}

// All returns snapshots of every live timer.
func (t *Timers) All() []TimerInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TimerInfo, 0, len(t.live))
	for _, tm := range t.live {
		out = append(out, tm.info)
	}
	return out
}

// Reset restarts the timer from now with its original duration, data, and
// callback. Reports false when no live timer has that id.
func (t *Timers) Reset(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	old, ok := t.live[id]
	if !ok {
		return false
	}
	old.handle.Stop()
	tm := &timer{
		info: TimerInfo{ID: id, Duration: old.info.Duration, StartedAt: t.clk.Now(), Data: old.info.Data},
		fn:   old.fn,
	}
	tm.handle = t.clk.AfterFunc(tm.info.Duration, func() { t.fire(id, tm) })
	t.live[id] = tm
	return true
}

// Remaining returns how long until the timer fires, floored at zero.
// Reports false once the timer has fired or been cleared.
func (t *Timers) Remaining(id string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tm, ok := t.live[id]
	if !ok {
		return 0, false
	}
	rem := tm.info.Duration - t.clk.Now().Sub(tm.info.StartedAt)
	if rem < 0 {
		rem = 0
	}
	return rem, true
}
