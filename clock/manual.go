package clock

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Clock whose time only moves when Advance is called.
// Callbacks scheduled with AfterFunc fire synchronously inside Advance,
// in deadline order.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	pending []*manualTimer
}

type manualTimer struct {
	clk     *Manual
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

// NewManual creates a manual clock starting at the given time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{clk: m, at: m.now.Add(d), fn: fn}
	m.pending = append(m.pending, t)
	return t
}

// Advance moves the clock forward by d, firing every due callback in
// deadline order before returning.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	for {
		var next *manualTimer
		for _, t := range m.pending {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			break
		}
		// Time observed by the callback is the fire deadline, not the target.
		if next.at.After(m.now) {
			m.now = next.at
		}
		next.fired = true
		fn := next.fn
		m.mu.Unlock()
		fn()
		m.mu.Lock()
	}
	m.now = target
	m.compact()
	m.mu.Unlock()
}

// compact drops fired and stopped timers. Caller holds the lock.
func (m *Manual) compact() {
	live := m.pending[:0]
	for _, t := range m.pending {
		if !t.fired && !t.stopped {
			live = append(live, t)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].at.Before(live[j].at) })
	m.pending = live
}

func (t *manualTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}
