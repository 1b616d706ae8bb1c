// Package clock abstracts wall time so timer-driven behavior can be tested
// with virtual time. Production code uses System; tests use Manual.
package clock

import "time"

// Timer is the handle returned by AfterFunc. Stop reports whether the
// callback was prevented from running.
type Timer interface {
	Stop() bool
}

// Clock provides the current time and deferred callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// System is a Clock backed by the time package.
type System struct{}

// NewSystem returns the real clock.
func NewSystem() System { return System{} }

func (System) Now() time.Time { return time.Now().UTC() }

func (System) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
