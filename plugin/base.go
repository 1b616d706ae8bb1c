package plugin

import (
	"context"
	"sync"
)

// Base provides the shared plugin plumbing: context bookkeeping, config
// retrieval, custom event emission, and a cleanup that releases storage
// and timers. Concrete plugins embed it and override what they need; a
// plugin with extra teardown does its own work first, then calls
// Base.Cleanup.
type Base struct {
	mu  sync.Mutex
	ctx *Context
}

// Register implements Plugin.
func (b *Base) Register(c *Context) {
	b.mu.Lock()
	b.ctx = c
	b.mu.Unlock()
}

// Context returns the instance context, or nil after cleanup.
func (b *Base) Context() *Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx
}

// RoomID returns the room this instance serves, or "" when unregistered.
func (b *Base) RoomID() string {
	if c := b.Context(); c != nil {
		return c.RoomID()
	}
	return ""
}

// Host returns the capability API, or nil when unregistered.
func (b *Base) Host() Host {
	if c := b.Context(); c != nil {
		return c.Host()
	}
	return nil
}

// Timers returns the instance timer set, or nil when unregistered.
func (b *Base) Timers() *Timers {
	if c := b.Context(); c != nil {
		return c.Timers()
	}
	return nil
}

// Config returns the effective config map, or nil when unregistered.
func (b *Base) Config(ctx context.Context) (map[string]any, error) {
	c := b.Context()
	if c == nil {
		return nil, nil
	}
	return c.Config(ctx)
}

// Emit sends a plugin-defined custom event to the realtime channel.
// No-op when unregistered.
func (b *Base) Emit(eventName string, payload any) {
	if c := b.Context(); c != nil {
		c.Emit(eventName, payload)
	}
}

// Cleanup removes every storage key this instance owns, clears every
// outstanding timer, and discards the context. Calling it again is a
// no-op.
func (b *Base) Cleanup(ctx context.Context) error {
	b.mu.Lock()
	c := b.ctx
	b.ctx = nil
	b.mu.Unlock()

	if c == nil {
		return nil
	}
	var err error
	if c.store != nil {
		err = c.store.Cleanup(ctx)
	}
	if c.timers != nil {
		c.timers.ClearAll()
	}
	return err
}
