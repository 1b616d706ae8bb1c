// Package turntide provides a composable engine for collaborative listening
// rooms. It offers a per-room typed event bus, a plugin system with
// at-most-one-instance-per-(room, plugin) semantics, a cron-driven scheduler
// that polls external media sources, and policy plugins built on top of
// that machinery.
//
// Turntide is designed as a library, not a service. Import it, configure a
// storage backend, register plugins and media adapters, and drive rooms
// through the engine.
//
// # Quick Start
//
//	e, err := engine.New(
//	    engine.WithBackend(memory.New()),
//	    engine.WithPlugin(queueguard.Descriptor()),
//	    engine.WithPlugin(absentdj.Descriptor()),
//	)
//
// # Architecture
//
// Turntide follows a composable pattern where each subsystem (event, plugin,
// sched, store, source, relay, realtime) defines its own narrow contract.
// The engine package wires them together. Events are a closed, typed set:
// every event name has exactly one payload struct, and plugins subscribe by
// implementing typed hook interfaces rather than registering string-keyed
// callbacks.
package turntide
