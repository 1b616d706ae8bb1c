package turntide

import "errors"

var (
	// Room errors.
	ErrRoomNotFound = errors.New("turntide: room not found")
	ErrRoomExists   = errors.New("turntide: room already exists")

	// Plugin errors.
	ErrPluginNotFound = errors.New("turntide: plugin not registered")
	ErrInvalidConfig  = errors.New("turntide: plugin config rejected by schema")

	// Scheduling errors.
	ErrInvalidSchedule = errors.New("turntide: invalid cron expression")

	// Media source errors.
	ErrNoCredentials = errors.New("turntide: no credentials for adapter")
	ErrAuthExpired   = errors.New("turntide: adapter credentials expired")
	ErrRateLimited   = errors.New("turntide: rate limited by media source")
)
