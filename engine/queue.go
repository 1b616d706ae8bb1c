package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/turntide/turntide"
	"github.com/turntide/turntide/event"
	"github.com/turntide/turntide/plugin"
	"github.com/turntide/turntide/room"
	"github.com/turntide/turntide/source"
)

// AddToQueue appends a track to the room queue on the user's behalf.
// Every queue-validating plugin in the room is consulted first; the first
// rejection is returned as the decision with a nil error. When nothing is
// playing, the new track starts immediately.
func (e *Engine) AddToQueue(ctx context.Context, roomID, userID string, track room.Track) (plugin.Decision, error) {
	rm, err := e.Room(ctx, roomID)
	if err != nil {
		return plugin.Decision{}, err
	}
	u, ok := rm.User(userID)
	if !ok {
		return plugin.Deny("You are not in this room"), nil
	}
	if !u.CanQueue() {
		return plugin.Deny("You need DJ permissions to add tracks"), nil
	}

	decision := e.registry.Validate(ctx, plugin.QueueRequest{
		RoomID:   roomID,
		UserID:   userID,
		Username: u.Name,
		TrackID:  track.ID,
	})
	if !decision.Allowed {
		return decision, nil
	}

	item := room.QueueItem{Track: track, AddedBy: userID, AddedAt: e.now()}
	var queueLen int
	var startNow bool
	err = e.mutate(roomID, func(rm *room.Room) {
		rm.Queue = append(rm.Queue, item)
		queueLen = len(rm.Queue)
		startNow = rm.NowPlaying == nil
	})
	if err != nil {
		return plugin.Decision{}, err
	}

	if err := e.bus.Emit(ctx, &event.PlaylistTrackAdded{RoomID: roomID, Item: item, Queue: queueLen}); err != nil {
		return plugin.Decision{}, err
	}
	if startNow {
		if err := e.advance(ctx, roomID); err != nil {
			return plugin.Decision{}, err
		}
	}
	return decision, nil
}

// SkipTrack ends the current track and starts the next queued one. When
// trackID is non-empty it must match the playing track; a stale skip
// aimed at an already-finished track is a no-op.
func (e *Engine) SkipTrack(ctx context.Context, roomID, trackID string) error {
	e.mu.Lock()
	rm, ok := e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", turntide.ErrRoomNotFound, roomID)
	}
	if rm.NowPlaying == nil || (trackID != "" && rm.NowPlaying.Track.ID != trackID) {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	return e.advance(ctx, roomID)
}

// advance moves the head of the queue into the now-playing slot and emits
// the track change. With an empty queue the room goes silent: the event
// carries an empty item and the previous track.
func (e *Engine) advance(ctx context.Context, roomID string) error {
	var previous *room.QueueItem
	var next room.QueueItem
	err := e.mutate(roomID, func(rm *room.Room) {
		previous = rm.NowPlaying
		if len(rm.Queue) == 0 {
			rm.NowPlaying = nil
			return
		}
		next = rm.Queue[0]
		rm.Queue = rm.Queue[1:]
		playedAt := e.now()
		next.PlayedAt = &playedAt
		np := next
		rm.NowPlaying = &np
		// Reactions belong to the track that just ended.
		rm.Reactions = make(map[string][]string)
	})
	if err != nil {
		return err
	}
	return e.bus.Emit(ctx, &event.TrackChanged{RoomID: roomID, Item: next, Previous: previous})
}

// UpdatePlaylistTrack replaces the queue entry holding the same track id.
func (e *Engine) UpdatePlaylistTrack(ctx context.Context, roomID string, item room.QueueItem) error {
	var found bool
	err := e.mutate(roomID, func(rm *room.Room) {
		for i := range rm.Queue {
			if rm.Queue[i].Track.ID == item.Track.ID {
				rm.Queue[i] = item
				found = true
				return
			}
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return e.bus.Emit(ctx, &event.PlaylistTrackUpdated{RoomID: roomID, Item: item})
}

// SubmitMediaData implements source.Submitter. A poll error marks the
// source offline; a successful observation marks it back online and, when
// the track differs from what is playing, mirrors it into the room.
func (e *Engine) SubmitMediaData(ctx context.Context, roomID string, obs *source.Observation, pollErr error) error {
	rm, err := e.Room(ctx, roomID)
	if err != nil {
		return err
	}

	if pollErr != nil {
		if !e.setSourceOnline(roomID, false) {
			return nil
		}
		return e.bus.Emit(ctx, &event.SourceStatus{
			RoomID:  roomID,
			Adapter: rm.Adapter,
			Online:  false,
			Detail:  pollErr.Error(),
		})
	}

	if e.setSourceOnline(roomID, true) {
		if err := e.bus.Emit(ctx, &event.SourceStatus{
			RoomID:  roomID,
			Adapter: rm.Adapter,
			Online:  true,
		}); err != nil {
			return err
		}
	}
	if obs == nil || obs.TrackID == "" {
		return nil
	}
	if rm.NowPlaying != nil && rm.NowPlaying.Track.ID == obs.TrackID {
		return nil
	}

	item := room.QueueItem{
		Track: room.Track{
			ID:         obs.TrackID,
			Source:     obs.Source,
			Title:      obs.Title,
			Artist:     obs.Artist,
			Album:      obs.Album,
			DurationMs: obs.DurationMs,
			Metadata:   obs.Metadata,
		},
		AddedAt: e.now(),
	}
	var previous *room.QueueItem
	err = e.mutate(roomID, func(rm *room.Room) {
		previous = rm.NowPlaying
		playedAt := e.now()
		item.PlayedAt = &playedAt
		np := item
		rm.NowPlaying = &np
		rm.Reactions = make(map[string][]string)
	})
	if err != nil {
		return err
	}
	return e.bus.Emit(ctx, &event.TrackChanged{RoomID: roomID, Item: item, Previous: previous})
}

// CurrentTrackID implements source.Submitter.
func (e *Engine) CurrentTrackID(ctx context.Context, roomID string) (string, error) {
	rm, err := e.Room(ctx, roomID)
	if err != nil {
		return "", err
	}
	if rm.NowPlaying == nil {
		return "", nil
	}
	return rm.NowPlaying.Track.ID, nil
}

// SubmitQueueSync implements source.Submitter. Queue entries no longer
// present in the source's track list are dropped; the source is the
// authority for mirrored rooms.
func (e *Engine) SubmitQueueSync(ctx context.Context, roomID string, sourceTrackIDs []string) error {
	var dropped int
	err := e.mutate(roomID, func(rm *room.Room) {
		before := len(rm.Queue)
		rm.Queue = slices.DeleteFunc(rm.Queue, func(it room.QueueItem) bool {
			return !slices.Contains(sourceTrackIDs, it.Track.ID)
		})
		dropped = before - len(rm.Queue)
	})
	if err != nil {
		return err
	}
	if dropped > 0 {
		e.logger.Info("queue reconciled against source",
			slog.String("room_id", roomID),
			slog.Int("dropped", dropped),
		)
	}
	return nil
}
