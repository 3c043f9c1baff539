// Package sse streams command and sync lifecycle events to connected clients
// as Server-Sent Events.
package sse

import (
	"time"

	"github.com/google/uuid"

	"github.com/listenupapp/addressbook-sync/internal/events"
)

// EventType represents the type of SSE Event.
type EventType string

const (
	// EventCommandFinished is sent when a change command reaches a terminal state.
	EventCommandFinished EventType = "command.finished"
	// EventGraceTick counts down a pending change.
	EventGraceTick EventType = "command.grace_tick"

	EventSyncStarted   EventType = "sync.started"
	EventSyncUpdate    EventType = "sync.update"
	EventSyncCompleted EventType = "sync.completed"
	EventSyncFailed    EventType = "sync.failed"

	// EventHeartbeat represents a connection keepalive event.
	EventHeartbeat EventType = "heartbeat"
)

// Event represents an SSE event to be sent to clients.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Type      EventType `json:"type"`
	ID        string    `json:"id"`
}

// HeartbeatEventData is the payload of a heartbeat.
type HeartbeatEventData struct {
	ServerTime time.Time `json:"server_time"`
}

func newEvent(t EventType, data any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewHeartbeatEvent creates a keepalive event.
func NewHeartbeatEvent() Event {
	return newEvent(EventHeartbeat, HeartbeatEventData{ServerTime: time.Now()})
}

// FromDomain wraps a lifecycle event from the events package. It reports
// false for values it does not know.
func FromDomain(event any) (Event, bool) {
	switch e := event.(type) {
	case Event:
		return e, true
	case events.CommandFinished:
		return newEvent(EventCommandFinished, e), true
	case events.GraceTick:
		return newEvent(EventGraceTick, e), true
	case events.SyncStarted:
		return newEvent(EventSyncStarted, e), true
	case events.SyncUpdate:
		return newEvent(EventSyncUpdate, e), true
	case events.SyncCompleted:
		return newEvent(EventSyncCompleted, e), true
	case events.SyncFailed:
		return newEvent(EventSyncFailed, e), true
	default:
		return Event{}, false
	}
}

// personOf returns the person a command event is about. Sync and heartbeat
// events belong to no single person.
func personOf(evt Event) (int, bool) {
	switch d := evt.Data.(type) {
	case events.CommandFinished:
		return d.PersonID, true
	case events.GraceTick:
		return d.PersonID, true
	default:
		return 0, false
	}
}
