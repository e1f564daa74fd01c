// Package events defines the event types carried by the towerlink EventBus.
package events

import (
	"time"

	"github.com/energizer-project/towerlink/internal/client"
	"github.com/energizer-project/towerlink/internal/dispatch"
)

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session events
	EventSessionConnected EventType = "session_connected"
	EventSessionClosed    EventType = "session_closed"

	// Command events
	EventCommandCompleted EventType = "command_completed"

	// Game events
	EventGameSnapshot EventType = "game_snapshot"

	// System events
	EventShutdown EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// SessionPayload describes a game connection coming up or going away.
type SessionPayload struct {
	SessionID   string    `json:"session_id"`
	URL         string    `json:"url"`
	ConnectedAt time.Time `json:"connected_at"`
	Reason      string    `json:"reason,omitempty"`
}

// CommandCompletedPayload carries the report of one dispatched command.
type CommandCompletedPayload struct {
	Report dispatch.Report `json:"report"`
}

// GameSnapshotPayload carries a periodic match summary.
type GameSnapshotPayload struct {
	SessionID string          `json:"session_id"`
	Snapshot  client.Snapshot `json:"snapshot"`
}
