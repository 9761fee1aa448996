package session

import (
	"time"

	"brake-to-pause/internal/motion"
)

// State represents the lifecycle state of a session.
type State string

const (
	StateActive  State = "active"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// Session holds metadata and state for one playback-control session.
type Session struct {
	ID         string        `json:"id"`
	State      State         `json:"state"`
	Label      string        `json:"label"`
	Config     motion.Config `json:"config"`
	StartedAt  time.Time     `json:"startedAt"`
	StoppedAt  *time.Time    `json:"stoppedAt,omitempty"`
	StopReason string        `json:"stopReason,omitempty"`
}

// EventType names an entry in a session's event log.
type EventType string

const (
	EventStarted   EventType = "started"
	EventStopped   EventType = "stopped"
	EventPaused    EventType = "paused"
	EventResumed   EventType = "resumed"
	EventFocusLost EventType = "focusLost"
)

// Event is a single state change of a session.
type Event struct {
	SessionID string    `json:"sessionId"`
	Type      EventType `json:"type"`
	State     State     `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PauseSpan is a stretch of time during which playback was held paused.
type PauseSpan struct {
	SessionID string
	Start     time.Time
	End       time.Time
}
