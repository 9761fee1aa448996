package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → Client message types. Everything except session.* and error is
// an effect the host is asked to carry out.
const (
	TypeSessionUpdate       = "session.update"
	TypeSessionEvent        = "session.event"
	TypeAudioFocus          = "audio.focus"
	TypeNotificationShow    = "notification.show"
	TypeNotificationDismiss = "notification.dismiss"
	TypeFeedUpdate          = "feed.update"
	TypeError               = "error"
)

// Client → Server message types.
const (
	TypeSessionStart     = "session.start"
	TypeSessionStop      = "session.stop"
	TypeMotionTransition = "motion.transition"
	TypeMotionLocation   = "motion.location"
	TypeMotionSpeed      = "motion.speed"
	TypeAudioFocusLost   = "audio.focusLost"
	TypeHostPermissions  = "host.permissions"
)

// Error codes.
const (
	ErrNoSession      = "NO_SESSION"
	ErrAlreadyEnabled = "ALREADY_ENABLED"
	ErrNotEnabled     = "NOT_ENABLED"
	ErrInvalidMessage = "INVALID_MESSAGE"
	ErrInternal       = "INTERNAL"
)

// Audio focus actions.
const (
	FocusRequestTransient = "requestTransient"
	FocusAbandon          = "abandon"
	FocusRequestLasting   = "requestLasting"
)

// Feed names.
const (
	FeedLocation   = "location"
	FeedActivities = "activities"
)

// Server → Client payloads.

type SessionUpdatePayload struct {
	ID         string         `json:"id"`
	State      string         `json:"state"`
	Label      string         `json:"label"`
	StartedAt  string         `json:"startedAt"`
	StoppedAt  string         `json:"stoppedAt,omitempty"`
	StopReason string         `json:"stopReason,omitempty"`
	Config     *ConfigPayload `json:"config,omitempty"`
}

type SessionEventPayload struct {
	SessionID string `json:"sessionId"`
	Event     string `json:"event"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
}

type AudioFocusPayload struct {
	Action string `json:"action"`
}

type NotificationPayload struct {
	Kind       string `json:"kind"`
	Title      string `json:"title"`
	Text       string `json:"text,omitempty"`
	StopAction bool   `json:"stopAction"`
}

type FeedUpdatePayload struct {
	Feed       string   `json:"feed"`
	Active     bool     `json:"active"`
	Activities []string `json:"activities,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Client → Server payloads.

// ConfigPayload overrides the preferences for one session. Nil fields keep
// the preference value.
type ConfigPayload struct {
	SpeedThresholdKph       *int     `json:"speedThresholdKph,omitempty"`
	UsesLocation            *bool    `json:"usesLocation,omitempty"`
	UsesActivityRecognition *bool    `json:"usesActivityRecognition,omitempty"`
	Activities              []string `json:"activities,omitempty"`
}

type SessionStartPayload struct {
	Label  string         `json:"label"`
	Config *ConfigPayload `json:"config,omitempty"`
}

type TransitionPayload struct {
	Activity string `json:"activity"`
	Entering bool   `json:"entering"`
}

type LocationPayload struct {
	SpeedMps float64 `json:"speedMps"`
	HasSpeed bool    `json:"hasSpeed"`
}

// PermissionsPayload reports which platform permissions the host holds.
type PermissionsPayload struct {
	Location bool `json:"location"`
}

type SpeedPayload struct {
	Kph float64 `json:"kph"`
}
