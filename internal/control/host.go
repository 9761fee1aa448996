package control

import (
	"context"
	"errors"

	"brake-to-pause/internal/motion"
)

var (
	// ErrAlreadyEnabled is returned by Start when a session is running.
	ErrAlreadyEnabled = errors.New("playback control already enabled")
	// ErrNotEnabled is returned by operations that need a running session.
	ErrNotEnabled = errors.New("playback control not enabled")
	// ErrPermissionDenied is returned by a Feed that lacks permission to
	// deliver events. The controller treats it as a silent no-op.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrClosed is returned once the controller has been closed.
	ErrClosed = errors.New("controller closed")
)

// AudioFocus requests and abandons audio focus on the host. Holding
// transient focus is what pauses the other app's playback.
type AudioFocus interface {
	RequestTransient() error
	Abandon() error
	// RequestLasting takes permanent focus so playback stays paused after
	// the controller goes away.
	RequestLasting() error
}

// NotificationKind identifies which notification is shown.
type NotificationKind string

const (
	NotifyControlling NotificationKind = "controlling"
	NotifyPaused      NotificationKind = "paused"
	NotifyAutoStopped NotificationKind = "autoStopped"
)

// Notification is a user-visible notification posted on the host.
type Notification struct {
	Kind       NotificationKind `json:"kind"`
	Title      string           `json:"title"`
	Text       string           `json:"text,omitempty"`
	StopAction bool             `json:"stopAction"`
}

var notifications = map[NotificationKind]Notification{
	NotifyControlling: {
		Kind:       NotifyControlling,
		Title:      "Controlling playback state",
		StopAction: true,
	},
	NotifyPaused: {
		Kind:       NotifyPaused,
		Title:      "Paused media",
		StopAction: true,
	},
	NotifyAutoStopped: {
		Kind:  NotifyAutoStopped,
		Title: "Playback control automatically ended",
		Text:  "30 minutes have passed with media paused",
	},
}

// NotificationFor returns the notification content for a kind.
func NotificationFor(kind NotificationKind) Notification {
	return notifications[kind]
}

// Notifier owns the single notification slot of the host.
type Notifier interface {
	Notify(n Notification) error
	// Dismiss removes the persistent notification.
	Dismiss() error
}

// Subscription is a live registration with a Feed. Close releases it and
// is safe to call more than once.
type Subscription interface {
	Close() error
}

// Feed starts a stream of platform events. Events themselves are delivered
// back to the controller through its public methods.
type Feed interface {
	Subscribe(ctx context.Context) (Subscription, error)
}

// Host bundles every effect the controller can ask of its environment.
type Host struct {
	Audio      AudioFocus
	Notifier   Notifier
	Location   Feed
	Activities Feed
}

// ActivityFeedRequest describes what an activity-transition feed is asked
// to deliver: ENTER transitions for every tracked activity type.
func ActivityFeedRequest() []motion.ActivityType {
	out := make([]motion.ActivityType, len(motion.TrackedActivities))
	copy(out, motion.TrackedActivities)
	return out
}

// SubscriptionFunc adapts a function to the Subscription interface.
type SubscriptionFunc func() error

func (f SubscriptionFunc) Close() error { return f() }
