package control

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// LocalHost is an in-process host. It has no platform to talk to: effects
// are logged and counted, and both feeds always grant a subscription.
// Offline replays and tests drive the controller against it.
type LocalHost struct {
	mu sync.Mutex

	focusRequests int
	focusAbandons int
	focusLasting  int
	notifications []Notification
	dismissals    int
	feeds         map[string]int
}

// NewLocalHost creates an empty LocalHost.
func NewLocalHost() *LocalHost {
	return &LocalHost{feeds: make(map[string]int)}
}

// Host returns the ports backed by h.
func (h *LocalHost) Host() Host {
	return Host{
		Audio:      h,
		Notifier:   h,
		Location:   localFeed{host: h, name: "location"},
		Activities: localFeed{host: h, name: "activities"},
	}
}

func (h *LocalHost) RequestTransient() error {
	h.mu.Lock()
	h.focusRequests++
	h.mu.Unlock()
	log.Debug().Msg("host: audio focus requested")
	return nil
}

func (h *LocalHost) Abandon() error {
	h.mu.Lock()
	h.focusAbandons++
	h.mu.Unlock()
	log.Debug().Msg("host: audio focus abandoned")
	return nil
}

func (h *LocalHost) RequestLasting() error {
	h.mu.Lock()
	h.focusLasting++
	h.mu.Unlock()
	log.Debug().Msg("host: lasting audio focus requested")
	return nil
}

func (h *LocalHost) Notify(n Notification) error {
	h.mu.Lock()
	h.notifications = append(h.notifications, n)
	h.mu.Unlock()
	log.Debug().Str("kind", string(n.Kind)).Str("title", n.Title).Msg("host: notification")
	return nil
}

func (h *LocalHost) Dismiss() error {
	h.mu.Lock()
	h.dismissals++
	h.mu.Unlock()
	return nil
}

// Stats is a summary of what a LocalHost was asked to do.
type Stats struct {
	FocusRequests int
	FocusAbandons int
	FocusLasting  int
	Notifications int
	Dismissals    int
	LastKind      NotificationKind
	Subscriptions map[string]int
}

// Stats returns a snapshot of the effect counters.
func (h *LocalHost) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Stats{
		FocusRequests: h.focusRequests,
		FocusAbandons: h.focusAbandons,
		FocusLasting:  h.focusLasting,
		Notifications: len(h.notifications),
		Dismissals:    h.dismissals,
		Subscriptions: make(map[string]int, len(h.feeds)),
	}
	if n := len(h.notifications); n > 0 {
		s.LastKind = h.notifications[n-1].Kind
	}
	for k, v := range h.feeds {
		s.Subscriptions[k] = v
	}
	return s
}

type localFeed struct {
	host *LocalHost
	name string
}

func (f localFeed) Subscribe(context.Context) (Subscription, error) {
	f.host.mu.Lock()
	f.host.feeds[f.name]++
	f.host.mu.Unlock()
	log.Debug().Str("feed", f.name).Msg("host: feed subscribed")

	var once sync.Once
	return SubscriptionFunc(func() error {
		once.Do(func() {
			log.Debug().Str("feed", f.name).Msg("host: feed released")
		})
		return nil
	}), nil
}
