package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"brake-to-pause/internal/control"
	"brake-to-pause/internal/protocol"
)

// Hub tracks connected clients and is the controller's remote host: every
// effect is broadcast to the clients, which carry it out on the platform.
// It remembers the shown notification and the active feeds so clients that
// connect later can catch up.
type Hub struct {
	clients   map[*client]bool
	clientsMu sync.RWMutex

	stateMu           sync.Mutex
	notification      *protocol.NotificationPayload
	feeds             map[string]bool
	locationPermitted bool
}

// NewHub creates a hub with no clients. Location is permitted until a
// client reports otherwise.
func NewHub() *Hub {
	return &Hub{
		clients:           make(map[*client]bool),
		feeds:             make(map[string]bool),
		locationPermitted: true,
	}
}

// Host returns the controller ports backed by the hub.
func (h *Hub) Host() control.Host {
	return control.Host{
		Audio:      h,
		Notifier:   h,
		Location:   hubFeed{hub: h, name: protocol.FeedLocation},
		Activities: hubFeed{hub: h, name: protocol.FeedActivities},
	}
}

func (h *Hub) RequestTransient() error {
	return h.sendFocus(protocol.FocusRequestTransient)
}

func (h *Hub) Abandon() error {
	return h.sendFocus(protocol.FocusAbandon)
}

func (h *Hub) RequestLasting() error {
	return h.sendFocus(protocol.FocusRequestLasting)
}

func (h *Hub) sendFocus(action string) error {
	msg, err := protocol.NewMessage(protocol.TypeAudioFocus, protocol.AudioFocusPayload{Action: action})
	if err != nil {
		return err
	}
	h.broadcast(msg)
	return nil
}

func (h *Hub) Notify(n control.Notification) error {
	payload := protocol.NotificationPayload{
		Kind:       string(n.Kind),
		Title:      n.Title,
		Text:       n.Text,
		StopAction: n.StopAction,
	}
	msg, err := protocol.NewMessage(protocol.TypeNotificationShow, payload)
	if err != nil {
		return err
	}

	h.stateMu.Lock()
	h.notification = &payload
	h.stateMu.Unlock()

	h.broadcast(msg)
	return nil
}

func (h *Hub) Dismiss() error {
	msg, err := protocol.NewMessage(protocol.TypeNotificationDismiss, struct{}{})
	if err != nil {
		return err
	}

	h.stateMu.Lock()
	h.notification = nil
	h.stateMu.Unlock()

	h.broadcast(msg)
	return nil
}

// SetLocationPermitted records whether the platform granted location
// access. Without it location subscriptions are refused.
func (h *Hub) SetLocationPermitted(ok bool) {
	h.stateMu.Lock()
	h.locationPermitted = ok
	h.stateMu.Unlock()
}

// FeedActive reports whether the named feed is subscribed.
func (h *Hub) FeedActive(name string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.feeds[name]
}

func (h *Hub) setFeed(name string, active bool) error {
	h.stateMu.Lock()
	if name == protocol.FeedLocation && active && !h.locationPermitted {
		h.stateMu.Unlock()
		return control.ErrPermissionDenied
	}
	h.feeds[name] = active
	h.stateMu.Unlock()

	msg, err := protocol.NewMessage(protocol.TypeFeedUpdate, feedPayload(name, active))
	if err != nil {
		return err
	}
	h.broadcast(msg)
	return nil
}

func feedPayload(name string, active bool) protocol.FeedUpdatePayload {
	p := protocol.FeedUpdatePayload{Feed: name, Active: active}
	if name == protocol.FeedActivities && active {
		for _, a := range control.ActivityFeedRequest() {
			p.Activities = append(p.Activities, a.String())
		}
	}
	return p
}

type hubFeed struct {
	hub  *Hub
	name string
}

func (f hubFeed) Subscribe(context.Context) (control.Subscription, error) {
	if err := f.hub.setFeed(f.name, true); err != nil {
		return nil, err
	}
	var once sync.Once
	return control.SubscriptionFunc(func() error {
		var err error
		once.Do(func() { err = f.hub.setFeed(f.name, false) })
		return err
	}), nil
}

func (h *Hub) addClient(c *client) {
	h.clientsMu.Lock()
	h.clients[c] = true
	h.clientsMu.Unlock()
}

func (h *Hub) removeClient(c *client) bool {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if !h.clients[c] {
		return false
	}
	delete(h.clients, c)
	return true
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// replayState sends the shown notification and the active feeds to c.
func (h *Hub) replayState(c *client) {
	h.stateMu.Lock()
	var msgs []*protocol.Message
	if h.notification != nil {
		if msg, err := protocol.NewMessage(protocol.TypeNotificationShow, *h.notification); err == nil {
			msgs = append(msgs, msg)
		}
	}
	for name, active := range h.feeds {
		if !active {
			continue
		}
		if msg, err := protocol.NewMessage(protocol.TypeFeedUpdate, feedPayload(name, true)); err == nil {
			msgs = append(msgs, msg)
		}
	}
	h.stateMu.Unlock()

	for _, msg := range msgs {
		c.sendMessage(msg)
	}
}

// broadcast sends a message to all connected clients.
func (h *Hub) broadcast(msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("type", msg.Type).Msg("realtime: marshal broadcast")
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	for c := range h.clients {
		c.sendRaw(data)
	}
}
