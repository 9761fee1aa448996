package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"brake-to-pause/internal/control"
	"brake-to-pause/internal/protocol"
)

func newTestClient() *client {
	return &client{send: make(chan []byte, 16)}
}

func drain(c *client) []protocol.Message {
	var msgs []protocol.Message
	for {
		select {
		case data := <-c.send:
			var msg protocol.Message
			json.Unmarshal(data, &msg)
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func TestHub_BroadcastsFocus(t *testing.T) {
	hub := NewHub()
	c := newTestClient()
	hub.addClient(c)

	hub.RequestTransient()
	hub.Abandon()

	msgs := drain(c)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	var p protocol.AudioFocusPayload
	json.Unmarshal(msgs[1].Payload, &p)
	if msgs[1].Type != protocol.TypeAudioFocus || p.Action != protocol.FocusAbandon {
		t.Errorf("unexpected message: %+v", msgs[1])
	}
}

func TestHub_ReplayState(t *testing.T) {
	hub := NewHub()
	hub.Notify(control.NotificationFor(control.NotifyPaused))
	sub, err := hub.Host().Activities.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	c := newTestClient()
	hub.addClient(c)
	hub.replayState(c)

	msgs := drain(c)
	if len(msgs) != 2 {
		t.Fatalf("expected notification and feed, got %d messages", len(msgs))
	}
	if msgs[0].Type != protocol.TypeNotificationShow {
		t.Errorf("expected notification first, got %s", msgs[0].Type)
	}
	var feed protocol.FeedUpdatePayload
	json.Unmarshal(msgs[1].Payload, &feed)
	if feed.Feed != protocol.FeedActivities || !feed.Active || len(feed.Activities) != 5 {
		t.Errorf("unexpected feed update: %+v", feed)
	}

	sub.Close()
	sub.Close()
	if hub.FeedActive(protocol.FeedActivities) {
		t.Error("expected activities feed inactive")
	}
	if msgs := drain(c); len(msgs) != 1 {
		t.Errorf("expected one feed update after double close, got %d", len(msgs))
	}

	hub.Dismiss()
	drain(c)
	hub.replayState(c)
	if msgs := drain(c); len(msgs) != 0 {
		t.Errorf("expected nothing to replay, got %d", len(msgs))
	}
}

func TestHub_LocationPermission(t *testing.T) {
	hub := NewHub()
	hub.SetLocationPermitted(false)

	if _, err := hub.Host().Location.Subscribe(context.Background()); !errors.Is(err, control.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	hub.SetLocationPermitted(true)
	if _, err := hub.Host().Location.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if !hub.FeedActive(protocol.FeedLocation) {
		t.Error("expected location feed active")
	}
}

func TestHub_RemovedClientGetsNothing(t *testing.T) {
	hub := NewHub()
	c := newTestClient()
	hub.addClient(c)
	if !hub.removeClient(c) {
		t.Fatal("expected client removed")
	}
	if hub.removeClient(c) {
		t.Error("expected second remove to report false")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}

	hub.RequestLasting()
	if msgs := drain(c); len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}
}
