package hub

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPublishFiltersByEventType(t *testing.T) {
	h := New()
	all := &Client{ID: "all", Send: make(chan []byte, 1)}
	started := &Client{ID: "started", Send: make(chan []byte, 1), Subscription: Subscription{EventType: EventSessionStarted}}
	ended := &Client{ID: "ended", Send: make(chan []byte, 1), Subscription: Subscription{EventType: EventSessionEnded}}
	h.Register(all)
	h.Register(started)
	h.Register(ended)

	h.Publish(EventSessionStarted, map[string]string{"associate_id": "a-1"}, time.Now().UTC())

	if len(all.Send) != 1 || len(started.Send) != 1 {
		t.Fatalf("expected delivery to all and started, got %d/%d", len(all.Send), len(started.Send))
	}
	if len(ended.Send) != 0 {
		t.Fatal("ended subscriber should not receive a start event")
	}

	var env Envelope
	if err := json.Unmarshal(<-started.Send, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Type != EventSessionStarted {
		t.Fatalf("unexpected envelope type %q", env.Type)
	}
}

func TestPublishSkipsFullClients(t *testing.T) {
	h := New()
	slow := &Client{ID: "slow", Send: make(chan []byte)}
	h.Register(slow)

	done := make(chan struct{})
	go func() {
		h.Publish(EventSessionEnded, map[string]string{}, time.Now().UTC())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow client")
	}
}

func TestParseSubscribe(t *testing.T) {
	msg, ok := ParseSubscribe([]byte(`{"action":"subscribe","event_type":"cret.session.started"}`))
	if !ok || msg.EventType != EventSessionStarted {
		t.Fatalf("expected subscribe message, got %+v ok=%v", msg, ok)
	}
	if _, ok := ParseSubscribe([]byte(`{"action":"ping"}`)); ok {
		t.Fatal("unknown action should not parse")
	}
	if _, ok := ParseSubscribe([]byte(`not json`)); ok {
		t.Fatal("invalid JSON should not parse")
	}
}
