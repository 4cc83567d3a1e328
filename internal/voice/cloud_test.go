package voice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newCloudTestServer upgrades one connection and hands it to script.
func newCloudTestServer(t *testing.T, script func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade error = %v", err)
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func dialCloudSession(t *testing.T, ts *httptest.Server) (RecognizerSession, <-chan RecognizerEvent) {
	t.Helper()
	backend := NewCloudBackend(CloudConfig{
		APIKey:    "test-key",
		WSBaseURL: "ws" + strings.TrimPrefix(ts.URL, "http"),
	})
	sess, events, err := backend.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return sess, events
}

func nextCloudEvent(t *testing.T, events <-chan RecognizerEvent) RecognizerEvent {
	t.Helper()
	select {
	case evt, ok := <-events:
		if !ok {
			t.Fatalf("event channel closed early")
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for recognizer event")
	}
	return RecognizerEvent{}
}

func TestCloudRecognizerSessionEventMapping(t *testing.T) {
	ts := newCloudTestServer(t, func(conn *websocket.Conn) {
		msgs := []map[string]any{
			{"type": "speech.hypothesis", "text": "turn on"},
			{"type": "speech.phrase", "displayText": "turn on the lights"},
			{"type": "speech.endDetected"},
			{"type": "turn.end"},
		}
		for _, m := range msgs {
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		}
	})
	_, events := dialCloudSession(t, ts)

	if evt := nextCloudEvent(t, events); evt.Type != RecognizerEventInterim || evt.Text != "turn on" {
		t.Fatalf("first event = %+v, want interim %q", evt, "turn on")
	}
	if evt := nextCloudEvent(t, events); evt.Type != RecognizerEventFinal || evt.Text != "turn on the lights" {
		t.Fatalf("second event = %+v, want final %q", evt, "turn on the lights")
	}
	if evt := nextCloudEvent(t, events); evt.Type != RecognizerEventPause {
		t.Fatalf("third event = %+v, want pause", evt)
	}

	// turn.end ends the session: the reader closes the channel.
	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("expected channel close after turn.end")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for channel close")
	}
}

func TestCloudRecognizerSessionStopAfterConnectionLoss(t *testing.T) {
	ts := newCloudTestServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{"type": "speech.phrase", "displayText": "goodbye"})
		// Abrupt teardown, no close handshake.
	})
	sess, events := dialCloudSession(t, ts)

	if evt := nextCloudEvent(t, events); evt.Type != RecognizerEventFinal || evt.Text != "goodbye" {
		t.Fatalf("event = %+v, want final %q", evt, "goodbye")
	}

	// Only the reader may close the event channel; Stop on a dead
	// connection must not race it. Wait for the close, then Stop twice:
	// both calls hit the failed-write path and must stay panic-free.
	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("expected channel close after connection loss")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for channel close")
	}
	if err := sess.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := sess.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}
