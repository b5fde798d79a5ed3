package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/medlink-labs/consultkit/internal/logging"
	"github.com/medlink-labs/consultkit/pkg/domain"
)

func testChannel() *Channel {
	options := DefaultChannelOptions()
	options.Logger = logging.New(logging.Config{Level: "error", Format: "text"})
	return NewChannel(options)
}

func TestSubscribe_FanOut(t *testing.T) {
	c := testChannel()

	first, cancelFirst := c.Subscribe("consultation:frame")
	second, cancelSecond := c.Subscribe("consultation:frame")
	defer cancelFirst()
	defer cancelSecond()

	c.dispatch("consultation:frame", json.RawMessage(`{"n":1}`))

	for _, ch := range []<-chan json.RawMessage{first, second} {
		select {
		case data := <-ch:
			if string(data) != `{"n":1}` {
				t.Errorf("unexpected payload: %s", data)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive dispatched payload")
		}
	}
}

func TestSubscribe_CancelIsolation(t *testing.T) {
	c := testChannel()

	first, cancelFirst := c.Subscribe("ai:guidance")
	second, cancelSecond := c.Subscribe("ai:guidance")
	defer cancelSecond()

	cancelFirst()

	c.dispatch("ai:guidance", json.RawMessage(`{}`))

	select {
	case _, ok := <-first:
		if ok {
			t.Error("cancelled subscription received a payload")
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled subscription channel not closed")
	}

	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("surviving subscriber did not receive payload")
	}
}

func TestSend_DroppedWhileDisconnected(t *testing.T) {
	c := testChannel()

	// Must not block or panic with no connection.
	c.Send("consultation:frame", domain.FramePayload{SessionID: "s1"})

	if state := c.State(); state != StateDisconnected {
		t.Errorf("expected disconnected, got %s", state)
	}
}

func TestDispatch_PreservesOrder(t *testing.T) {
	c := testChannel()

	ch, cancel := c.Subscribe("webrtc:ice-candidate")
	defer cancel()

	for i := 0; i < 5; i++ {
		c.dispatch("webrtc:ice-candidate", json.RawMessage{byte('0' + i)})
	}

	for i := 0; i < 5; i++ {
		select {
		case data := <-ch:
			if data[0] != byte('0'+i) {
				t.Fatalf("out of order at %d: got %s", i, data)
			}
		case <-time.After(time.Second):
			t.Fatal("missing dispatched payload")
		}
	}
}

func TestConnect_RoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}

	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		// Echo every envelope back.
		for {
			mt, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, message); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	c := testChannel()
	endpoint := "ws" + strings.TrimPrefix(server.URL, "http")

	if err := c.Connect(context.Background(), endpoint, "test-token"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	if gotAuth != "Bearer test-token" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}

	echo, cancel := c.Subscribe("consultation:frame")
	defer cancel()

	c.Send("consultation:frame", domain.FramePayload{SessionID: "s1", CaptureType: "periodic"})

	select {
	case data := <-echo:
		var frame domain.FramePayload
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("unmarshal echoed frame: %v", err)
		}
		if frame.SessionID != "s1" {
			t.Errorf("unexpected session id: %s", frame.SessionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("echoed frame not received")
	}
}

func TestReconnect_RestoresConnectionAndSubscriptions(t *testing.T) {
	upgrader := websocket.Upgrader{}

	serverConns := make(chan *websocket.Conn, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- conn
	}))
	defer server.Close()

	options := DefaultChannelOptions()
	options.Logger = logging.New(logging.Config{Level: "error", Format: "text"})
	options.ReconnectWait = 10 * time.Millisecond
	options.MaxReconnect = 5
	c := NewChannel(options)

	endpoint := "ws" + strings.TrimPrefix(server.URL, "http")
	if err := c.Connect(context.Background(), endpoint, "test-token"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	guidance, cancel := c.Subscribe("ai:guidance")
	defer cancel()

	first := <-serverConns
	first.Close()

	var second *websocket.Conn
	select {
	case second = <-serverConns:
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not redial after connection drop")
	}
	defer second.Close()

	if err := second.WriteMessage(websocket.TextMessage, []byte(`{"event":"ai:guidance","data":{"textContent":"hi"}}`)); err != nil {
		t.Fatalf("write on reconnected conn: %v", err)
	}

	select {
	case data := <-guidance:
		if !strings.Contains(string(data), "hi") {
			t.Errorf("unexpected payload after reconnect: %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not survive reconnect")
	}

	if state := c.State(); state != StateConnected {
		t.Errorf("expected connected after reconnect, got %s", state)
	}
}

func TestReconnect_ExhaustionEndsInError(t *testing.T) {
	upgrader := websocket.Upgrader{}

	serverConns := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- conn
	}))

	options := DefaultChannelOptions()
	options.Logger = logging.New(logging.Config{Level: "error", Format: "text"})
	options.ReconnectWait = 10 * time.Millisecond
	options.MaxReconnect = 3
	c := NewChannel(options)

	endpoint := "ws" + strings.TrimPrefix(server.URL, "http")
	if err := c.Connect(context.Background(), endpoint, "test-token"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	serverConn := <-serverConns

	// Take the listener down so every redial fails, then drop the live
	// connection to kick off the reconnect loop.
	server.Close()
	serverConn.Close()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case change := <-c.States():
			if change.State == StateError {
				if c.State() != StateError {
					t.Errorf("expected error state after exhaustion, got %s", c.State())
				}
				return
			}
		case <-deadline:
			t.Fatalf("reconnect exhaustion never surfaced, state is %s", c.State())
		}
	}
}

func TestDisconnect_ClosesSubscriptions(t *testing.T) {
	c := testChannel()

	ch, _ := c.Subscribe("ai:response")

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel, got payload")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription channel not closed on disconnect")
	}
}
