package telemetry

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"sdfmover/engine/internal/logging"
	"sdfmover/engine/internal/websockettest"
)

func TestWebsocketStreamsProtoJSON(t *testing.T) {
	hub := NewHub()
	hub.Publish(FromReport(sampleReport()))
	server := httptest.NewServer(NewWebsocketHandler(hub, logging.NewTestLogger()))
	defer server.Close()

	conn, _, err := websockettest.Dial(websockettest.URL(server.URL, "/ws"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	kind, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("expected text frame, got %d", kind)
	}
	var msg structpb.Struct
	if err := protojson.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("decode protojson: %v", err)
	}
	snapshot, err := ParseSnapshot(&msg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if snapshot.Tick != 7 || snapshot.Position != [3]float64{1, 0.5, -2} {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestWebsocketDropsUnresponsivePeer(t *testing.T) {
	hub := NewHub()
	handler := NewWebsocketHandler(hub, logging.NewTestLogger(), WithKeepalive(20*time.Millisecond, 80*time.Millisecond))
	server := httptest.NewServer(handler)
	defer server.Close()

	conn, _, err := websockettest.DialIgnoringPongs(websockettest.URL(server.URL, "/ws"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, "subscriber registration", func() bool { return hub.SubscriberCount() == 1 })

	//1.- Pings go unanswered, so the server's read deadline lapses and it hangs up.
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	waitFor(t, "subscriber removal", func() bool { return hub.SubscriberCount() == 0 })
}
