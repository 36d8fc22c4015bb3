package http

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"study-session-engine/internal/app"
	"study-session-engine/internal/domain"
)

func dialSession(t *testing.T, env *testEnv, sessionID string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?sessionId=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketSessionStream(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	created, err := env.engine.CreateSession(ctx, "learner-1", "content-1", domain.SessionRecommended, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	conn := dialSession(t, env, created.Session.ID)

	_, payload := readNext(conn, t, "status")
	if payload["isActive"] != true {
		t.Fatalf("expected active status, got %v", payload)
	}

	send := func(typ string, body map[string]any) {
		if err := conn.WriteJSON(map[string]any{"type": typ, "payload": body}); err != nil {
			t.Fatalf("write %s: %v", typ, err)
		}
	}

	send("engagement", map[string]any{"eventType": "chat_query"})
	readNext(conn, t, "engagement_recorded")

	send("proctoring", map[string]any{"eventType": "tab_switch"})
	_, event := readNext(conn, t, "proctoring_recorded")
	if event["eventType"] != "tab_switch" {
		t.Fatalf("expected tab_switch event, got %v", event)
	}

	send("proctoring", map[string]any{"facesDetected": 0})
	_, event = readNext(conn, t, "proctoring_recorded")
	if event["eventType"] != "no_face_detected" {
		t.Fatalf("expected no_face_detected, got %v", event)
	}

	send("unknown", nil)
	readNext(conn, t, "error")

	if err := env.broker.Notify(ctx, app.Notification{Kind: app.NotifyTestReady, UserID: "learner-1", TestID: "t-1"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	_, note := readNext(conn, t, "notification")
	if note["kind"] != app.NotifyTestReady {
		t.Fatalf("expected test_ready notification, got %v", note)
	}

	metrics, err := env.engine.Engagement.AggregateMetrics(ctx, created.Session.ID)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if metrics.EventCounts[domain.EventChatQuery] != 1 || metrics.TabSwitches != 1 {
		t.Fatalf("unexpected metrics after stream events: %+v", metrics)
	}
}

func TestWebSocketUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	conn := dialSession(t, env, "missing")
	readNext(conn, t, "error")
}

func TestWebSocketRequiresSessionID(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.server.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s (%v)", expect, msg.Type, msg.Payload)
	}
	return msg.Type, msg.Payload
}

func TestDeliverStopsWhenWriterIsGone(t *testing.T) {
	send := make(chan outboundMessage[any], 1)
	writerDone := make(chan struct{})
	msg := outboundMessage[any]{Type: "status"}

	if !deliver(send, msg, writerDone) {
		t.Fatalf("expected delivery while the buffer has room")
	}
	close(writerDone)

	result := make(chan bool, 1)
	go func() { result <- deliver(send, msg, writerDone) }()
	select {
	case ok := <-result:
		if ok {
			t.Fatalf("delivery to a full buffer without a writer must fail")
		}
	case <-time.After(time.Second):
		t.Fatalf("deliver blocked after the writer exited")
	}
}
