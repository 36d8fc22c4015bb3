package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"study-session-engine/internal/app"
)

// Subscriber streams a learner's notifications until cancel is called.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string) (<-chan app.Notification, func())
}

// DefaultStatusInterval is how often the session stream pushes status.
const DefaultStatusInterval = 5 * time.Second

type WSHandler struct {
	engine     *app.Engine
	subscriber Subscriber
	interval   time.Duration
	log        *zap.Logger
	upgrader   websocket.Upgrader
}

// NewWSHandler builds the session stream handler. subscriber may be nil.
func NewWSHandler(engine *app.Engine, subscriber Subscriber, interval time.Duration, log *zap.Logger) *WSHandler {
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		engine:     engine,
		subscriber: subscriber,
		interval:   interval,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type engagementPayload struct {
	EventType string `json:"eventType"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS streams session status and notifications, and accepts proctoring
// and engagement events from the client.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancelCtx := context.WithCancel(r.Context())
	defer cancelCtx()

	session, err := h.engine.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	var updates <-chan app.Notification
	if h.subscriber != nil {
		ch, cancel := h.subscriber.Subscribe(ctx, session.UserID)
		defer cancel()
		updates = ch
	}

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	pushDone := make(chan struct{})

	// only the writer goroutine touches conn for writes
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write failed", zap.Error(err))
				return
			}
		}
	}()

	go func() {
		defer close(pushDone)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			var msg outboundMessage[any]
			select {
			case <-ticker.C:
				msg = h.statusMessage(ctx, sessionID)
			case n, ok := <-updates:
				if !ok {
					updates = nil
					continue
				}
				msg = outboundMessage[any]{Type: "notification", Payload: n}
			case <-closeSignals:
				return
			}
			select {
			case send <- msg:
			case <-closeSignals:
				return
			case <-writerDone:
				return
			}
		}
	}()

	send <- h.statusMessage(ctx, sessionID)

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if !deliver(send, h.handleInbound(ctx, sessionID, inbound), writerDone) {
			break
		}
	}

	close(closeSignals)
	<-pushDone
	close(send)
	<-writerDone
}

// deliver queues msg for the writer. It reports false once the writer has
// stopped, since nothing will drain send after that.
func deliver(send chan<- outboundMessage[any], msg outboundMessage[any], writerDone <-chan struct{}) bool {
	select {
	case send <- msg:
		return true
	case <-writerDone:
		return false
	}
}

func (h *WSHandler) statusMessage(ctx context.Context, sessionID string) outboundMessage[any] {
	status, err := h.engine.Sessions.GetSessionStatus(ctx, sessionID)
	if err != nil {
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
	}
	return outboundMessage[any]{Type: "status", Payload: status}
}

func (h *WSHandler) handleInbound(ctx context.Context, sessionID string, inbound inboundMessage) outboundMessage[any] {
	fail := func(msg string) outboundMessage[any] {
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}}
	}
	switch inbound.Type {
	case "status":
		return h.statusMessage(ctx, sessionID)
	case "proctoring":
		var p proctoringRequest
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			return fail("invalid proctoring payload")
		}
		event, err := recordProctoring(ctx, h.engine, sessionID, p)
		if err != nil {
			return fail(err.Error())
		}
		return outboundMessage[any]{Type: "proctoring_recorded", Payload: event}
	case "engagement":
		var p engagementPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			return fail("invalid engagement payload")
		}
		if err := h.engine.Engagement.RecordEvent(ctx, sessionID, p.EventType); err != nil {
			return fail(err.Error())
		}
		return outboundMessage[any]{Type: "engagement_recorded", Payload: p}
	}
	return fail("unsupported message type")
}
