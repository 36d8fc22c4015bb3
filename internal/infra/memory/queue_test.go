package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"study-session-engine/internal/app"
	"study-session-engine/internal/domain"
)

type recordingHandler struct {
	mu       sync.Mutex
	failures int
	calls    map[string]int
	reported map[string]error
	done     chan string
}

func newRecordingHandler(failures int) *recordingHandler {
	return &recordingHandler{
		failures: failures,
		calls:    map[string]int{},
		reported: map[string]error{},
		done:     make(chan string, 8),
	}
}

func (h *recordingHandler) ProcessGenerationJob(_ context.Context, sessionID string) error {
	h.mu.Lock()
	h.calls[sessionID]++
	n := h.calls[sessionID]
	h.mu.Unlock()
	if n <= h.failures {
		return errors.New("provider unavailable")
	}
	h.done <- sessionID
	return nil
}

func (h *recordingHandler) ReportGenerationFailure(_ context.Context, sessionID string, cause error) {
	h.mu.Lock()
	h.reported[sessionID] = cause
	h.mu.Unlock()
	h.done <- sessionID
}

func TestGenerationQueueDeduplicates(t *testing.T) {
	q := NewGenerationQueue(4, 3, time.Millisecond, nil)
	ok, err := q.Enqueue(context.Background(), "s1")
	if err != nil || !ok {
		t.Fatalf("first enqueue: %v %v", ok, err)
	}
	ok, err = q.Enqueue(context.Background(), "s1")
	if err != nil || ok {
		t.Fatalf("expected duplicate to be skipped, got %v %v", ok, err)
	}
}

func TestGenerationQueueRetriesThenSucceeds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewGenerationQueue(4, 3, time.Millisecond, nil)
	h := newRecordingHandler(2)
	go q.Run(ctx, h)

	if _, err := q.Enqueue(ctx, "s1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("job did not finish")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.calls["s1"] != 3 || h.reported["s1"] != nil {
		t.Fatalf("expected success on third attempt, calls=%d reported=%v", h.calls["s1"], h.reported["s1"])
	}
}

func TestGenerationQueueReportsPermanentFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewGenerationQueue(4, 3, time.Millisecond, nil)
	h := &notFoundHandler{recordingHandler: newRecordingHandler(0)}
	go q.Run(ctx, h)

	q.Enqueue(ctx, "gone")
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("failure was not reported")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.calls["gone"] != 1 {
		t.Fatalf("not-found jobs must not be retried, calls=%d", h.calls["gone"])
	}
	if !errors.Is(h.reported["gone"], domain.ErrNotFound) {
		t.Fatalf("expected not found reported, got %v", h.reported["gone"])
	}
}

type notFoundHandler struct {
	*recordingHandler
}

func (h *notFoundHandler) ProcessGenerationJob(_ context.Context, sessionID string) error {
	h.mu.Lock()
	h.calls[sessionID]++
	h.mu.Unlock()
	return domain.ErrSessionNotFound
}

func TestBrokerDeliversToSubscriber(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewBroker()
	ch, stop := b.Subscribe(ctx, "u1")
	defer stop()

	b.Notify(ctx, app.Notification{Kind: app.NotifyTestReady, UserID: "u1", TestID: "t1"})
	b.Notify(ctx, app.Notification{Kind: app.NotifyTestReady, UserID: "u2", TestID: "t2"})

	select {
	case n := <-ch:
		if n.TestID != "t1" {
			t.Fatalf("unexpected notification %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("notification not delivered")
	}
	select {
	case n := <-ch:
		t.Fatalf("other learners' notifications must not leak, got %+v", n)
	default:
	}

	stop()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed after cancel")
	}
}
