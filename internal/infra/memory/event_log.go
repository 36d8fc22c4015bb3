package memory

import (
	"context"
	"sync"

	"study-session-engine/internal/domain"
)

// EventLog is an append-only in-memory proctoring log.
type EventLog struct {
	mu     sync.RWMutex
	nextID int64
	events map[string][]domain.ProctoringEvent
}

func NewEventLog() *EventLog {
	return &EventLog{events: make(map[string][]domain.ProctoringEvent)}
}

func (l *EventLog) Append(_ context.Context, event domain.ProctoringEvent) (domain.ProctoringEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	event.ID = l.nextID
	l.events[event.SessionID] = append(l.events[event.SessionID], event)
	return event, nil
}

func (l *EventLog) CountByType(_ context.Context, sessionID string) (map[domain.ProctoringEventType]int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	counts := make(map[domain.ProctoringEventType]int)
	for _, e := range l.events[sessionID] {
		counts[e.Type]++
	}
	return counts, nil
}

// List returns a session's events in append order.
func (l *EventLog) List(sessionID string) []domain.ProctoringEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.ProctoringEvent(nil), l.events[sessionID]...)
}
