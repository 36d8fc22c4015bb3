package memory

import (
	"context"
	"fmt"
	"sync"

	"study-session-engine/internal/app"
	"study-session-engine/internal/domain"
)

// MetricsStore keeps engagement records under one lock so batched
// increments are applied together.
type MetricsStore struct {
	mu      sync.Mutex
	records map[string]*domain.EngagementMetrics
}

func NewMetricsStore() *MetricsStore {
	return &MetricsStore{records: make(map[string]*domain.EngagementMetrics)}
}

func (s *MetricsStore) Init(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[sessionID]; !ok {
		s.records[sessionID] = &domain.EngagementMetrics{SessionID: sessionID, EventCounts: map[string]int{}}
	}
	return nil
}

func (s *MetricsStore) Get(_ context.Context, sessionID string) (domain.EngagementMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return domain.EngagementMetrics{}, domain.ErrSessionNotFound
	}
	out := *rec
	out.EventCounts = make(map[string]int, len(rec.EventCounts))
	for k, v := range rec.EventCounts {
		out.EventCounts[k] = v
	}
	return out, nil
}

func (s *MetricsStore) Incr(_ context.Context, sessionID string, delta app.MetricsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		rec = &domain.EngagementMetrics{SessionID: sessionID, EventCounts: map[string]int{}}
		s.records[sessionID] = rec
	}
	for field, n := range delta.Counters {
		switch field {
		case domain.CounterTabSwitches:
			rec.TabSwitches += n
		case domain.CounterFocusLosses:
			rec.FocusLosses += n
		case domain.CounterChatQueries:
			rec.ChatQueries += n
		case domain.CounterWhiteboardSnapshots:
			rec.WhiteboardSnapshots += n
		default:
			return fmt.Errorf("%w: unknown counter %q", domain.ErrValidation, field)
		}
	}
	for label, n := range delta.Events {
		rec.EventCounts[label] += n
	}
	return nil
}

func (s *MetricsStore) SetDerived(_ context.Context, sessionID string, fields map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	for field, v := range fields {
		switch field {
		case app.FieldEngagementScore:
			rec.EngagementScore = v
		case app.FieldStudySpeed:
			rec.StudySpeed = v
		case app.FieldInteractionRate:
			rec.InteractionRate = v
		case app.FieldActiveTimeRatio:
			rec.ActiveTimeRatio = v
		case app.FieldAverageFocusSeconds:
			rec.AverageFocusSeconds = v
		default:
			return fmt.Errorf("%w: unknown derived field %q", domain.ErrValidation, field)
		}
	}
	return nil
}
