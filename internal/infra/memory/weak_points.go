package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"study-session-engine/internal/domain"
)

// WeakPointStore keeps running concept aggregates per learner.
type WeakPointStore struct {
	mu     sync.Mutex
	points map[string]map[string]domain.WeakPoint
}

func NewWeakPointStore() *WeakPointStore {
	return &WeakPointStore{points: make(map[string]map[string]domain.WeakPoint)}
}

func (s *WeakPointStore) Accumulate(_ context.Context, userID, concept string, incorrect, total int, at time.Time) (domain.WeakPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byConcept, ok := s.points[userID]
	if !ok {
		byConcept = make(map[string]domain.WeakPoint)
		s.points[userID] = byConcept
	}
	wp := byConcept[concept]
	wp.UserID = userID
	wp.Concept = concept
	wp.IncorrectCount += incorrect
	wp.TotalAttempts += total
	wp.Accuracy = domain.WeakPointAccuracy(wp.IncorrectCount, wp.TotalAttempts)
	wp.Confidence = wp.Accuracy / 100
	wp.UpdatedAt = at
	byConcept[concept] = wp
	return wp, nil
}

func (s *WeakPointStore) ListByUser(_ context.Context, userID string) ([]domain.WeakPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.WeakPoint, 0, len(s.points[userID]))
	for _, wp := range s.points[userID] {
		out = append(out, wp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Accuracy < out[j].Accuracy })
	return out, nil
}
