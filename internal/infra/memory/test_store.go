package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"study-session-engine/internal/domain"
)

// TestStore is an in-memory implementation of app.TestRepository.
type TestStore struct {
	mu        sync.RWMutex
	tests     map[string]domain.GeneratedTest
	bySession map[string]string
}

func NewTestStore() *TestStore {
	return &TestStore{
		tests:     make(map[string]domain.GeneratedTest),
		bySession: make(map[string]string),
	}
}

func cloneTest(t domain.GeneratedTest) domain.GeneratedTest {
	t.Questions = append([]domain.TestQuestion(nil), t.Questions...)
	t.WeakConcepts = append([]string(nil), t.WeakConcepts...)
	return t
}

func (s *TestStore) Create(_ context.Context, test domain.GeneratedTest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bySession[test.SessionID]; ok {
		return fmt.Errorf("%w: session %s already has a test", domain.ErrInvalidState, test.SessionID)
	}
	s.tests[test.ID] = cloneTest(test)
	s.bySession[test.SessionID] = test.ID
	return nil
}

func (s *TestStore) Get(_ context.Context, id string) (domain.GeneratedTest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	test, ok := s.tests[id]
	if !ok {
		return domain.GeneratedTest{}, domain.ErrTestNotFound
	}
	return cloneTest(test), nil
}

func (s *TestStore) FindBySession(_ context.Context, sessionID string) (domain.GeneratedTest, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySession[sessionID]
	if !ok {
		return domain.GeneratedTest{}, false, nil
	}
	return cloneTest(s.tests[id]), true, nil
}

func (s *TestStore) SaveQuestions(_ context.Context, testID string, questions []domain.TestQuestion, actual domain.TypeCounts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	test, ok := s.tests[testID]
	if !ok {
		return domain.ErrTestNotFound
	}
	test.Questions = append([]domain.TestQuestion(nil), questions...)
	sort.SliceStable(test.Questions, func(i, j int) bool { return test.Questions[i].Order < test.Questions[j].Order })
	test.Actual = actual
	s.tests[testID] = test
	return nil
}

func (s *TestStore) Update(_ context.Context, id string, fn func(*domain.GeneratedTest) error) (domain.GeneratedTest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	test, ok := s.tests[id]
	if !ok {
		return domain.GeneratedTest{}, domain.ErrTestNotFound
	}
	test = cloneTest(test)
	if err := fn(&test); err != nil {
		return domain.GeneratedTest{}, err
	}
	s.tests[id] = test
	return cloneTest(test), nil
}

func (s *TestStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	test, ok := s.tests[id]
	if !ok {
		return domain.ErrTestNotFound
	}
	delete(s.tests, id)
	if s.bySession[test.SessionID] == id {
		delete(s.bySession, test.SessionID)
	}
	return nil
}

// CountPending counts populated tests created since the cutoff that the
// learner has not completed.
func (s *TestStore) CountPending(_ context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.tests {
		if t.UserID == userID && !t.IsCompleted && len(t.Questions) > 0 && !t.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// LatestNextDifficulty returns the prediction of the most recently completed test.
func (s *TestStore) LatestNextDifficulty(_ context.Context, userID string) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *domain.GeneratedTest
	for id := range s.tests {
		t := s.tests[id]
		if t.UserID != userID || t.NextDifficulty == nil || t.CompletedAt == nil {
			continue
		}
		if latest == nil || t.CompletedAt.After(*latest.CompletedAt) {
			latest = &t
		}
	}
	if latest == nil {
		return 0, false, nil
	}
	return *latest.NextDifficulty, true, nil
}

// SubmissionStore keys submissions by (question, learner).
type SubmissionStore struct {
	mu     sync.RWMutex
	byTest map[string]map[submissionKey]domain.TestSubmission
}

type submissionKey struct {
	questionID string
	userID     string
}

func NewSubmissionStore() *SubmissionStore {
	return &SubmissionStore{byTest: make(map[string]map[submissionKey]domain.TestSubmission)}
}

func (s *SubmissionStore) Upsert(_ context.Context, sub domain.TestSubmission) (domain.TestSubmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs, ok := s.byTest[sub.TestID]
	if !ok {
		subs = make(map[submissionKey]domain.TestSubmission)
		s.byTest[sub.TestID] = subs
	}
	subs[submissionKey{questionID: sub.QuestionID, userID: sub.UserID}] = sub
	return sub, nil
}

func (s *SubmissionStore) ListByTest(_ context.Context, testID string) ([]domain.TestSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TestSubmission, 0, len(s.byTest[testID]))
	for _, sub := range s.byTest[testID] {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}
