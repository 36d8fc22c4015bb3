package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"study-session-engine/internal/app"
	"study-session-engine/internal/domain"
	"study-session-engine/internal/infra/memory"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []app.Notification
	ch   chan app.Notification
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{ch: make(chan app.Notification, 8)}
}

func (n *recordingNotifier) Notify(_ context.Context, msg app.Notification) error {
	n.mu.Lock()
	n.sent = append(n.sent, msg)
	n.mu.Unlock()
	n.ch <- msg
	return nil
}

func TestEngineDailySessionLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	e := f.engine()

	for i := 0; i < 3; i++ {
		created, err := e.CreateSession(ctx, "u1", "content-1", domain.SessionStandard, "")
		if err != nil {
			t.Fatalf("session %d: %v", i, err)
		}
		if created.RemainingToday != 2-i {
			t.Fatalf("session %d: expected %d remaining, got %d", i, 2-i, created.RemainingToday)
		}
		summary, err := e.CompleteSession(ctx, created.Session.ID)
		if err != nil {
			t.Fatalf("complete %d: %v", i, err)
		}
		if summary.TestStatus != "on_demand" {
			t.Fatalf("without a queue tests are built on demand, got %q", summary.TestStatus)
		}
	}
	_, err := e.CreateSession(ctx, "u1", "content-1", domain.SessionStandard, "")
	if !errors.Is(err, domain.ErrSessionLimitReached) {
		t.Fatalf("expected daily limit, got %v", err)
	}

	f.clock.Advance(24 * time.Hour)
	if _, err := e.CreateSession(ctx, "u1", "content-1", domain.SessionStandard, ""); err != nil {
		t.Fatalf("limit resets the next day: %v", err)
	}
}

func TestEnginePendingTestBlocksNewSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	e := f.engine()
	created, _ := e.CreateSession(ctx, "u1", "content-1", domain.SessionStandard, "")
	f.clock.Advance(time.Minute)
	e.CompleteSession(ctx, created.Session.ID)
	if _, err := e.GenerateTest(ctx, created.Session.ID, 0); err != nil {
		t.Fatalf("generate: %v", err)
	}

	_, err := e.CreateSession(ctx, "u1", "content-1", domain.SessionStandard, "")
	if !errors.Is(err, domain.ErrPendingTestsBlocking) {
		t.Fatalf("expected pending test block, got %v", err)
	}
}

func TestEngineExpiredPendingTestDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	e := f.engine()
	created, _ := e.CreateSession(ctx, "u1", "content-1", domain.SessionStandard, "")
	f.clock.Advance(time.Minute)
	e.CompleteSession(ctx, created.Session.ID)
	if _, err := e.GenerateTest(ctx, created.Session.ID, 0); err != nil {
		t.Fatalf("generate: %v", err)
	}

	f.clock.Advance(app.TestAvailabilityWindow - time.Minute)
	if _, err := e.CreateSession(ctx, "u1", "content-1", domain.SessionStandard, ""); !errors.Is(err, domain.ErrPendingTestsBlocking) {
		t.Fatalf("expected block inside the availability window, got %v", err)
	}
	f.clock.Advance(72 * time.Hour)
	if _, err := e.CreateSession(ctx, "u1", "content-1", domain.SessionStandard, ""); err != nil {
		t.Fatalf("abandoned test must not block after its window: %v", err)
	}
}

func TestEngineTestFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	notifier := newRecordingNotifier()
	e := f.engine(func(d *app.Deps) { d.Notifier = notifier })

	created, err := e.CreateSession(ctx, "u1", "content-1", domain.SessionRecommended, "Biology")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sessionID := created.Session.ID
	e.Engagement.RecordEvent(ctx, sessionID, domain.EventChatQuery)
	e.Proctoring.RecordEvent(ctx, sessionID, domain.EventTabSwitch, nil)
	f.clock.Advance(30 * time.Minute)

	summary, err := e.CompleteSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("complete session: %v", err)
	}
	if summary.Violations.TabSwitches != 1 || summary.EngagementScore <= 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	test, err := e.GenerateTest(ctx, sessionID, 0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if test.DifficultyLevel != 1 {
		t.Fatalf("first test must start at level 1, got %d", test.DifficultyLevel)
	}
	if _, err := e.StartTest(ctx, test.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := e.StartTest(ctx, test.ID); !errors.Is(err, domain.ErrTestAlreadyStarted) {
		t.Fatalf("expected already started, got %v", err)
	}

	if _, err := e.SubmitAnswer(ctx, test.ID, "bogus", "u1", domain.AnswerPayload{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
	for _, q := range test.Questions {
		payload := domain.AnswerPayload{TimeTakenSeconds: 30}
		if q.Type == domain.QuestionMCQ {
			payload.SelectedIndex = intPtr(*q.CorrectIndex)
		} else {
			payload.AnswerText = q.ExpectedAnswer
		}
		f.clock.Advance(30 * time.Second)
		if _, err := e.SubmitAnswer(ctx, test.ID, q.ID, "u1", payload); err != nil {
			t.Fatalf("submit %s: %v", q.ID, err)
		}
	}

	result, err := e.CompleteTest(ctx, test.ID)
	if err != nil {
		t.Fatalf("complete test: %v", err)
	}
	if result.OverallScore != 100 || result.CorrectAnswers != len(test.Questions) {
		t.Fatalf("expected perfect score, got %+v", result.TestScore)
	}
	if result.NextDifficulty != 1 || result.DifficultyFeedback != "Continue practicing at difficulty level 1." {
		t.Fatalf("new topic stays at level 1, got %d %q", result.NextDifficulty, result.DifficultyFeedback)
	}
	if result.TimeTakenSeconds != 30*len(test.Questions) || len(result.WeakTopics) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if !result.Notified || notifier.sent[0].Kind != app.NotifyTestResult {
		t.Fatalf("expected result notification, got %+v", notifier.sent)
	}

	stored, _ := e.GetTest(ctx, test.ID)
	if !stored.IsCompleted || stored.NextDifficulty == nil || *stored.NextDifficulty != 1 {
		t.Fatalf("completion must be persisted, got %+v", stored)
	}
	if _, err := e.CompleteTest(ctx, test.ID); !errors.Is(err, domain.ErrTestCompleted) {
		t.Fatalf("expected terminal completion, got %v", err)
	}
	if _, err := e.SubmitAnswer(ctx, test.ID, test.Questions[0].ID, "u1", domain.AnswerPayload{SelectedIndex: intPtr(0)}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("submissions after completion are rejected, got %v", err)
	}
}

func TestEngineWeakPointsAccumulate(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	e := f.engine()
	created, _ := e.CreateSession(ctx, "u1", "content-1", domain.SessionStandard, "")
	f.clock.Advance(time.Minute)
	e.CompleteSession(ctx, created.Session.ID)
	test, _ := e.GenerateTest(ctx, created.Session.ID, 1)

	for _, q := range test.Questions {
		if q.Type != domain.QuestionMCQ {
			continue
		}
		wrong := (*q.CorrectIndex + 1) % 4
		if _, err := e.SubmitAnswer(ctx, test.ID, q.ID, "u1", domain.AnswerPayload{SelectedIndex: &wrong}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	result, err := e.CompleteTest(ctx, test.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(result.WeakTopics) == 0 || len(result.WeakAreas) == 0 {
		t.Fatalf("expected weak topics, got %+v", result)
	}
	points, _ := e.GetWeakPoints(ctx, "u1")
	if len(points) != len(result.WeakTopics) {
		t.Fatalf("expected one weak point per weak topic, got %d", len(points))
	}
	for _, wp := range points {
		if wp.Accuracy != 0 || wp.IncorrectCount != wp.TotalAttempts {
			t.Fatalf("unexpected weak point %+v", wp)
		}
	}
}

type flakySubmissions struct {
	*memory.SubmissionStore
	failures int
}

func (s *flakySubmissions) ListByTest(ctx context.Context, testID string) ([]domain.TestSubmission, error) {
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("connection reset")
	}
	return s.SubmissionStore.ListByTest(ctx, testID)
}

type flakyWeakPoints struct {
	*memory.WeakPointStore
	failures int
}

func (s *flakyWeakPoints) Accumulate(ctx context.Context, userID, concept string, incorrect, total int, at time.Time) (domain.WeakPoint, error) {
	if s.failures > 0 {
		s.failures--
		return domain.WeakPoint{}, errors.New("connection reset")
	}
	return s.WeakPointStore.Accumulate(ctx, userID, concept, incorrect, total, at)
}

func TestEngineFailedCompletionCanBeRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	subs := &flakySubmissions{SubmissionStore: f.submissions}
	weak := &flakyWeakPoints{WeakPointStore: f.weakPoints}
	e := f.engine(func(d *app.Deps) {
		d.Submissions = subs
		d.WeakPoints = weak
	})
	created, _ := e.CreateSession(ctx, "u1", "content-1", domain.SessionStandard, "")
	f.clock.Advance(time.Minute)
	e.CompleteSession(ctx, created.Session.ID)
	test, err := e.GenerateTest(ctx, created.Session.ID, 1)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for _, q := range test.Questions {
		if q.Type == domain.QuestionMCQ {
			wrong := (*q.CorrectIndex + 1) % 4
			if _, err := e.SubmitAnswer(ctx, test.ID, q.ID, "u1", domain.AnswerPayload{SelectedIndex: &wrong}); err != nil {
				t.Fatalf("submit: %v", err)
			}
			break
		}
	}

	subs.failures = 1
	if _, err := e.CompleteTest(ctx, test.ID); err == nil {
		t.Fatalf("expected completion to fail while submissions are unavailable")
	}
	stored, _ := e.GetTest(ctx, test.ID)
	if stored.IsCompleted || stored.Score != nil || stored.CompletedAt != nil {
		t.Fatalf("failed completion must leave the test open, got %+v", stored)
	}

	weak.failures = 1
	if _, err := e.CompleteTest(ctx, test.ID); err == nil {
		t.Fatalf("expected completion to fail while weak points are unavailable")
	}
	stored, _ = e.GetTest(ctx, test.ID)
	if stored.IsCompleted || stored.Score != nil || stored.NextDifficulty != nil {
		t.Fatalf("completion must be undone when weak points fail, got %+v", stored)
	}

	result, err := e.CompleteTest(ctx, test.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if result.AnsweredQuestions != 1 || len(result.WeakTopics) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	stored, _ = e.GetTest(ctx, test.ID)
	if !stored.IsCompleted || stored.Score == nil || len(stored.WeakConcepts) != 1 {
		t.Fatalf("retry must persist completion, got %+v", stored)
	}
	points, _ := e.GetWeakPoints(ctx, "u1")
	if len(points) != 1 || points[0].TotalAttempts != 1 {
		t.Fatalf("weak point must be counted once, got %+v", points)
	}
}

func TestEngineBackgroundGeneration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture()
	notifier := newRecordingNotifier()
	queue := memory.NewGenerationQueue(4, 3, time.Millisecond, nil)
	e := f.engine(func(d *app.Deps) {
		d.Notifier = notifier
		d.Queue = queue
	})
	go queue.Run(ctx, e)

	created, _ := e.CreateSession(ctx, "u1", "content-1", domain.SessionStandard, "")
	f.clock.Advance(time.Minute)
	summary, err := e.CompleteSession(ctx, created.Session.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if summary.TestStatus != "preparing" {
		t.Fatalf("expected preparing, got %q", summary.TestStatus)
	}

	select {
	case msg := <-notifier.ch:
		if msg.Kind != app.NotifyTestReady || msg.UserID != "u1" || msg.TestID == "" {
			t.Fatalf("unexpected notification %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("test was not generated in the background")
	}
}

func TestEngineBackgroundGenerationFailureIsReported(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture()
	notifier := newRecordingNotifier()
	queue := memory.NewGenerationQueue(4, 2, time.Millisecond, nil)
	e := f.engine(func(d *app.Deps) {
		d.Notifier = notifier
		d.Queue = queue
	})
	go queue.Run(ctx, e)

	created, _ := e.CreateSession(ctx, "u1", "broken", domain.SessionStandard, "")
	f.clock.Advance(time.Minute)
	e.CompleteSession(ctx, created.Session.ID)

	select {
	case msg := <-notifier.ch:
		if msg.Kind != app.NotifyGenerationFailed {
			t.Fatalf("expected failure notification, got %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("failure was not reported")
	}
}
