package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"study-session-engine/internal/domain"
)

// DefaultSessionsPerDay caps how many sessions a learner may start per day.
const DefaultSessionsPerDay = 3

// Notification kinds.
const (
	NotifyTestReady        = "test_ready"
	NotifyTestResult       = "test_result"
	NotifyGenerationFailed = "generation_failed"
)

// Deps collects what the engine needs. Queue and Notifier are optional.
type Deps struct {
	Sessions    SessionRepository
	Metrics     MetricsRepository
	Events      ProctoringLog
	Tests       TestRepository
	Submissions SubmissionRepository
	WeakPoints  WeakPointRepository
	Content     ContentProvider
	Evaluator   Evaluator
	Generators  []QuestionGenerator
	Strategy    DifficultyStrategy
	Queue       GenerationQueue
	Notifier    Notifier
	Logger      *zap.Logger
	Now         func() time.Time

	SessionsPerDay int
}

// Engine exposes the session and assessment operations to transports.
type Engine struct {
	Sessions   *SessionManager
	Proctoring *ProctoringMonitor
	Engagement *EngagementAggregator
	Scorer     *AssessmentScorer
	Predictor  *DifficultyPredictor
	Generator  *TestGenerator

	tests       TestRepository
	submissions SubmissionRepository
	weakPoints  WeakPointRepository
	queue       GenerationQueue
	notifier    Notifier
	log         *zap.Logger
	now         func() time.Time
	perDay      int
}

func NewEngine(d Deps) *Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.SessionsPerDay <= 0 {
		d.SessionsPerDay = DefaultSessionsPerDay
	}
	if len(d.Generators) == 0 {
		d.Generators = []QuestionGenerator{TemplateGenerator{}}
	}

	sessions := NewSessionManagerWithClock(d.Sessions, d.Metrics, d.Now)
	engagement := NewEngagementAggregatorWithClock(d.Sessions, d.Metrics, d.Now)
	scorer := NewAssessmentScorer(d.Tests, d.Submissions, d.Sessions, engagement, d.Evaluator, d.Logger.Named("scorer"))
	scorer.now = d.Now
	generator := NewTestGenerator(d.Sessions, d.Tests, d.Content, d.Generators, d.Logger.Named("generator"))
	generator.now = d.Now

	return &Engine{
		Sessions:    sessions,
		Proctoring:  NewProctoringMonitor(sessions, d.Events, d.Metrics),
		Engagement:  engagement,
		Scorer:      scorer,
		Predictor:   NewDifficultyPredictor(d.Strategy),
		Generator:   generator,
		tests:       d.Tests,
		submissions: d.Submissions,
		weakPoints:  d.WeakPoints,
		queue:       d.Queue,
		notifier:    d.Notifier,
		log:         d.Logger,
		now:         d.Now,
		perDay:      d.SessionsPerDay,
	}
}

// CreatedSession is returned by CreateSession.
type CreatedSession struct {
	Session        domain.StudySession    `json:"session"`
	Config         domain.SessionConfig   `json:"config"`
	Proctoring     domain.ProctoringRules `json:"proctoringConfig"`
	SessionsToday  int                    `json:"sessionsToday"`
	MaxSessions    int                    `json:"maxSessions"`
	RemainingToday int                    `json:"remainingToday"`
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// CreateSession enforces the daily limit and the pending-test block, then
// starts a session with proctoring initialized.
func (e *Engine) CreateSession(ctx context.Context, userID, contentID string, sessionType domain.SessionType, label string) (CreatedSession, error) {
	if userID == "" || contentID == "" {
		return CreatedSession{}, fmt.Errorf("%w: learner and content are required", domain.ErrValidation)
	}
	// tests past their availability window no longer block
	pending, err := e.tests.CountPending(ctx, userID, e.now().Add(-TestAvailabilityWindow))
	if err != nil {
		return CreatedSession{}, fmt.Errorf("count pending tests: %w", err)
	}
	if pending > 0 {
		return CreatedSession{}, fmt.Errorf("%w (%d pending)", domain.ErrPendingTestsBlocking, pending)
	}
	today, err := e.Sessions.sessions.CountStartedSince(ctx, userID, startOfDay(e.now()))
	if err != nil {
		return CreatedSession{}, fmt.Errorf("count sessions: %w", err)
	}
	if today >= e.perDay {
		return CreatedSession{}, fmt.Errorf("%w (%d/%d)", domain.ErrSessionLimitReached, today, e.perDay)
	}

	session, err := e.Sessions.CreateSession(ctx, userID, contentID, sessionType, label)
	if err != nil {
		return CreatedSession{}, err
	}
	rules, err := e.Proctoring.InitializeProctoring(ctx, session.ID)
	if err != nil {
		return CreatedSession{}, err
	}
	return CreatedSession{
		Session:        session,
		Config:         GetConfig(session.SessionType),
		Proctoring:     rules,
		SessionsToday:  today + 1,
		MaxSessions:    e.perDay,
		RemainingToday: e.perDay - today - 1,
	}, nil
}

// CompleteSession finishes the session and schedules test generation.
func (e *Engine) CompleteSession(ctx context.Context, sessionID string) (domain.SessionSummary, error) {
	session, err := e.Sessions.CompleteSession(ctx, sessionID)
	if err != nil {
		return domain.SessionSummary{}, err
	}
	return e.afterCompletion(ctx, session)
}

// EndBreak resumes study, or completes the session if the quota is reached.
func (e *Engine) EndBreak(ctx context.Context, sessionID string) (domain.StudySession, *domain.SessionSummary, error) {
	session, completed, err := e.Sessions.EndBreak(ctx, sessionID)
	if err != nil || !completed {
		return session, nil, err
	}
	summary, err := e.afterCompletion(ctx, session)
	if err != nil {
		return session, nil, err
	}
	return session, &summary, nil
}

func (e *Engine) afterCompletion(ctx context.Context, session domain.StudySession) (domain.SessionSummary, error) {
	score, err := e.Engagement.CalculateEngagementScore(ctx, session.ID)
	if err != nil {
		return domain.SessionSummary{}, err
	}
	violations, err := e.Proctoring.GetViolationSummary(ctx, session.ID)
	if err != nil {
		return domain.SessionSummary{}, err
	}
	summary := domain.SessionSummary{
		SessionID:            session.ID,
		StudyDurationSeconds: session.StudyDurationSeconds,
		BreakDurationSeconds: session.BreakDurationSeconds,
		BreakUsed:            session.BreakUsed,
		BreakExpired:         session.BreakExpired,
		EngagementScore:      score,
		Violations:           violations,
		TestStatus:           "preparing",
		TestAvailableUntil:   session.TestAvailableUntil,
	}
	if e.queue == nil {
		summary.TestStatus = "on_demand"
		return summary, nil
	}
	if _, err := e.queue.Enqueue(ctx, session.ID); err != nil {
		// generation can still be requested explicitly
		e.log.Warn("enqueue test generation failed", zap.String("sessionId", session.ID), zap.Error(err))
		summary.TestStatus = "on_demand"
	}
	return summary, nil
}

// ResolveDifficulty picks the learner's last predicted level when none is given.
func (e *Engine) ResolveDifficulty(ctx context.Context, userID string, requested int) (int, error) {
	if requested != 0 {
		return requested, nil
	}
	level, ok, err := e.tests.LatestNextDifficulty(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("latest difficulty: %w", err)
	}
	if !ok {
		return domain.MinDifficulty, nil
	}
	return domain.ClampDifficulty(level), nil
}

// GenerateTest builds or returns the session's test. difficulty 0 means
// the learner's adaptive level.
func (e *Engine) GenerateTest(ctx context.Context, sessionID string, difficulty int) (domain.GeneratedTest, error) {
	session, err := e.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.GeneratedTest{}, err
	}
	difficulty, err = e.ResolveDifficulty(ctx, session.UserID, difficulty)
	if err != nil {
		return domain.GeneratedTest{}, err
	}
	return e.Generator.GenerateTest(ctx, sessionID, difficulty)
}

// ProcessGenerationJob is the queue worker entry point.
func (e *Engine) ProcessGenerationJob(ctx context.Context, sessionID string) error {
	test, err := e.GenerateTest(ctx, sessionID, 0)
	if err != nil {
		return err
	}
	e.notify(ctx, Notification{
		Kind:   NotifyTestReady,
		UserID: test.UserID,
		TestID: test.ID,
		Payload: map[string]any{
			"sessionId":       sessionID,
			"totalQuestions":  len(test.Questions),
			"difficultyLevel": test.DifficultyLevel,
		},
	})
	return nil
}

// ReportGenerationFailure tells the learner a background build gave up.
func (e *Engine) ReportGenerationFailure(ctx context.Context, sessionID string, cause error) {
	session, err := e.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return
	}
	e.notify(ctx, Notification{
		Kind:    NotifyGenerationFailed,
		UserID:  session.UserID,
		Payload: map[string]string{"sessionId": sessionID, "error": cause.Error()},
	})
}

// GetTest loads a test with its questions.
func (e *Engine) GetTest(ctx context.Context, testID string) (domain.GeneratedTest, error) {
	return e.tests.Get(ctx, testID)
}

// StartTest stamps the start of the test timer.
func (e *Engine) StartTest(ctx context.Context, testID string) (domain.GeneratedTest, error) {
	return e.tests.Update(ctx, testID, func(t *domain.GeneratedTest) error {
		if t.IsCompleted {
			return domain.ErrTestCompleted
		}
		if t.StartedAt != nil {
			return domain.ErrTestAlreadyStarted
		}
		now := e.now()
		t.StartedAt = &now
		return nil
	})
}

// SubmitAnswer dispatches a submission to the grader for its question type.
func (e *Engine) SubmitAnswer(ctx context.Context, testID, questionID, userID string, payload domain.AnswerPayload) (domain.TestSubmission, error) {
	test, err := e.tests.Get(ctx, testID)
	if err != nil {
		return domain.TestSubmission{}, err
	}
	if test.IsCompleted {
		return domain.TestSubmission{}, domain.ErrTestCompleted
	}
	q, ok := test.Question(questionID)
	if !ok {
		return domain.TestSubmission{}, domain.ErrQuestionNotFound
	}
	if payload.TimeTakenSeconds < 0 {
		return domain.TestSubmission{}, fmt.Errorf("%w: negative time taken", domain.ErrInvalidAnswer)
	}

	if q.Type == domain.QuestionMCQ {
		if payload.SelectedIndex == nil {
			return domain.TestSubmission{}, fmt.Errorf("%w: selectedIndex required", domain.ErrInvalidAnswer)
		}
		return e.Scorer.EvaluateMCQ(ctx, q, userID, *payload.SelectedIndex, payload.TimeTakenSeconds)
	}
	return e.Scorer.EvaluateOpenAnswer(ctx, q, userID, payload.AnswerText, payload.TimeTakenSeconds)
}

// CompleteTest scores the test, updates weak points, predicts the next
// difficulty and notifies the learner. It is terminal. The test is only
// marked completed once every step has succeeded, so a failed attempt can
// be retried.
func (e *Engine) CompleteTest(ctx context.Context, testID string) (domain.TestResult, error) {
	test, err := e.tests.Get(ctx, testID)
	if err != nil {
		return domain.TestResult{}, err
	}
	if test.IsCompleted {
		return domain.TestResult{}, domain.ErrTestCompleted
	}
	if len(test.Questions) == 0 {
		return domain.TestResult{}, domain.ErrEmptyTest
	}

	subs, err := e.Scorer.learnerSubmissions(ctx, test)
	if err != nil {
		return domain.TestResult{}, err
	}
	score, err := ScoreTest(test, subs)
	if err != nil {
		return domain.TestResult{}, err
	}
	weakAreas := []domain.ConceptReport{}
	weakNames := []string{}
	for _, r := range ConceptReports(test, subs) {
		if r.Weak {
			weakAreas = append(weakAreas, r)
			weakNames = append(weakNames, r.Concept)
		}
	}
	test.WeakConcepts = weakNames
	mcq, short, problem := TypeScores(test, subs)
	topics := WeakTopics(test, subs)

	features, err := e.Scorer.features(ctx, test, subs, test.SessionID)
	if err != nil {
		return domain.TestResult{}, err
	}
	next := e.Predictor.PredictNextDifficulty(features)

	completedAt := e.now()
	test, err = e.tests.Update(ctx, testID, func(t *domain.GeneratedTest) error {
		if t.IsCompleted {
			return domain.ErrTestCompleted
		}
		overall := score.OverallScore
		t.Score = &overall
		t.WeakConcepts = weakNames
		t.NextDifficulty = &next
		t.CompletedAt = &completedAt
		t.IsCompleted = true
		return nil
	})
	if err != nil {
		return domain.TestResult{}, err
	}
	if err := e.accumulateWeakPoints(ctx, test.UserID, topics); err != nil {
		e.reopen(ctx, testID)
		return domain.TestResult{}, err
	}

	taken := 0
	if test.StartedAt != nil {
		taken = int(completedAt.Sub(*test.StartedAt) / time.Second)
	}
	result := domain.TestResult{
		TestScore:           score,
		TimeTakenSeconds:    taken,
		MCQScore:            mcq,
		ShortAnswerScore:    short,
		ProblemSolvingScore: problem,
		WeakTopics:          topics,
		WeakAreas:           weakAreas,
		NextDifficulty:      next,
		DifficultyFeedback:  DifficultyFeedback(test.DifficultyLevel, next),
		AdaptiveScore:       CalculateAdaptiveScore(features.Accuracy, features.AvgTimePerQuestion, features.FirstAttemptCorrect, test.DifficultyLevel),
	}
	result.Notified = e.notify(ctx, Notification{
		Kind:    NotifyTestResult,
		UserID:  test.UserID,
		TestID:  testID,
		Payload: result,
	})
	return result, nil
}

// reopen undoes a completion whose follow-up writes failed.
func (e *Engine) reopen(ctx context.Context, testID string) {
	_, err := e.tests.Update(ctx, testID, func(t *domain.GeneratedTest) error {
		t.Score = nil
		t.NextDifficulty = nil
		t.CompletedAt = nil
		t.IsCompleted = false
		return nil
	})
	if err != nil {
		e.log.Error("reopen test after failed completion", zap.String("testId", testID), zap.Error(err))
	}
}

// accumulateWeakPoints folds every below-bar concept of this test into the
// learner's running aggregate.
func (e *Engine) accumulateWeakPoints(ctx context.Context, userID string, topics []domain.WeakTopic) error {
	at := e.now()
	for _, topic := range topics {
		if _, err := e.weakPoints.Accumulate(ctx, userID, topic.Name, topic.Questions-topic.Correct, topic.Questions, at); err != nil {
			return fmt.Errorf("accumulate weak point %q: %w", topic.Name, err)
		}
	}
	return nil
}

// GetWeakPoints lists the learner's running concept aggregates.
func (e *Engine) GetWeakPoints(ctx context.Context, userID string) ([]domain.WeakPoint, error) {
	return e.weakPoints.ListByUser(ctx, userID)
}

// notify is best effort; the outcome never changes persisted results.
func (e *Engine) notify(ctx context.Context, n Notification) bool {
	if e.notifier == nil {
		return false
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.log.Warn("notification failed", zap.String("kind", n.Kind), zap.String("userId", n.UserID), zap.Error(err))
		return false
	}
	return true
}

// RetryableGeneration reports whether a failed generation job is worth
// another attempt. Unknown sessions and state or input errors never heal.
func RetryableGeneration(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrValidation):
		return false
	}
	return true
}
