package app

import (
	"context"
	"time"

	"study-session-engine/internal/domain"
)

// SessionRepository stores study sessions. Update runs fn as one
// read-modify-write against the stored record.
type SessionRepository interface {
	Create(ctx context.Context, session domain.StudySession) error
	Get(ctx context.Context, id string) (domain.StudySession, error)
	Update(ctx context.Context, id string, fn func(*domain.StudySession) error) (domain.StudySession, error)
	CountStartedSince(ctx context.Context, userID string, since time.Time) (int, error)
	CountCompleted(ctx context.Context, userID string) (int, error)
}

// MetricsDelta is a batch of counter increments applied atomically.
type MetricsDelta struct {
	Counters map[string]int
	Events   map[string]int
}

// Derived field names accepted by MetricsRepository.SetDerived.
const (
	FieldEngagementScore     = "engagement_score"
	FieldStudySpeed          = "study_speed"
	FieldInteractionRate     = "interaction_rate"
	FieldActiveTimeRatio     = "active_time_ratio"
	FieldAverageFocusSeconds = "average_focus_seconds"
)

// MetricsRepository keeps one engagement record per session. Increments
// must be atomic at the store so concurrent events never lose updates.
type MetricsRepository interface {
	Init(ctx context.Context, sessionID string) error
	Get(ctx context.Context, sessionID string) (domain.EngagementMetrics, error)
	Incr(ctx context.Context, sessionID string, delta MetricsDelta) error
	SetDerived(ctx context.Context, sessionID string, fields map[string]float64) error
}

// ProctoringLog is the append-only integrity event log.
type ProctoringLog interface {
	Append(ctx context.Context, event domain.ProctoringEvent) (domain.ProctoringEvent, error)
	CountByType(ctx context.Context, sessionID string) (map[domain.ProctoringEventType]int, error)
}

// TestRepository stores generated tests with their ordered questions.
type TestRepository interface {
	Create(ctx context.Context, test domain.GeneratedTest) error
	Get(ctx context.Context, id string) (domain.GeneratedTest, error)
	// FindBySession is the explicit existence query for a session's test.
	FindBySession(ctx context.Context, sessionID string) (domain.GeneratedTest, bool, error)
	SaveQuestions(ctx context.Context, testID string, questions []domain.TestQuestion, actual domain.TypeCounts) error
	Update(ctx context.Context, id string, fn func(*domain.GeneratedTest) error) (domain.GeneratedTest, error)
	Delete(ctx context.Context, id string) error
	// CountPending counts populated, unfinished tests created at or after since.
	CountPending(ctx context.Context, userID string, since time.Time) (int, error)
	LatestNextDifficulty(ctx context.Context, userID string) (int, bool, error)
}

// SubmissionRepository upserts answers keyed by (question, learner).
type SubmissionRepository interface {
	Upsert(ctx context.Context, submission domain.TestSubmission) (domain.TestSubmission, error)
	ListByTest(ctx context.Context, testID string) ([]domain.TestSubmission, error)
}

// WeakPointRepository keeps running per-learner concept aggregates.
type WeakPointRepository interface {
	Accumulate(ctx context.Context, userID, concept string, incorrect, total int, at time.Time) (domain.WeakPoint, error)
	ListByUser(ctx context.Context, userID string) ([]domain.WeakPoint, error)
}

// ContentProvider supplies transcript and key concepts for a content item.
type ContentProvider interface {
	GetContent(ctx context.Context, contentID string) (domain.Content, error)
}

// AssessRequest is the open-answer grading input.
type AssessRequest struct {
	QuestionText   string
	ExpectedAnswer string
	UserAnswer     string
	Type           domain.QuestionType
}

// Assessment is an evaluator verdict.
type Assessment struct {
	Score      float64 `json:"score"`
	IsCorrect  bool    `json:"isCorrect"`
	Feedback   string  `json:"feedback"`
	Confidence float64 `json:"confidence"`
}

// Evaluator grades open answers. Any error triggers the keyword fallback.
type Evaluator interface {
	Assess(ctx context.Context, req AssessRequest) (Assessment, error)
}

// GenerationRequest asks a provider for questions of one type.
type GenerationRequest struct {
	Transcript string
	Concepts   []string
	Difficulty int
	Type       domain.QuestionType
	Count      int
}

// QuestionGenerator produces raw question candidates of one type.
type QuestionGenerator interface {
	Name() string
	Generate(ctx context.Context, req GenerationRequest) ([]domain.TestQuestion, error)
}

// Classifier predicts a raw difficulty from the ordered feature vector.
type Classifier interface {
	Predict(features []float64) (int, error)
}

// Notification is a message delivered to a learner out of band.
type Notification struct {
	Kind    string `json:"kind"`
	UserID  string `json:"userId"`
	TestID  string `json:"testId,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Notifier delivers notifications; failures never affect persisted state.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// GenerationQueue schedules background test generation keyed by session id.
// Enqueue reports false when the session is already queued.
type GenerationQueue interface {
	Enqueue(ctx context.Context, sessionID string) (bool, error)
}

// GenerationHandler is what queue workers drive for each dequeued session.
type GenerationHandler interface {
	ProcessGenerationJob(ctx context.Context, sessionID string) error
	ReportGenerationFailure(ctx context.Context, sessionID string, cause error)
}
