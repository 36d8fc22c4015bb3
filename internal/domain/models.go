package domain

import "time"

// SessionType selects the timing profile of a study session.
type SessionType string

const (
	SessionRecommended SessionType = "recommended"
	SessionStandard    SessionType = "standard"
	SessionCustom      SessionType = "custom"
)

// Valid reports whether t is one of the known profiles.
func (t SessionType) Valid() bool {
	switch t {
	case SessionRecommended, SessionStandard, SessionCustom:
		return true
	}
	return false
}

// SessionConfig is the timing profile applied to a session.
type SessionConfig struct {
	StudyTimeSeconds int  `json:"studyTimeSeconds"`
	BreakTimeSeconds int  `json:"breakTimeSeconds"`
	BreakFlexible    bool `json:"breakFlexible"`
}

// StudySession is one timed study interval for one learner and one content item.
type StudySession struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	ContentID   string      `json:"contentId"`
	Label       string      `json:"label"`
	SessionType SessionType `json:"sessionType"`

	StartedAt            time.Time  `json:"startedAt"`
	EndedAt              *time.Time `json:"endedAt,omitempty"`
	StudyDurationSeconds int        `json:"studyDurationSeconds"`
	BreakDurationSeconds int        `json:"breakDurationSeconds"`
	BreakStartedAt       *time.Time `json:"breakStartedAt,omitempty"`
	BreakEndedAt         *time.Time `json:"breakEndedAt,omitempty"`
	BreakUsed            bool       `json:"breakUsed"`
	BreakExpired         bool       `json:"breakExpired"`
	Reminder70Shown      bool       `json:"reminder70Shown"`
	Reminder90Shown      bool       `json:"reminder90Shown"`
	IsActive             bool       `json:"isActive"`
	IsCompleted          bool       `json:"isCompleted"`

	CameraEnabled             bool `json:"cameraEnabled"`
	CameraPermissionRequested bool `json:"cameraPermissionRequested"`

	// TestAvailableUntil bounds when downstream collaborators may build the test.
	TestAvailableUntil time.Time `json:"testAvailableUntil"`
}

// BreakOpen reports whether a break has started and not yet ended.
func (s StudySession) BreakOpen() bool {
	return s.BreakStartedAt != nil && s.BreakEndedAt == nil
}

// SessionStatus is the recomputed view returned by status polling.
type SessionStatus struct {
	SessionID        string     `json:"sessionId"`
	IsActive         bool       `json:"isActive"`
	IsCompleted      bool       `json:"isCompleted"`
	OnBreak          bool       `json:"onBreak"`
	ElapsedSeconds   int        `json:"elapsedSeconds"`
	RemainingSeconds int        `json:"remainingSeconds"`
	StudyTimeSeconds int        `json:"studyTimeSeconds"`
	BreakUsed        bool       `json:"breakUsed"`
	BreakExpired     bool       `json:"breakExpired"`
	Reminder         *Reminder  `json:"reminder,omitempty"`
	BreakStartedAt   *time.Time `json:"breakStartedAt,omitempty"`
}

// Reminder is emitted once per threshold for recommended sessions.
type Reminder struct {
	AtMinutes int    `json:"atMinutes"`
	Message   string `json:"message"`
}

// SessionSummary is returned when a session completes.
type SessionSummary struct {
	SessionID            string           `json:"sessionId"`
	StudyDurationSeconds int              `json:"studyDurationSeconds"`
	BreakDurationSeconds int              `json:"breakDurationSeconds"`
	BreakUsed            bool             `json:"breakUsed"`
	BreakExpired         bool             `json:"breakExpired"`
	EngagementScore      float64          `json:"engagementScore"`
	Violations           ViolationSummary `json:"violations"`
	TestStatus           string           `json:"testStatus,omitempty"`
	TestAvailableUntil   time.Time        `json:"testAvailableUntil"`
}

// Engagement counter names shared by the metrics stores.
const (
	CounterTabSwitches         = "tab_switches"
	CounterFocusLosses         = "focus_losses"
	CounterChatQueries         = "chat_queries"
	CounterWhiteboardSnapshots = "whiteboard_snapshots"
)

// Engagement labels that also bump a dedicated counter. Clients may send
// either the snake_case or the camelCase spelling.
const (
	EventChatQuery               = "chat_query"
	EventWhiteboardSnapshot      = "whiteboard_snapshot"
	EventChatQueryCamel          = "chatQuery"
	EventWhiteboardSnapshotCamel = "whiteboardSnapshot"
)

// EngagementMetrics is the per-session engagement record.
type EngagementMetrics struct {
	SessionID           string         `json:"sessionId"`
	TabSwitches         int            `json:"tabSwitches"`
	FocusLosses         int            `json:"focusLosses"`
	ChatQueries         int            `json:"chatQueries"`
	WhiteboardSnapshots int            `json:"whiteboardSnapshots"`
	EventCounts         map[string]int `json:"eventCounts"`
	Derived
}

// Derived holds the computed engagement fields.
type Derived struct {
	EngagementScore     float64 `json:"engagementScore"`
	StudySpeed          float64 `json:"studySpeed"`
	InteractionRate     float64 `json:"interactionRate"`
	ActiveTimeRatio     float64 `json:"activeTimeRatio"`
	AverageFocusSeconds float64 `json:"averageFocusSeconds"`
}

// TotalInteractions sums every label count.
func (m EngagementMetrics) TotalInteractions() int {
	total := 0
	for _, n := range m.EventCounts {
		total += n
	}
	return total
}

// StudyHabits is the qualitative bucketing of engagement data.
type StudyHabits struct {
	InteractionFrequency string  `json:"interactionFrequency"`
	FocusStability       string  `json:"focusStability"`
	ChatUsage            string  `json:"chatUsage"`
	WhiteboardUsage      string  `json:"whiteboardUsage"`
	ViolationRate        float64 `json:"violationRate"`
}

// AggregatedMetrics is the full record consumed by difficulty input assembly.
type AggregatedMetrics struct {
	SessionID         string         `json:"sessionId"`
	ElapsedSeconds    int            `json:"elapsedSeconds"`
	ActiveSeconds     int            `json:"activeSeconds"`
	IdleSeconds       int            `json:"idleSeconds"`
	TotalInteractions int            `json:"totalInteractions"`
	EventCounts       map[string]int `json:"eventCounts"`
	TabSwitches       int            `json:"tabSwitches"`
	FocusLosses       int            `json:"focusLosses"`
	Habits            StudyHabits    `json:"habits"`
	Derived
}

// QuestionType discriminates test questions.
type QuestionType string

const (
	QuestionMCQ            QuestionType = "mcq"
	QuestionShortAnswer    QuestionType = "short_answer"
	QuestionProblemSolving QuestionType = "problem_solving"
)

// QuestionTypes lists the types in generation order.
var QuestionTypes = []QuestionType{QuestionMCQ, QuestionShortAnswer, QuestionProblemSolving}

// DefaultPoints is the weight used when a generator supplies none.
func (t QuestionType) DefaultPoints() int {
	switch t {
	case QuestionShortAnswer:
		return 2
	case QuestionProblemSolving:
		return 3
	}
	return 1
}

// TestQuestion is one ordered question of a generated test.
type TestQuestion struct {
	ID             string       `json:"id"`
	TestID         string       `json:"testId"`
	Order          int          `json:"order"`
	Type           QuestionType `json:"questionType"`
	Text           string       `json:"questionText"`
	Options        []string     `json:"options,omitempty"`
	CorrectIndex   *int         `json:"correctAnswerIndex,omitempty"`
	ExpectedAnswer string       `json:"expectedAnswer,omitempty"`
	Explanation    string       `json:"explanation,omitempty"`
	Concept        string       `json:"concept"`
	Difficulty     int          `json:"difficulty"`
	Points         int          `json:"points"`
}

// TypeCounts holds one count per question type.
type TypeCounts struct {
	MCQ            int `json:"mcq"`
	ShortAnswer    int `json:"shortAnswer"`
	ProblemSolving int `json:"problemSolving"`
}

// Total sums all types.
func (c TypeCounts) Total() int {
	return c.MCQ + c.ShortAnswer + c.ProblemSolving
}

// Of returns the count for one type.
func (c TypeCounts) Of(t QuestionType) int {
	switch t {
	case QuestionMCQ:
		return c.MCQ
	case QuestionShortAnswer:
		return c.ShortAnswer
	case QuestionProblemSolving:
		return c.ProblemSolving
	}
	return 0
}

// GeneratedTest belongs to exactly one completed session.
type GeneratedTest struct {
	ID               string         `json:"id"`
	SessionID        string         `json:"sessionId"`
	UserID           string         `json:"userId"`
	DifficultyLevel  int            `json:"difficultyLevel"`
	Target           TypeCounts     `json:"target"`
	Actual           TypeCounts     `json:"actual"`
	Questions        []TestQuestion `json:"questions"`
	Score            *float64       `json:"score,omitempty"`
	WeakConcepts     []string       `json:"weakConcepts,omitempty"`
	NextDifficulty   *int           `json:"nextDifficulty,omitempty"`
	TimeLimitSeconds int            `json:"timeLimitSeconds"`
	CreatedAt        time.Time      `json:"createdAt"`
	StartedAt        *time.Time     `json:"startedAt,omitempty"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
	IsCompleted      bool           `json:"isCompleted"`
}

// Question returns the question with the given id, if it belongs to the test.
func (t GeneratedTest) Question(id string) (TestQuestion, bool) {
	for _, q := range t.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return TestQuestion{}, false
}

// TestSubmission is keyed by (question, learner); resubmission overwrites.
type TestSubmission struct {
	QuestionID       string    `json:"questionId"`
	TestID           string    `json:"testId"`
	UserID           string    `json:"userId"`
	SelectedIndex    *int      `json:"selectedIndex,omitempty"`
	AnswerText       string    `json:"answerText,omitempty"`
	IsCorrect        bool      `json:"isCorrect"`
	Score            float64   `json:"score"`
	Feedback         string    `json:"feedback"`
	TimeTakenSeconds int       `json:"timeTakenSeconds"`
	EvaluatedByModel bool      `json:"evaluatedByModel"`
	Confidence       float64   `json:"confidence"`
	SubmittedAt      time.Time `json:"submittedAt"`
}

// AnswerPayload is the caller-supplied answer body.
type AnswerPayload struct {
	SelectedIndex    *int   `json:"selectedIndex,omitempty"`
	AnswerText       string `json:"answerText,omitempty"`
	TimeTakenSeconds int    `json:"timeTakenSeconds"`
}

// TestScore is the output of test-level scoring.
type TestScore struct {
	TestID              string  `json:"testId"`
	OverallScore        float64 `json:"overallScore"`
	EarnedPoints        float64 `json:"earnedPoints"`
	TotalPossiblePoints int     `json:"totalPossiblePoints"`
	TotalQuestions      int     `json:"totalQuestions"`
	AnsweredQuestions   int     `json:"answeredQuestions"`
	UnansweredQuestions int     `json:"unansweredQuestions"`
	CorrectAnswers      int     `json:"correctAnswers"`
}

// ConceptReport is per-concept performance within one test.
type ConceptReport struct {
	Concept   string  `json:"concept"`
	Total     int     `json:"total"`
	Correct   int     `json:"correct"`
	Accuracy  float64 `json:"accuracy"`
	MeanScore float64 `json:"meanScore"`
	Weak      bool    `json:"weak"`
}

// WeakPoint is the running per-learner concept aggregate.
type WeakPoint struct {
	UserID         string    `json:"userId"`
	Concept        string    `json:"concept"`
	IncorrectCount int       `json:"incorrectCount"`
	TotalAttempts  int       `json:"totalAttempts"`
	Accuracy       float64   `json:"accuracy"`
	Confidence     float64   `json:"confidence"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// WeakTopic is a concept below the accuracy bar in one test.
type WeakTopic struct {
	Name      string  `json:"name"`
	Accuracy  float64 `json:"accuracy"`
	Questions int     `json:"questions"`
	Correct   int     `json:"correct"`
}

// TestResult is returned when a test is completed.
type TestResult struct {
	TestScore
	TimeTakenSeconds    int             `json:"timeTakenSeconds"`
	MCQScore            float64         `json:"mcqScore"`
	ShortAnswerScore    float64         `json:"shortAnswerScore"`
	ProblemSolvingScore float64         `json:"problemSolvingScore"`
	WeakTopics          []WeakTopic     `json:"weakTopics"`
	WeakAreas           []ConceptReport `json:"weakAreas"`
	NextDifficulty      int             `json:"nextDifficulty"`
	DifficultyFeedback  string          `json:"difficultyFeedback"`
	AdaptiveScore       float64         `json:"adaptiveScore"`
	Notified            bool            `json:"notified"`
}

// Content is what the content provider supplies for a content item.
type Content struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Transcript  string   `json:"transcript"`
	KeyConcepts []string `json:"keyConcepts"`
}

// WeakPointAccuracy is the running correct share of a weak point, in percent.
func WeakPointAccuracy(incorrect, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(total-incorrect) / float64(total) * 100
}
