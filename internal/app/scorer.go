package app

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"study-session-engine/internal/domain"
	"study-session-engine/internal/metrics"
)

const (
	passingScore       = 70.0
	fallbackConfidence = 0.3
	keywordMinLength   = 4
)

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// KeywordGrade is the deterministic open-answer grader. It never awards
// marks for an empty answer or a missing reference.
func KeywordGrade(answer, expected string) Assessment {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return Assessment{Score: 0, Feedback: "No answer provided.", Confidence: fallbackConfidence}
	}
	if strings.TrimSpace(expected) == "" {
		return Assessment{Score: 0, Feedback: "Could not evaluate answer (no reference provided).", Confidence: fallbackConfidence}
	}

	var keywords []string
	for _, w := range strings.Fields(strings.ToLower(expected)) {
		if utf8.RuneCountInString(w) > keywordMinLength {
			keywords = append(keywords, w)
		}
	}
	if len(keywords) == 0 {
		if utf8.RuneCountInString(answer) > 20 {
			return Assessment{Score: 30, Feedback: "Answer too short to evaluate accurately. Partial credit given.", Confidence: fallbackConfidence}
		}
		return Assessment{Score: 0, Feedback: "Answer could not be evaluated, too brief.", Confidence: fallbackConfidence}
	}

	lower := strings.ToLower(answer)
	matches := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			matches++
		}
	}
	score := round1(float64(matches) / float64(len(keywords)) * 100)
	return Assessment{
		Score:      score,
		IsCorrect:  score >= passingScore,
		Feedback:   fmt.Sprintf("Your answer matched %d out of %d key concepts.", matches, len(keywords)),
		Confidence: fallbackConfidence,
	}
}

// AssessmentScorer grades answers and scores tests.
type AssessmentScorer struct {
	tests       TestRepository
	submissions SubmissionRepository
	sessions    SessionRepository
	engagement  *EngagementAggregator
	evaluator   Evaluator
	log         *zap.Logger
	now         func() time.Time
}

// NewAssessmentScorer wires the scorer. evaluator may be nil, in which case
// every open answer is keyword graded.
func NewAssessmentScorer(tests TestRepository, submissions SubmissionRepository, sessions SessionRepository, engagement *EngagementAggregator, evaluator Evaluator, log *zap.Logger) *AssessmentScorer {
	if log == nil {
		log = zap.NewNop()
	}
	return &AssessmentScorer{
		tests:       tests,
		submissions: submissions,
		sessions:    sessions,
		engagement:  engagement,
		evaluator:   evaluator,
		log:         log,
		now:         time.Now,
	}
}

// EvaluateMCQ scores an exact index match as 100, anything else as 0.
func (s *AssessmentScorer) EvaluateMCQ(ctx context.Context, q domain.TestQuestion, userID string, selected, timeTaken int) (domain.TestSubmission, error) {
	if q.Type != domain.QuestionMCQ {
		return domain.TestSubmission{}, fmt.Errorf("%w: question %s is not mcq", domain.ErrInvalidAnswer, q.ID)
	}
	if selected < 0 || selected >= len(q.Options) {
		return domain.TestSubmission{}, domain.ErrInvalidOptionIndex
	}
	correct := q.CorrectIndex != nil && *q.CorrectIndex == selected
	score := 0.0
	if correct {
		score = 100
	}
	idx := selected
	return s.submissions.Upsert(ctx, domain.TestSubmission{
		QuestionID:       q.ID,
		TestID:           q.TestID,
		UserID:           userID,
		SelectedIndex:    &idx,
		AnswerText:       q.Options[selected],
		IsCorrect:        correct,
		Score:            score,
		TimeTakenSeconds: timeTaken,
		SubmittedAt:      s.now(),
	})
}

// EvaluateOpenAnswer grades short-answer and problem-solving responses via
// the evaluator, falling back to keyword grading on any evaluator failure.
func (s *AssessmentScorer) EvaluateOpenAnswer(ctx context.Context, q domain.TestQuestion, userID, text string, timeTaken int) (domain.TestSubmission, error) {
	if q.Type == domain.QuestionMCQ {
		return domain.TestSubmission{}, fmt.Errorf("%w: question %s expects an option index", domain.ErrInvalidAnswer, q.ID)
	}

	verdict, byModel := s.assess(ctx, q, text)
	return s.submissions.Upsert(ctx, domain.TestSubmission{
		QuestionID:       q.ID,
		TestID:           q.TestID,
		UserID:           userID,
		AnswerText:       text,
		IsCorrect:        verdict.IsCorrect,
		Score:            verdict.Score,
		Feedback:         verdict.Feedback,
		TimeTakenSeconds: timeTaken,
		EvaluatedByModel: byModel,
		Confidence:       verdict.Confidence,
		SubmittedAt:      s.now(),
	})
}

func (s *AssessmentScorer) assess(ctx context.Context, q domain.TestQuestion, text string) (Assessment, bool) {
	// empty inputs are decided locally; the evaluator has nothing to add
	if s.evaluator == nil || strings.TrimSpace(text) == "" || strings.TrimSpace(q.ExpectedAnswer) == "" {
		return KeywordGrade(text, q.ExpectedAnswer), false
	}
	verdict, err := s.evaluator.Assess(ctx, AssessRequest{
		QuestionText:   q.Text,
		ExpectedAnswer: q.ExpectedAnswer,
		UserAnswer:     text,
		Type:           q.Type,
	})
	if err != nil {
		s.log.Warn("evaluator failed, using keyword grading",
			zap.String("questionId", q.ID), zap.Error(err))
		metrics.Fallbacks.WithLabelValues("evaluator").Inc()
		return KeywordGrade(text, q.ExpectedAnswer), false
	}
	verdict.Score = math.Max(0, math.Min(100, verdict.Score))
	return verdict, true
}

func (s *AssessmentScorer) learnerSubmissions(ctx context.Context, test domain.GeneratedTest) ([]domain.TestSubmission, error) {
	all, err := s.submissions.ListByTest(ctx, test.ID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	out := make([]domain.TestSubmission, 0, len(all))
	for _, sub := range all {
		if sub.UserID == test.UserID {
			out = append(out, sub)
		}
	}
	return out, nil
}

// ScoreTest applies the no-free-marks policy: every question counts toward
// the denominator whether or not it was answered.
func ScoreTest(test domain.GeneratedTest, subs []domain.TestSubmission) (domain.TestScore, error) {
	if len(test.Questions) == 0 {
		return domain.TestScore{}, domain.ErrEmptyTest
	}
	points := make(map[string]int, len(test.Questions))
	totalPossible := 0
	for _, q := range test.Questions {
		points[q.ID] = q.Points
		totalPossible += q.Points
	}

	earned := 0.0
	answered, correct := 0, 0
	for _, sub := range subs {
		p, ok := points[sub.QuestionID]
		if !ok {
			continue
		}
		answered++
		if sub.IsCorrect {
			correct++
		}
		earned += sub.Score / 100 * float64(p)
	}

	overall := 0.0
	if totalPossible > 0 {
		overall = round1(earned / float64(totalPossible) * 100)
	}
	return domain.TestScore{
		TestID:              test.ID,
		OverallScore:        overall,
		EarnedPoints:        round2(earned),
		TotalPossiblePoints: totalPossible,
		TotalQuestions:      len(test.Questions),
		AnsweredQuestions:   answered,
		UnansweredQuestions: len(test.Questions) - answered,
		CorrectAnswers:      correct,
	}, nil
}

// CalculateTestScore scores the test, persists the score and marks it completed.
func (s *AssessmentScorer) CalculateTestScore(ctx context.Context, testID string) (domain.TestScore, error) {
	test, err := s.tests.Get(ctx, testID)
	if err != nil {
		return domain.TestScore{}, err
	}
	subs, err := s.learnerSubmissions(ctx, test)
	if err != nil {
		return domain.TestScore{}, err
	}
	score, err := ScoreTest(test, subs)
	if err != nil {
		return domain.TestScore{}, err
	}
	_, err = s.tests.Update(ctx, testID, func(t *domain.GeneratedTest) error {
		overall := score.OverallScore
		t.Score = &overall
		t.IsCompleted = true
		return nil
	})
	if err != nil {
		return domain.TestScore{}, fmt.Errorf("persist test score: %w", err)
	}
	return score, nil
}

// ConceptReports groups submissions by concept. A concept is weak when its
// accuracy or its mean score falls below the passing bar.
func ConceptReports(test domain.GeneratedTest, subs []domain.TestSubmission) []domain.ConceptReport {
	concepts := make(map[string]string, len(test.Questions))
	for _, q := range test.Questions {
		concepts[q.ID] = q.Concept
	}

	type agg struct {
		total, correct int
		scoreSum       float64
	}
	stats := map[string]*agg{}
	for _, sub := range subs {
		concept, ok := concepts[sub.QuestionID]
		if !ok {
			continue
		}
		a := stats[concept]
		if a == nil {
			a = &agg{}
			stats[concept] = a
		}
		a.total++
		if sub.IsCorrect {
			a.correct++
		}
		a.scoreSum += sub.Score
	}

	reports := make([]domain.ConceptReport, 0, len(stats))
	for concept, a := range stats {
		accuracy := float64(a.correct) / float64(a.total) * 100
		mean := a.scoreSum / float64(a.total)
		reports = append(reports, domain.ConceptReport{
			Concept:   concept,
			Total:     a.total,
			Correct:   a.correct,
			Accuracy:  accuracy,
			MeanScore: mean,
			Weak:      accuracy < passingScore || mean < passingScore,
		})
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Concept < reports[j].Concept })
	return reports
}

// IdentifyWeakAreas returns the weak concepts and persists their names on the test.
func (s *AssessmentScorer) IdentifyWeakAreas(ctx context.Context, testID string) ([]domain.ConceptReport, error) {
	test, err := s.tests.Get(ctx, testID)
	if err != nil {
		return nil, err
	}
	subs, err := s.learnerSubmissions(ctx, test)
	if err != nil {
		return nil, err
	}

	weak := []domain.ConceptReport{}
	names := []string{}
	for _, r := range ConceptReports(test, subs) {
		if r.Weak {
			weak = append(weak, r)
			names = append(names, r.Concept)
		}
	}
	if _, err := s.tests.Update(ctx, testID, func(t *domain.GeneratedTest) error {
		t.WeakConcepts = names
		return nil
	}); err != nil {
		return nil, fmt.Errorf("persist weak concepts: %w", err)
	}
	return weak, nil
}

// PrepareMLInput assembles the difficulty features for a finished test.
func (s *AssessmentScorer) PrepareMLInput(ctx context.Context, testID, sessionID string) (domain.DifficultyFeatures, error) {
	test, err := s.tests.Get(ctx, testID)
	if err != nil {
		return domain.DifficultyFeatures{}, err
	}
	subs, err := s.learnerSubmissions(ctx, test)
	if err != nil {
		return domain.DifficultyFeatures{}, err
	}
	return s.features(ctx, test, subs, sessionID)
}

func (s *AssessmentScorer) features(ctx context.Context, test domain.GeneratedTest, subs []domain.TestSubmission, sessionID string) (domain.DifficultyFeatures, error) {
	accuracy, avgTime := 0.0, 0.0
	if len(subs) > 0 {
		correct, totalTime := 0, 0
		for _, sub := range subs {
			if sub.IsCorrect {
				correct++
			}
			totalTime += sub.TimeTakenSeconds
		}
		accuracy = float64(correct) / float64(len(subs)) * 100
		avgTime = float64(totalTime) / float64(len(subs))
	}

	completed, err := s.sessions.CountCompleted(ctx, test.UserID)
	if err != nil {
		return domain.DifficultyFeatures{}, fmt.Errorf("count completed sessions: %w", err)
	}

	engagement, speed := 50.0, 0.0
	if agg, err := s.engagement.AggregateMetrics(ctx, sessionID); err == nil {
		engagement = agg.EngagementScore
		speed = agg.StudySpeed
	} else {
		s.log.Warn("engagement metrics unavailable for difficulty input",
			zap.String("sessionId", sessionID), zap.Error(err))
	}

	weak := test.WeakConcepts
	if weak == nil {
		weak = []string{}
	}
	return domain.DifficultyFeatures{
		Accuracy:            accuracy,
		AvgTimePerQuestion:  avgTime,
		FirstAttemptCorrect: accuracy,
		CurrentDifficulty:   test.DifficultyLevel,
		SessionsCompleted:   completed,
		ScoreTrend:          0,
		MasteryLevel:        math.Min(accuracy/100, 1),
		IsNewTopic:          completed <= 1,
		EngagementScore:     engagement,
		StudySpeed:          speed,
		WeakConcepts:        weak,
	}, nil
}

// TypeScores reports mcq accuracy and the mean score of each open type.
func TypeScores(test domain.GeneratedTest, subs []domain.TestSubmission) (mcq, short, problem float64) {
	types := make(map[string]domain.QuestionType, len(test.Questions))
	for _, q := range test.Questions {
		types[q.ID] = q.Type
	}
	var mcqTotal, mcqCorrect, shortN, problemN int
	var shortSum, problemSum float64
	for _, sub := range subs {
		switch types[sub.QuestionID] {
		case domain.QuestionMCQ:
			mcqTotal++
			if sub.IsCorrect {
				mcqCorrect++
			}
		case domain.QuestionShortAnswer:
			shortN++
			shortSum += sub.Score
		case domain.QuestionProblemSolving:
			problemN++
			problemSum += sub.Score
		}
	}
	if mcqTotal > 0 {
		mcq = float64(mcqCorrect) / float64(mcqTotal) * 100
	}
	if shortN > 0 {
		short = shortSum / float64(shortN)
	}
	if problemN > 0 {
		problem = problemSum / float64(problemN)
	}
	return mcq, short, problem
}

// WeakTopics counts a submission as correct when flagged correct or scored
// at or above the passing bar.
func WeakTopics(test domain.GeneratedTest, subs []domain.TestSubmission) []domain.WeakTopic {
	concepts := make(map[string]string, len(test.Questions))
	for _, q := range test.Questions {
		concepts[q.ID] = q.Concept
	}
	type agg struct{ total, correct int }
	stats := map[string]*agg{}
	for _, sub := range subs {
		concept, ok := concepts[sub.QuestionID]
		if !ok {
			continue
		}
		a := stats[concept]
		if a == nil {
			a = &agg{}
			stats[concept] = a
		}
		a.total++
		if sub.IsCorrect || sub.Score >= passingScore {
			a.correct++
		}
	}
	topics := []domain.WeakTopic{}
	for concept, a := range stats {
		accuracy := float64(a.correct) / float64(a.total) * 100
		if accuracy < passingScore {
			topics = append(topics, domain.WeakTopic{Name: concept, Accuracy: accuracy, Questions: a.total, Correct: a.correct})
		}
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].Name < topics[j].Name })
	return topics
}
