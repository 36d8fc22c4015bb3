package app_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"study-session-engine/internal/app"
	"study-session-engine/internal/domain"
)

type stubEvaluator struct {
	verdict app.Assessment
	err     error
	calls   int
}

func (e *stubEvaluator) Assess(_ context.Context, _ app.AssessRequest) (app.Assessment, error) {
	e.calls++
	return e.verdict, e.err
}

func (f *fixture) scorer(evaluator app.Evaluator) *app.AssessmentScorer {
	engagement := app.NewEngagementAggregatorWithClock(f.sessions, f.metrics, f.clock.Now)
	return app.NewAssessmentScorer(f.tests, f.submissions, f.sessions, engagement, evaluator, nil)
}

func mcqTest(t *testing.T, f *fixture, n int) domain.GeneratedTest {
	t.Helper()
	test := domain.GeneratedTest{ID: "t1", SessionID: "s1", UserID: "u1", DifficultyLevel: 2}
	if err := f.tests.Create(context.Background(), test); err != nil {
		t.Fatalf("create test: %v", err)
	}
	questions := make([]domain.TestQuestion, n)
	for i := range questions {
		questions[i] = domain.TestQuestion{
			ID:           fmt.Sprintf("q%d", i),
			TestID:       "t1",
			Order:        i,
			Type:         domain.QuestionMCQ,
			Text:         "pick one",
			Options:      []string{"alpha", "beta", "gamma", "delta"},
			CorrectIndex: intPtr(1),
			Concept:      "Greek",
			Points:       1,
		}
	}
	if err := f.tests.SaveQuestions(context.Background(), "t1", questions, domain.TypeCounts{MCQ: n}); err != nil {
		t.Fatalf("save questions: %v", err)
	}
	test, _ = f.tests.Get(context.Background(), "t1")
	return test
}

func TestUnansweredQuestionsCountAsZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	scorer := f.scorer(nil)
	test := mcqTest(t, f, 10)

	for i := 0; i < 6; i++ {
		if _, err := scorer.EvaluateMCQ(ctx, test.Questions[i], "u1", 1, 30); err != nil {
			t.Fatalf("evaluate: %v", err)
		}
	}
	score, err := scorer.CalculateTestScore(ctx, "t1")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score.OverallScore != 60.0 || score.AnsweredQuestions != 6 || score.UnansweredQuestions != 4 {
		t.Fatalf("expected 60.0 with 4 unanswered, got %+v", score)
	}

	stored, _ := f.tests.Get(ctx, "t1")
	if !stored.IsCompleted || stored.Score == nil || *stored.Score != 60.0 {
		t.Fatalf("score must be persisted, got %+v", stored)
	}
}

func TestScoreTestRejectsEmptyTest(t *testing.T) {
	_, err := app.ScoreTest(domain.GeneratedTest{ID: "t0"}, nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestScoreTestWeightsByPoints(t *testing.T) {
	test := domain.GeneratedTest{
		ID: "t1",
		Questions: []domain.TestQuestion{
			{ID: "a", Points: 1},
			{ID: "b", Points: 3},
		},
	}
	subs := []domain.TestSubmission{
		{QuestionID: "b", Score: 50},
		{QuestionID: "stray", Score: 100},
	}
	score, _ := app.ScoreTest(test, subs)
	if score.EarnedPoints != 1.5 || score.OverallScore != 37.5 || score.AnsweredQuestions != 1 {
		t.Fatalf("unexpected score %+v", score)
	}
}

func TestEvaluateMCQ(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	scorer := f.scorer(nil)
	test := mcqTest(t, f, 1)
	q := test.Questions[0]

	sub, err := scorer.EvaluateMCQ(ctx, q, "u1", 1, 12)
	if err != nil || !sub.IsCorrect || sub.Score != 100 {
		t.Fatalf("expected correct, got %+v %v", sub, err)
	}
	sub, _ = scorer.EvaluateMCQ(ctx, q, "u1", 3, 12)
	if sub.IsCorrect || sub.Score != 0 || sub.AnswerText != "delta" {
		t.Fatalf("expected overwrite with incorrect, got %+v", sub)
	}
	subs, _ := f.submissions.ListByTest(ctx, "t1")
	if len(subs) != 1 {
		t.Fatalf("resubmission must overwrite, got %d rows", len(subs))
	}
	if _, err := scorer.EvaluateMCQ(ctx, q, "u1", 4, 12); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestKeywordGrade(t *testing.T) {
	// keywords longer than four characters: energy, produced, mitochondria, respiration
	expected := "energy produced in mitochondria via respiration"
	got := app.KeywordGrade("The mitochondria make energy.", expected)
	if got.Score != 50.0 || got.IsCorrect || got.Confidence != 0.3 {
		t.Fatalf("expected 50 and incorrect, got %+v", got)
	}
	if got.Feedback != "Your answer matched 2 out of 4 key concepts." {
		t.Fatalf("unexpected feedback %q", got.Feedback)
	}

	if got := app.KeywordGrade("   ", expected); got.Score != 0 || got.Feedback != "No answer provided." {
		t.Fatalf("unexpected empty answer grade %+v", got)
	}
	if got := app.KeywordGrade("anything", ""); got.Score != 0 {
		t.Fatalf("no reference must score 0, got %+v", got)
	}
	if got := app.KeywordGrade("a long answer about many things", "it is a cat"); got.Score != 30 {
		t.Fatalf("expected partial credit without keywords, got %+v", got)
	}

	// word length is measured in characters, not bytes
	if got := app.KeywordGrade("café", "café"); got.Score != 0 || got.Feedback != "Answer could not be evaluated, too brief." {
		t.Fatalf("four-character word must not be a keyword, got %+v", got)
	}
	if got := app.KeywordGrade("un naïve élève", "naïve élève"); got.Score != 100 || !got.IsCorrect {
		t.Fatalf("five-character words are keywords, got %+v", got)
	}
}

func openQuestion(t *testing.T, f *fixture) domain.TestQuestion {
	t.Helper()
	ctx := context.Background()
	f.tests.Create(ctx, domain.GeneratedTest{ID: "t1", SessionID: "s1", UserID: "u1"})
	q := domain.TestQuestion{
		ID:             "q1",
		TestID:         "t1",
		Type:           domain.QuestionShortAnswer,
		Text:           "What does the mitochondria do?",
		ExpectedAnswer: "energy produced in mitochondria via respiration",
		Concept:        "mitochondria",
		Points:         2,
	}
	f.tests.SaveQuestions(ctx, "t1", []domain.TestQuestion{q}, domain.TypeCounts{ShortAnswer: 1})
	return q
}

func TestEvaluatorFailureFallsBackToKeywords(t *testing.T) {
	f := newFixture()
	q := openQuestion(t, f)
	evaluator := &stubEvaluator{err: fmt.Errorf("%w: timeout", domain.ErrExternalService)}
	scorer := f.scorer(evaluator)

	sub, err := scorer.EvaluateOpenAnswer(context.Background(), q, "u1", "The mitochondria make energy.", 40)
	if err != nil {
		t.Fatalf("evaluator failures must not surface, got %v", err)
	}
	if evaluator.calls != 1 {
		t.Fatalf("expected evaluator to be tried")
	}
	if sub.Score != 50 || sub.EvaluatedByModel || sub.Confidence != 0.3 {
		t.Fatalf("expected keyword fallback, got %+v", sub)
	}
}

func TestEvaluatorVerdictIsClamped(t *testing.T) {
	f := newFixture()
	q := openQuestion(t, f)
	evaluator := &stubEvaluator{verdict: app.Assessment{Score: 140, IsCorrect: true, Feedback: "great", Confidence: 0.9}}
	sub, err := f.scorer(evaluator).EvaluateOpenAnswer(context.Background(), q, "u1", "cells make energy", 40)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if sub.Score != 100 || !sub.EvaluatedByModel || sub.Feedback != "great" {
		t.Fatalf("unexpected submission %+v", sub)
	}

	sub, _ = f.scorer(evaluator).EvaluateOpenAnswer(context.Background(), q, "u1", "", 40)
	if evaluator.calls != 1 || sub.Score != 0 {
		t.Fatalf("blank answers are graded locally, calls=%d sub=%+v", evaluator.calls, sub)
	}
}

func TestWeakAreasAndTopics(t *testing.T) {
	test := domain.GeneratedTest{
		ID: "t1",
		Questions: []domain.TestQuestion{
			{ID: "q1", Type: domain.QuestionMCQ, Concept: "Recursion"},
			{ID: "q2", Type: domain.QuestionMCQ, Concept: "Recursion"},
			{ID: "q3", Type: domain.QuestionShortAnswer, Concept: "Sorting"},
			{ID: "q4", Type: domain.QuestionProblemSolving, Concept: "Sorting"},
		},
	}
	subs := []domain.TestSubmission{
		{QuestionID: "q1", IsCorrect: true, Score: 100},
		{QuestionID: "q2", Score: 0},
		{QuestionID: "q3", Score: 75},
		{QuestionID: "q4", Score: 80},
	}

	reports := app.ConceptReports(test, subs)
	if len(reports) != 2 || !reports[0].Weak || !reports[1].Weak {
		t.Fatalf("both concepts are below the bar on accuracy or mean, got %+v", reports)
	}

	topics := app.WeakTopics(test, subs)
	if len(topics) != 1 || topics[0].Name != "Recursion" || topics[0].Correct != 1 || topics[0].Questions != 2 {
		t.Fatalf("scores at or above 70 count as correct for topics, got %+v", topics)
	}

	mcq, short, problem := app.TypeScores(test, subs)
	if mcq != 50 || short != 75 || problem != 80 {
		t.Fatalf("unexpected type scores %v %v %v", mcq, short, problem)
	}
}

func TestPrepareMLInputDefaults(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	scorer := f.scorer(nil)
	test := mcqTest(t, f, 4)
	scorer.EvaluateMCQ(ctx, test.Questions[0], "u1", 1, 20)
	scorer.EvaluateMCQ(ctx, test.Questions[1], "u1", 0, 40)

	features, err := scorer.PrepareMLInput(ctx, "t1", "no-such-session")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if features.Accuracy != 50 || features.AvgTimePerQuestion != 30 || features.MasteryLevel != 0.5 {
		t.Fatalf("unexpected features %+v", features)
	}
	if features.EngagementScore != 50 || !features.IsNewTopic || features.ScoreTrend != 0 || features.CurrentDifficulty != 2 {
		t.Fatalf("unexpected defaults %+v", features)
	}
}
