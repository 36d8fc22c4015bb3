package app_test

import (
	"errors"
	"testing"

	"study-session-engine/internal/app"
	"study-session-engine/internal/domain"
)

type fixedClassifier struct {
	level int
	err   error
	panic bool
}

func (c fixedClassifier) Predict(_ []float64) (int, error) {
	if c.panic {
		panic("model file corrupted")
	}
	return c.level, c.err
}

func TestModelStrategyOverlay(t *testing.T) {
	tests := []struct {
		name     string
		raw      int
		features domain.DifficultyFeatures
		want     int
	}{
		{"new topic always starts at one", 3, domain.DifficultyFeatures{IsNewTopic: true, CurrentDifficulty: 2, Accuracy: 95}, 1},
		{"low accuracy steps down", 3, domain.DifficultyFeatures{CurrentDifficulty: 3, Accuracy: 40, SessionsCompleted: 5}, 2},
		{"one step limit", 3, domain.DifficultyFeatures{CurrentDifficulty: 1, Accuracy: 70, SessionsCompleted: 2}, 2},
		{"high accuracy with history steps up", 1, domain.DifficultyFeatures{CurrentDifficulty: 2, Accuracy: 90, SessionsCompleted: 3}, 3},
		{"out of range raw is clamped", 7, domain.DifficultyFeatures{CurrentDifficulty: 3, Accuracy: 70, SessionsCompleted: 3}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := app.NewDifficultyPredictor(app.NewModelStrategy(fixedClassifier{level: tt.raw}, nil))
			if got := p.PredictNextDifficulty(tt.features); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestModelStrategyFallsBackToRules(t *testing.T) {
	features := domain.DifficultyFeatures{CurrentDifficulty: 1, Accuracy: 90, SessionsCompleted: 2}
	for name, c := range map[string]fixedClassifier{
		"error": {err: errors.New("model not loaded")},
		"panic": {panic: true},
	} {
		p := app.NewDifficultyPredictor(app.NewModelStrategy(c, nil))
		if got := p.PredictNextDifficulty(features); got != 2 {
			t.Fatalf("%s: expected rule result 2, got %d", name, got)
		}
	}
}

func TestRuleStrategy(t *testing.T) {
	p := app.NewDifficultyPredictor(nil)
	if p.Strategy() != "rules" {
		t.Fatalf("nil strategy must default to rules, got %s", p.Strategy())
	}
	cases := []struct {
		f    domain.DifficultyFeatures
		want int
	}{
		{domain.DifficultyFeatures{IsNewTopic: true, CurrentDifficulty: 3}, 1},
		{domain.DifficultyFeatures{CurrentDifficulty: 3, Accuracy: 85, SessionsCompleted: 2}, 3},
		{domain.DifficultyFeatures{CurrentDifficulty: 1, Accuracy: 30}, 1},
		{domain.DifficultyFeatures{CurrentDifficulty: 2, Accuracy: 75, ScoreTrend: 12}, 3},
		{domain.DifficultyFeatures{CurrentDifficulty: 2, Accuracy: 60, ScoreTrend: -15}, 1},
		{domain.DifficultyFeatures{CurrentDifficulty: 2, Accuracy: 60}, 2},
	}
	for i, c := range cases {
		if got := p.PredictNextDifficulty(c.f); got != c.want {
			t.Fatalf("case %d: expected %d, got %d", i, c.want, got)
		}
	}
}

func TestAdaptiveScoreAndFeedback(t *testing.T) {
	if got := app.CalculateAdaptiveScore(50, 50, 50, 1); got != 60 {
		t.Fatalf("expected 60, got %v", got)
	}
	if got := app.CalculateAdaptiveScore(80, 30, 80, 2); got != 100 {
		t.Fatalf("expected cap at 100, got %v", got)
	}
	if got := app.DifficultyFeedback(1, 2); got != "Great job! Moving up to difficulty level 2." {
		t.Fatalf("unexpected feedback %q", got)
	}
	if got := app.DifficultyFeedback(2, 2); got != "Continue practicing at difficulty level 2." {
		t.Fatalf("unexpected feedback %q", got)
	}
	if app.GetQuestionCount(3) != 15 || app.GetQuestionCount(9) != 15 {
		t.Fatalf("unexpected question count mapping")
	}
}
