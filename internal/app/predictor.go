package app

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"study-session-engine/internal/domain"
	"study-session-engine/internal/metrics"
)

var questionCounts = map[int]int{1: 10, 2: 12, 3: 15}

// GetQuestionCount maps a difficulty level to a question count.
func GetQuestionCount(difficulty int) int {
	return questionCounts[domain.ClampDifficulty(difficulty)]
}

// DifficultyStrategy chooses the next difficulty level. It is chosen once at
// process start.
type DifficultyStrategy interface {
	Name() string
	Predict(f domain.DifficultyFeatures) int
}

// RuleStrategy is the model-free predictor.
type RuleStrategy struct{}

func (RuleStrategy) Name() string { return "rules" }

func (RuleStrategy) Predict(f domain.DifficultyFeatures) int {
	current := domain.ClampDifficulty(f.CurrentDifficulty)
	switch {
	case f.IsNewTopic:
		return domain.MinDifficulty
	case f.Accuracy >= 85 && f.SessionsCompleted >= 2:
		return domain.ClampDifficulty(current + 1)
	case f.Accuracy < 50:
		return domain.ClampDifficulty(current - 1)
	case f.ScoreTrend > 10 && f.Accuracy >= 70:
		return domain.ClampDifficulty(current + 1)
	case f.ScoreTrend < -10:
		return domain.ClampDifficulty(current - 1)
	}
	return current
}

// ApplyOverlay bounds a raw model prediction with the business rules, in
// order: new topic, range clamp, one-step limit, accuracy overrides.
func ApplyOverlay(raw int, f domain.DifficultyFeatures) int {
	if f.IsNewTopic {
		return domain.MinDifficulty
	}
	current := domain.ClampDifficulty(f.CurrentDifficulty)
	level := domain.ClampDifficulty(raw)

	if level > current+1 {
		level = current + 1
	} else if level < current-1 {
		level = current - 1
	}

	if f.Accuracy < 50 {
		level = domain.ClampDifficulty(current - 1)
	} else if f.Accuracy > 85 && f.SessionsCompleted > 2 {
		level = domain.ClampDifficulty(current + 1)
	}
	return level
}

// ModelStrategy asks a trained classifier and always applies the overlay.
// A classifier error falls back to the rules for the whole decision.
type ModelStrategy struct {
	classifier Classifier
	fallback   RuleStrategy
	log        *zap.Logger
}

func NewModelStrategy(classifier Classifier, log *zap.Logger) *ModelStrategy {
	if log == nil {
		log = zap.NewNop()
	}
	return &ModelStrategy{classifier: classifier, log: log}
}

func (s *ModelStrategy) Name() string { return "model" }

func (s *ModelStrategy) Predict(f domain.DifficultyFeatures) int {
	raw, err := s.safePredict(f.Vector())
	if err != nil {
		s.log.Warn("classifier failed, using rule-based difficulty", zap.Error(err))
		metrics.Fallbacks.WithLabelValues("classifier").Inc()
		return s.fallback.Predict(f)
	}
	return ApplyOverlay(raw, f)
}

func (s *ModelStrategy) safePredict(vector []float64) (raw int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: classifier panic: %v", domain.ErrExternalService, r)
		}
	}()
	return s.classifier.Predict(vector)
}

// DifficultyPredictor is the entry point used by test completion.
type DifficultyPredictor struct {
	strategy DifficultyStrategy
}

func NewDifficultyPredictor(strategy DifficultyStrategy) *DifficultyPredictor {
	if strategy == nil {
		strategy = RuleStrategy{}
	}
	return &DifficultyPredictor{strategy: strategy}
}

// Strategy names the active strategy.
func (p *DifficultyPredictor) Strategy() string {
	return p.strategy.Name()
}

// PredictNextDifficulty returns a level in {1,2,3}.
func (p *DifficultyPredictor) PredictNextDifficulty(f domain.DifficultyFeatures) int {
	return domain.ClampDifficulty(p.strategy.Predict(f))
}

// CalculateAdaptiveScore is a display metric rewarding pace, first-attempt
// accuracy and difficulty. Capped at 100.
func CalculateAdaptiveScore(accuracy, avgTime, firstAttemptRate float64, difficulty int) float64 {
	timeBonus := 0.0
	switch {
	case avgTime >= 20 && avgTime <= 40:
		timeBonus = 10
	case avgTime > 40 && avgTime <= 60:
		timeBonus = 5
	}
	firstAttemptBonus := firstAttemptRate / 100 * 10
	multiplier := 1 + 0.1*float64(difficulty-1)
	return math.Min(100, (accuracy+timeBonus+firstAttemptBonus)*multiplier)
}

// DifficultyFeedback describes the change between two levels.
func DifficultyFeedback(current, next int) string {
	switch {
	case next > current:
		return fmt.Sprintf("Great job! Moving up to difficulty level %d.", next)
	case next < current:
		return fmt.Sprintf("Let's practice more at difficulty level %d.", next)
	}
	return fmt.Sprintf("Continue practicing at difficulty level %d.", current)
}
