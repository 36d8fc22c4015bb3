package domain

// Difficulty bounds.
const (
	MinDifficulty = 1
	MaxDifficulty = 3
)

// DifficultyFeatures is the record assembled from a finished test and fed to
// the difficulty predictor. The first eight fields form the classifier vector.
type DifficultyFeatures struct {
	Accuracy            float64  `json:"accuracy"`
	AvgTimePerQuestion  float64  `json:"avgTimePerQuestion"`
	FirstAttemptCorrect float64  `json:"firstAttemptCorrect"`
	CurrentDifficulty   int      `json:"currentDifficulty"`
	SessionsCompleted   int      `json:"sessionsCompleted"`
	ScoreTrend          float64  `json:"scoreTrend"`
	MasteryLevel        float64  `json:"masteryLevel"`
	IsNewTopic          bool     `json:"isNewTopic"`
	EngagementScore     float64  `json:"engagementScore"`
	StudySpeed          float64  `json:"studySpeed"`
	WeakConcepts        []string `json:"weakConcepts"`
}

// Vector returns the classifier features in their fixed order.
func (f DifficultyFeatures) Vector() []float64 {
	isNew := 0.0
	if f.IsNewTopic {
		isNew = 1
	}
	return []float64{
		f.Accuracy,
		f.AvgTimePerQuestion,
		f.FirstAttemptCorrect,
		float64(f.CurrentDifficulty),
		float64(f.SessionsCompleted),
		f.ScoreTrend,
		f.MasteryLevel,
		isNew,
	}
}

// FeatureNames matches the order of Vector.
var FeatureNames = []string{
	"accuracy",
	"avg_time_per_question",
	"first_attempt_correct",
	"current_difficulty",
	"sessions_completed",
	"score_trend",
	"mastery_level",
	"is_new_topic",
}

// ClampDifficulty bounds d to the supported range.
func ClampDifficulty(d int) int {
	if d < MinDifficulty {
		return MinDifficulty
	}
	if d > MaxDifficulty {
		return MaxDifficulty
	}
	return d
}
