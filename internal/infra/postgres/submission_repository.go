package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"study-session-engine/internal/domain"
)

// SubmissionRepository upserts answers keyed by (question, learner).
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

func (r *SubmissionRepository) Upsert(ctx context.Context, s domain.TestSubmission) (domain.TestSubmission, error) {
	_, err := r.pool.Exec(ctx, `
INSERT INTO test_submissions (question_id, user_id, test_id, selected_index, answer_text, is_correct, score,
                              feedback, time_taken_seconds, evaluated_by_model, confidence, submitted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (question_id, user_id) DO UPDATE SET
    selected_index=EXCLUDED.selected_index, answer_text=EXCLUDED.answer_text, is_correct=EXCLUDED.is_correct,
    score=EXCLUDED.score, feedback=EXCLUDED.feedback, time_taken_seconds=EXCLUDED.time_taken_seconds,
    evaluated_by_model=EXCLUDED.evaluated_by_model, confidence=EXCLUDED.confidence, submitted_at=EXCLUDED.submitted_at`,
		s.QuestionID, s.UserID, s.TestID, s.SelectedIndex, s.AnswerText, s.IsCorrect, s.Score,
		s.Feedback, s.TimeTakenSeconds, s.EvaluatedByModel, s.Confidence, s.SubmittedAt,
	)
	if err != nil {
		return domain.TestSubmission{}, fmt.Errorf("upsert submission: %w", err)
	}
	return s, nil
}

func (r *SubmissionRepository) ListByTest(ctx context.Context, testID string) ([]domain.TestSubmission, error) {
	rows, err := r.pool.Query(ctx, `
SELECT question_id, user_id, test_id, selected_index, answer_text, is_correct, score,
       feedback, time_taken_seconds, evaluated_by_model, confidence, submitted_at
FROM test_submissions WHERE test_id=$1 ORDER BY submitted_at`, testID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var out []domain.TestSubmission
	for rows.Next() {
		var s domain.TestSubmission
		if err := rows.Scan(&s.QuestionID, &s.UserID, &s.TestID, &s.SelectedIndex, &s.AnswerText, &s.IsCorrect, &s.Score,
			&s.Feedback, &s.TimeTakenSeconds, &s.EvaluatedByModel, &s.Confidence, &s.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
