package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"study-session-engine/internal/domain"
)

// WeakPointRepository accumulates per-learner concept aggregates with an upsert.
type WeakPointRepository struct {
	pool *pgxpool.Pool
}

func NewWeakPointRepository(pool *pgxpool.Pool) *WeakPointRepository {
	return &WeakPointRepository{pool: pool}
}

func (r *WeakPointRepository) Accumulate(ctx context.Context, userID, concept string, incorrect, total int, at time.Time) (domain.WeakPoint, error) {
	accuracy := domain.WeakPointAccuracy(incorrect, total)
	wp := domain.WeakPoint{UserID: userID, Concept: concept}
	err := r.pool.QueryRow(ctx, `
INSERT INTO weak_points (user_id, concept, incorrect_count, total_attempts, accuracy, confidence, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id, concept) DO UPDATE SET
    incorrect_count = weak_points.incorrect_count + EXCLUDED.incorrect_count,
    total_attempts  = weak_points.total_attempts + EXCLUDED.total_attempts,
    accuracy = CASE WHEN weak_points.total_attempts + EXCLUDED.total_attempts = 0 THEN 0
        ELSE (weak_points.total_attempts + EXCLUDED.total_attempts - weak_points.incorrect_count - EXCLUDED.incorrect_count)::float8
             / (weak_points.total_attempts + EXCLUDED.total_attempts) * 100 END,
    confidence = CASE WHEN weak_points.total_attempts + EXCLUDED.total_attempts = 0 THEN 0
        ELSE (weak_points.total_attempts + EXCLUDED.total_attempts - weak_points.incorrect_count - EXCLUDED.incorrect_count)::float8
             / (weak_points.total_attempts + EXCLUDED.total_attempts) END,
    updated_at = EXCLUDED.updated_at
RETURNING incorrect_count, total_attempts, accuracy, confidence, updated_at`,
		userID, concept, incorrect, total, accuracy, accuracy/100, at,
	).Scan(&wp.IncorrectCount, &wp.TotalAttempts, &wp.Accuracy, &wp.Confidence, &wp.UpdatedAt)
	if err != nil {
		return domain.WeakPoint{}, fmt.Errorf("accumulate weak point: %w", err)
	}
	return wp, nil
}

func (r *WeakPointRepository) ListByUser(ctx context.Context, userID string) ([]domain.WeakPoint, error) {
	rows, err := r.pool.Query(ctx, `
SELECT concept, incorrect_count, total_attempts, accuracy, confidence, updated_at
FROM weak_points WHERE user_id=$1 ORDER BY accuracy, concept`, userID)
	if err != nil {
		return nil, fmt.Errorf("list weak points: %w", err)
	}
	defer rows.Close()

	out := []domain.WeakPoint{}
	for rows.Next() {
		wp := domain.WeakPoint{UserID: userID}
		if err := rows.Scan(&wp.Concept, &wp.IncorrectCount, &wp.TotalAttempts, &wp.Accuracy, &wp.Confidence, &wp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan weak point: %w", err)
		}
		out = append(out, wp)
	}
	return out, rows.Err()
}
