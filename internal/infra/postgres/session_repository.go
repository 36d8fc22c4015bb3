package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"study-session-engine/internal/domain"
)

// SessionRepository stores study sessions in Postgres.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `id, user_id, content_id, label, session_type, started_at, ended_at,
study_duration_seconds, break_duration_seconds, break_started_at, break_ended_at,
break_used, break_expired, reminder_70_shown, reminder_90_shown, is_active, is_completed,
camera_enabled, camera_permission_requested, test_available_until`

func scanSession(row pgx.Row) (domain.StudySession, error) {
	var s domain.StudySession
	var sessionType string
	err := row.Scan(
		&s.ID, &s.UserID, &s.ContentID, &s.Label, &sessionType, &s.StartedAt, &s.EndedAt,
		&s.StudyDurationSeconds, &s.BreakDurationSeconds, &s.BreakStartedAt, &s.BreakEndedAt,
		&s.BreakUsed, &s.BreakExpired, &s.Reminder70Shown, &s.Reminder90Shown, &s.IsActive, &s.IsCompleted,
		&s.CameraEnabled, &s.CameraPermissionRequested, &s.TestAvailableUntil,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StudySession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.StudySession{}, fmt.Errorf("scan session: %w", err)
	}
	s.SessionType = domain.SessionType(sessionType)
	return s, nil
}

func (r *SessionRepository) Create(ctx context.Context, s domain.StudySession) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO study_sessions (`+sessionColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		s.ID, s.UserID, s.ContentID, s.Label, string(s.SessionType), s.StartedAt, s.EndedAt,
		s.StudyDurationSeconds, s.BreakDurationSeconds, s.BreakStartedAt, s.BreakEndedAt,
		s.BreakUsed, s.BreakExpired, s.Reminder70Shown, s.Reminder90Shown, s.IsActive, s.IsCompleted,
		s.CameraEnabled, s.CameraPermissionRequested, s.TestAvailableUntil,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (domain.StudySession, error) {
	return scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM study_sessions WHERE id=$1`, id))
}

// Update locks the row for the duration of fn.
func (r *SessionRepository) Update(ctx context.Context, id string, fn func(*domain.StudySession) error) (domain.StudySession, error) {
	var out domain.StudySession
	err := r.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		s, err := scanSession(tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM study_sessions WHERE id=$1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := fn(&s); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE study_sessions SET
ended_at=$2, study_duration_seconds=$3, break_duration_seconds=$4, break_started_at=$5, break_ended_at=$6,
break_used=$7, break_expired=$8, reminder_70_shown=$9, reminder_90_shown=$10, is_active=$11, is_completed=$12,
camera_enabled=$13, camera_permission_requested=$14
WHERE id=$1`,
			s.ID, s.EndedAt, s.StudyDurationSeconds, s.BreakDurationSeconds, s.BreakStartedAt, s.BreakEndedAt,
			s.BreakUsed, s.BreakExpired, s.Reminder70Shown, s.Reminder90Shown, s.IsActive, s.IsCompleted,
			s.CameraEnabled, s.CameraPermissionRequested,
		)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		out = s
		return nil
	})
	if err != nil {
		return domain.StudySession{}, err
	}
	return out, nil
}

func (r *SessionRepository) CountStartedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM study_sessions WHERE user_id=$1 AND started_at >= $2`, userID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

func (r *SessionRepository) CountCompleted(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM study_sessions WHERE user_id=$1 AND is_completed`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count completed sessions: %w", err)
	}
	return n, nil
}
