package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"study-session-engine/internal/domain"
)

// EventLog is the append-only proctoring table.
type EventLog struct {
	pool *pgxpool.Pool
}

func NewEventLog(pool *pgxpool.Pool) *EventLog {
	return &EventLog{pool: pool}
}

func (l *EventLog) Append(ctx context.Context, e domain.ProctoringEvent) (domain.ProctoringEvent, error) {
	var details []byte
	if len(e.Details) > 0 {
		details = e.Details
	}
	err := l.pool.QueryRow(ctx, `
INSERT INTO proctoring_events (session_id, event_type, occurred_at, details)
VALUES ($1, $2, $3, $4) RETURNING id`,
		e.SessionID, string(e.Type), e.Timestamp, details,
	).Scan(&e.ID)
	if err != nil {
		return domain.ProctoringEvent{}, fmt.Errorf("insert proctoring event: %w", err)
	}
	return e, nil
}

func (l *EventLog) CountByType(ctx context.Context, sessionID string) (map[domain.ProctoringEventType]int, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT event_type, COUNT(*) FROM proctoring_events WHERE session_id=$1 GROUP BY event_type`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count proctoring events: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.ProctoringEventType]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan proctoring count: %w", err)
		}
		counts[domain.ProctoringEventType(t)] = n
	}
	return counts, rows.Err()
}
