package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"study-session-engine/internal/domain"
)

// TestRepository stores generated tests and their ordered questions.
type TestRepository struct {
	pool *pgxpool.Pool
}

func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{pool: pool}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

const testColumns = `id, session_id, user_id, difficulty_level,
target_mcq, target_short_answer, target_problem_solving,
actual_mcq, actual_short_answer, actual_problem_solving,
score, weak_concepts, next_difficulty, time_limit_seconds,
created_at, started_at, completed_at, is_completed`

func scanTest(row pgx.Row) (domain.GeneratedTest, error) {
	var t domain.GeneratedTest
	var weak []byte
	err := row.Scan(
		&t.ID, &t.SessionID, &t.UserID, &t.DifficultyLevel,
		&t.Target.MCQ, &t.Target.ShortAnswer, &t.Target.ProblemSolving,
		&t.Actual.MCQ, &t.Actual.ShortAnswer, &t.Actual.ProblemSolving,
		&t.Score, &weak, &t.NextDifficulty, &t.TimeLimitSeconds,
		&t.CreatedAt, &t.StartedAt, &t.CompletedAt, &t.IsCompleted,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GeneratedTest{}, domain.ErrTestNotFound
	}
	if err != nil {
		return domain.GeneratedTest{}, fmt.Errorf("scan test: %w", err)
	}
	if len(weak) > 0 {
		if err := json.Unmarshal(weak, &t.WeakConcepts); err != nil {
			return domain.GeneratedTest{}, fmt.Errorf("unmarshal weak concepts: %w", err)
		}
	}
	return t, nil
}

func (r *TestRepository) loadQuestions(ctx context.Context, q querier, t *domain.GeneratedTest) error {
	rows, err := q.Query(ctx, `
SELECT id, position, question_type, question_text, options, correct_index,
       expected_answer, explanation, concept, difficulty, points
FROM test_questions WHERE test_id=$1 ORDER BY position`, t.ID)
	if err != nil {
		return fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	t.Questions = nil
	for rows.Next() {
		question := domain.TestQuestion{TestID: t.ID}
		var qtype string
		var options []byte
		if err := rows.Scan(&question.ID, &question.Order, &qtype, &question.Text, &options, &question.CorrectIndex,
			&question.ExpectedAnswer, &question.Explanation, &question.Concept, &question.Difficulty, &question.Points); err != nil {
			return fmt.Errorf("scan question: %w", err)
		}
		question.Type = domain.QuestionType(qtype)
		if len(options) > 0 {
			if err := json.Unmarshal(options, &question.Options); err != nil {
				return fmt.Errorf("unmarshal options: %w", err)
			}
		}
		t.Questions = append(t.Questions, question)
	}
	return rows.Err()
}

func (r *TestRepository) get(ctx context.Context, q querier, where string, arg string, lock bool) (domain.GeneratedTest, error) {
	sql := `SELECT ` + testColumns + ` FROM generated_tests WHERE ` + where + `=$1`
	if lock {
		sql += ` FOR UPDATE`
	}
	t, err := scanTest(q.QueryRow(ctx, sql, arg))
	if err != nil {
		return domain.GeneratedTest{}, err
	}
	if err := r.loadQuestions(ctx, q, &t); err != nil {
		return domain.GeneratedTest{}, err
	}
	return t, nil
}

func (r *TestRepository) Create(ctx context.Context, t domain.GeneratedTest) error {
	weak, err := json.Marshal(nonNil(t.WeakConcepts))
	if err != nil {
		return fmt.Errorf("marshal weak concepts: %w", err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO generated_tests (`+testColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		t.ID, t.SessionID, t.UserID, t.DifficultyLevel,
		t.Target.MCQ, t.Target.ShortAnswer, t.Target.ProblemSolving,
		t.Actual.MCQ, t.Actual.ShortAnswer, t.Actual.ProblemSolving,
		t.Score, weak, t.NextDifficulty, t.TimeLimitSeconds,
		t.CreatedAt, t.StartedAt, t.CompletedAt, t.IsCompleted,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: session %s already has a test", domain.ErrInvalidState, t.SessionID)
		}
		return fmt.Errorf("insert test: %w", err)
	}
	return nil
}

func (r *TestRepository) Get(ctx context.Context, id string) (domain.GeneratedTest, error) {
	return r.get(ctx, r.pool, "id", id, false)
}

func (r *TestRepository) FindBySession(ctx context.Context, sessionID string) (domain.GeneratedTest, bool, error) {
	t, err := r.get(ctx, r.pool, "session_id", sessionID, false)
	if errors.Is(err, domain.ErrTestNotFound) {
		return domain.GeneratedTest{}, false, nil
	}
	if err != nil {
		return domain.GeneratedTest{}, false, err
	}
	return t, true, nil
}

// SaveQuestions writes the whole question set and the actual counts in one transaction.
func (r *TestRepository) SaveQuestions(ctx context.Context, testID string, questions []domain.TestQuestion, actual domain.TypeCounts) error {
	return r.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, q := range questions {
			var options []byte
			if len(q.Options) > 0 {
				b, err := json.Marshal(q.Options)
				if err != nil {
					return fmt.Errorf("marshal options: %w", err)
				}
				options = b
			}
			batch.Queue(`
INSERT INTO test_questions (id, test_id, position, question_type, question_text, options, correct_index,
                            expected_answer, explanation, concept, difficulty, points)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
				q.ID, testID, q.Order, string(q.Type), q.Text, options, q.CorrectIndex,
				q.ExpectedAnswer, q.Explanation, q.Concept, q.Difficulty, q.Points)
		}
		batch.Queue(`UPDATE generated_tests SET actual_mcq=$2, actual_short_answer=$3, actual_problem_solving=$4 WHERE id=$1`,
			testID, actual.MCQ, actual.ShortAnswer, actual.ProblemSolving)

		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("save questions: %w", err)
			}
		}
		return br.Close()
	})
}

func (r *TestRepository) Update(ctx context.Context, id string, fn func(*domain.GeneratedTest) error) (domain.GeneratedTest, error) {
	var out domain.GeneratedTest
	err := r.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		t, err := r.get(ctx, tx, "id", id, true)
		if err != nil {
			return err
		}
		if err := fn(&t); err != nil {
			return err
		}
		weak, err := json.Marshal(nonNil(t.WeakConcepts))
		if err != nil {
			return fmt.Errorf("marshal weak concepts: %w", err)
		}
		_, err = tx.Exec(ctx, `UPDATE generated_tests SET
score=$2, weak_concepts=$3, next_difficulty=$4, started_at=$5, completed_at=$6, is_completed=$7
WHERE id=$1`,
			t.ID, t.Score, weak, t.NextDifficulty, t.StartedAt, t.CompletedAt, t.IsCompleted)
		if err != nil {
			return fmt.Errorf("update test: %w", err)
		}
		out = t
		return nil
	})
	if err != nil {
		return domain.GeneratedTest{}, err
	}
	return out, nil
}

func (r *TestRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM generated_tests WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete test: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTestNotFound
	}
	return nil
}

// CountPending counts populated tests created since the cutoff that the
// learner has not completed.
func (r *TestRepository) CountPending(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM generated_tests t
WHERE t.user_id=$1 AND NOT t.is_completed AND t.created_at >= $2
  AND EXISTS (SELECT 1 FROM test_questions q WHERE q.test_id=t.id)`, userID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending tests: %w", err)
	}
	return n, nil
}

func (r *TestRepository) LatestNextDifficulty(ctx context.Context, userID string) (int, bool, error) {
	var level int
	err := r.pool.QueryRow(ctx, `
SELECT next_difficulty FROM generated_tests
WHERE user_id=$1 AND next_difficulty IS NOT NULL AND completed_at IS NOT NULL
ORDER BY completed_at DESC LIMIT 1`, userID).Scan(&level)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("latest difficulty: %w", err)
	}
	return level, true, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
