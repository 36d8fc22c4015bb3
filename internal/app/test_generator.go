package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"study-session-engine/internal/domain"
	"study-session-engine/internal/metrics"
)

// DefaultTimeLimitSeconds is the time allowed for a generated test.
const DefaultTimeLimitSeconds = 1800

var distributions = map[int]domain.TypeCounts{
	1: {MCQ: 8, ShortAnswer: 6, ProblemSolving: 6},
	2: {MCQ: 9, ShortAnswer: 7, ProblemSolving: 7},
	3: {MCQ: 10, ShortAnswer: 8, ProblemSolving: 7},
}

// Distribution returns the per-type question targets for a difficulty.
func Distribution(difficulty int) domain.TypeCounts {
	if d, ok := distributions[difficulty]; ok {
		return d
	}
	return distributions[1]
}

var placeholderPatterns = []string{
	"option a", "option b", "option c", "option d",
	"related to", "answer here", "placeholder",
}

// ValidateQuestion normalizes a candidate of type t, reporting false when
// it fails the minimal shape rules.
func ValidateQuestion(q domain.TestQuestion, t domain.QuestionType) (domain.TestQuestion, bool) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return q, false
	}
	q.Type = t

	switch t {
	case domain.QuestionMCQ:
		if len(q.Options) != 4 {
			return q, false
		}
		for _, opt := range q.Options {
			lower := strings.ToLower(strings.TrimSpace(opt))
			if lower == "" {
				return q, false
			}
			for _, p := range placeholderPatterns {
				if strings.Contains(lower, p) {
					return q, false
				}
			}
		}
		if q.CorrectIndex == nil || *q.CorrectIndex < 0 || *q.CorrectIndex > 3 {
			return q, false
		}
		q.ExpectedAnswer = ""
	default:
		if strings.TrimSpace(q.ExpectedAnswer) == "" {
			return q, false
		}
		q.Options = nil
		q.CorrectIndex = nil
	}

	if q.Points <= 0 {
		q.Points = t.DefaultPoints()
	}
	if strings.TrimSpace(q.Concept) == "" {
		q.Concept = "General"
	}
	return q, true
}

const (
	excerptMaxChars  = 12000
	excerptChunkSize = 1500
)

// TranscriptExcerpt condenses long transcripts into opening, evenly spaced
// middle and closing chunks so the whole topic range is represented.
func TranscriptExcerpt(transcript string) string {
	runes := []rune(transcript)
	if len(runes) <= excerptMaxChars {
		return transcript
	}
	// one chunk of headroom is left for the position markers
	middle := (excerptMaxChars-2*excerptChunkSize)/excerptChunkSize - 1
	step := (len(runes) - 2*excerptChunkSize) / middle

	var b strings.Builder
	b.WriteString(string(runes[:excerptChunkSize]))
	for i := 0; i < middle; i++ {
		start := excerptChunkSize + i*step
		end := start + excerptChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		fmt.Fprintf(&b, "\n...[%d%% into content]...%s", start*100/len(runes), string(runes[start:end]))
	}
	b.WriteString("\n...[end of content]...")
	b.WriteString(string(runes[len(runes)-excerptChunkSize:]))

	out := []rune(b.String())
	if len(out) > excerptMaxChars {
		out = out[:excerptMaxChars]
	}
	return string(out)
}

// TestGenerator builds a session's test idempotently.
type TestGenerator struct {
	sessions  SessionRepository
	tests     TestRepository
	content   ContentProvider
	providers []QuestionGenerator
	log       *zap.Logger
	now       func() time.Time
	sf        singleflight.Group

	// bounds how long a losing creator waits for another process's test
	raceWait     time.Duration
	racePollTick time.Duration
}

// NewTestGenerator takes the providers in fallback order.
func NewTestGenerator(sessions SessionRepository, tests TestRepository, content ContentProvider, providers []QuestionGenerator, log *zap.Logger) *TestGenerator {
	if log == nil {
		log = zap.NewNop()
	}
	return &TestGenerator{
		sessions:  sessions,
		tests:     tests,
		content:   content,
		providers: providers,
		log:       log,
		now:       time.Now,

		raceWait:     time.Minute,
		racePollTick: 250 * time.Millisecond,
	}
}

// GenerateTest returns the session's populated test, building one if needed.
// A stored test with zero questions is discarded and rebuilt.
func (g *TestGenerator) GenerateTest(ctx context.Context, sessionID string, difficulty int) (domain.GeneratedTest, error) {
	if difficulty < domain.MinDifficulty || difficulty > domain.MaxDifficulty {
		return domain.GeneratedTest{}, domain.ErrInvalidDifficulty
	}
	result, err, _ := g.sf.Do(sessionID, func() (interface{}, error) {
		return g.generate(ctx, sessionID, difficulty)
	})
	if err != nil {
		return domain.GeneratedTest{}, err
	}
	return result.(domain.GeneratedTest), nil
}

func (g *TestGenerator) generate(ctx context.Context, sessionID string, difficulty int) (domain.GeneratedTest, error) {
	session, err := g.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.GeneratedTest{}, err
	}
	if !session.IsCompleted {
		return domain.GeneratedTest{}, domain.ErrSessionNotCompleted
	}

	existing, found, err := g.tests.FindBySession(ctx, sessionID)
	if err != nil {
		return domain.GeneratedTest{}, fmt.Errorf("find test: %w", err)
	}
	if found {
		if len(existing.Questions) > 0 {
			return existing, nil
		}
		g.log.Info("discarding empty test before regeneration", zap.String("testId", existing.ID))
		if err := g.tests.Delete(ctx, existing.ID); err != nil {
			return domain.GeneratedTest{}, fmt.Errorf("delete empty test: %w", err)
		}
	}

	content, err := g.content.GetContent(ctx, session.ContentID)
	if err != nil {
		return domain.GeneratedTest{}, err
	}
	transcript := strings.TrimSpace(content.Transcript)
	if transcript == "" || strings.HasPrefix(transcript, "Error:") {
		return domain.GeneratedTest{}, domain.ErrTranscriptMissing
	}

	target := Distribution(difficulty)
	test := domain.GeneratedTest{
		ID:               uuid.NewString(),
		SessionID:        sessionID,
		UserID:           session.UserID,
		DifficultyLevel:  difficulty,
		Target:           target,
		TimeLimitSeconds: DefaultTimeLimitSeconds,
		CreatedAt:        g.now(),
	}
	if err := g.tests.Create(ctx, test); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			// another process created the session's test first
			return g.awaitTest(ctx, sessionID)
		}
		return domain.GeneratedTest{}, fmt.Errorf("create test: %w", err)
	}

	excerpt := TranscriptExcerpt(transcript)
	perType := make([][]domain.TestQuestion, len(domain.QuestionTypes))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, t := range domain.QuestionTypes {
		i, t := i, t
		eg.Go(func() error {
			perType[i] = g.generateType(egCtx, GenerationRequest{
				Transcript: excerpt,
				Concepts:   content.KeyConcepts,
				Difficulty: difficulty,
				Type:       t,
				Count:      target.Of(t),
			})
			return nil
		})
	}
	_ = eg.Wait()

	var questions []domain.TestQuestion
	var actual domain.TypeCounts
	for i, t := range domain.QuestionTypes {
		switch t {
		case domain.QuestionMCQ:
			actual.MCQ = len(perType[i])
		case domain.QuestionShortAnswer:
			actual.ShortAnswer = len(perType[i])
		case domain.QuestionProblemSolving:
			actual.ProblemSolving = len(perType[i])
		}
		questions = append(questions, perType[i]...)
	}

	if len(questions) == 0 {
		g.rollback(ctx, test.ID)
		g.log.Error("question generation produced no questions", zap.String("sessionId", sessionID))
		return domain.GeneratedTest{}, domain.ErrNoQuestionsProduced
	}
	if len(questions) < target.Total() {
		g.log.Warn("saving partial question set",
			zap.String("testId", test.ID),
			zap.Int("expected", target.Total()),
			zap.Int("got", len(questions)))
	}

	for i := range questions {
		questions[i].ID = uuid.NewString()
		questions[i].TestID = test.ID
		questions[i].Order = i
		questions[i].Difficulty = difficulty
	}
	if err := g.tests.SaveQuestions(ctx, test.ID, questions, actual); err != nil {
		g.rollback(ctx, test.ID)
		return domain.GeneratedTest{}, fmt.Errorf("save questions: %w", err)
	}
	return g.tests.Get(ctx, test.ID)
}

// awaitTest waits for a test created elsewhere to be populated. A test that
// disappears was rolled back by its builder.
func (g *TestGenerator) awaitTest(ctx context.Context, sessionID string) (domain.GeneratedTest, error) {
	ctx, cancel := context.WithTimeout(ctx, g.raceWait)
	defer cancel()
	ticker := time.NewTicker(g.racePollTick)
	defer ticker.Stop()
	for {
		test, found, err := g.tests.FindBySession(ctx, sessionID)
		if err != nil {
			return domain.GeneratedTest{}, fmt.Errorf("find test: %w", err)
		}
		if !found {
			return domain.GeneratedTest{}, domain.ErrNoQuestionsProduced
		}
		if len(test.Questions) > 0 {
			return test, nil
		}
		select {
		case <-ctx.Done():
			return domain.GeneratedTest{}, fmt.Errorf("%w: test generation still in progress", domain.ErrInvalidState)
		case <-ticker.C:
		}
	}
}

func (g *TestGenerator) rollback(ctx context.Context, testID string) {
	if err := g.tests.Delete(ctx, testID); err != nil {
		g.log.Error("rollback of empty test failed", zap.String("testId", testID), zap.Error(err))
	}
}

// generateType walks the provider chain. The first provider that yields at
// least one valid question supplies the whole type.
func (g *TestGenerator) generateType(ctx context.Context, req GenerationRequest) []domain.TestQuestion {
	if req.Count <= 0 {
		return nil
	}
	for i, p := range g.providers {
		raw, err := p.Generate(ctx, req)
		if err != nil {
			g.log.Warn("question provider failed",
				zap.String("provider", p.Name()), zap.String("type", string(req.Type)), zap.Error(err))
			continue
		}
		valid := make([]domain.TestQuestion, 0, len(raw))
		for _, q := range raw {
			if v, ok := ValidateQuestion(q, req.Type); ok {
				valid = append(valid, v)
			}
		}
		if len(valid) == 0 {
			g.log.Warn("question provider returned no usable questions",
				zap.String("provider", p.Name()), zap.String("type", string(req.Type)))
			continue
		}
		if len(valid) > req.Count {
			valid = valid[:req.Count]
		}
		if i > 0 {
			metrics.Fallbacks.WithLabelValues("generator").Inc()
		}
		return valid
	}
	return nil
}
