package app_test

import (
	"context"
	"testing"
	"time"

	"study-session-engine/internal/app"
	"study-session-engine/internal/domain"
	"study-session-engine/internal/infra/memory"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type fixture struct {
	clock       *fakeClock
	sessions    *memory.SessionStore
	metrics     *memory.MetricsStore
	events      *memory.EventLog
	tests       *memory.TestStore
	submissions *memory.SubmissionStore
	weakPoints  *memory.WeakPointStore
	content     *memory.StaticContentLoader
}

func newFixture() *fixture {
	return &fixture{
		clock:       newFakeClock(),
		sessions:    memory.NewSessionStore(),
		metrics:     memory.NewMetricsStore(),
		events:      memory.NewEventLog(),
		tests:       memory.NewTestStore(),
		submissions: memory.NewSubmissionStore(),
		weakPoints:  memory.NewWeakPointStore(),
		content: memory.NewStaticContentLoader(map[string]domain.Content{
			"content-1": sampleContent(),
			"broken":    {ID: "broken", Transcript: "Error: transcript service unavailable"},
			"empty":     {ID: "empty"},
		}),
	}
}

func (f *fixture) manager() *app.SessionManager {
	return app.NewSessionManagerWithClock(f.sessions, f.metrics, f.clock.Now)
}

func (f *fixture) engine(opts ...func(*app.Deps)) *app.Engine {
	d := app.Deps{
		Sessions:    f.sessions,
		Metrics:     f.metrics,
		Events:      f.events,
		Tests:       f.tests,
		Submissions: f.submissions,
		WeakPoints:  f.weakPoints,
		Content:     f.content,
		Now:         f.clock.Now,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return app.NewEngine(d)
}

func (f *fixture) completedSession(t *testing.T, userID, contentID string) domain.StudySession {
	t.Helper()
	ctx := context.Background()
	m := f.manager()
	s, err := m.CreateSession(ctx, userID, contentID, domain.SessionStandard, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	f.clock.Advance(50 * time.Minute)
	s, err = m.CompleteSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("complete session: %v", err)
	}
	return s
}

func sampleContent() domain.Content {
	return domain.Content{
		ID:    "content-1",
		Title: "Cell biology",
		Transcript: "The mitochondria produces energy for the cell through respiration. " +
			"The ribosome assembles proteins from amino acids in the cytoplasm. " +
			"The nucleus stores the genetic material of eukaryotic cells. " +
			"The cell membrane regulates what enters and leaves the cell. " +
			"Energy from the mitochondria powers active transport across the cell membrane.",
		KeyConcepts: []string{"mitochondria", "ribosome", "nucleus", "cell membrane"},
	}
}

func intPtr(v int) *int { return &v }
