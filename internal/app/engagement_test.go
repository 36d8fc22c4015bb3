package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"study-session-engine/internal/app"
	"study-session-engine/internal/domain"
)

func TestEngagementScoreClamped(t *testing.T) {
	low, _ := app.EngagementScore(domain.EngagementMetrics{TabSwitches: 60, FocusLosses: 10}, 10)
	if low != 0 {
		t.Fatalf("expected clamp at 0, got %v", low)
	}

	busy := domain.EngagementMetrics{ChatQueries: 1, EventCounts: map[string]int{"scroll": 100}}
	high, rate := app.EngagementScore(busy, 10)
	if high != 100 || rate != 10 {
		t.Fatalf("expected clamp at 100 with rate 10, got %v %v", high, rate)
	}

	quiet, _ := app.EngagementScore(domain.EngagementMetrics{TabSwitches: 5, FocusLosses: 3}, 30)
	if quiet != 77 {
		t.Fatalf("expected 100-10-3-10=77, got %v", quiet)
	}
}

func TestEngagementRecordEventAndAggregate(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	sessions := f.manager()
	agg := app.NewEngagementAggregatorWithClock(f.sessions, f.metrics, f.clock.Now)
	s, _ := sessions.CreateSession(ctx, "u1", "content-1", domain.SessionStandard, "")

	for _, label := range []string{domain.EventChatQuery, domain.EventChatQuery, domain.EventWhiteboardSnapshot, "highlight"} {
		if err := agg.RecordEvent(ctx, s.ID, label); err != nil {
			t.Fatalf("record %s: %v", label, err)
		}
	}
	if err := agg.RecordEvent(ctx, s.ID, " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for blank label, got %v", err)
	}

	f.clock.Advance(2 * time.Minute)
	out, err := agg.AggregateMetrics(ctx, s.ID)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if out.TotalInteractions != 4 || out.StudySpeed != 2 {
		t.Fatalf("unexpected totals %+v", out)
	}
	if out.Habits.ChatUsage != "moderate" || out.Habits.WhiteboardUsage != "moderate" {
		t.Fatalf("unexpected habits %+v", out.Habits)
	}
	if out.ActiveTimeRatio != 1 {
		t.Fatalf("expected full active ratio without breaks, got %v", out.ActiveTimeRatio)
	}

	m, _ := f.metrics.Get(ctx, s.ID)
	if m.ChatQueries != 2 || m.WhiteboardSnapshots != 1 || m.StudySpeed != 2 {
		t.Fatalf("derived fields must be persisted, got %+v", m)
	}

	sessions.CompleteSession(ctx, s.ID)
	if err := agg.RecordEvent(ctx, s.ID, "highlight"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state on completed session, got %v", err)
	}
}

func TestEngagementCamelCaseLabelsBumpCounters(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	sessions := f.manager()
	agg := app.NewEngagementAggregatorWithClock(f.sessions, f.metrics, f.clock.Now)
	s, _ := sessions.CreateSession(ctx, "u1", "content-1", domain.SessionStandard, "")

	for _, label := range []string{domain.EventChatQueryCamel, domain.EventChatQuery, domain.EventWhiteboardSnapshotCamel} {
		if err := agg.RecordEvent(ctx, s.ID, label); err != nil {
			t.Fatalf("record %s: %v", label, err)
		}
	}
	m, err := f.metrics.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	if m.ChatQueries != 2 || m.WhiteboardSnapshots != 1 {
		t.Fatalf("expected both spellings to bump counters, got %+v", m)
	}
	if m.EventCounts["chatQuery"] != 1 || m.EventCounts["chat_query"] != 1 {
		t.Fatalf("labels are counted as sent, got %v", m.EventCounts)
	}
}

func TestHabitBuckets(t *testing.T) {
	h := app.Habits(domain.EngagementMetrics{
		FocusLosses: 12,
		ChatQueries: 6,
		EventCounts: map[string]int{"scroll": 30},
	}, 10)
	if h.InteractionFrequency != "medium" || h.FocusStability != "unstable" || h.ChatUsage != "active" {
		t.Fatalf("unexpected habits %+v", h)
	}
}
