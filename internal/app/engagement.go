package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"study-session-engine/internal/domain"
	"study-session-engine/internal/metrics"
)

// EngagementAggregator records interaction telemetry and derives engagement figures.
type EngagementAggregator struct {
	sessions SessionRepository
	metrics  MetricsRepository
	now      func() time.Time
}

func NewEngagementAggregator(sessions SessionRepository, metricsRepo MetricsRepository) *EngagementAggregator {
	return NewEngagementAggregatorWithClock(sessions, metricsRepo, time.Now)
}

// NewEngagementAggregatorWithClock allows deterministic timing in tests.
func NewEngagementAggregatorWithClock(sessions SessionRepository, metricsRepo MetricsRepository, now func() time.Time) *EngagementAggregator {
	return &EngagementAggregator{sessions: sessions, metrics: metricsRepo, now: now}
}

// wallSeconds is time since start, frozen at EndedAt once the session ends.
func wallSeconds(s domain.StudySession, now time.Time) float64 {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	secs := end.Sub(s.StartedAt).Seconds()
	if secs < 0 {
		return 0
	}
	return secs
}

// elapsedMinutes is floored at one minute to keep rates finite.
func elapsedMinutes(s domain.StudySession, now time.Time) float64 {
	return math.Max(wallSeconds(s, now)/60, 1)
}

// RecordEvent counts an arbitrary client-defined interaction label.
func (a *EngagementAggregator) RecordEvent(ctx context.Context, sessionID, eventType string) error {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return fmt.Errorf("%w: event type required", domain.ErrValidation)
	}
	session, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsActive {
		return domain.ErrSessionInactive
	}

	delta := MetricsDelta{Events: map[string]int{eventType: 1}}
	switch eventType {
	case domain.EventChatQuery, domain.EventChatQueryCamel:
		delta.Counters = map[string]int{domain.CounterChatQueries: 1}
	case domain.EventWhiteboardSnapshot, domain.EventWhiteboardSnapshotCamel:
		delta.Counters = map[string]int{domain.CounterWhiteboardSnapshots: 1}
	}
	if err := a.metrics.Incr(ctx, sessionID, delta); err != nil {
		return fmt.Errorf("record engagement event: %w", err)
	}
	metrics.EngagementEvents.Inc()
	return nil
}

func (a *EngagementAggregator) load(ctx context.Context, sessionID string) (domain.StudySession, domain.EngagementMetrics, error) {
	session, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.StudySession{}, domain.EngagementMetrics{}, err
	}
	m, err := a.metrics.Get(ctx, sessionID)
	if err != nil {
		return domain.StudySession{}, domain.EngagementMetrics{}, fmt.Errorf("load metrics: %w", err)
	}
	return session, m, nil
}

// EngagementScore is the pure scoring rule; the result is always within [0,100].
func EngagementScore(m domain.EngagementMetrics, minutes float64) (score, rate float64) {
	score = 100
	score -= float64(m.TabSwitches) * 2
	score -= float64(m.FocusLosses)

	rate = float64(m.TotalInteractions()) / math.Max(minutes, 1)
	if rate < 1 {
		score -= 10
	} else if rate > 5 {
		score += 5
	}
	if m.ChatQueries > 0 {
		score += 5
	}
	return math.Max(0, math.Min(100, score)), rate
}

// CalculateEngagementScore computes and persists the score and interaction rate.
func (a *EngagementAggregator) CalculateEngagementScore(ctx context.Context, sessionID string) (float64, error) {
	session, m, err := a.load(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	score, rate := EngagementScore(m, elapsedMinutes(session, a.now()))
	if err := a.metrics.SetDerived(ctx, sessionID, map[string]float64{
		FieldEngagementScore: score,
		FieldInteractionRate: rate,
	}); err != nil {
		return 0, fmt.Errorf("persist engagement score: %w", err)
	}
	return score, nil
}

// CalculateStudySpeed computes and persists interactions per minute.
func (a *EngagementAggregator) CalculateStudySpeed(ctx context.Context, sessionID string) (float64, error) {
	session, m, err := a.load(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	speed := float64(m.TotalInteractions()) / elapsedMinutes(session, a.now())
	if err := a.metrics.SetDerived(ctx, sessionID, map[string]float64{FieldStudySpeed: speed}); err != nil {
		return 0, fmt.Errorf("persist study speed: %w", err)
	}
	return speed, nil
}

// Habits buckets the numeric engagement data.
func Habits(m domain.EngagementMetrics, minutes float64) domain.StudyHabits {
	minutes = math.Max(minutes, 1)
	rate := float64(m.TotalInteractions()) / minutes

	h := domain.StudyHabits{
		InteractionFrequency: "low",
		FocusStability:       "unstable",
		ChatUsage:            "none",
		WhiteboardUsage:      "none",
		ViolationRate:        float64(m.TabSwitches+m.FocusLosses) / minutes,
	}
	switch {
	case rate > 5:
		h.InteractionFrequency = "high"
	case rate > 2:
		h.InteractionFrequency = "medium"
	}
	switch {
	case m.FocusLosses < 3:
		h.FocusStability = "stable"
	case m.FocusLosses < 10:
		h.FocusStability = "moderate"
	}
	switch {
	case m.ChatQueries > 5:
		h.ChatUsage = "active"
	case m.ChatQueries > 0:
		h.ChatUsage = "moderate"
	}
	switch {
	case m.WhiteboardSnapshots > 3:
		h.WhiteboardUsage = "active"
	case m.WhiteboardSnapshots > 0:
		h.WhiteboardUsage = "moderate"
	}
	return h
}

// GetStudyHabits returns the qualitative habit buckets for a session.
func (a *EngagementAggregator) GetStudyHabits(ctx context.Context, sessionID string) (domain.StudyHabits, error) {
	session, m, err := a.load(ctx, sessionID)
	if err != nil {
		return domain.StudyHabits{}, err
	}
	return Habits(m, elapsedMinutes(session, a.now())), nil
}

// AggregateMetrics computes every derived field, persists them and returns
// the full record.
func (a *EngagementAggregator) AggregateMetrics(ctx context.Context, sessionID string) (domain.AggregatedMetrics, error) {
	session, m, err := a.load(ctx, sessionID)
	if err != nil {
		return domain.AggregatedMetrics{}, err
	}
	now := a.now()
	elapsed := wallSeconds(session, now)
	minutes := math.Max(elapsed/60, 1)

	score, rate := EngagementScore(m, minutes)
	active := elapsed - float64(session.BreakDurationSeconds)
	if active < 0 {
		active = 0
	}
	avgFocus := active
	if m.FocusLosses > 0 {
		avgFocus = active / float64(m.FocusLosses+1)
	}
	derived := domain.Derived{
		EngagementScore:     score,
		StudySpeed:          float64(m.TotalInteractions()) / minutes,
		InteractionRate:     rate,
		ActiveTimeRatio:     active / math.Max(elapsed, 1),
		AverageFocusSeconds: avgFocus,
	}
	if err := a.metrics.SetDerived(ctx, sessionID, map[string]float64{
		FieldEngagementScore:     derived.EngagementScore,
		FieldStudySpeed:          derived.StudySpeed,
		FieldInteractionRate:     derived.InteractionRate,
		FieldActiveTimeRatio:     derived.ActiveTimeRatio,
		FieldAverageFocusSeconds: derived.AverageFocusSeconds,
	}); err != nil {
		return domain.AggregatedMetrics{}, fmt.Errorf("persist aggregated metrics: %w", err)
	}

	return domain.AggregatedMetrics{
		SessionID:         sessionID,
		ElapsedSeconds:    int(elapsed),
		ActiveSeconds:     int(active),
		IdleSeconds:       session.BreakDurationSeconds,
		TotalInteractions: m.TotalInteractions(),
		EventCounts:       m.EventCounts,
		TabSwitches:       m.TabSwitches,
		FocusLosses:       m.FocusLosses,
		Habits:            Habits(m, minutes),
		Derived:           derived,
	}, nil
}
