package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"study-session-engine/internal/app"
	"study-session-engine/internal/domain"
)

// MetricsStore keeps engagement records in two hashes per session:
//
//	engagement:{sessionID}         counters and derived fields
//	engagement:{sessionID}:events  per-label interaction counts
//
// Counters change only through HINCRBY so concurrent events never lose updates.
type MetricsStore struct {
	client *redis.Client
	ttl    time.Duration
}

const initializedField = "initialized_at"

var counterFields = map[string]struct{}{
	domain.CounterTabSwitches:         {},
	domain.CounterFocusLosses:         {},
	domain.CounterChatQueries:         {},
	domain.CounterWhiteboardSnapshots: {},
}

var derivedFields = map[string]struct{}{
	app.FieldEngagementScore:     {},
	app.FieldStudySpeed:          {},
	app.FieldInteractionRate:     {},
	app.FieldActiveTimeRatio:     {},
	app.FieldAverageFocusSeconds: {},
}

// NewMetricsStore keeps records for ttl after their last write; zero keeps them forever.
func NewMetricsStore(client *redis.Client, ttl time.Duration) *MetricsStore {
	return &MetricsStore{client: client, ttl: ttl}
}

func (s *MetricsStore) key(sessionID string) string {
	return "engagement:" + sessionID
}

func (s *MetricsStore) eventsKey(sessionID string) string {
	return "engagement:" + sessionID + ":events"
}

func (s *MetricsStore) Init(ctx context.Context, sessionID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, s.key(sessionID), initializedField, time.Now().UTC().Format(time.RFC3339))
		s.touch(ctx, pipe, sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("init engagement record: %w", err)
	}
	return nil
}

func (s *MetricsStore) touch(ctx context.Context, pipe redis.Pipeliner, sessionID string) {
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key(sessionID), s.ttl)
		pipe.Expire(ctx, s.eventsKey(sessionID), s.ttl)
	}
}

func (s *MetricsStore) Get(ctx context.Context, sessionID string) (domain.EngagementMetrics, error) {
	var fieldsCmd, eventsCmd *redis.MapStringStringCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		fieldsCmd = pipe.HGetAll(ctx, s.key(sessionID))
		eventsCmd = pipe.HGetAll(ctx, s.eventsKey(sessionID))
		return nil
	})
	if err != nil {
		return domain.EngagementMetrics{}, fmt.Errorf("load engagement record: %w", err)
	}
	fields := fieldsCmd.Val()
	if len(fields) == 0 {
		return domain.EngagementMetrics{}, domain.ErrSessionNotFound
	}

	m := domain.EngagementMetrics{
		SessionID:           sessionID,
		TabSwitches:         atoi(fields[domain.CounterTabSwitches]),
		FocusLosses:         atoi(fields[domain.CounterFocusLosses]),
		ChatQueries:         atoi(fields[domain.CounterChatQueries]),
		WhiteboardSnapshots: atoi(fields[domain.CounterWhiteboardSnapshots]),
		EventCounts:         make(map[string]int, len(eventsCmd.Val())),
		Derived: domain.Derived{
			EngagementScore:     atof(fields[app.FieldEngagementScore]),
			StudySpeed:          atof(fields[app.FieldStudySpeed]),
			InteractionRate:     atof(fields[app.FieldInteractionRate]),
			ActiveTimeRatio:     atof(fields[app.FieldActiveTimeRatio]),
			AverageFocusSeconds: atof(fields[app.FieldAverageFocusSeconds]),
		},
	}
	for label, n := range eventsCmd.Val() {
		m.EventCounts[label] = atoi(n)
	}
	return m, nil
}

func (s *MetricsStore) Incr(ctx context.Context, sessionID string, delta app.MetricsDelta) error {
	for field := range delta.Counters {
		if _, ok := counterFields[field]; !ok {
			return fmt.Errorf("%w: unknown counter %q", domain.ErrValidation, field)
		}
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for field, n := range delta.Counters {
			pipe.HIncrBy(ctx, s.key(sessionID), field, int64(n))
		}
		for label, n := range delta.Events {
			pipe.HIncrBy(ctx, s.eventsKey(sessionID), label, int64(n))
		}
		s.touch(ctx, pipe, sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("increment engagement: %w", err)
	}
	return nil
}

func (s *MetricsStore) SetDerived(ctx context.Context, sessionID string, fields map[string]float64) error {
	values := make([]interface{}, 0, len(fields)*2)
	for field, v := range fields {
		if _, ok := derivedFields[field]; !ok {
			return fmt.Errorf("%w: unknown derived field %q", domain.ErrValidation, field)
		}
		values = append(values, field, strconv.FormatFloat(v, 'f', -1, 64))
	}
	if len(values) == 0 {
		return nil
	}
	if err := s.client.HSet(ctx, s.key(sessionID), values...).Err(); err != nil {
		return fmt.Errorf("store derived metrics: %w", err)
	}
	return nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
