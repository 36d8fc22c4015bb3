package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"study-session-engine/internal/app"
	"study-session-engine/internal/metrics"
)

// ErrQueueFull is returned when the buffered queue cannot take another job.
var ErrQueueFull = errors.New("generation queue full")

// GenerationQueue is the in-process fallback for the redis job queue. A
// session stays deduplicated from enqueue until its job finishes.
type GenerationQueue struct {
	jobs       chan string
	maxRetries int
	backoff    time.Duration
	log        *zap.Logger

	mu     sync.Mutex
	queued map[string]struct{}
}

func NewGenerationQueue(size, maxRetries int, backoff time.Duration, log *zap.Logger) *GenerationQueue {
	if size <= 0 {
		size = 64
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GenerationQueue{
		jobs:       make(chan string, size),
		maxRetries: maxRetries,
		backoff:    backoff,
		log:        log,
		queued:     make(map[string]struct{}),
	}
}

func (q *GenerationQueue) Enqueue(_ context.Context, sessionID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.queued[sessionID]; ok {
		return false, nil
	}
	select {
	case q.jobs <- sessionID:
		q.queued[sessionID] = struct{}{}
		return true, nil
	default:
		return false, ErrQueueFull
	}
}

// Run consumes jobs until ctx is cancelled.
func (q *GenerationQueue) Run(ctx context.Context, h app.GenerationHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sessionID := <-q.jobs:
			q.process(ctx, h, sessionID)
		}
	}
}

func (q *GenerationQueue) process(ctx context.Context, h app.GenerationHandler, sessionID string) {
	defer func() {
		q.mu.Lock()
		delete(q.queued, sessionID)
		q.mu.Unlock()
	}()

	for attempt := 0; ; attempt++ {
		err := h.ProcessGenerationJob(ctx, sessionID)
		if err == nil {
			metrics.GenerationJobs.WithLabelValues("succeeded").Inc()
			return
		}
		if attempt+1 >= q.maxRetries || !app.RetryableGeneration(err) || ctx.Err() != nil {
			q.log.Error("generation job failed", zap.String("sessionId", sessionID), zap.Int("attempts", attempt+1), zap.Error(err))
			metrics.GenerationJobs.WithLabelValues("failed").Inc()
			h.ReportGenerationFailure(ctx, sessionID, err)
			return
		}
		metrics.GenerationJobs.WithLabelValues("retried").Inc()
		q.log.Warn("retrying generation job", zap.String("sessionId", sessionID), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.backoff * time.Duration(1<<attempt)):
		}
	}
}
