package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"study-session-engine/internal/app"
	"study-session-engine/internal/metrics"
)

// QueueOptions tunes the durable generation queue.
type QueueOptions struct {
	Key         string
	WorkerID    string
	MaxRetries  int
	LockTTL     time.Duration
	DedupTTL    time.Duration
	WorkerTTL   time.Duration
	PollTimeout time.Duration
	Backoff     time.Duration
}

func (o QueueOptions) withDefaults() QueueOptions {
	if o.Key == "" {
		o.Key = "gen:jobs"
	}
	if o.WorkerID == "" {
		o.WorkerID = uuid.NewString()
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 10 * time.Minute
	}
	if o.DedupTTL <= 0 {
		o.DedupTTL = time.Hour
	}
	if o.WorkerTTL <= 0 {
		o.WorkerTTL = 30 * time.Second
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 5 * time.Second
	}
	if o.Backoff <= 0 {
		o.Backoff = time.Second
	}
	return o
}

type generationJob struct {
	SessionID  string    `json:"sessionId"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// GenerationQueue is a Redis list of generation jobs. A session is accepted
// once until its job finishes; workers take a per-session lock so two
// processes never build the same test.
//
// A worker moves each job into its own processing list and removes it only
// when the job is settled. Workers keep a heartbeat key alive; the
// processing list of a worker whose heartbeat expired is pushed back onto
// the queue by whichever worker notices first.
type GenerationQueue struct {
	client *redis.Client
	opts   QueueOptions
	log    *zap.Logger
}

func NewGenerationQueue(client *redis.Client, opts QueueOptions, log *zap.Logger) *GenerationQueue {
	if log == nil {
		log = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &GenerationQueue{client: client, opts: opts, log: log.With(zap.String("worker", opts.WorkerID))}
}

func (q *GenerationQueue) queuedKey(sessionID string) string {
	return "gen:queued:" + sessionID
}

func (q *GenerationQueue) lockKey(sessionID string) string {
	return "gen:lock:" + sessionID
}

func (q *GenerationQueue) processingKey(workerID string) string {
	return q.opts.Key + ":processing:" + workerID
}

func (q *GenerationQueue) heartbeatKey(workerID string) string {
	return q.opts.Key + ":worker:" + workerID
}

func (q *GenerationQueue) Enqueue(ctx context.Context, sessionID string) (bool, error) {
	ok, err := q.client.SetNX(ctx, q.queuedKey(sessionID), "1", q.opts.DedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("mark queued: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := q.push(ctx, generationJob{SessionID: sessionID, EnqueuedAt: time.Now().UTC()}); err != nil {
		_ = q.client.Del(ctx, q.queuedKey(sessionID)).Err()
		return false, err
	}
	return true, nil
}

func (q *GenerationQueue) push(ctx context.Context, job generationJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.opts.Key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Run consumes jobs until ctx is cancelled.
func (q *GenerationQueue) Run(ctx context.Context, h app.GenerationHandler) error {
	q.log.Info("generation worker started", zap.String("queue", q.opts.Key))
	q.beat(ctx)
	q.Reap(ctx)
	go q.keepAlive(ctx)

	processing := q.processingKey(q.opts.WorkerID)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		payload, err := q.client.BLMove(ctx, q.opts.Key, processing, "RIGHT", "LEFT", q.opts.PollTimeout).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			q.log.Warn("poll generation queue failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(q.opts.Backoff):
			}
			continue
		}
		var job generationJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			q.log.Error("drop malformed generation job", zap.String("payload", payload), zap.Error(err))
			q.settle(payload)
			continue
		}
		if q.handle(ctx, h, job) {
			q.settle(payload)
		}
	}
}

func (q *GenerationQueue) beat(ctx context.Context) {
	if err := q.client.Set(ctx, q.heartbeatKey(q.opts.WorkerID), time.Now().UTC().Format(time.RFC3339), q.opts.WorkerTTL).Err(); err != nil {
		q.log.Warn("worker heartbeat failed", zap.Error(err))
	}
}

func (q *GenerationQueue) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(q.opts.WorkerTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = q.client.Del(context.Background(), q.heartbeatKey(q.opts.WorkerID)).Err()
			return
		case <-ticker.C:
			q.beat(ctx)
			q.Reap(ctx)
		}
	}
}

// Reap returns the in-flight jobs of workers whose heartbeat has expired to
// the queue and releases the session locks those workers held. It reports
// how many jobs were recovered.
func (q *GenerationQueue) Reap(ctx context.Context) int {
	prefix := q.processingKey("")
	recovered := 0
	iter := q.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		worker := strings.TrimPrefix(key, prefix)
		if worker == q.opts.WorkerID {
			continue
		}
		alive, err := q.client.Exists(ctx, q.heartbeatKey(worker)).Result()
		if err != nil || alive > 0 {
			continue
		}
		for {
			payload, err := q.client.LMove(ctx, key, q.opts.Key, "RIGHT", "RIGHT").Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) {
					q.log.Warn("recover generation job failed", zap.String("from", worker), zap.Error(err))
				}
				break
			}
			recovered++
			var job generationJob
			if json.Unmarshal([]byte(payload), &job) == nil {
				q.releaseStaleLock(ctx, job.SessionID, worker)
			}
			q.log.Warn("recovered generation job from dead worker", zap.String("from", worker), zap.String("sessionId", job.SessionID))
		}
	}
	if err := iter.Err(); err != nil {
		q.log.Warn("scan processing lists failed", zap.Error(err))
	}
	if recovered > 0 {
		metrics.GenerationJobs.WithLabelValues("recovered").Add(float64(recovered))
	}
	return recovered
}

func (q *GenerationQueue) releaseStaleLock(ctx context.Context, sessionID, worker string) {
	owner, err := q.client.Get(ctx, q.lockKey(sessionID)).Result()
	if err != nil || owner != worker {
		return
	}
	_ = q.client.Del(ctx, q.lockKey(sessionID)).Err()
}

// settle drops a handled job from this worker's processing list.
func (q *GenerationQueue) settle(payload string) {
	if err := q.client.LRem(context.Background(), q.processingKey(q.opts.WorkerID), 1, payload).Err(); err != nil {
		q.log.Warn("settle generation job failed", zap.Error(err))
	}
}

// handle runs one job. It reports false when shutdown interrupted the job
// before it was settled, which leaves it in the processing list for recovery.
func (q *GenerationQueue) handle(ctx context.Context, h app.GenerationHandler, job generationJob) bool {
	locked, err := q.client.SetNX(ctx, q.lockKey(job.SessionID), q.opts.WorkerID, q.opts.LockTTL).Result()
	if err != nil {
		q.log.Warn("take generation lock failed", zap.String("sessionId", job.SessionID), zap.Error(err))
		return ctx.Err() == nil && q.push(ctx, job) == nil
	}
	if !locked {
		// another worker has this session
		return true
	}
	log := q.log.With(zap.String("sessionId", job.SessionID), zap.Int("attempt", job.Attempt+1))
	err = h.ProcessGenerationJob(ctx, job.SessionID)
	// released before any re-push so the retry is not mistaken for a duplicate
	q.unlock(job.SessionID)
	if err == nil {
		log.Info("generation job done")
		metrics.GenerationJobs.WithLabelValues("succeeded").Inc()
		q.finish(job.SessionID)
		return true
	}

	if job.Attempt+1 < q.opts.MaxRetries && app.RetryableGeneration(err) {
		delay := q.opts.Backoff * time.Duration(1<<job.Attempt)
		log.Warn("generation job failed, retrying", zap.Duration("delay", delay), zap.Error(err))
		metrics.GenerationJobs.WithLabelValues("retried").Inc()
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		job.Attempt++
		if perr := q.push(ctx, job); perr == nil {
			return true
		}
	}

	log.Error("generation job failed", zap.Error(err))
	metrics.GenerationJobs.WithLabelValues("failed").Inc()
	h.ReportGenerationFailure(ctx, job.SessionID, err)
	q.finish(job.SessionID)
	return true
}

func (q *GenerationQueue) unlock(sessionID string) {
	if err := q.client.Del(context.Background(), q.lockKey(sessionID)).Err(); err != nil {
		q.log.Warn("release generation lock failed", zap.String("sessionId", sessionID), zap.Error(err))
	}
}

func (q *GenerationQueue) finish(sessionID string) {
	if err := q.client.Del(context.Background(), q.queuedKey(sessionID)).Err(); err != nil {
		q.log.Warn("clear queued marker failed", zap.String("sessionId", sessionID), zap.Error(err))
	}
}
