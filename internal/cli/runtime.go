package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"study-session-engine/internal/app"
	"study-session-engine/internal/classifier"
	"study-session-engine/internal/config"
	"study-session-engine/internal/domain"
	"study-session-engine/internal/infra/memory"
	pgstore "study-session-engine/internal/infra/postgres"
	redisstore "study-session-engine/internal/infra/redis"
	"study-session-engine/internal/llm"
)

// worker drains generation jobs until ctx is done.
type worker interface {
	Run(ctx context.Context, h app.GenerationHandler) error
}

// subscriber streams notifications to websocket clients.
type subscriber interface {
	Subscribe(ctx context.Context, userID string) (<-chan app.Notification, func())
}

// runtime is the wired process: the engine plus whichever backends the
// config selects. Without redis or postgres everything stays in memory.
type runtime struct {
	engine     *app.Engine
	worker     worker
	subscriber subscriber
	closers    []func()
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

func buildRuntime(ctx context.Context, cfg config.Config, log *zap.Logger) (*runtime, error) {
	rt := &runtime{}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		rt.closers = append(rt.closers, func() { redisClient.Close() })
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		var err error
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)
	}

	deps := app.Deps{
		Logger:         log,
		SessionsPerDay: cfg.Limits.SessionsPerDay,
	}

	var loader memory.ContentLoader = memory.NewStaticContentLoader(sampleContent())
	if pool != nil {
		loader = pgstore.NewContentLoader(pool)
		deps.Sessions = pgstore.NewSessionRepository(pool)
		deps.Events = pgstore.NewEventLog(pool)
		deps.Tests = pgstore.NewTestRepository(pool)
		deps.Submissions = pgstore.NewSubmissionRepository(pool)
		deps.WeakPoints = pgstore.NewWeakPointRepository(pool)
	} else {
		deps.Sessions = memory.NewSessionStore()
		deps.Events = memory.NewEventLog()
		deps.Tests = memory.NewTestStore()
		deps.Submissions = memory.NewSubmissionStore()
		deps.WeakPoints = memory.NewWeakPointStore()
	}

	contentTTL := config.TTLDuration(cfg.Content.TTL, 10*time.Minute)
	lockTTL := config.TTLDuration(cfg.Generation.LockTTL, 10*time.Minute)
	if redisClient != nil {
		deps.Content = redisstore.NewContentCache(redisClient, loader, contentTTL)
		deps.Metrics = redisstore.NewMetricsStore(redisClient, redisTTL)
		notifier := redisstore.NewNotifier(redisClient, log.Named("notifier"))
		deps.Notifier = notifier
		rt.subscriber = notifier
		queue := redisstore.NewGenerationQueue(redisClient, redisstore.QueueOptions{
			MaxRetries: cfg.Generation.MaxRetries,
			LockTTL:    lockTTL,
		}, log.Named("queue"))
		deps.Queue = queue
		rt.worker = queue
	} else {
		deps.Content = memory.NewContentCache(loader, contentTTL)
		deps.Metrics = memory.NewMetricsStore()
		broker := memory.NewBroker()
		deps.Notifier = broker
		rt.subscriber = broker
		queue := memory.NewGenerationQueue(cfg.Generation.Queue, cfg.Generation.MaxRetries, time.Second, log.Named("queue"))
		deps.Queue = queue
		rt.worker = queue
	}

	if cfg.LLM.APIKey != "" {
		client, err := llm.NewClient(llm.Config{
			APIKey:            cfg.LLM.APIKey,
			BaseURL:           cfg.LLM.BaseURL,
			Model:             cfg.LLM.Model,
			Timeout:           config.TTLDuration(cfg.LLM.Timeout, 30*time.Second),
			MaxRetries:        cfg.LLM.MaxRetries,
			RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		}, log.Named("llm"))
		if err != nil {
			rt.Close()
			return nil, err
		}
		deps.Evaluator = llm.NewEvaluator(client)
		deps.Generators = []app.QuestionGenerator{llm.NewGenerator(client), app.TemplateGenerator{}}
	} else {
		log.Info("no llm api key configured, using keyword grading and template questions")
	}

	deps.Strategy = app.RuleStrategy{}
	if path := cfg.Classifier.ModelPath; path != "" {
		tree, err := classifier.Load(path)
		if err != nil {
			log.Warn("classifier model unavailable, using rule-based difficulty", zap.String("path", path), zap.Error(err))
		} else {
			deps.Strategy = app.NewModelStrategy(tree, log.Named("classifier"))
		}
	}

	rt.engine = app.NewEngine(deps)
	log.Info("engine ready",
		zap.Bool("redis", redisClient != nil),
		zap.Bool("postgres", pool != nil),
		zap.Bool("llm", cfg.LLM.APIKey != ""),
		zap.String("difficultyStrategy", rt.engine.Predictor.Strategy()))
	return rt, nil
}

// sampleContent seeds the in-memory content loader; with postgres configured
// content rows are read from the content table instead.
func sampleContent() map[string]domain.Content {
	return map[string]domain.Content{
		"content-1": {
			ID:    "content-1",
			Title: "Cell biology basics",
			Transcript: "The mitochondria produces energy for the cell through cellular respiration. " +
				"The ribosome assembles proteins from amino acids in the cytoplasm. " +
				"The nucleus stores the genetic material of eukaryotic cells and controls gene expression. " +
				"The cell membrane regulates what enters and leaves the cell. " +
				"Energy from the mitochondria powers active transport across the cell membrane.",
			KeyConcepts: []string{"mitochondria", "ribosome", "nucleus", "cell membrane"},
		},
	}
}
