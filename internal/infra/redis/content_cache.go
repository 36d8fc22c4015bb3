package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"study-session-engine/internal/domain"
	"study-session-engine/internal/infra/memory"
)

// ContentCache caches content in Redis and falls back to a loader on miss.
// Content is stored as: HSET content:{contentID} title .. transcript .. concepts [json]
type ContentCache struct {
	client *redis.Client
	loader memory.ContentLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewContentCache(client *redis.Client, loader memory.ContentLoader, ttl time.Duration) *ContentCache {
	return &ContentCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *ContentCache) GetContent(ctx context.Context, contentID string) (domain.Content, error) {
	if content, ok := c.fromCache(ctx, contentID); ok {
		return content, nil
	}

	result, err, _ := c.sf.Do(contentID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if content, ok := c.fromCache(ctx, contentID); ok {
			return content, nil
		}

		content, err := c.loader.LoadContent(ctx, contentID)
		if err != nil {
			return domain.Content{}, err
		}

		concepts, err := json.Marshal(content.KeyConcepts)
		if err != nil {
			return domain.Content{}, fmt.Errorf("encode concepts: %w", err)
		}
		key := c.key(contentID)
		pipe := c.client.Pipeline()
		pipe.HSet(ctx, key, "title", content.Title, "transcript", content.Transcript, "concepts", string(concepts))
		if ttl := c.ttlWithJitter(); ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		// a failed write only costs a reload next time
		_, _ = pipe.Exec(ctx)

		return content, nil
	})
	if err != nil {
		return domain.Content{}, err
	}
	return result.(domain.Content), nil
}

func (c *ContentCache) fromCache(ctx context.Context, contentID string) (domain.Content, bool) {
	fields, err := c.client.HGetAll(ctx, c.key(contentID)).Result()
	if err != nil || len(fields) == 0 {
		return domain.Content{}, false
	}
	content := domain.Content{
		ID:         contentID,
		Title:      fields["title"],
		Transcript: fields["transcript"],
	}
	if raw := fields["concepts"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &content.KeyConcepts); err != nil {
			return domain.Content{}, false
		}
	}
	return content, true
}

func (c *ContentCache) key(contentID string) string {
	return "content:" + contentID
}

func (c *ContentCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
