package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"study-session-engine/internal/domain"
)

// ContentLoader fetches content from a backing store (e.g., the content DB).
type ContentLoader interface {
	LoadContent(ctx context.Context, contentID string) (domain.Content, error)
}

// ContentCache caches content with TTL to avoid repeated loader hits.
type ContentCache struct {
	loader ContentLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedContent
}

type cachedContent struct {
	content   domain.Content
	expiresAt time.Time
}

func NewContentCache(loader ContentLoader, ttl time.Duration) *ContentCache {
	return &ContentCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedContent),
	}
}

func (c *ContentCache) GetContent(ctx context.Context, contentID string) (domain.Content, error) {
	if content, ok := c.lookup(contentID); ok {
		return content, nil
	}

	result, err, _ := c.sf.Do(contentID, func() (interface{}, error) {
		if content, ok := c.lookup(contentID); ok {
			return content, nil
		}
		content, err := c.loader.LoadContent(ctx, contentID)
		if err != nil {
			return domain.Content{}, err
		}
		c.mu.Lock()
		c.cache[contentID] = cachedContent{
			content:   content,
			expiresAt: c.clock().Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return content, nil
	})
	if err != nil {
		return domain.Content{}, err
	}
	return result.(domain.Content), nil
}

func (c *ContentCache) lookup(contentID string) (domain.Content, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[contentID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.Content{}, false
	}
	return entry.content, true
}

func (c *ContentCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticContentLoader is backed by an in-memory map (useful for tests/demos).
type StaticContentLoader struct {
	items map[string]domain.Content
}

func NewStaticContentLoader(items map[string]domain.Content) *StaticContentLoader {
	return &StaticContentLoader{items: items}
}

func (l *StaticContentLoader) LoadContent(_ context.Context, contentID string) (domain.Content, error) {
	if content, ok := l.items[contentID]; ok {
		return content, nil
	}
	return domain.Content{}, domain.ErrContentNotFound
}

// GetContent lets the static loader act as a provider without a cache.
func (l *StaticContentLoader) GetContent(ctx context.Context, contentID string) (domain.Content, error) {
	return l.LoadContent(ctx, contentID)
}
