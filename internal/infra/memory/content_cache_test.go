package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"study-session-engine/internal/domain"
)

func TestContentCacheCaches(t *testing.T) {
	loader := &countingLoader{
		ContentLoader: NewStaticContentLoader(map[string]domain.Content{
			"content-1": sampleContent(),
		}),
	}
	cache := NewContentCache(loader, time.Minute)

	if _, err := cache.GetContent(context.Background(), "content-1"); err != nil {
		t.Fatalf("get content: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected loader once, got %d", loader.count())
	}

	got, err := cache.GetContent(context.Background(), "content-1")
	if err != nil {
		t.Fatalf("get content 2: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.count())
	}
	if got.Title != "Photosynthesis" {
		t.Fatalf("unexpected content %+v", got)
	}
}

func TestContentCacheExpires(t *testing.T) {
	loader := &countingLoader{
		ContentLoader: NewStaticContentLoader(map[string]domain.Content{
			"content-1": sampleContent(),
		}),
	}
	cache := NewContentCache(loader, time.Minute)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	cache.clock = func() time.Time { return now }

	if _, err := cache.GetContent(context.Background(), "content-1"); err != nil {
		t.Fatalf("get content: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := cache.GetContent(context.Background(), "content-1"); err != nil {
		t.Fatalf("get content after expiry: %v", err)
	}
	if loader.count() != 2 {
		t.Fatalf("expected reload after expiry, loader calls %d", loader.count())
	}
}

func TestContentCacheMissingContent(t *testing.T) {
	cache := NewContentCache(NewStaticContentLoader(nil), time.Minute)
	_, err := cache.GetContent(context.Background(), "nope")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type countingLoader struct {
	ContentLoader
	mu    sync.Mutex
	calls int
}

func (l *countingLoader) LoadContent(ctx context.Context, contentID string) (domain.Content, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.ContentLoader.LoadContent(ctx, contentID)
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func sampleContent() domain.Content {
	return domain.Content{
		ID:          "content-1",
		Title:       "Photosynthesis",
		Transcript:  "Plants convert light into chemical energy. Chlorophyll absorbs light in the chloroplast.",
		KeyConcepts: []string{"Chlorophyll", "Chloroplast", "Light reactions", "Calvin cycle"},
	}
}
