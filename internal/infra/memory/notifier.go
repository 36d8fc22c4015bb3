package memory

import (
	"context"
	"sync"

	"study-session-engine/internal/app"
)

// Broker fans notifications out to in-process subscribers. Slow subscribers
// miss messages rather than block the publisher.
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan app.Notification
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[int]chan app.Notification)}
}

func (b *Broker) Notify(_ context.Context, n app.Notification) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[n.UserID] {
		select {
		case ch <- n:
		default:
		}
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, userID string) (<-chan app.Notification, func()) {
	ch := make(chan app.Notification, 16)
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[int]chan app.Notification)
	}
	b.subs[userID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[userID], id)
			if len(b.subs[userID]) == 0 {
				delete(b.subs, userID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel
}
