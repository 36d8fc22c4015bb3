package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"study-session-engine/internal/app"
)

// Notifier publishes learner notifications on learner_updates:{userID} so
// any instance holding the learner's socket can forward them.
type Notifier struct {
	client *redis.Client
	log    *zap.Logger
}

func NewNotifier(client *redis.Client, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{client: client, log: log}
}

func channel(userID string) string {
	return "learner_updates:" + userID
}

func (n *Notifier) Notify(ctx context.Context, msg app.Notification) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := n.client.Publish(ctx, channel(msg.UserID), payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Subscribe streams the learner's notifications until cancel is called or
// ctx ends.
func (n *Notifier) Subscribe(ctx context.Context, userID string) (<-chan app.Notification, func()) {
	ctx, cancel := context.WithCancel(ctx)
	sub := n.client.Subscribe(ctx, channel(userID))
	out := make(chan app.Notification, 16)

	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var note app.Notification
				if err := json.Unmarshal([]byte(msg.Payload), &note); err != nil {
					n.log.Warn("drop malformed notification", zap.String("userId", userID), zap.Error(err))
					continue
				}
				select {
				case out <- note:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, cancel
}
