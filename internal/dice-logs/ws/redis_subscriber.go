package ws

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/dice-settlement/internal/dice-logs/pubsub"
)

// StartRedisSubscriber escuta o canal de broadcast e repassa os avisos ao hub.
// Encerra a inscrição quando ctx é cancelado.
func StartRedisSubscriber(ctx context.Context, log *zap.Logger, r *redis.Client, channel string, hub *Hub) {
	sub := r.Subscribe(ctx, channel)
	ch := sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg := <-ch:
				if msg == nil {
					continue
				}
				var n pubsub.Notice
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					log.Warn("ws subscriber unmarshal error", zap.Error(err))
					continue
				}
				hub.Broadcast(n)
			}
		}
	}()
}
