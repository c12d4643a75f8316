package pubsub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

type RedisBroadcaster struct {
	r       *redis.Client
	channel string
}

func NewRedisBroadcaster(r *redis.Client, channel string) *RedisBroadcaster {
	return &RedisBroadcaster{r: r, channel: channel}
}

// Notice é o payload enviado aos observadores; Recipient é o jogador notificado
type Notice struct {
	Kind      string          `json:"kind"` // "receipt" | "result"
	Recipient string          `json:"recipient"`
	BetID     uint64          `json:"bet_id"`
	Payload   json.RawMessage `json:"payload"`
}

func (b *RedisBroadcaster) Publish(ctx context.Context, n Notice) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return b.r.Publish(ctx, b.channel, raw).Err()
}
