package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResultCache guarda recibos e resultados por aposta no Redis
// Client: cliente Redis
// TTL: tempo de expiração dos registros
type ResultCache struct {
	Client *redis.Client
	TTL    time.Duration
}

// NewResultCache cria o cache com TTL configurável
func NewResultCache(c *redis.Client, ttl time.Duration) *ResultCache {
	return &ResultCache{Client: c, TTL: ttl}
}

func keyResult(betID uint64) string  { return "dice:result:" + strconv.FormatUint(betID, 10) }
func keyReceipt(betID uint64) string { return "dice:receipt:" + strconv.FormatUint(betID, 10) }
func keyPlayer(player string) string { return "dice:player:" + player + ":results" }

// SetReceipt armazena o recibo de uma aposta aberta
func (c *ResultCache) SetReceipt(ctx context.Context, betID uint64, payload []byte) error {
	return c.Client.Set(ctx, keyReceipt(betID), payload, c.TTL).Err()
}

// SetResult armazena o resultado e indexa a aposta na lista recente do jogador.
// Idempotente: a outbox pode entregar o mesmo resultado mais de uma vez.
func (c *ResultCache) SetResult(ctx context.Context, betID uint64, player string, payload []byte) error {
	id := strconv.FormatUint(betID, 10)
	pipe := c.Client.TxPipeline()
	pipe.Set(ctx, keyResult(betID), payload, c.TTL)
	pipe.Del(ctx, keyReceipt(betID))
	pipe.LRem(ctx, keyPlayer(player), 0, id)
	pipe.LPush(ctx, keyPlayer(player), id)
	pipe.LTrim(ctx, keyPlayer(player), 0, 99)
	pipe.Expire(ctx, keyPlayer(player), c.TTL)
	_, err := pipe.Exec(ctx)
	return err
}

// GetResult decodifica o resultado em dst; false se não houver
func (c *ResultCache) GetResult(ctx context.Context, betID uint64, dst any) (bool, error) {
	b, err := c.Client.Get(ctx, keyResult(betID)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, dst)
}

// RecentResults retorna os IDs das últimas apostas resolvidas do jogador
func (c *ResultCache) RecentResults(ctx context.Context, player string) ([]uint64, error) {
	vals, err := c.Client.LRange(ctx, keyPlayer(player), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(vals))
	for _, v := range vals {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
