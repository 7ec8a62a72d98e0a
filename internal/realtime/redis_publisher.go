package realtime

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel é o canal Redis Pub/Sub compartilhado entre API e workers
const DefaultChannel = "opinio_realtime"

// RedisPublisher publica mensagens no canal Redis; as instâncias da API repassam ao Hub
type RedisPublisher struct {
	r       *redis.Client
	channel string
}

func NewRedisPublisher(r *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{r: r, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.r.Publish(ctx, p.channel, b).Err()
}
