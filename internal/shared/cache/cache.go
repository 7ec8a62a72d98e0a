package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

func ConnectRedis(addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	return rdb, nil
}

// JSON é um cache read-through simples de snapshots serializados em JSON
type JSON struct {
	R      *redis.Client
	Prefix string
}

func NewJSON(r *redis.Client, prefix string) *JSON { return &JSON{R: r, Prefix: prefix} }

func (c *JSON) key(id string) string { return c.Prefix + id }

// Get devolve (false, nil) em cache miss
func (c *JSON) Get(ctx context.Context, id string, dst any) (bool, error) {
	b, err := c.R.Get(ctx, c.key(id)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, dst)
}

func (c *JSON) Set(ctx context.Context, id string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.R.Set(ctx, c.key(id), b, ttl).Err()
}

func (c *JSON) Delete(ctx context.Context, id string) error {
	return c.R.Del(ctx, c.key(id)).Err()
}
