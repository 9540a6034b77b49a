package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/adedayo14/AOV-v1-sub001/internal/domain"
)

type RedisMasterListCache struct {
	client *redis.Client
}

func NewRedisMasterListCache(addr string, password string, db int) *RedisMasterListCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisMasterListCache{client: client}
}

func (c *RedisMasterListCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisMasterListCache) Close() error {
	return c.client.Close()
}

func (c *RedisMasterListCache) Get(ctx context.Context, key string) ([]domain.Candidate, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var master []domain.Candidate
	if err := json.Unmarshal([]byte(val), &master); err != nil {
		return nil, false, err
	}
	return master, true, nil
}

func (c *RedisMasterListCache) Set(ctx context.Context, key string, master []domain.Candidate, ttl time.Duration) error {
	if len(master) == 0 {
		return nil
	}
	payload, err := json.Marshal(master)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

// Invalidate drops every cached list under the given prefix, used when a
// shop's settings change and cached strategies may no longer apply.
func (c *RedisMasterListCache) Invalidate(ctx context.Context, keyPrefix string) error {
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
