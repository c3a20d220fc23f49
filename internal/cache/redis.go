package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

type Redis struct {
	client *goredis.Client
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client}, nil
}

func NewRedisFromClient(client *goredis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) SetAwaiting(ctx context.Context, key ChatKey, paymentID string, ttl time.Duration) error {
	if paymentID == "" {
		return fmt.Errorf("payment id is required")
	}
	if err := r.client.Set(ctx, key.String(), paymentID, ttl).Err(); err != nil {
		return fmt.Errorf("set awaiting flag: %w", err)
	}
	return nil
}

func (r *Redis) TakeAwaiting(ctx context.Context, key ChatKey) (string, bool, error) {
	v, err := r.client.GetDel(ctx, key.String()).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("take awaiting flag: %w", err)
	}
	return v, true, nil
}

func (r *Redis) ClearAwaiting(ctx context.Context, key ChatKey) error {
	if err := r.client.Del(ctx, key.String()).Err(); err != nil {
		return fmt.Errorf("clear awaiting flag: %w", err)
	}
	return nil
}

func (r *Redis) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, dedupeKey(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim dedupe key: %w", err)
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, dedupeKey(key)).Err(); err != nil {
		return fmt.Errorf("release dedupe key: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
