package iosink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tturner/cipadapter/internal/config"
)

type redisClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// RedisSink stores the latest image of each assembly under
// <key_prefix><instance> and publishes every sample on a channel.
type RedisSink struct {
	client    redisClient
	channel   string
	keyPrefix string
}

// DialRedis connects to the configured server and checks it answers.
func DialRedis(ctx context.Context, cfg config.RedisSinkConfig) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connect to %s: %w", cfg.Addr, err)
	}
	return &RedisSink{client: client, channel: cfg.Channel, keyPrefix: cfg.KeyPrefix}, nil
}

func (r *RedisSink) Name() string { return "redis" }

func (r *RedisSink) Publish(ctx context.Context, s Sample) error {
	payload, err := s.Encode()
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.keyPrefix+strconv.Itoa(int(s.Instance)), payload, 0).Err(); err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

func (r *RedisSink) Close() error {
	return r.client.Close()
}
