// Package server provides the Redis client used for token revocation lookups.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
)

const (
	redisPingTimeout  = 5 * time.Second
	redisPingInterval = 500 * time.Millisecond
	redisPingRetries  = 5
)

// NewRedisClient connects to Redis and verifies the connection with a ping,
// retrying briefly so the relay survives a Redis that is still coming up.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ping := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		defer cancel()
		return client.Ping(ctx).Err()
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(redisPingInterval), redisPingRetries)
	if err := backoff.Retry(ping, policy); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return client, nil
}

// CloseRedisClient closes the client, tolerating a nil one.
func CloseRedisClient(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
