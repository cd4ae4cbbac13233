// Package cache connects to the Redis instance that holds drafts and the task queue.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDialTimeout = 5 * time.Second

// Options describes how to reach Redis.
type Options struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

func (o Options) redisOptions() *redis.Options {
	dial := o.DialTimeout
	if dial <= 0 {
		dial = defaultDialTimeout
	}
	return &redis.Options{
		Addr:        o.Addr,
		Password:    o.Password,
		DB:          o.DB,
		PoolSize:    o.PoolSize,
		DialTimeout: dial,
	}
}

// New connects and pings. The client is closed again when the ping fails.
func New(ctx context.Context, opts Options) (*redis.Client, error) {
	ro := opts.redisOptions()
	client := redis.NewClient(ro)

	pingCtx, cancel := context.WithTimeout(ctx, ro.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", opts.Addr, err)
	}
	return client, nil
}
