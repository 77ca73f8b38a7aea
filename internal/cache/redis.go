package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis wraps the shared redis client
type Redis struct {
	Client *redis.Client
}

// NewFromURL connects to redis using a redis:// URL and verifies the connection
func NewFromURL(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Msg("Redis connection established")
	return &Redis{Client: client}, nil
}

// Close closes the underlying client
func (r *Redis) Close() error {
	return r.Client.Close()
}

// Health pings redis
func (r *Redis) Health(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}
