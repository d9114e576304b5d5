package db

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const healthKey = "health:check"

// Ping does a plain GET; a missing key still proves the backend answered.
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Get(ctx, healthKey).Err(); err != nil && err != redis.Nil {
		return errors.Wrap(err, "ping")
	}
	return nil
}
