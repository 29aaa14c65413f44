package health

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Pinger is the liveness probe surface shared by connection pools.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database returns a readiness checker over a pingable connection pool.
func Database(p Pinger) Checker {
	return Checker{
		Name:  "database",
		Check: p.Ping,
	}
}

// Stream returns a readiness checker over the Redis backend of the
// ingestion stream.
func Stream(client *redis.Client) Checker {
	return Checker{
		Name: "stream",
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}
