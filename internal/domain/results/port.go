package results

import (
	"context"
	"time"
)

// Repository port for persisted results. Implementations must never return
// a record whose TTL has elapsed.
type Repository interface {
	Put(ctx context.Context, id string, rec *Record, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Record, error)
}
