package cache

import (
	"context"
	"time"
)

// Cache is the lookup cache used for hot read paths (coupon codes, settings)
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
	Delete(ctx context.Context, key string)
	DeleteByPrefix(ctx context.Context, prefix string)
}
