package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	ExpiryDefaultInMemory = 30 * time.Minute
	cleanupInterval       = 10 * time.Minute
)

type inMemoryCache struct {
	store *gocache.Cache
}

var (
	inMemoryInstance *inMemoryCache
	inMemoryOnce     sync.Once
)

// NewInMemoryCache returns the process-wide in-memory cache
func NewInMemoryCache() Cache {
	inMemoryOnce.Do(func() {
		inMemoryInstance = &inMemoryCache{
			store: gocache.New(ExpiryDefaultInMemory, cleanupInterval),
		}
	})
	return inMemoryInstance
}

func (c *inMemoryCache) Get(ctx context.Context, key string) (interface{}, bool) {
	return c.store.Get(key)
}

func (c *inMemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = ExpiryDefaultInMemory
	}
	c.store.Set(key, value, ttl)
}

func (c *inMemoryCache) Delete(ctx context.Context, key string) {
	c.store.Delete(key)
}

func (c *inMemoryCache) DeleteByPrefix(ctx context.Context, prefix string) {
	for key := range c.store.Items() {
		if strings.HasPrefix(key, prefix) {
			c.store.Delete(key)
		}
	}
}
