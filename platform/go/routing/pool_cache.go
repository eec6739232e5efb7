package routing

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jackc/pgx/v5/pgxpool"
)

// poolCache holds tenant pools keyed by database name. Implementations are
// safe for concurrent use and call their removal callback for every pool
// that leaves the cache.
type poolCache interface {
	Get(database string) (*pgxpool.Pool, bool)
	Add(database string, pool *pgxpool.Pool)
	Len() int
	Purge()
}

type removeFunc func(database string, pool *pgxpool.Pool)

// mapCache never evicts; pools leave only on Purge.
type mapCache struct {
	mu       sync.RWMutex
	pools    map[string]*pgxpool.Pool
	onRemove removeFunc
}

func newMapCache(onRemove removeFunc) *mapCache {
	return &mapCache{pools: make(map[string]*pgxpool.Pool), onRemove: onRemove}
}

func (c *mapCache) Get(database string) (*pgxpool.Pool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pools[database]
	return p, ok
}

func (c *mapCache) Add(database string, pool *pgxpool.Pool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools[database] = pool
}

func (c *mapCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pools)
}

func (c *mapCache) Purge() {
	c.mu.Lock()
	pools := c.pools
	c.pools = make(map[string]*pgxpool.Pool)
	c.mu.Unlock()

	for name, p := range pools {
		c.onRemove(name, p)
	}
}

// lruCache keeps the size most recently used pools.
type lruCache struct {
	cache *lru.Cache
}

func newLRUCache(size int, onRemove removeFunc) (*lruCache, error) {
	cache, err := lru.NewWithEvict(size, func(key, value interface{}) {
		onRemove(key.(string), value.(*pgxpool.Pool))
	})
	if err != nil {
		return nil, err
	}
	return &lruCache{cache: cache}, nil
}

func (c *lruCache) Get(database string) (*pgxpool.Pool, bool) {
	v, ok := c.cache.Get(database)
	if !ok {
		return nil, false
	}
	return v.(*pgxpool.Pool), true
}

func (c *lruCache) Add(database string, pool *pgxpool.Pool) {
	c.cache.Add(database, pool)
}

func (c *lruCache) Len() int {
	return c.cache.Len()
}

func (c *lruCache) Purge() {
	c.cache.Purge()
}
