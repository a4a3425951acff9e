package ledger

import (
	"container/list"
	"context"
	"sync"
)

// =============================================================================
// IDEMPOTENCY CACHE - Bounded map of recent keys to the entries they produced
// =============================================================================

// IdempotencyCache remembers which entry a scoped idempotency key produced.
// It is an accelerator only: the store's unique index on idempotency_key is
// the durable guard, so a cache miss is always safe.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) (EntryID, bool, error)
	Put(ctx context.Context, key string, id EntryID) error
}

const DefaultIdempotencyCacheSize = 10_000

// LRUCache is an in-process IdempotencyCache that evicts the least
// recently used key once Size keys are held.
type LRUCache struct {
	mu    sync.Mutex
	size  int
	order *list.List
	items map[string]*list.Element
}

type lruItem struct {
	key string
	id  EntryID
}

func NewLRUCache(size int) *LRUCache {
	if size <= 0 {
		size = DefaultIdempotencyCacheSize
	}
	return &LRUCache{
		size:  size,
		order: list.New(),
		items: make(map[string]*list.Element, size),
	}
}

func (c *LRUCache) Get(_ context.Context, key string) (EntryID, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return "", false, nil
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruItem).id, true, nil
}

func (c *LRUCache) Put(_ context.Context, key string, id EntryID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*lruItem).id = id
		c.order.MoveToFront(el)
		return nil
	}
	c.items[key] = c.order.PushFront(&lruItem{key: key, id: id})
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruItem).key)
	}
	return nil
}

func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
