package content

import (
	"context"
	"fmt"
	"sync"
)

// StaticCatalog is an in-memory Catalog backed by a map. It is suitable
// for tests and for applications whose catalog fits in process memory.
type StaticCatalog struct {
	mu    sync.RWMutex
	items map[string]*Item
}

// NewStaticCatalog creates a StaticCatalog seeded with the given items.
func NewStaticCatalog(items ...*Item) *StaticCatalog {
	c := &StaticCatalog{items: make(map[string]*Item, len(items))}
	for _, item := range items {
		c.items[item.ID] = item
	}
	return c
}

// Put adds or replaces an item.
func (c *StaticCatalog) Put(item *Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[item.ID] = item
}

// GetItem implements Catalog.
func (c *StaticCatalog) GetItem(_ context.Context, contentID string) (*Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[contentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, contentID)
	}
	cp := *item
	return &cp, nil
}
