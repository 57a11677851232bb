package cache

import (
	"container/list"
	"fmt"
	"sync"

	"tileview/internal/tile"
)

type entry struct {
	key   tile.Coordinate
	value []byte
}

// MemoryCache implements in-memory LRU cache
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	items    map[tile.Coordinate]*list.Element
	lruList  *list.List
}

// NewMemoryCache creates a new in-memory LRU cache holding at most capacity tiles
func NewMemoryCache(capacity int) (*MemoryCache, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}

	return &MemoryCache{
		capacity: capacity,
		items:    make(map[tile.Coordinate]*list.Element),
		lruList:  list.New(),
	}, nil
}

func (c *MemoryCache) Get(key tile.Coordinate) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}

	c.lruList.MoveToFront(elem)
	return elem.Value.(*entry).value, true
}

func (c *MemoryCache) Put(key tile.Coordinate, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*entry).value = value
		c.lruList.MoveToFront(elem)
		return nil
	}

	if c.lruList.Len() >= c.capacity {
		if oldest := c.lruList.Back(); oldest != nil {
			delete(c.items, oldest.Value.(*entry).key)
			c.lruList.Remove(oldest)
		}
	}

	c.items[key] = c.lruList.PushFront(&entry{key: key, value: value})
	return nil
}

// Len returns the number of cached tiles.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lruList.Len()
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[tile.Coordinate]*list.Element)
	c.lruList.Init()
}
