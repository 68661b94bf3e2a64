package txnlog

import (
	"container/list"
	"sync"
)

type cacheEntry struct {
	txID     uint64
	position LogPosition
}

// TransactionMetadataCache remembers the log position each transaction was
// appended at, so readers can seek to it without scanning the log. It holds
// at most capacity entries and evicts the oldest inserted first. A miss only
// means the caller has to scan.
type TransactionMetadataCache struct {
	sync.RWMutex
	capacity int
	ll       *list.List
	items    map[uint64]*list.Element
}

func NewTransactionMetadataCache(capacity int) *TransactionMetadataCache {
	if capacity <= 0 {
		panic("metadata cache capacity must be positive")
	}
	return &TransactionMetadataCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[uint64]*list.Element, capacity),
	}
}

// Put records the position of txID. Updating an existing id keeps its age.
func (c *TransactionMetadataCache) Put(txID uint64, pos LogPosition) {
	c.Lock()
	defer c.Unlock()

	if ele, ok := c.items[txID]; ok {
		ele.Value.(*cacheEntry).position = pos
		return
	}
	c.items[txID] = c.ll.PushFront(&cacheEntry{txID: txID, position: pos})
	for c.ll.Len() > c.capacity {
		c.removeOldest()
	}
}

func (c *TransactionMetadataCache) Get(txID uint64) (LogPosition, bool) {
	c.RLock()
	defer c.RUnlock()

	if ele, ok := c.items[txID]; ok {
		return ele.Value.(*cacheEntry).position, true
	}
	return LogPosition{}, false
}

func (c *TransactionMetadataCache) Len() int {
	c.RLock()
	defer c.RUnlock()
	return c.ll.Len()
}

// Clear drops every entry, used when the log they point into is truncated.
func (c *TransactionMetadataCache) Clear() {
	c.Lock()
	defer c.Unlock()
	c.ll.Init()
	c.items = make(map[uint64]*list.Element, c.capacity)
}

func (c *TransactionMetadataCache) removeOldest() {
	ele := c.ll.Back()
	if ele == nil {
		return
	}
	c.ll.Remove(ele)
	delete(c.items, ele.Value.(*cacheEntry).txID)
}
