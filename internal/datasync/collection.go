package datasync

import (
	"sync"

	"github.com/academe-app/academe/internal/backend"
)

// Collection is an in-memory mirror of a remote collection kept current via
// a live subscription. Every change notification rebuilds it in full; order
// is the snapshot delivery order unless the consumer re-sorts.
type Collection[T any] struct {
	decode func(backend.Document) (T, error)

	mu    sync.RWMutex
	items map[string]T
	order []string
}

func newCollection[T any](decode func(backend.Document) (T, error)) *Collection[T] {
	return &Collection[T]{decode: decode, items: make(map[string]T)}
}

// replace rebuilds the mirror from a full snapshot.
func (c *Collection[T]) replace(docs []backend.Document) error {
	items := make(map[string]T, len(docs))
	order := make([]string, 0, len(docs))
	for _, d := range docs {
		v, err := c.decode(d)
		if err != nil {
			return err
		}
		items[d.ID] = v
		order = append(order, d.ID)
	}
	c.mu.Lock()
	c.items = items
	c.order = order
	c.mu.Unlock()
	return nil
}

// reset empties the mirror.
func (c *Collection[T]) reset() {
	c.mu.Lock()
	c.items = make(map[string]T)
	c.order = nil
	c.mu.Unlock()
}

// Get returns one record by document id.
func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[id]
	return v, ok
}

// Len returns the number of mirrored records.
func (c *Collection[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// All returns the records in snapshot order.
func (c *Collection[T]) All() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}
