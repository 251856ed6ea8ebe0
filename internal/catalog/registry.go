// internal/catalog/registry.go
package catalog

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrItemNotFound  = errors.New("item not found")
	ErrDuplicateItem = errors.New("item already registered")
	ErrInvalidItem   = errors.New("invalid item")
)

// Registry holds every circulating item and its current status. Items are
// added once at catalog load and never removed.
//
// SetStatus is reserved for the circulation service, which derives the status
// from the ledger and the hold queue.
type Registry struct {
	mu    sync.RWMutex
	items map[string]*Item
	order []string
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*Item)}
}

// Add registers a new item as AVAILABLE.
func (r *Registry) Add(item Item) (Item, error) {
	if item.Key == "" || item.Title == "" {
		return Item{}, fmt.Errorf("%w: key and title are required", ErrInvalidItem)
	}
	if _, ok := kindNames[item.Kind]; !ok {
		return Item{}, fmt.Errorf("%w: unknown kind %d", ErrInvalidItem, int(item.Kind))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[item.Key]; exists {
		return Item{}, fmt.Errorf("%w: %s", ErrDuplicateItem, item.Key)
	}
	stored := item.clone()
	stored.Status = Available
	stored.Version = 0
	r.items[item.Key] = &stored
	r.order = append(r.order, item.Key)
	return stored.clone(), nil
}

// Get returns a copy of the item with the given key.
func (r *Registry) Get(key string) (Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[key]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, key)
	}
	return item.clone(), nil
}

// List returns copies of all items in registration order.
func (r *Registry) List() []Item {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]Item, 0, len(r.order))
	for _, key := range r.order {
		items = append(items, r.items[key].clone())
	}
	return items
}

// Keys returns every item key in registration order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// SetStatus moves the item to status and bumps its version when the status
// actually changes.
func (r *Registry) SetStatus(key string, status Status) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[key]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, key)
	}
	if item.Status != status {
		item.Status = status
		item.Version++
	}
	return item.clone(), nil
}
