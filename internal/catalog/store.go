// Package catalog holds the product collection and the admin CRUD
// orchestrator operating on it.
package catalog

import (
	"sync"

	"github.com/fairyhunter13/storefront-console/internal/model"
	"github.com/fairyhunter13/storefront-console/internal/obs"
)

// Persister receives catalog mutations for durable storage. Persistence is
// advisory: failures are logged and never block the in-memory mutation,
// because local state is the source of truth for visibility.
type Persister interface {
	SaveProduct(p model.Product) error
	DeleteProduct(id string) error
}

// Store is the in-memory product collection. Listing preserves insertion
// order, matching the order products were added in.
type Store struct {
	mu      sync.RWMutex
	m       map[string]model.Product
	order   []string
	persist Persister
}

// NewStore creates an empty Store. persist may be nil.
func NewStore(persist Persister) *Store {
	return &Store{m: make(map[string]model.Product), persist: persist}
}

// Load seeds the store from previously persisted products.
func (s *Store) Load(products []model.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		if _, ok := s.m[p.ID]; !ok {
			s.order = append(s.order, p.ID)
		}
		s.m[p.ID] = p
	}
}

// Get returns the product with the given id.
func (s *Store) Get(id string) (model.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.m[id]
	return p, ok
}

// List returns a copy of all products in insertion order.
func (s *Store) List() []model.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Product, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.m[id])
	}
	return out
}

// Len returns the number of products.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Add appends a new product.
func (s *Store) Add(p model.Product) {
	s.mu.Lock()
	if _, ok := s.m[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.m[p.ID] = p
	s.mu.Unlock()
	s.save(p)
}

// Update replaces an existing product, keeping its position.
func (s *Store) Update(p model.Product) bool {
	s.mu.Lock()
	if _, ok := s.m[p.ID]; !ok {
		s.mu.Unlock()
		return false
	}
	s.m[p.ID] = p
	s.mu.Unlock()
	s.save(p)
	return true
}

// Remove deletes a product and returns it.
func (s *Store) Remove(id string) (model.Product, bool) {
	s.mu.Lock()
	p, ok := s.m[id]
	if ok {
		delete(s.m, id)
		for i, oid := range s.order {
			if oid == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
	if ok && s.persist != nil {
		if err := s.persist.DeleteProduct(id); err != nil {
			obs.Logger.Warn("catalog_persist_delete_failed", "product_id", id, "error", err)
		}
	}
	return p, ok
}

func (s *Store) save(p model.Product) {
	if s.persist == nil {
		return
	}
	if err := s.persist.SaveProduct(p); err != nil {
		obs.Logger.Warn("catalog_persist_save_failed", "product_id", p.ID, "error", err)
	}
}
