package workers

import (
	"fmt"
	"sync"
)

// Descriptor describes a registered worker endpoint.
//
// Workers are resolved through this explicit registry rather than by dynamic
// lookup, so the set of callable endpoints is closed and inspectable.
type Descriptor struct {
	ID               string  `json:"id"`
	Model            string  `json:"model"`
	Provider         string  `json:"provider"`
	MaxContextTokens int     `json:"max_context_tokens"`
	CostPer1KTokens  float64 `json:"cost_per_1k_tokens"`
	Healthy          bool    `json:"healthy"`
}

// Registry is a thread-safe worker descriptor registry.
//
// Registration order is preserved: FirstHealthy walks workers in the order
// they were registered.
type Registry struct {
	descriptors map[string]*Descriptor
	order       []string
	mu          sync.RWMutex
}

// NewRegistry creates an empty worker registry.
func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[string]*Descriptor),
	}
}

// Register adds a worker descriptor. Registering a duplicate id is a
// configuration defect.
func (r *Registry) Register(d *Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("worker descriptor has empty id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[d.ID]; exists {
		return fmt.Errorf("worker '%s' already registered", d.ID)
	}
	r.descriptors[d.ID] = d
	r.order = append(r.order, d.ID)
	return nil
}

// Resolve returns the descriptor for a worker id.
func (r *Registry) Resolve(workerID string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[workerID]
	return d, ok
}

// SetHealthy updates a worker's health flag.
func (r *Registry) SetHealthy(workerID string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.descriptors[workerID]; ok {
		d.Healthy = healthy
	}
}

// FirstHealthy returns the first healthy worker in registration order.
func (r *Registry) FirstHealthy() (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		if d := r.descriptors[id]; d.Healthy {
			return d, true
		}
	}
	return nil, false
}

// IDs returns all registered worker ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}
