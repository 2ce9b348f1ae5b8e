// Package registry holds the read-only worker directory loaded at startup.
package registry

import (
	"fmt"

	"github.com/nidhogg/nuka-relay/internal/config"
)

// Worker is one addressable worker role.
type Worker struct {
	ID          string `json:"id"`
	Address     string `json:"address"`
	Transport   string `json:"transport"`
	Description string `json:"description"`
}

// Registry maps worker ids to their address and capability description.
// It is never mutated after New returns, so it is safe for concurrent use.
type Registry struct {
	order []string
	byID  map[string]Worker
}

// New builds a registry, rejecting empty and duplicate ids.
func New(workers []Worker) (*Registry, error) {
	r := &Registry{byID: make(map[string]Worker, len(workers))}
	for _, w := range workers {
		if w.ID == "" {
			return nil, fmt.Errorf("registry: worker without id")
		}
		if _, dup := r.byID[w.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate worker id %q", w.ID)
		}
		if w.Transport == "" {
			w.Transport = "http"
		}
		r.byID[w.ID] = w
		r.order = append(r.order, w.ID)
	}
	return r, nil
}

// FromConfig builds a registry from the configured workers.
func FromConfig(cfgs []config.WorkerConfig) (*Registry, error) {
	workers := make([]Worker, 0, len(cfgs))
	for _, c := range cfgs {
		workers = append(workers, Worker{
			ID:          c.ID,
			Address:     c.Address,
			Transport:   c.Transport,
			Description: c.Description,
		})
	}
	return New(workers)
}

func (r *Registry) Lookup(id string) (Worker, bool) {
	w, ok := r.byID[id]
	return w, ok
}

func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// List returns the workers in configuration order.
func (r *Registry) List() []Worker {
	out := make([]Worker, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

func (r *Registry) Len() int { return len(r.order) }
