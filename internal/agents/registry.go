// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package agents

import (
	"sync"

	"github.com/ManuGH/nexa/internal/media"
)

// Registry is the in-memory agent catalog. Registration happens during
// wiring; lookups are concurrent.
type Registry struct {
	mu      sync.RWMutex
	agents  map[string]Agent
	ordered []Agent // registration order, the fallback dispatch order
	meta    map[string]Descriptor
}

// NewRegistry returns an empty catalog.
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]Agent),
		meta:   make(map[string]Descriptor),
	}
}

// Register adds an agent with its display metadata. Re-registering a name
// replaces the previous agent in place, keeping its order.
func (r *Registry) Register(a Agent, displayName, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := a.Name()
	if _, exists := r.agents[name]; !exists {
		r.ordered = append(r.ordered, a)
	} else {
		for i, prev := range r.ordered {
			if prev.Name() == name {
				r.ordered[i] = a
				break
			}
		}
	}
	r.agents[name] = a
	r.meta[name] = Descriptor{
		Name:        name,
		Category:    a.Category(),
		AppliesTo:   a.AppliesTo(),
		DisplayName: displayName,
		Description: description,
	}
}

// ByName returns the named agent, or nil.
func (r *Registry) ByName(name string) Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[name]
}

// Descriptors returns the catalog in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.ordered))
	for _, a := range r.ordered {
		out = append(out, r.meta[a.Name()])
	}
	return out
}

func appliesTo(a Agent, typ media.MetadataType) bool {
	for _, t := range a.AppliesTo() {
		if t == typ {
			return true
		}
	}
	return false
}

// ForItem returns the agents applicable to a metadata type in dispatch
// order: the section's configured agent order first, then any unlisted
// agents grouped sidecar, local, embedded, remote. Unknown names in the
// configured order are skipped.
func (r *Registry) ForItem(typ media.MetadataType, agentOrder []string) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Agent
	seen := make(map[string]bool)
	for _, name := range agentOrder {
		a := r.agents[name]
		if a == nil || !appliesTo(a, typ) {
			continue
		}
		out = append(out, a)
		seen[name] = true
	}
	for _, cat := range []Category{CategorySidecar, CategoryLocal, CategoryEmbedded, CategoryRemote} {
		for _, a := range r.ordered {
			if a.Category() != cat || seen[a.Name()] || !appliesTo(a, typ) {
				continue
			}
			out = append(out, a)
		}
	}
	return out
}
