package process

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry holds the loaded process definitions and resolves them by name
// or business id. Definitions are registered at startup and read-only
// afterwards; the engine never mutates them.
type Registry struct {
	mu           sync.RWMutex
	byName       map[string]*Process
	byBusinessID map[uuid.UUID]*Process
}

// NewRegistry creates an empty process registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:       make(map[string]*Process),
		byBusinessID: make(map[uuid.UUID]*Process),
	}
}

// Register adds a process to the registry. Names and business ids must be
// unique.
func (r *Registry) Register(p *Process) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[p.Name]; ok {
		return fmt.Errorf("process %q is already registered", p.Name)
	}
	if _, ok := r.byBusinessID[p.BusinessID]; ok {
		return fmt.Errorf("process business id %s is already registered", p.BusinessID)
	}

	r.byName[p.Name] = p
	r.byBusinessID[p.BusinessID] = p
	return nil
}

// FindByName returns the process registered under the given name, or false
// if none is.
func (r *Registry) FindByName(name string) (*Process, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// FindByBusinessID returns the process with the given business id, or
// false if none has it.
func (r *Registry) FindByBusinessID(id uuid.UUID) (*Process, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byBusinessID[id]
	return p, ok
}

// List returns all registered processes sorted by name for a stable
// response.
func (r *Registry) List() []*Process {
	r.mu.RLock()
	defer r.mu.RUnlock()

	procs := make([]*Process, 0, len(r.byName))
	for _, p := range r.byName {
		procs = append(procs, p)
	}
	sort.Slice(procs, func(i, j int) bool {
		return procs[i].Name < procs[j].Name
	})
	return procs
}
