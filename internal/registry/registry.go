// Package registry holds the named registrars patches reach through
// placeholders. The first registration of a name wins; later registrations
// get the existing registrar back unchanged.
package registry

import (
	"errors"
	"sort"
	"sync"

	"splice/internal/logging"
)

var (
	// ErrEmptyName is returned when a registrar is registered without a name.
	ErrEmptyName = errors.New("registry: empty registrar name")
	// ErrNilRegistrar is returned when adopting a nil registrar.
	ErrNilRegistrar = errors.New("registry: nil registrar")
)

// Options declares a registrar. Data and Functions seed the registrar's maps
// and are adopted as-is.
type Options struct {
	Name      string
	Data      map[string]any
	Functions map[string]any
}

// Registrar is a consumer's long-lived shared state. The name is fixed; the
// maps are live and owned by the consumer, which synchronises access to them.
type Registrar struct {
	name      string
	data      map[string]any
	functions map[string]any
}

// NewRegistrar creates a registrar that is not yet held by any registry.
func NewRegistrar(opts Options) (*Registrar, error) {
	if opts.Name == "" {
		return nil, ErrEmptyName
	}
	r := &Registrar{name: opts.Name, data: opts.Data, functions: opts.Functions}
	if r.data == nil {
		r.data = make(map[string]any)
	}
	if r.functions == nil {
		r.functions = make(map[string]any)
	}
	return r, nil
}

// Name returns the registrar's name.
func (r *Registrar) Name() string { return r.name }

// Data returns the live data map.
func (r *Registrar) Data() map[string]any { return r.data }

// Functions returns the live functions map.
func (r *Registrar) Functions() map[string]any { return r.functions }

// Registry maps names to registrars.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Registrar
	order  []string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{byName: make(map[string]*Registrar)}
}

// Register returns the registrar named opts.Name, creating it if needed.
// created is false when the name was already taken; opts is then ignored.
func (g *Registry) Register(opts Options) (r *Registrar, created bool, err error) {
	if opts.Name == "" {
		return nil, false, ErrEmptyName
	}
	if r, ok := g.Lookup(opts.Name); ok {
		return r, false, nil
	}
	nr, err := NewRegistrar(opts)
	if err != nil {
		return nil, false, err
	}
	return g.Adopt(nr)
}

// Adopt stores r under its name unless the name is taken, in which case the
// existing registrar is returned.
func (g *Registry) Adopt(r *Registrar) (*Registrar, bool, error) {
	if r == nil {
		return nil, false, ErrNilRegistrar
	}
	if r.name == "" {
		return nil, false, ErrEmptyName
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if existing, ok := g.byName[r.name]; ok {
		if existing != r {
			logging.RegistryDebug("registrar %s already registered; keeping the first", r.name)
		}
		return existing, false, nil
	}
	g.byName[r.name] = r
	g.order = append(g.order, r.name)
	logging.Registry("registrar %s registered", r.name)
	return r, true, nil
}

// Lookup returns the registrar named name.
func (g *Registry) Lookup(name string) (*Registrar, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.byName[name]
	return r, ok
}

// Names returns the registered names in registration order.
func (g *Registry) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.order...)
}

// SortedNames returns the registered names sorted.
func (g *Registry) SortedNames() []string {
	names := g.Names()
	sort.Strings(names)
	return names
}

// Len returns the number of registrars.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byName)
}
