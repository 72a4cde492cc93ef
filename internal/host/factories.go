package host

import "sync"

// SetHook intercepts assignments to a FactoryMap. It returns the factory that
// is actually stored.
type SetHook func(id string, f Factory) Factory

// FactoryMap is the loader's module id -> factory collection. Assignments go
// through an optional hook; Store bypasses it.
type FactoryMap struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]Factory
	hook    SetHook
	owner   *Runtime
}

func newFactoryMap(owner *Runtime) *FactoryMap {
	return &FactoryMap{
		entries: make(map[string]Factory),
		owner:   owner,
	}
}

// NewFactoryMap creates a detached collection, mostly useful in tests.
func NewFactoryMap() *FactoryMap {
	return newFactoryMap(nil)
}

// Set assigns f to id through the installed hook.
func (m *FactoryMap) Set(id string, f Factory) {
	m.mu.RLock()
	hook := m.hook
	m.mu.RUnlock()

	if hook != nil {
		f = hook(id, f)
	}
	m.Store(id, f)
}

// Store assigns f to id without consulting the hook.
func (m *FactoryMap) Store(id string, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		m.order = append(m.order, id)
	}
	m.entries[id] = f
}

// Get returns the factory registered under id.
func (m *FactoryMap) Get(id string) (Factory, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.entries[id]
	return f, ok
}

// CompareAndStore replaces the factory under id only if it is still old.
func (m *FactoryMap) CompareAndStore(id string, old, f Factory) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[id]; !ok || cur != old {
		return false
	}
	m.entries[id] = f
	return true
}

// IDs returns module ids in first-assignment order.
func (m *FactoryMap) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Len returns the number of registered factories.
func (m *FactoryMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// SetHook installs h and returns the previous hook.
func (m *FactoryMap) SetHook(h SetHook) SetHook {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.hook
	m.hook = h
	return prev
}

// Runtime returns the loader that owns the collection, or nil.
func (m *FactoryMap) Runtime() *Runtime { return m.owner }

// Describe returns the owning loader's shell text.
func (m *FactoryMap) Describe() string {
	if m.owner == nil {
		return ""
	}
	return m.owner.Describe()
}
