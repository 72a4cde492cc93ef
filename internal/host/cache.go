package host

import "sync"

// Module is one executed module instance.
type Module struct {
	ID      string
	Exports any
	Loaded  bool
}

// Cache holds executed module instances keyed by id.
type Cache struct {
	mu      sync.RWMutex
	modules map[string]*Module
	owner   *Runtime
}

func newCache(owner *Runtime) *Cache {
	return &Cache{modules: make(map[string]*Module), owner: owner}
}

// Get returns the cached instance for id.
func (c *Cache) Get(id string) (*Module, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modules[id]
	return m, ok
}

func (c *Cache) put(m *Module) {
	c.mu.Lock()
	c.modules[m.ID] = m
	c.mu.Unlock()
}

// Delete drops the instance for id so the next require re-executes it.
func (c *Cache) Delete(id string) {
	c.mu.Lock()
	delete(c.modules, id)
	c.mu.Unlock()
}

// Len returns the number of cached instances.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.modules)
}

// Runtime returns the loader that owns the cache.
func (c *Cache) Runtime() *Runtime { return c.owner }
