package host

import (
	"errors"
	"fmt"
	"sync"

	"splice/internal/logging"
)

var (
	// ErrUnknownModule is returned when no factory is registered for an id.
	ErrUnknownModule = errors.New("host: unknown module")
	// ErrFactoryPanic wraps a panic raised while executing a factory.
	ErrFactoryPanic = errors.New("host: factory panicked")
	// ErrInstalled is returned when a runtime is installed twice.
	ErrInstalled = errors.New("host: runtime already installed")
)

// DefaultShell is the textual body of the require function every loader
// publishes. Detection filters look for substrings of it.
const DefaultShell = `func __require__(id) {
	if m, ok := __require__.c[id]; ok { return m.exports }
	m := __require__.c[id] = {id: id, exports: {}}
	__require__.m[id](m, m.exports, __require__)
	return m.exports
}`

// Runtime is a module loader: a factory collection, an instance cache and
// a require function. Install publishes the collections on a Slots container.
type Runtime struct {
	name        string
	shell       string
	modulesSlot string
	cacheSlot   string

	slots     *Slots
	factories *FactoryMap
	cache     *Cache

	mu        sync.Mutex
	installed bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithShell overrides the loader's shell text.
func WithShell(shell string) Option {
	return func(r *Runtime) { r.shell = shell }
}

// WithSlotNames overrides the slot names the loader assigns.
func WithSlotNames(modules, cache string) Option {
	return func(r *Runtime) {
		r.modulesSlot = modules
		r.cacheSlot = cache
	}
}

// NewRuntime creates a loader bound to slots.
func NewRuntime(name string, slots *Slots, opts ...Option) *Runtime {
	r := &Runtime{
		name:        name,
		shell:       DefaultShell,
		modulesSlot: "m",
		cacheSlot:   "c",
		slots:       slots,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.factories = newFactoryMap(r)
	r.cache = newCache(r)
	return r
}

// Name returns the loader's name.
func (r *Runtime) Name() string { return r.name }

// Describe returns the loader's shell text.
func (r *Runtime) Describe() string { return r.shell }

// Factories returns the factory collection.
func (r *Runtime) Factories() *FactoryMap { return r.factories }

// Cache returns the instance cache.
func (r *Runtime) Cache() *Cache { return r.cache }

// Install assigns the factory collection and cache on the slot container in
// one assignment scope, modules first.
func (r *Runtime) Install() error {
	r.mu.Lock()
	if r.installed {
		r.mu.Unlock()
		return ErrInstalled
	}
	r.installed = true
	r.mu.Unlock()

	r.slots.Batch(func() {
		r.slots.Set(r.modulesSlot, r.factories)
		r.slots.Set(r.cacheSlot, r.cache)
	})
	logging.Host("runtime %s installed with %d factories", r.name, r.factories.Len())
	return nil
}

// Define registers f under id through the collection's assignment path.
func (r *Runtime) Define(id string, f Factory) {
	r.factories.Set(id, f)
}

// Require returns the exports of module id, executing its factory on first use.
func (r *Runtime) Require(id string) (exports any, err error) {
	if m, ok := r.cache.Get(id); ok {
		return m.Exports, nil
	}
	f, ok := r.factories.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, id)
	}

	ex := make(map[string]any)
	module := map[string]any{"id": id, "exports": ex}
	inst := &Module{ID: id, Exports: ex}
	r.cache.put(inst)

	defer func() {
		if rec := recover(); rec != nil {
			r.cache.Delete(id)
			if e, ok := rec.(error); ok {
				err = fmt.Errorf("%w: %s: %w", ErrFactoryPanic, id, e)
			} else {
				err = fmt.Errorf("%w: %s: %v", ErrFactoryPanic, id, rec)
			}
		}
	}()

	logging.HostDebug("executing module %s", id)
	f.Call(module, ex, r.requireFn)
	inst.Exports = module["exports"]
	inst.Loaded = true
	return inst.Exports, nil
}

// requireFn is the require passed to factories; failures propagate as panics
// up to the outermost Require.
func (r *Runtime) requireFn(id string) any {
	v, err := r.Require(id)
	if err != nil {
		panic(err)
	}
	return v
}

// Reload drops id from the cache so that it executes again on next require.
func (r *Runtime) Reload(id string) {
	r.cache.Delete(id)
}
