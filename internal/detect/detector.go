// Package detect finds the host module loader by observing the slots it
// publishes its factory collection and instance cache on.
package detect

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"splice/internal/host"
	"splice/internal/logging"
)

// DefaultMarker is the text every host-generated loader shell contains.
const DefaultMarker = "__require__.m"

// Describer is implemented by candidates that can render their loader's text.
type Describer interface {
	Describe() string
}

// FilterFunc decides whether a candidate assigned to the modules slot is the
// loader to patch. stack holds the caller frames of the assignment.
type FilterFunc func(candidate any, stack []string) bool

// SlotNames are the slot names the loader assigns.
type SlotNames struct {
	Modules string
	Cache   string
}

// DefaultSlotNames returns the standard slot names.
func DefaultSlotNames() SlotNames {
	return SlotNames{Modules: "m", Cache: "c"}
}

// Options configures a Detector.
type Options struct {
	Slots    SlotNames
	Filter   FilterFunc
	OnDetect func(*host.FactoryMap)
	OnCache  func(*host.Cache)
}

// Detector waits for the first accepted write to the modules slot.
type Detector struct {
	opts Options

	mu        sync.Mutex
	slots     *host.Slots
	armed     bool
	factories *host.FactoryMap
	cache     *host.Cache
	pending   *host.Cache
	rejected  int
}

// New creates a detector. A nil filter means MarkerFilter(DefaultMarker).
func New(opts Options) *Detector {
	if opts.Slots.Modules == "" {
		opts.Slots.Modules = DefaultSlotNames().Modules
	}
	if opts.Slots.Cache == "" {
		opts.Slots.Cache = DefaultSlotNames().Cache
	}
	if opts.Filter == nil {
		opts.Filter = MarkerFilter(DefaultMarker)
	}
	return &Detector{opts: opts}
}

// Arm installs the one-shot observers on slots. Arming twice is a no-op.
func (d *Detector) Arm(slots *host.Slots) {
	d.mu.Lock()
	if d.armed {
		d.mu.Unlock()
		return
	}
	d.armed = true
	d.slots = slots
	d.mu.Unlock()

	slots.Observe(d.opts.Slots.Modules, d.onModules)
	slots.Observe(d.opts.Slots.Cache, d.onCache)
	logging.DetectDebug("armed on slots %q and %q", d.opts.Slots.Modules, d.opts.Slots.Cache)
}

// Disarm removes any observers still installed.
func (d *Detector) Disarm() {
	d.mu.Lock()
	slots := d.slots
	d.armed = false
	d.mu.Unlock()
	if slots == nil {
		return
	}
	slots.Cancel(d.opts.Slots.Modules)
	slots.Cancel(d.opts.Slots.Cache)
}

// Armed reports whether observers are installed.
func (d *Detector) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

// Detected reports whether a loader was accepted.
func (d *Detector) Detected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.factories != nil
}

// Factories returns the accepted factory collection, or nil.
func (d *Detector) Factories() *host.FactoryMap {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.factories
}

// Cache returns the accepted loader's instance cache, or nil.
func (d *Detector) Cache() *host.Cache {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cache
}

// Rejected returns how many candidates the filter turned down.
func (d *Detector) Rejected() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rejected
}

func (d *Detector) onModules(value any, stack []string) {
	fm, ok := value.(*host.FactoryMap)
	if !ok || !d.accept(value, stack) {
		d.reject(value)
		return
	}

	d.mu.Lock()
	if !d.armed || d.factories != nil {
		d.mu.Unlock()
		return
	}
	d.factories = fm
	var cache *host.Cache
	if d.pending != nil && sameRuntime(fm, d.pending) {
		d.cache, cache = d.pending, d.pending
		d.pending = nil
	}
	d.mu.Unlock()

	logging.Detect("module loader detected (%d factories)", fm.Len())
	if d.opts.OnDetect != nil {
		d.opts.OnDetect(fm)
	}
	if cache != nil {
		d.cacheFound(cache)
	}
}

// accept runs the filter; a panicking filter rejects.
func (d *Detector) accept(value any, stack []string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.DetectWarn("filter panicked: %v", r)
			ok = false
		}
	}()
	return d.opts.Filter(value, stack)
}

// reject re-arms the modules slot for the next assignment.
func (d *Detector) reject(value any) {
	d.mu.Lock()
	d.rejected++
	armed, slots := d.armed, d.slots
	d.mu.Unlock()

	logging.DetectDebug("rejected modules candidate %T", value)
	if armed && slots != nil {
		slots.Observe(d.opts.Slots.Modules, d.onModules)
	}
}

func (d *Detector) onCache(value any, _ []string) {
	c, ok := value.(*host.Cache)

	d.mu.Lock()
	if !d.armed {
		d.mu.Unlock()
		return
	}
	if ok && d.factories != nil && sameRuntime(d.factories, c) {
		d.cache = c
		d.mu.Unlock()
		d.cacheFound(c)
		return
	}
	if ok && d.factories == nil {
		d.pending = c
	}
	slots := d.slots
	d.mu.Unlock()
	slots.Observe(d.opts.Slots.Cache, d.onCache)
}

func (d *Detector) cacheFound(c *host.Cache) {
	logging.DetectDebug("module cache detected")
	if d.opts.OnCache != nil {
		d.opts.OnCache(c)
	}
}

func sameRuntime(fm *host.FactoryMap, c *host.Cache) bool {
	return fm.Runtime() == nil || fm.Runtime() == c.Runtime()
}

// MarkerFilter accepts candidates whose loader text contains marker.
func MarkerFilter(marker string) FilterFunc {
	return func(candidate any, _ []string) bool {
		d, ok := candidate.(Describer)
		return ok && strings.Contains(d.Describe(), marker)
	}
}

// filterEnv is the environment detector filter expressions are checked against.
type filterEnv struct {
	Candidate string   `expr:"candidate"`
	Stack     []string `expr:"stack"`
}

// ExprFilter compiles an expr-lang boolean expression over
// {candidate, stack}, where candidate is the loader text.
//
//	candidate contains "__require__.m" && !any(stack, {# contains "decoy"})
func ExprFilter(src string) (FilterFunc, error) {
	prg, err := expr.Compile(src, expr.Env(filterEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid detector filter: %w", err)
	}
	return exprFilter(prg, src), nil
}

func exprFilter(prg *vm.Program, src string) FilterFunc {
	return func(candidate any, stack []string) bool {
		env := filterEnv{Stack: stack}
		if d, ok := candidate.(Describer); ok {
			env.Candidate = d.Describe()
		}
		out, err := expr.Run(prg, env)
		if err != nil {
			logging.DetectWarn("filter %q failed: %v", src, err)
			return false
		}
		return out.(bool)
	}
}

// All accepts a candidate only if every filter does.
func All(filters ...FilterFunc) FilterFunc {
	return func(candidate any, stack []string) bool {
		for _, f := range filters {
			if f != nil && !f(candidate, stack) {
				return false
			}
		}
		return true
	}
}
