// Package intercept wraps a loader's factories so that each module is
// examined for patches lazily, on its first execution, and at most once.
package intercept

import (
	"fmt"
	"sort"
	"sync"

	"splice/internal/host"
	"splice/internal/logging"
)

// Record tracks one module id seen by the interceptor.
type Record struct {
	ID       string
	Original host.Factory
	// Patched is the compiled replacement, nil when no patch applied.
	Patched   host.Factory
	IsPatched bool

	wrapper *Wrapper
}

// Outcome reports what the patch step did for one module.
type Outcome struct {
	// Applied names the registrars whose patches were applied.
	Applied []string
	// Failed names the registrars whose patches matched but failed.
	Failed []string
	Err    error
}

// Changed reports whether at least one patch applied.
func (o Outcome) Changed() bool { return len(o.Applied) > 0 }

// PatchFunc examines the original factory of id and returns the factory to
// run in its place (original itself when nothing applies).
type PatchFunc func(id string, original host.Factory) (host.Factory, Outcome)

// Options configures an Interceptor.
type Options struct {
	Patch     PatchFunc
	OnPatched func(id string, out Outcome)
	// RetryOnRedefine re-examines an already patched id when the loader
	// assigns it a new factory. By default the new factory runs unexamined.
	RetryOnRedefine bool
}

// Interceptor owns the wrappers installed on one factory collection.
type Interceptor struct {
	opts Options

	mu        sync.Mutex
	factories *host.FactoryMap
	prevHook  host.SetHook
	records   map[string]*Record
}

// New creates an interceptor.
func New(opts Options) *Interceptor {
	return &Interceptor{opts: opts, records: make(map[string]*Record)}
}

// Wrap installs the interceptor on fm: subsequently assigned factories are
// wrapped by the collection's set hook and factories already present are
// wrapped in place.
func (ic *Interceptor) Wrap(fm *host.FactoryMap) {
	ic.mu.Lock()
	if ic.factories != nil {
		ic.mu.Unlock()
		return
	}
	ic.factories = fm
	ic.mu.Unlock()

	prev := fm.SetHook(ic.onSet)
	ic.mu.Lock()
	ic.prevHook = prev
	ic.mu.Unlock()

	wrapped := 0
	for _, id := range fm.IDs() {
		f, ok := fm.Get(id)
		if !ok || ic.owns(f) {
			continue
		}
		if fm.CompareAndStore(id, f, ic.onSet(id, f)) {
			wrapped++
		}
	}
	logging.InterceptDebug("wrapped %d existing factories", wrapped)
}

// Release removes the set hook. Factories already wrapped stay wrapped.
func (ic *Interceptor) Release() {
	ic.mu.Lock()
	fm, prev := ic.factories, ic.prevHook
	ic.mu.Unlock()
	if fm != nil {
		fm.SetHook(prev)
	}
}

// onSet is the collection's set hook.
func (ic *Interceptor) onSet(id string, f host.Factory) host.Factory {
	if f == nil || ic.owns(f) {
		return f
	}

	ic.mu.Lock()
	defer ic.mu.Unlock()
	rec, seen := ic.records[id]
	if seen && rec.IsPatched && !ic.opts.RetryOnRedefine {
		logging.InterceptDebug("module %s redefined after patching; running new factory unexamined", id)
		rec.Original = f
		rec.Patched = nil
		return f
	}
	if seen {
		logging.InterceptDebug("module %s redefined; wrapping new factory", id)
	}
	w := &Wrapper{id: id, ic: ic, target: f}
	ic.records[id] = &Record{ID: id, Original: f, wrapper: w}
	return w
}

func (ic *Interceptor) owns(f host.Factory) bool {
	w, ok := f.(*Wrapper)
	return ok && w.ic == ic
}

// Record returns a copy of the record for id.
func (ic *Interceptor) Record(id string) (Record, bool) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	rec, ok := ic.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Records returns copies of all records sorted by id.
func (ic *Interceptor) Records() []Record {
	ic.mu.Lock()
	out := make([]Record, 0, len(ic.records))
	for _, rec := range ic.records {
		out = append(out, *rec)
	}
	ic.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PatchedIDs returns the sorted ids whose factory was replaced by a patch.
func (ic *Interceptor) PatchedIDs() []string {
	var ids []string
	for _, rec := range ic.Records() {
		if rec.Patched != nil {
			ids = append(ids, rec.ID)
		}
	}
	return ids
}

func (ic *Interceptor) finish(id string, w *Wrapper, result host.Factory, out Outcome) {
	ic.mu.Lock()
	if rec, ok := ic.records[id]; ok && rec.wrapper == w {
		rec.IsPatched = true
		if out.Changed() {
			rec.Patched = result
		}
	}
	fm := ic.factories
	ic.mu.Unlock()

	if fm != nil {
		fm.CompareAndStore(id, w, result)
	}
	if ic.opts.OnPatched != nil {
		ic.opts.OnPatched(id, out)
	}
}

// Wrapper stands in for a factory until its first call, when it runs the
// patch step once and from then on delegates to the resulting factory.
type Wrapper struct {
	id string
	ic *Interceptor

	mu     sync.Mutex
	target host.Factory
	done   bool
}

// ID returns the module id the wrapper stands in for.
func (w *Wrapper) ID() string { return w.id }

// Call resolves the authoritative factory and invokes it.
func (w *Wrapper) Call(module map[string]any, exports map[string]any, require func(string) any) {
	w.resolve().Call(module, exports, require)
}

// Source returns the source of the factory that is authoritative now.
func (w *Wrapper) Source() string {
	w.mu.Lock()
	f := w.target
	w.mu.Unlock()
	return f.Source()
}

// Imports forwards to the authoritative factory.
func (w *Wrapper) Imports() []string {
	w.mu.Lock()
	f := w.target
	w.mu.Unlock()
	return host.ImportsOf(f)
}

// Patched reports whether the patch step already ran.
func (w *Wrapper) Patched() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

func (w *Wrapper) String() string {
	return fmt.Sprintf("intercept.Wrapper(%s)", w.id)
}

func (w *Wrapper) resolve() host.Factory {
	w.mu.Lock()
	if w.done {
		f := w.target
		w.mu.Unlock()
		return f
	}
	result, out := w.patch(w.target)
	w.target = result
	w.done = true
	w.mu.Unlock()

	w.ic.finish(w.id, w, result, out)
	return result
}

// patch runs the patch step; a panic keeps the original factory.
func (w *Wrapper) patch(original host.Factory) (result host.Factory, out Outcome) {
	if w.ic.opts.Patch == nil {
		return original, Outcome{}
	}
	defer func() {
		if r := recover(); r != nil {
			logging.InterceptError("patching module %s panicked: %v", w.id, r)
			result = original
			out = Outcome{Err: fmt.Errorf("intercept: patching module %s panicked: %v", w.id, r)}
		}
	}()
	result, out = w.ic.opts.Patch(w.id, original)
	if result == nil {
		result = original
	}
	return result, out
}
