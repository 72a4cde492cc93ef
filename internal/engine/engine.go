// Package engine is the patching service: it detects the host loader on a
// slot container, intercepts its factories, and applies registered patches
// to each module the first time the module runs.
package engine

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"splice/internal/compile"
	"splice/internal/detect"
	"splice/internal/events"
	"splice/internal/host"
	"splice/internal/intercept"
	"splice/internal/logging"
	"splice/internal/patch"
	"splice/internal/registry"
)

var (
	// ErrNotDetected is returned by accessors that need a detected loader.
	ErrNotDetected = errors.New("engine: module loader not detected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("engine: closed")
	// ErrStarted is returned when Start is called twice.
	ErrStarted = errors.New("engine: already started")
)

// Engine is one patching service instance.
type Engine struct {
	id   string
	opts Options
	ph   patch.Placeholders

	registry    *registry.Registry
	patches     *patch.Set
	bus         *events.Bus
	applier     *patch.Engine
	detector    *detect.Detector
	interceptor *intercept.Interceptor

	mu      sync.Mutex
	slots   *host.Slots
	closed  bool
	sources map[string]cachedSource
}

type cachedSource struct {
	factory host.Factory
	text    string
}

// New creates an engine. It does nothing until Start.
func New(opts Options) *Engine {
	e := &Engine{
		id:       uuid.NewString(),
		opts:     opts,
		ph:       patch.RandomPlaceholders(),
		registry: registry.New(),
		patches:  patch.NewSet(),
		bus:      events.NewBus(),
		sources:  make(map[string]cachedSource),
	}

	compiler := opts.Compiler
	if compiler == nil {
		yopts := []compile.Option{
			compile.WithEval(opts.UseEval),
			compile.WithRuntime(e.runtimeSymbols()),
			compile.WithTimeout(opts.CompileTimeout),
		}
		if len(opts.AllowedPackages) > 0 {
			yopts = append(yopts, compile.WithAllowedPackages(opts.AllowedPackages))
		}
		if opts.Validate {
			// The parser lives as long as the compiler: wrappers installed
			// before Close still compile through it on their first call.
			yopts = append(yopts, compile.WithValidator(compile.NewTreeSitterValidator()))
		}
		compiler = compile.NewYaegi(yopts...)
	}
	e.applier = &patch.Engine{Placeholders: e.ph, Compiler: compiler}

	e.detector = detect.New(detect.Options{
		Slots:    opts.SlotNames,
		Filter:   opts.filter(),
		OnDetect: e.onDetect,
	})
	e.interceptor = intercept.New(intercept.Options{
		Patch:           e.patchModule,
		OnPatched:       e.onPatched,
		RetryOnRedefine: opts.RetryOnRedefine,
	})
	return e
}

// ID returns the engine's unique id.
func (e *Engine) ID() string { return e.id }

// Start arms detection on slots.
func (e *Engine) Start(slots *host.Slots) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.slots != nil {
		e.mu.Unlock()
		return ErrStarted
	}
	e.slots = slots
	e.mu.Unlock()

	e.detector.Arm(slots)
	logging.Boot("engine %s started", e.id)
	return nil
}

// Close disarms detection and stops wrapping newly assigned factories.
// Patched modules stay patched, and factories wrapped before Close are still
// patched on their first call.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.detector.Disarm()
	e.interceptor.Release()
	logging.Boot("engine %s closed", e.id)
	return nil
}

// Register returns the registrar named opts.Name, creating it on first use,
// and adds patches under that registrar. Patches with the same find set as
// one the registrar already owns are merged into it.
func (e *Engine) Register(opts registry.Options, patches ...patch.Patch) (*registry.Registrar, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	r, _, err := e.registry.Register(opts)
	if err != nil {
		return nil, err
	}
	e.addPatches(r, patches)
	return r, nil
}

// Adopt registers a registrar created elsewhere, keeping its identity unless
// its name is already taken.
func (e *Engine) Adopt(r *registry.Registrar, patches ...patch.Patch) (*registry.Registrar, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	got, _, err := e.registry.Adopt(r)
	if err != nil {
		return nil, err
	}
	e.addPatches(got, patches)
	return got, nil
}

func (e *Engine) addPatches(r *registry.Registrar, patches []patch.Patch) {
	for _, p := range patches {
		p.Owner = r.Name()
		if e.patches.Add(p) {
			logging.RegistryDebug("merged patch of %s into an existing find set", r.Name())
		}
	}
	e.wire()
	e.bus.Emit(events.Event{Name: events.ModuleRegistered, Registrar: r.Name(), Payload: r})
}

// wire arms detection if the engine is started and not yet armed.
func (e *Engine) wire() {
	e.mu.Lock()
	slots := e.slots
	e.mu.Unlock()
	if slots != nil && !e.detector.Detected() {
		e.detector.Arm(slots)
	}
}

func (e *Engine) checkOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

// Registrar returns the registrar named name.
func (e *Engine) Registrar(name string) (*registry.Registrar, bool) {
	return e.registry.Lookup(name)
}

// Registrars returns registrar names in registration order.
func (e *Engine) Registrars() []string { return e.registry.Names() }

// AddEventListener subscribes fn to the named event.
func (e *Engine) AddEventListener(name string, fn events.Listener) (*events.Subscription, error) {
	return e.bus.Subscribe(name, fn)
}

// AddSubscription attaches a subscription handle created elsewhere.
func (e *Engine) AddSubscription(sub *events.Subscription) error {
	return e.bus.Add(sub)
}

// RemoveEventListener detaches sub.
func (e *Engine) RemoveEventListener(sub *events.Subscription) bool {
	return e.bus.Unsubscribe(sub)
}

// Require loads module id through the detected loader.
func (e *Engine) Require(id string) (any, error) {
	fm := e.detector.Factories()
	if fm == nil || fm.Runtime() == nil {
		return nil, ErrNotDetected
	}
	return fm.Runtime().Require(id)
}

// ModuleFactories returns the detected factory collection, or nil.
func (e *Engine) ModuleFactories() *host.FactoryMap { return e.detector.Factories() }

// ModuleCache returns the detected instance cache, or nil.
func (e *Engine) ModuleCache() *host.Cache { return e.detector.Cache() }

// Patches returns the registered patches.
func (e *Engine) Patches() []patch.Patch { return e.patches.Snapshot() }

// PatchedModules returns the ids of modules a patch applied to.
func (e *Engine) PatchedModules() []string { return e.interceptor.PatchedIDs() }

// Records returns the interceptor's module records.
func (e *Engine) Records() []intercept.Record { return e.interceptor.Records() }

// IsRuntimeDetected reports whether a loader was accepted.
func (e *Engine) IsRuntimeDetected() bool { return e.detector.Detected() }

// Placeholders returns the engine's placeholder tokens.
func (e *Engine) Placeholders() patch.Placeholders { return e.ph }

// Diagnose reports conditions worth a warning: chiefly a modules slot that
// holds a value although no loader was accepted.
func (e *Engine) Diagnose() []string {
	e.mu.Lock()
	slots := e.slots
	e.mu.Unlock()

	var warnings []string
	if slots == nil {
		return append(warnings, "engine not started")
	}
	if e.detector.Detected() {
		return nil
	}
	if v, ok := slots.Get(e.slotNames().Modules); ok {
		msg := fmt.Sprintf("modules slot %q holds %T but no module loader was detected", e.slotNames().Modules, v)
		logging.DetectWarn("%s", msg)
		warnings = append(warnings, msg)
	}
	if n := e.detector.Rejected(); n > 0 {
		warnings = append(warnings, fmt.Sprintf("detector rejected %d candidate(s)", n))
	}
	return warnings
}

func (e *Engine) slotNames() detect.SlotNames {
	names := e.opts.SlotNames
	def := detect.DefaultSlotNames()
	if names.Modules == "" {
		names.Modules = def.Modules
	}
	if names.Cache == "" {
		names.Cache = def.Cache
	}
	return names
}

func (e *Engine) onDetect(fm *host.FactoryMap) {
	e.interceptor.Wrap(fm)
	e.notifyDetect(fm)

	e.mu.Lock()
	slots := e.slots
	e.mu.Unlock()
	// Listeners run after the loader finished assigning its slots.
	slots.Defer(func() {
		e.bus.Emit(events.Event{Name: events.RuntimeDetected, Payload: fm})
	})
}

// notifyDetect runs the consumer's OnDetect hook; a panic in it is logged
// and never reaches the loader.
func (e *Engine) notifyDetect(fm *host.FactoryMap) {
	if e.opts.OnDetect == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.DetectError("OnDetect hook panicked: %v", r)
		}
	}()
	e.opts.OnDetect(fm)
}

func (e *Engine) onPatched(id string, out intercept.Outcome) {
	e.bus.Emit(events.Event{
		Name:     events.ModulePatched,
		ModuleID: id,
		Patched:  out.Changed(),
		Applied:  out.Applied,
		Err:      out.Err,
	})
}

// Source returns the text patches are matched against for module id.
func (e *Engine) Source(id string) (string, bool) {
	fm := e.detector.Factories()
	if fm == nil {
		return "", false
	}
	f, ok := fm.Get(id)
	if !ok {
		return "", false
	}
	return e.source(id, f), true
}

// source returns f's text, cached per module id when enabled. A redefined
// module replaces its entry.
func (e *Engine) source(id string, f host.Factory) string {
	if !e.opts.EnableCache {
		return f.Source()
	}
	e.mu.Lock()
	if c, ok := e.sources[id]; ok && c.factory == f {
		e.mu.Unlock()
		return c.text
	}
	e.mu.Unlock()

	src := f.Source()
	e.mu.Lock()
	e.sources[id] = cachedSource{factory: f, text: src}
	e.mu.Unlock()
	return src
}

// patchModule is the interceptor's patch step.
func (e *Engine) patchModule(id string, original host.Factory) (host.Factory, intercept.Outcome) {
	imports := host.ImportsOf(original)
	text, fn, out := e.rewrite(id, e.source(id, original), imports)
	if !out.Changed() {
		return original, out
	}
	logging.Patch("module %s patched by %v", id, out.Applied)
	return host.NewFactory(text, fn, imports...), out
}

// rewrite applies the patches matching src in registration order, each over
// the text the previous one produced. A failing patch is skipped. fn is the
// compiled result of the last applied patch.
func (e *Engine) rewrite(id, src string, imports []string) (text string, fn host.FactoryFunc, out intercept.Outcome) {
	text = src
	for _, p := range e.patches.Matching(src) {
		res, err := e.applier.Apply(patch.Request{
			Source:       text,
			Replacements: p.Replacements,
			ModuleID:     id,
			Registrar:    p.Owner,
			Imports:      imports,
		})
		if err != nil {
			if errors.Is(err, patch.ErrNoChange) {
				logging.PatchWarn("patch by %s found module %s but changed nothing", p.Owner, id)
			} else {
				logging.PatchError("patch by %s failed on module %s: %v", p.Owner, id, err)
			}
			out.Failed = append(out.Failed, p.Owner)
			out.Err = errors.Join(out.Err, err)
			continue
		}
		text, fn = res.Source, res.Factory
		out.Applied = append(out.Applied, p.Owner)
	}
	return text, fn, out
}

// Preview is the result of a dry run over one module source.
type Preview struct {
	ModuleID string
	Original string
	Patched  string
	Matched  bool
	intercept.Outcome
}

// Preview runs the patch step over src without a loader: matching patches
// are applied and compiled, but nothing is executed or stored.
func (e *Engine) Preview(id, src string, imports []string) Preview {
	pv := Preview{ModuleID: id, Original: src, Patched: src}
	pv.Matched = len(e.patches.Matching(src)) > 0
	if !pv.Matched {
		return pv
	}
	text, _, out := e.rewrite(id, src, imports)
	pv.Patched, pv.Outcome = text, out
	return pv
}

// runtimeSymbols is the rt package placeholder expressions call into.
func (e *Engine) runtimeSymbols() map[string]reflect.Value {
	return map[string]reflect.Value{
		"Self":      reflect.ValueOf(e.self),
		"Data":      reflect.ValueOf(e.data),
		"Functions": reflect.ValueOf(e.functions),
	}
}

func (e *Engine) self(name string) any {
	r, ok := e.registry.Lookup(name)
	if !ok {
		logging.PatchWarn("patched code referenced unknown registrar %s", name)
		return nil
	}
	return r
}

func (e *Engine) data(name string) map[string]any {
	r, ok := e.registry.Lookup(name)
	if !ok {
		logging.PatchWarn("patched code referenced data of unknown registrar %s", name)
		return map[string]any{}
	}
	return r.Data()
}

func (e *Engine) functions(name string) map[string]any {
	r, ok := e.registry.Lookup(name)
	if !ok {
		logging.PatchWarn("patched code referenced functions of unknown registrar %s", name)
		return map[string]any{}
	}
	return r.Functions()
}
