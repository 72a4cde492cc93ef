// Package buffer queues registrations and listener changes made before an
// engine exists and replays them once one is attached.
package buffer

import (
	"errors"
	"sync"

	"splice/internal/events"
	"splice/internal/logging"
	"splice/internal/patch"
	"splice/internal/registry"
)

// ErrAttached is returned when attaching a buffer a second time.
var ErrAttached = errors.New("buffer: already attached")

// Target is what a buffer flushes into. *engine.Engine implements it.
type Target interface {
	Adopt(r *registry.Registrar, patches ...patch.Patch) (*registry.Registrar, error)
	AddSubscription(sub *events.Subscription) error
	RemoveEventListener(sub *events.Subscription) bool
}

type registration struct {
	registrar *registry.Registrar
	patches   []patch.Patch
}

type listenerOp struct {
	sub    *events.Subscription
	remove bool
}

// Buffer records calls until Attach. Registrars are created at call time so
// callers keep the same identity before and after the flush.
type Buffer struct {
	mu         sync.Mutex
	target     Target
	byName     map[string]*registry.Registrar
	registers  []registration
	listenerOp []listenerOp
}

// New creates an empty buffer.
func New() *Buffer {
	return &Buffer{byName: make(map[string]*registry.Registrar)}
}

// Register returns the registrar for opts.Name and queues patches. After
// Attach it forwards to the target.
func (b *Buffer) Register(opts registry.Options, patches ...patch.Patch) (*registry.Registrar, error) {
	b.mu.Lock()
	if t := b.target; t != nil {
		b.mu.Unlock()
		r, ok := b.lookup(opts.Name)
		if !ok {
			nr, err := registry.NewRegistrar(opts)
			if err != nil {
				return nil, err
			}
			r = nr
		}
		return t.Adopt(r, patches...)
	}
	defer b.mu.Unlock()

	r, ok := b.byName[opts.Name]
	if !ok {
		nr, err := registry.NewRegistrar(opts)
		if err != nil {
			return nil, err
		}
		r = nr
		b.byName[opts.Name] = r
	}
	b.registers = append(b.registers, registration{registrar: r, patches: patches})
	logging.BufferDebug("buffered registration of %s (%d patches)", r.Name(), len(patches))
	return r, nil
}

func (b *Buffer) lookup(name string) (*registry.Registrar, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.byName[name]
	return r, ok
}

// AddEventListener returns a subscription for fn, attached now or at Attach.
func (b *Buffer) AddEventListener(name string, fn events.Listener) (*events.Subscription, error) {
	if !events.Known(name) {
		return nil, events.ErrUnknownEvent
	}
	sub := events.NewSubscription(name, fn)

	b.mu.Lock()
	if t := b.target; t != nil {
		b.mu.Unlock()
		if err := t.AddSubscription(sub); err != nil {
			return nil, err
		}
		return sub, nil
	}
	b.listenerOp = append(b.listenerOp, listenerOp{sub: sub})
	b.mu.Unlock()
	return sub, nil
}

// RemoveEventListener detaches sub, or queues its removal before Attach.
func (b *Buffer) RemoveEventListener(sub *events.Subscription) bool {
	b.mu.Lock()
	if t := b.target; t != nil {
		b.mu.Unlock()
		return t.RemoveEventListener(sub)
	}
	defer b.mu.Unlock()
	queued := false
	for _, op := range b.listenerOp {
		if op.sub != sub {
			continue
		}
		if op.remove {
			return false
		}
		queued = true
	}
	if queued {
		b.listenerOp = append(b.listenerOp, listenerOp{sub: sub, remove: true})
	}
	return queued
}

// Attach replays buffered registrations, then listener changes, in arrival
// order and forwards every later call to t.
func (b *Buffer) Attach(t Target) error {
	b.mu.Lock()
	if b.target != nil {
		b.mu.Unlock()
		logging.BufferWarn("buffer already attached; ignoring")
		return ErrAttached
	}
	b.target = t
	registers, ops := b.registers, b.listenerOp
	b.registers, b.listenerOp = nil, nil
	b.mu.Unlock()

	var errs []error
	for _, reg := range registers {
		got, err := t.Adopt(reg.registrar, reg.patches...)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if got != reg.registrar {
			logging.BufferWarn("registrar %s was registered on the target first; buffered instance discarded", got.Name())
		}
	}
	for _, op := range ops {
		if op.remove {
			t.RemoveEventListener(op.sub)
			continue
		}
		if err := t.AddSubscription(op.sub); err != nil {
			errs = append(errs, err)
		}
	}
	logging.BufferDebug("flushed %d registrations and %d listener changes", len(registers), len(ops))
	return errors.Join(errs...)
}

// Attached reports whether a target is attached.
func (b *Buffer) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.target != nil
}

// Pending returns the number of queued registrations and listener changes.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.registers) + len(b.listenerOp)
}
