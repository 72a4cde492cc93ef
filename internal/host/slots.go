// Package host implements the module loader that splice patches: an
// observable slot container on which the loader publishes its factory
// collection and instance cache, the collection itself, and a require
// function that executes factories once per module id.
package host

import (
	"fmt"
	"runtime"
	"sync"
)

// Observer is a one-shot callback fired by the first write to a slot.
// stack holds the caller frames of the assignment, innermost first.
type Observer func(value any, stack []string)

// Slots is the shared attribute container a loader assigns its collections on.
// A slot may carry a one-shot observer; the first Set on it stores the value,
// drops the observer and then runs it, so the slot behaves as a plain
// attribute afterwards.
type Slots struct {
	mu        sync.Mutex
	values    map[string]any
	observers map[string]Observer
	deferred  []func()
	depth     int
}

// NewSlots creates an empty slot container.
func NewSlots() *Slots {
	return &Slots{
		values:    make(map[string]any),
		observers: make(map[string]Observer),
	}
}

// Observe installs a one-shot observer on name, replacing any previous one.
func (s *Slots) Observe(name string, fn Observer) {
	s.mu.Lock()
	s.observers[name] = fn
	s.mu.Unlock()
}

// Cancel removes the observer on name, if any.
func (s *Slots) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.observers[name]
	delete(s.observers, name)
	return ok
}

// Observed reports whether name currently carries an observer.
func (s *Slots) Observed(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.observers[name]
	return ok
}

// Get returns the value held by name.
func (s *Slots) Get(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	return v, ok
}

// Set assigns value to name. Observers run inline; callbacks queued with
// Defer run once the outermost Set or Batch returns.
func (s *Slots) Set(name string, value any) {
	s.mu.Lock()
	s.depth++
	s.values[name] = value
	obs, ok := s.observers[name]
	delete(s.observers, name)
	s.mu.Unlock()
	defer s.leave()

	if ok {
		obs(value, callerStack(2))
	}
}

// Batch runs fn as a single assignment scope: deferred callbacks queued
// while fn runs fire after it returns.
func (s *Slots) Batch(fn func()) {
	s.mu.Lock()
	s.depth++
	s.mu.Unlock()
	defer s.leave()
	fn()
}

// Defer queues fn to run after the current assignment completes. Outside of
// an assignment fn runs immediately.
func (s *Slots) Defer(fn func()) {
	s.mu.Lock()
	if s.depth == 0 {
		s.mu.Unlock()
		fn()
		return
	}
	s.deferred = append(s.deferred, fn)
	s.mu.Unlock()
}

func (s *Slots) leave() {
	s.mu.Lock()
	s.depth--
	if s.depth > 0 {
		s.mu.Unlock()
		return
	}
	// Hold depth at 1 while draining so callbacks that defer again are queued
	// behind the current batch instead of recursing.
	s.depth = 1
	for len(s.deferred) > 0 {
		tasks := s.deferred
		s.deferred = nil
		s.mu.Unlock()
		for _, task := range tasks {
			task()
		}
		s.mu.Lock()
	}
	s.depth = 0
	s.mu.Unlock()
}

// callerStack renders the caller frames above skip as "function (file:line)".
func callerStack(skip int) []string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	var lines []string
	for {
		f, more := frames.Next()
		lines = append(lines, fmt.Sprintf("%s (%s:%d)", f.Function, f.File, f.Line))
		if !more {
			break
		}
	}
	return lines
}
