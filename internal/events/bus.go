// Package events is the engine's lifecycle event bus. Dispatch is
// synchronous and ordered; a panicking listener is logged and skipped.
package events

import (
	"errors"
	"fmt"
	"sync"

	"splice/internal/logging"
)

// Lifecycle event names.
const (
	RuntimeDetected  = "runtime_detected"
	ModuleRegistered = "module_registered"
	ModulePatched    = "module_patched"
)

// ErrUnknownEvent is returned when subscribing to an unsupported event name.
var ErrUnknownEvent = errors.New("events: unknown event")

// Names lists the supported event names.
func Names() []string {
	return []string{RuntimeDetected, ModuleRegistered, ModulePatched}
}

// Known reports whether name is a supported event.
func Known(name string) bool {
	switch name {
	case RuntimeDetected, ModuleRegistered, ModulePatched:
		return true
	}
	return false
}

// Event is one dispatched notification. Fields not relevant to Name are zero.
type Event struct {
	Name      string
	ModuleID  string
	Registrar string
	// Patched reports whether a module_patched event produced a new factory.
	Patched bool
	// Applied names the registrars whose patches were applied.
	Applied []string
	Err     error
	Payload any
}

// Listener receives events.
type Listener func(Event)

// Subscription is the handle identifying one listener registration.
type Subscription struct {
	name string
	fn   Listener
}

// NewSubscription creates a handle that is not yet attached to a bus.
func NewSubscription(name string, fn Listener) *Subscription {
	return &Subscription{name: name, fn: fn}
}

// Name returns the event name the subscription listens to.
func (s *Subscription) Name() string { return s.name }

// Bus dispatches events to subscriptions in subscription order.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]*Subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]*Subscription)}
}

// Add attaches an existing subscription handle.
func (b *Bus) Add(sub *Subscription) error {
	if !Known(sub.name) {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, sub.name)
	}
	if sub.fn == nil {
		return fmt.Errorf("events: nil listener for %s", sub.name)
	}
	b.mu.Lock()
	b.subs[sub.name] = append(b.subs[sub.name], sub)
	b.mu.Unlock()
	return nil
}

// Subscribe registers fn for name and returns its handle.
func (b *Bus) Subscribe(name string, fn Listener) (*Subscription, error) {
	sub := NewSubscription(name, fn)
	if err := b.Add(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Unsubscribe removes sub. It reports whether sub was attached.
func (b *Bus) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.name]
	for i, s := range list {
		if s == sub {
			b.subs[sub.name] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of listeners for name.
func (b *Bus) Len(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}

// Emit delivers ev to the listeners subscribed at the time of the call.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	list := append([]*Subscription(nil), b.subs[ev.Name]...)
	b.mu.RUnlock()

	logging.EventsDebug("emit %s to %d listeners", ev.Name, len(list))
	for i, sub := range list {
		b.deliver(i, sub, ev)
	}
}

func (b *Bus) deliver(i int, sub *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.EventsError("listener %d for %s panicked: %v", i, ev.Name, r)
		}
	}()
	sub.fn(ev)
}
