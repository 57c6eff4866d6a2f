package events

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Handler reacts to a published event. A returned error is logged and does
// not stop delivery to the remaining handlers.
type Handler func(Event) error

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is an in-process publish/subscribe channel. Dispatch is synchronous and
// follows registration order. Events are not buffered: a subscriber sees only
// what is published after it registered.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Type][]subscription
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		subs: make(map[Type][]subscription),
	}
}

// Subscribe registers h for events of type t and returns a function that
// removes the registration. Calling the returned function more than once is safe.
func (b *Bus) Subscribe(t Type, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[t] = append(b.subs[t], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(t, id) })
	}
}

func (b *Bus) unsubscribe(t Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[t]
	for i, s := range subs {
		if s.id == id {
			// copy so that in-flight Publish snapshots are not disturbed
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			b.subs[t] = next
			break
		}
	}
	if len(b.subs[t]) == 0 {
		delete(b.subs, t)
	}
}

// Publish delivers e to every handler subscribed to its type
func (b *Bus) Publish(e Event) {
	if e == nil {
		return
	}

	// Snapshot handlers so they may subscribe, unsubscribe or publish re-entrantly
	b.mu.RLock()
	targets := b.subs[e.Type()]
	b.mu.RUnlock()

	for _, s := range targets {
		if err := dispatch(s.handler, e); err != nil {
			log.Error().
				Err(err).
				Str("event_type", string(e.Type())).
				Uint64("subscription", s.id).
				Msg("event handler failed")
		}
	}
}

// SubscriberCount returns the number of handlers registered for t
func (b *Bus) SubscriberCount(t Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[t])
}

func dispatch(h Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(e)
}

// On subscribes a handler for a single event variant
func On[E Event](b *Bus, h func(E) error) func() {
	var zero E
	return b.Subscribe(zero.Type(), func(e Event) error {
		v, ok := e.(E)
		if !ok {
			return fmt.Errorf("unexpected event %T for %s", e, zero.Type())
		}
		return h(v)
	})
}
