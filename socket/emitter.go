package socket

import (
	"sync"
	"sync/atomic"
)

type Handler func(data any)

type ListenerID uint64

type listener struct {
	id ListenerID
	fn Handler
}

// Emitter is an ordered per-event listener table. Emit iterates a snapshot:
// a listener added during an emission is not called by it, and a listener
// removed during an emission is not called after its removal.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[Event][]listener
	nextID    atomic.Uint64
}

func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[Event][]listener)}
}

func (e *Emitter) On(event Event, fn Handler) ListenerID {
	id := ListenerID(e.nextID.Add(1))

	e.mu.Lock()
	defer e.mu.Unlock()

	e.listeners[event] = append(e.listeners[event], listener{id: id, fn: fn})
	return id
}

// Off removes the given listeners from event, or every listener of event
// when no id is passed.
func (e *Emitter) Off(event Event, ids ...ListenerID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(ids) == 0 {
		delete(e.listeners, event)
		return
	}

	for _, id := range ids {
		current := e.listeners[event]
		for i, l := range current {
			if l.id != id {
				continue
			}
			// Copy rather than splice so in-flight snapshots stay intact.
			next := make([]listener, 0, len(current)-1)
			next = append(next, current[:i]...)
			next = append(next, current[i+1:]...)
			e.listeners[event] = next
			break
		}
	}
	if len(e.listeners[event]) == 0 {
		delete(e.listeners, event)
	}
}

func (e *Emitter) Count(event Event) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[event])
}

// Emit calls the listeners registered for event, in registration order, on
// the calling goroutine.
func (e *Emitter) Emit(event Event, data any) {
	e.mu.RLock()
	snapshot := e.listeners[event]
	e.mu.RUnlock()

	for _, l := range snapshot {
		if !e.has(event, l.id) {
			continue
		}
		l.fn(data)
	}
}

func (e *Emitter) has(event Event, id ListenerID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, l := range e.listeners[event] {
		if l.id == id {
			return true
		}
	}
	return false
}
