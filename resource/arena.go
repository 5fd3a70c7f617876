package resource

import (
	"errors"
	"sync"
)

var (
	ErrClosed  = errors.New("handle arena closed")
	ErrNullRep = errors.New("null backend address")
)

// Arena maps handles to backend addresses. Freed slots are reused.
// Safe for concurrent use.
type Arena struct {
	entries   []entry
	freeList  []Handle
	observers []subscription
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	nextSub   uint64
	closed    bool
}

type subscription struct {
	o  Observer
	id uint64
}

type entry struct {
	rep   Rep
	valid bool
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{
		entries:  make([]entry, 0, 16),
		freeList: make([]Handle, 0, 8),
	}
}

// Insert stores a backend address and returns its handle.
// A zero address is rejected: it is the backend's invalid handle.
func (a *Arena) Insert(rep Rep) (Handle, error) {
	if rep == 0 {
		return 0, ErrNullRep
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return 0, ErrClosed
	}

	e := entry{rep: rep, valid: true}

	var handle Handle
	if n := len(a.freeList); n > 0 {
		handle = a.freeList[n-1]
		a.freeList = a.freeList[:n-1]
		a.entries[handle-1] = e
	} else {
		a.entries = append(a.entries, e)
		handle = Handle(len(a.entries))
	}
	a.mu.Unlock()

	a.notify(Event{Type: EventCreated, Handle: handle, Rep: rep})
	return handle, nil
}

// Rep returns the backend address for a live handle.
func (a *Arena) Rep(handle Handle) (Rep, bool) {
	if handle == 0 {
		return 0, false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	idx := handle - 1
	if int(idx) >= len(a.entries) {
		return 0, false
	}

	e := a.entries[idx]
	if !e.valid {
		return 0, false
	}
	return e.rep, true
}

// Remove invalidates a handle and returns its backend address.
// Returns (0, false) if the handle is not live.
func (a *Arena) Remove(handle Handle) (Rep, bool) {
	if handle == 0 {
		return 0, false
	}

	a.mu.Lock()
	idx := handle - 1
	if int(idx) >= len(a.entries) {
		a.mu.Unlock()
		return 0, false
	}

	e := &a.entries[idx]
	if !e.valid {
		a.mu.Unlock()
		return 0, false
	}

	rep := e.rep
	e.valid = false
	e.rep = 0
	a.freeList = append(a.freeList, handle)
	a.mu.Unlock()

	a.notify(Event{Type: EventDropped, Handle: handle, Rep: rep})
	return rep, true
}

// Len returns the number of live handles.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	count := 0
	for _, e := range a.entries {
		if e.valid {
			count++
		}
	}
	return count
}

// Subscribe adds an observer for lifecycle events. The returned function
// removes it and may be called more than once.
func (a *Arena) Subscribe(o Observer) (cancel func()) {
	a.obsMu.Lock()
	defer a.obsMu.Unlock()
	a.nextSub++
	id := a.nextSub
	a.observers = append(a.observers, subscription{o: o, id: id})

	return func() {
		a.obsMu.Lock()
		defer a.obsMu.Unlock()
		for i, sub := range a.observers {
			if sub.id == id {
				a.observers = append(a.observers[:i:i], a.observers[i+1:]...)
				return
			}
		}
	}
}

// Close stops accepting inserts and returns the addresses still live,
// so the owner can release them in the backend. Subsequent calls return nil.
func (a *Arena) Close() []Rep {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true

	var live []Rep
	var handles []Handle
	for i := range a.entries {
		if a.entries[i].valid {
			live = append(live, a.entries[i].rep)
			handles = append(handles, Handle(i+1))
			a.entries[i] = entry{}
		}
	}
	a.entries = nil
	a.freeList = nil
	a.mu.Unlock()

	for i, h := range handles {
		a.notify(Event{Type: EventDropped, Handle: h, Rep: live[i]})
	}
	return live
}

func (a *Arena) notify(e Event) {
	a.obsMu.RLock()
	defer a.obsMu.RUnlock()
	for _, sub := range a.observers {
		sub.o.OnHandleEvent(e)
	}
}
