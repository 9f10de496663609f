// Package notify delivers state-change events to subscribers in the order
// the owning store produced them, without holding the store's lock during
// delivery.
package notify

import "sync"

// Queue buffers events and fans them out to listeners.
//
// Owners call Push while holding their own lock, so the queue order equals
// mutation order, then call Flush after releasing it. Listeners may call
// back into the owner, including mutating methods; nested events are
// delivered after the current one.
type Queue[T any] struct {
	mu        sync.Mutex
	pending   []T
	listeners map[uint64]func(T)
	nextID    uint64

	delivering sync.Mutex
}

// Subscribe registers fn and returns a function that unregisters it.
func (q *Queue[T]) Subscribe(fn func(T)) (cancel func()) {
	q.mu.Lock()
	if q.listeners == nil {
		q.listeners = make(map[uint64]func(T))
	}
	id := q.nextID
	q.nextID++
	q.listeners[id] = fn
	q.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			delete(q.listeners, id)
			q.mu.Unlock()
		})
	}
}

// Push enqueues ev for the next Flush.
func (q *Queue[T]) Push(ev T) {
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	q.mu.Unlock()
}

// Flush delivers all pending events. If another goroutine is already
// delivering, Flush returns and that goroutine picks the events up.
func (q *Queue[T]) Flush() {
	for {
		if !q.delivering.TryLock() {
			return
		}
		q.drain()
		q.delivering.Unlock()

		q.mu.Lock()
		empty := len(q.pending) == 0
		q.mu.Unlock()
		if empty {
			return
		}
	}
}

func (q *Queue[T]) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		ev := q.pending[0]
		q.pending = q.pending[1:]
		ls := make([]func(T), 0, len(q.listeners))
		for id := uint64(0); id < q.nextID; id++ {
			if fn, ok := q.listeners[id]; ok {
				ls = append(ls, fn)
			}
		}
		q.mu.Unlock()

		for _, fn := range ls {
			fn(ev)
		}
	}
}
