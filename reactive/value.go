// Package reactive provides the minimal reactive primitives the document layer
// is built on: observable values, effects that re-run when their sources
// change, and handles pairing the two.
package reactive

import "sync"

// Source is anything an Effect can depend on.
type Source interface {
	// OnChange registers fn to be called after every change. The returned
	// function removes the registration.
	OnChange(fn func()) (cancel func())
}

type listener[T any] struct {
	id int
	fn func(T)
}

// Value holds the latest value of T and notifies listeners on every Set.
// Values are replaced, never mutated in place.
type Value[T any] struct {
	mu        sync.RWMutex
	v         T
	nextID    int
	listeners []listener[T]
}

func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{v: initial}
}

func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.v
}

// Set stores x and calls every listener with it. Listeners run on the
// caller's goroutine, outside the lock.
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	v.v = x
	fns := make([]func(T), len(v.listeners))
	for i, l := range v.listeners {
		fns[i] = l.fn
	}
	v.mu.Unlock()

	for _, fn := range fns {
		fn(x)
	}
}

// Listen registers fn for future values.
func (v *Value[T]) Listen(fn func(T)) (cancel func()) {
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.listeners = append(v.listeners, listener[T]{id: id, fn: fn})
	v.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			for i, l := range v.listeners {
				if l.id == id {
					v.listeners = append(v.listeners[:i:i], v.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

func (v *Value[T]) OnChange(fn func()) (cancel func()) {
	return v.Listen(func(T) { fn() })
}
