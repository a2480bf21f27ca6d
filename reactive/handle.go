package reactive

import "sync"

// Handle is a Value kept up to date by an Effect.
type Handle[T any] struct {
	*Value[T]
	effect *Effect

	errMu sync.RWMutex
	err   error
}

// Derive creates a Handle whose value is produced by run. run receives the
// run's scope and a setter; it may keep publishing through the setter until
// the scope is invalidated. The error it returns is exposed through Err.
func Derive[T any](initial T, run func(s *Scope, set func(T)) error, deps ...Source) *Handle[T] {
	h := &Handle[T]{Value: NewValue(initial)}
	h.effect = NewEffect(func(s *Scope) {
		h.setErr(run(s, h.Set))
	}, deps...)
	return h
}

// Err returns the error reported by the most recent run.
func (h *Handle[T]) Err() error {
	h.errMu.RLock()
	defer h.errMu.RUnlock()
	return h.err
}

func (h *Handle[T]) setErr(err error) {
	h.errMu.Lock()
	h.err = err
	h.errMu.Unlock()
}

// Invalidate forces a re-run, as if a source had changed.
func (h *Handle[T]) Invalidate() {
	h.effect.Invalidate()
}

// Stop tears down the current run. The last value stays readable.
func (h *Handle[T]) Stop() {
	h.effect.Stop()
}
