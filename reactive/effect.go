package reactive

import "sync"

// Scope collects the cleanups registered during one run of an Effect.
type Scope struct {
	mu       sync.Mutex
	cleanups []func()
}

// OnInvalidate registers fn to run before the next run of the owning Effect,
// or when it is stopped.
func (s *Scope) OnInvalidate(fn func()) {
	s.mu.Lock()
	s.cleanups = append(s.cleanups, fn)
	s.mu.Unlock()
}

func (s *Scope) cleanup() {
	s.mu.Lock()
	fns := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Effect runs a function immediately and again every time it is invalidated,
// either explicitly or by a change to one of its sources. The cleanups of a
// run always complete before the next run starts.
type Effect struct {
	run func(*Scope)

	mu      sync.Mutex
	scope   *Scope
	cancels []func()
	running bool
	pending bool
	stopped bool
}

// NewEffect subscribes to deps and performs the first run before returning.
func NewEffect(run func(*Scope), deps ...Source) *Effect {
	e := &Effect{run: run}
	for _, d := range deps {
		e.cancels = append(e.cancels, d.OnChange(e.Invalidate))
	}
	e.Invalidate()
	return e
}

// Invalidate cleans up the current run and runs again. Calls made while a run
// is in progress, including from inside the run itself, are folded into a
// single follow-up run.
func (e *Effect) Invalidate() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	if e.running {
		e.pending = true
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	for {
		e.cycle()

		e.mu.Lock()
		if !e.pending || e.stopped {
			e.running = false
			e.mu.Unlock()
			return
		}
		e.pending = false
		e.mu.Unlock()
	}
}

func (e *Effect) cycle() {
	e.mu.Lock()
	prev := e.scope
	e.scope = nil
	e.mu.Unlock()
	if prev != nil {
		prev.cleanup()
	}

	s := &Scope{}
	e.run(s)

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		s.cleanup()
		return
	}
	e.scope = s
	e.mu.Unlock()
}

// Stop detaches the effect from its sources and runs the pending cleanups.
// It is safe to call more than once.
func (e *Effect) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	cancels := e.cancels
	e.cancels = nil
	scope := e.scope
	e.scope = nil
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if scope != nil {
		scope.cleanup()
	}
}
