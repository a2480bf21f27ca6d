package docstore

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alimasry/go-docwatch/logger"
	"github.com/alimasry/go-docwatch/reactive"
)

// DefaultDebounce is the quiet period WatchDocs waits for before publishing
// updates that follow the first batch.
const DefaultDebounce = 100 * time.Millisecond

type watchOptions struct {
	collectionPath string
	debounce       time.Duration
	deps           []reactive.Source
}

type WatchOption func(*watchOptions)

// InCollection resolves bare ids against path.
func InCollection(path string) WatchOption {
	return func(o *watchOptions) {
		o.collectionPath = path
	}
}

func WithDebounce(d time.Duration) WatchOption {
	return func(o *watchOptions) {
		o.debounce = d
	}
}

// DependsOn re-evaluates the reference list whenever one of deps changes.
func DependsOn(deps ...reactive.Source) WatchOption {
	return func(o *watchOptions) {
		o.deps = append(o.deps, deps...)
	}
}

// WatchDocs follows every document named by refs and publishes their latest
// snapshots as one slice in the order of refs, duplicates included. The
// handle holds nil until the first publication.
//
// refs is evaluated again whenever a dependency changes. Each evaluation
// subscribes once per distinct id and publishes as soon as all
// subscriptions are set up. Later updates are debounced. An error from refs
// is logged and treated as an empty list. Subscription failures are logged,
// reported through the handle's Err, and leave the failing slots without
// data.
func WatchDocs[T any](r *Registry, refs func() ([]Ref, error), opts ...WatchOption) *reactive.Handle[[]Snapshot[T]] {
	o := watchOptions{debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(&o)
	}
	log := r.logger.With(zap.String("collection", o.collectionPath))
	pub := &publisher[T]{}

	h := reactive.Derive[[]Snapshot[T]](nil, func(s *reactive.Scope, set func([]Snapshot[T])) error {
		pub.setTarget(set)

		list, err := refs()
		if err != nil {
			log.Warn("watch docs: reference list failed, watching nothing", zap.Error(err))
			list = nil
		}
		ids := make([]string, len(list))
		for i, ref := range list {
			if ref != nil {
				ids[i] = ref.RefID()
			}
		}

		sess := newDocsSession[T](ids, o.debounce, pub, log)
		s.OnInvalidate(sess.close)

		var errs []error
		for _, id := range sess.distinct() {
			id := id
			doc := DocAt[T](r, func() Ref { return ID(id) }, o.collectionPath)
			unsubscribe, err := doc.Subscribe(func(snap Snapshot[T]) {
				sess.record(id, snap)
			})
			if err != nil {
				log.Error("watch docs: subscribe failed", zap.String("id", id), zap.Error(err))
				errs = append(errs, err)
				continue
			}
			sess.track(unsubscribe)
		}
		log.Debug("watch docs: subscribed", zap.Int("refs", len(ids)))

		sess.publishFirstBatch()
		return errors.Join(errs...)
	}, o.deps...)
	return h
}

type watchState int

const (
	awaitingFirstBatch watchState = iota
	idle
	debouncing
)

// docsSession is the state of one evaluation of a WatchDocs reference list.
// It is discarded, never reused, when the list is re-evaluated.
type docsSession[T any] struct {
	ids      []string
	debounce time.Duration
	pub      *publisher[T]
	log      logger.Logger

	mu     sync.Mutex
	state  watchState
	latest map[string]Snapshot[T]
	timer  *time.Timer
	gen    uint64
	closed bool
	unsubs []Unsubscribe
}

func newDocsSession[T any](ids []string, debounce time.Duration, pub *publisher[T], log logger.Logger) *docsSession[T] {
	return &docsSession[T]{
		ids:      ids,
		debounce: debounce,
		pub:      pub,
		log:      log,
		latest:   make(map[string]Snapshot[T], len(ids)),
	}
}

// distinct returns the ids without repeats, in order of first appearance.
func (s *docsSession[T]) distinct() []string {
	seen := make(map[string]struct{}, len(s.ids))
	out := make([]string, 0, len(s.ids))
	for _, id := range s.ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *docsSession[T]) track(unsubscribe Unsubscribe) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsubscribe()
		return
	}
	s.unsubs = append(s.unsubs, unsubscribe)
	s.mu.Unlock()
}

func (s *docsSession[T]) record(id string, snap Snapshot[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.latest[id] = snap
	if s.state == awaitingFirstBatch {
		return
	}

	s.state = debouncing
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(s.debounce, func() { s.flush(gen) })
}

func (s *docsSession[T]) publishFirstBatch() {
	s.mu.Lock()
	if s.state == awaitingFirstBatch {
		s.state = idle
	}
	s.mu.Unlock()
	s.pub.push(s)
}

func (s *docsSession[T]) flush(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.state = idle
	s.timer = nil
	s.mu.Unlock()
	s.pub.push(s)
}

// build assembles the output from the ordered id list. ok is false once the
// session is closed.
func (s *docsSession[T]) build() (out []Snapshot[T], ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	out = make([]Snapshot[T], len(s.ids))
	for i, id := range s.ids {
		if snap, found := s.latest[id]; found {
			out[i] = snap
		} else {
			out[i] = Snapshot[T]{ID: id}
		}
	}
	return out, true
}

func (s *docsSession[T]) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *docsSession[T]) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
	s.log.Debug("watch docs: unsubscribed", zap.Int("subscriptions", len(unsubs)))
}

type publication[T any] struct {
	sess *docsSession[T]
	out  []Snapshot[T]
}

// publisher delivers the outputs of successive sessions in the order they
// were built. A publication triggered while another is being delivered,
// including from a listener of the same handle, is queued and delivered by
// the goroutine already delivering.
type publisher[T any] struct {
	mu       sync.Mutex
	set      func([]Snapshot[T])
	queue    []publication[T]
	draining bool
}

func (p *publisher[T]) setTarget(set func([]Snapshot[T])) {
	p.mu.Lock()
	p.set = set
	p.mu.Unlock()
}

func (p *publisher[T]) push(s *docsSession[T]) {
	p.mu.Lock()
	out, ok := s.build()
	if !ok {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, publication[T]{sess: s, out: out})
	if p.draining {
		p.mu.Unlock()
		return
	}
	p.draining = true
	for len(p.queue) > 0 {
		next := p.queue[0]
		p.queue = p.queue[1:]
		set := p.set
		p.mu.Unlock()

		if !next.sess.isClosed() {
			set(next.out)
		}

		p.mu.Lock()
	}
	p.draining = false
	p.mu.Unlock()
}
