package docstore

import "github.com/alimasry/go-docwatch/reactive"

// WatchSubscription wraps d.Subscribe in a Handle. The subscription is
// replaced whenever deps change and ended when the handle is stopped. Backends
// use it to implement Doc.Watch.
func WatchSubscription[T any](d Doc[T], deps ...reactive.Source) (*reactive.Handle[Snapshot[T]], error) {
	initial := Snapshot[T]{ID: d.ID(), Loading: true, Doc: d}
	if c, err := d.Collection(); err == nil {
		initial.Collection = c
	}

	h := reactive.Derive(initial, func(s *reactive.Scope, set func(Snapshot[T])) error {
		unsubscribe, err := d.Subscribe(set)
		if err != nil {
			return err
		}
		s.OnInvalidate(unsubscribe)
		return nil
	}, deps...)
	return h, h.Err()
}
