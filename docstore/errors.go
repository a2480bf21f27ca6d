package docstore

import "errors"

var (
	// ErrUnknownCollection is returned when no collection is registered at a path.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrCollectionType is returned when the collection registered at a path
	// holds a different document type than the one requested.
	ErrCollectionType = errors.New("collection type mismatch")
)
