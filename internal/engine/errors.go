package engine

import "errors"

// ErrNotFound is returned by Runtime.Get for a container ID the
// runtime no longer knows about.
var ErrNotFound = errors.New("engine: container not found")
