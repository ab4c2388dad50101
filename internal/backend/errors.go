package backend

import (
	"errors"
	"fmt"
)

// Backend implementations wrap one of these sentinels with
// fmt.Errorf("...: %w", ...) so callers can branch with errors.Is
// without depending on concrete error types.
var (
	// ErrTransient is retried inside the backend with bounded
	// exponential backoff; if the retry budget is exhausted it is
	// logged at warn and the next reconciliation pass will retry.
	ErrTransient = errors.New("backend: transient error")

	// ErrConflict means the observed state diverged from a cached
	// view (another writer changed it); callers re-read and retry
	// from the updated view.
	ErrConflict = errors.New("backend: conflict")

	// ErrInvariantViolation means a structural precondition the
	// backend needs is missing (e.g. the base domain itself). Logged
	// at warn, operation dropped, loop continues.
	ErrInvariantViolation = errors.New("backend: invariant violation")

	// ErrFatal means the backend cannot make progress at all
	// (credentials, unreachable). Propagated to terminate the loop.
	ErrFatal = errors.New("backend: fatal error")
)

// UnknownBackendError is raised by Registry.Build for an unconfigured
// backend name.
type UnknownBackendError struct {
	Name string
}

func NewUnknownBackendError(name string) *UnknownBackendError {
	return &UnknownBackendError{Name: name}
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("backend: unknown backend %q", e.Name)
}
