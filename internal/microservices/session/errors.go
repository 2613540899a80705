package session

import (
	"errors"
	"fmt"
)

var (
	// ErrBind matches any *BindError.
	ErrBind = errors.New("bind failed")
	// ErrDuplicateIdentifier means the id generator produced an id that is
	// already open. It indicates a defect, not a runtime condition.
	ErrDuplicateIdentifier = errors.New("duplicate identifier")
	// ErrEmptyIdentifier is returned when registering an empty id.
	ErrEmptyIdentifier = errors.New("empty identifier")
	// ErrNotFound is returned by Registry.Lookup for ids that are not open.
	ErrNotFound = errors.New("identifier not found")
	// ErrHubClosed is returned by Hub.Serve once the hub is shutting down.
	ErrHubClosed = errors.New("hub closed")
)

// BindError is returned by a transport listener that cannot start.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() []error {
	return []error{ErrBind, e.Err}
}
