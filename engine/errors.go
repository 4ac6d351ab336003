package engine

import (
	"errors"
	"fmt"
)

// ErrDuplicateKey is returned by InsertRow when a non-tombstone version of
// the id is already visible to the writer.
var ErrDuplicateKey = errors.New("engine: duplicate key")

// ErrKeyNotFound is returned by ReplaceRow, UpdateRow, and DeleteRow when no
// version of the id is visible to the caller.
var ErrKeyNotFound = errors.New("engine: key not found")

func duplicateKeyError(id string) error {
	return fmt.Errorf("%w: row %q", ErrDuplicateKey, id)
}

func keyNotFoundError(id string) error {
	return fmt.Errorf("%w: row %q", ErrKeyNotFound, id)
}

// StateError reports that an operation was attempted against an engine that
// is not in a state that permits it (spun down, or a transition it can no
// longer join because the engine spun down before reaching Running).
type StateError struct {
	Name  string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("engine: %s is %s, not running", e.Name, e.State)
}
