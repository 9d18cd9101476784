package relocate

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceNotFound is returned when there is nothing to relocate.
	ErrSourceNotFound = errors.New("source does not exist")

	// ErrUnsupportedSourceType is returned for anything that is neither a
	// regular file nor a directory (symlinks, sockets, devices, pipes).
	ErrUnsupportedSourceType = errors.New("source is neither a regular file nor a directory")

	// ErrDestinationExists is returned instead of overwriting or merging into
	// an existing destination.
	ErrDestinationExists = errors.New("destination already exists")
)

// PathError attaches the offending path to one of the sentinel errors above.
type PathError struct {
	Path string // Path that failed validation
	Err  error  // One of the package sentinels
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err, e.Path)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// PartialMoveError means the data was copied to the destination but the
// source could not be removed afterwards. Both copies now exist and someone
// has to clean up the source by hand.
type PartialMoveError struct {
	Source      string // Path that still exists
	Destination string // Complete copy
	Err         error  // Underlying removal error
}

func (e *PartialMoveError) Error() string {
	return fmt.Sprintf("copied %s to %s but failed to remove the source: %v", e.Source, e.Destination, e.Err)
}

func (e *PartialMoveError) Unwrap() error {
	return e.Err
}

// IsPartialMove reports whether err is (or wraps) a PartialMoveError.
func IsPartialMove(err error) bool {
	var e *PartialMoveError

	return errors.As(err, &e)
}
