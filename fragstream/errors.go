package fragstream

import "errors"

// Sentinel errors returned by Reader construction and teardown. These let
// callers distinguish failure modes with errors.Is instead of matching on
// message text.
var (
	// ErrBadParameters is returned when construction is given a nil
	// collaborator, callback, or zero-capacity buffer.
	ErrBadParameters = errors.New("fragstream: bad parameters")

	// ErrBusy is returned by Close when Stop has not yet been observed by
	// both workers.
	ErrBusy = errors.New("fragstream: reader busy, call Stop and wait for workers to exit")
)
