package rtpstream

import "errors"

// Sentinel errors mirroring the ported error taxonomy.
var (
	// ErrBadParameters is returned when construction is given an invalid
	// Config or a nil callback.
	ErrBadParameters = errors.New("rtpstream: bad parameters")

	// ErrAlloc is returned when the receive socket could not be created
	// or bound.
	ErrAlloc = errors.New("rtpstream: allocation failed")

	// ErrBusy is returned by Close when Stop has not yet been observed by
	// both workers.
	ErrBusy = errors.New("rtpstream: reader busy, call Stop and wait for workers to exit")
)
