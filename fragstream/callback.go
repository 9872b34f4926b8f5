package fragstream

// Cause identifies why the buffer-handoff callback was invoked.
type Cause int

// Causes the callback may be invoked with.
const (
	// CauseFrameComplete fires once per frame number, when every fragment
	// bit for that frame is set. Event.MissedFrames reports the gap since
	// the previously completed frame.
	CauseFrameComplete Cause = iota
	// CauseFrameTooSmall fires when the current buffer cannot hold the
	// fragment about to be written. The callback must return a
	// replacement buffer (capacity 0 to refuse).
	CauseFrameTooSmall
	// CauseCopyComplete fires after every CauseFrameTooSmall request, once
	// the reader has copied the accumulated prefix into the replacement
	// buffer (when the replacement is large enough to hold it); the
	// callback may now reclaim the old one.
	CauseCopyComplete
	// CauseCancel fires exactly once, from the data worker's exit path,
	// handing back whatever buffer was current at shutdown.
	CauseCancel
)

// String implements fmt.Stringer for log output.
func (c Cause) String() string {
	switch c {
	case CauseFrameComplete:
		return "FRAME_COMPLETE"
	case CauseFrameTooSmall:
		return "FRAME_TOO_SMALL"
	case CauseCopyComplete:
		return "COPY_COMPLETE"
	case CauseCancel:
		return "CANCEL"
	default:
		return "UNKNOWN"
	}
}

// Event describes the buffer-handoff callback's inputs.
type Event struct {
	Cause Cause

	// Buffer is the buffer this event concerns: the buffer being
	// exhausted (CauseFrameTooSmall), completed (CauseFrameComplete), or
	// relinquished (CauseCopyComplete, CauseCancel).
	Buffer []byte

	// Size is the number of meaningful bytes in Buffer at the time of the
	// callback. For CauseFrameTooSmall and CauseCopyComplete it is the
	// number of bytes accumulated in the old buffer before the resize.
	Size int

	// MissedFrames is only meaningful for CauseFrameComplete: the number
	// of frame numbers that were skipped since the previous completion.
	MissedFrames uint16

	// RequestedCapacity is only meaningful for CauseFrameTooSmall: the
	// minimum capacity a replacement buffer must have to be accepted.
	RequestedCapacity int
}

// Result is what the buffer-handoff callback returns.
type Result struct {
	// Buffer is the next buffer the reader should write into. For
	// CauseFrameTooSmall a nil or short Buffer means "refuse"; the reader
	// falls back to skip-and-recover behavior for the current frame. The
	// returned Buffer is adopted either way, since the old one has been
	// handed back with CauseCopyComplete; writes stall until a later
	// CauseFrameTooSmall request is answered with a large enough one. For
	// CauseFrameComplete this is the buffer to fill for the next frame,
	// which may be the same slice passed in the Event.
	Buffer []byte
}

// Callback is the consumer-supplied buffer-handoff function. It is always
// invoked synchronously on the data worker goroutine, with no
// reader-owned mutex held, so it may safely call back into the reader
// (e.g. to inspect state) without deadlocking, though it must not block
// indefinitely — it holds up fragment processing while it runs.
type Callback func(Event) Result
