package rtpstream

// Cause identifies why the buffer-handoff callback was invoked.
type Cause int

// Causes the callback may be invoked with.
const (
	// CauseNALUComplete fires once per reassembled NAL unit (single-NAL,
	// FU-A, or one member of a STAP-A aggregate).
	CauseNALUComplete Cause = iota
	// CauseNALUBufferTooSmall fires when the current buffer cannot hold
	// the bytes about to be written. The callback must return a
	// replacement buffer (capacity 0 to refuse).
	CauseNALUBufferTooSmall
	// CauseNALUCopyComplete fires once the reader has finished copying
	// the accumulated prefix into a replacement buffer.
	CauseNALUCopyComplete
	// CauseCancel fires exactly once, from the receive worker's exit
	// path.
	CauseCancel
	// CauseAUIncomplete fires when a new access unit begins — signaled by
	// either a marker-bit packet or a media-timestamp change, whichever
	// comes first — while the access unit it interrupts still had
	// unresolved sequence-number gaps. This is not present in the
	// original reader (its incomplete-AU upcall was commented out); it
	// is added here for symmetry with CauseNALUComplete's isLastOfAU
	// signal, and carries no buffer.
	CauseAUIncomplete
)

// String implements fmt.Stringer for log output.
func (c Cause) String() string {
	switch c {
	case CauseNALUComplete:
		return "NALU_COMPLETE"
	case CauseNALUBufferTooSmall:
		return "NALU_BUFFER_TOO_SMALL"
	case CauseNALUCopyComplete:
		return "NALU_COPY_COMPLETE"
	case CauseCancel:
		return "CANCEL"
	case CauseAUIncomplete:
		return "AU_INCOMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Event describes the buffer-handoff callback's inputs.
type Event struct {
	Cause Cause

	// Buffer is the buffer this event concerns; nil for CauseAUIncomplete.
	Buffer []byte

	// Size is the number of meaningful bytes in Buffer. For
	// CauseNALUBufferTooSmall and CauseNALUCopyComplete it is the number of
	// bytes accumulated in the old buffer before the resize.
	Size int

	// MediaTimestampUs is only meaningful for CauseNALUComplete: the
	// packet's 90kHz media timestamp converted to microseconds.
	MediaTimestampUs uint64

	// IsFirstOfAU is only meaningful for CauseNALUComplete: true iff this
	// NAL unit's packet carried the sequence number that opened the
	// current access unit.
	IsFirstOfAU bool

	// IsLastOfAU is only meaningful for CauseNALUComplete: the RTP-like
	// header's marker bit.
	IsLastOfAU bool

	// GapsInSeqNum is only meaningful for CauseNALUComplete: the
	// accumulated sequence-number gap count since the current access
	// unit began.
	GapsInSeqNum int32

	// RequestedCapacity is only meaningful for CauseNALUBufferTooSmall:
	// the minimum capacity a replacement buffer must have to be
	// accepted.
	RequestedCapacity int
}

// Result is what the buffer-handoff callback returns.
type Result struct {
	// Buffer is the next buffer the reader should write into. Ignored
	// for CauseNALUCopyComplete, CauseCancel, and CauseAUIncomplete.
	Buffer []byte
}

// Callback is the consumer-supplied buffer-handoff function, always invoked
// synchronously on the receive worker goroutine with no reader-owned mutex
// held.
type Callback func(Event) Result
