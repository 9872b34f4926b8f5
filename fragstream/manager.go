package fragstream

import (
	"context"
	"time"
)

// NetworkManager is the external datagram transport collaborator that
// Engine A rides on top of. It is provided by the host application (e.g. a
// wrapper around the vehicle's link-layer network manager); fragstream
// never opens a socket itself for this engine.
type NetworkManager interface {
	// ReadDataWithTimeout blocks until a datagram is available on
	// bufferID, the timeout elapses, or ctx is cancelled. It returns the
	// number of bytes written into buf.
	ReadDataWithTimeout(ctx context.Context, bufferID int, buf []byte, timeout time.Duration) (int, error)

	// SendData hands a fixed-size payload to the manager for transmission
	// on bufferID. ackID identifies this send for the manager's own
	// retry/ack bookkeeping; fragstream always passes maxAttempts=1 since
	// the ack packet is superseded by the next one a millisecond later.
	SendData(bufferID int, payload []byte, ackID uint64, maxAttempts int) error
}

// BufferPolicy mirrors the small set of knobs the network manager's I/O
// buffer configuration exposes: capacity, ordering/retry behavior, and a
// retry count for buffers that request acknowledgement.
type BufferPolicy int

// Buffer policies understood by InitVideoDataBufferParams and
// InitVideoAckBufferParams.
const (
	// PolicyDataFragment favors freshness over reliability: fragments are
	// not retried, and only the newest queued fragment is kept if the
	// consumer falls behind.
	PolicyDataFragment BufferPolicy = iota
	// PolicyAckOverwrite keeps only the most recent ack packet queued,
	// since a stale ack is worthless once a newer one exists.
	PolicyAckOverwrite
)

// BufferParams is the I/O-buffer configuration the sender must mirror for
// the data and ack buffers. The exact numeric constants (capacity, number
// of cells, retry count) are implementation-chosen; the sender-side
// counterpart to this reader must be configured identically.
type BufferParams struct {
	BufferID    int
	Policy      BufferPolicy
	Capacity    int
	NumCells    int
	MaxRetries  int
	SendTimeout time.Duration
}

// InitVideoDataBufferParams populates out with the configuration used for
// the fragment data buffer identified by bufferID.
func InitVideoDataBufferParams(out *BufferParams, bufferID int) {
	*out = BufferParams{
		BufferID:    bufferID,
		Policy:      PolicyDataFragment,
		Capacity:    dataFragmentBufferCapacity,
		NumCells:    dataFragmentBufferCells,
		MaxRetries:  0,
		SendTimeout: 0,
	}
}

// InitVideoAckBufferParams populates out with the configuration used for
// the acknowledgement buffer identified by bufferID.
func InitVideoAckBufferParams(out *BufferParams, bufferID int) {
	*out = BufferParams{
		BufferID:    bufferID,
		Policy:      PolicyAckOverwrite,
		Capacity:    ackBufferCapacity,
		NumCells:    1,
		MaxRetries:  1,
		SendTimeout: ackSendTimeout,
	}
}

const (
	dataFragmentBufferCapacity = 128 * 1024
	dataFragmentBufferCells    = 128
	ackBufferCapacity          = 20 // wire.AckPacketSize
	ackSendTimeout             = 100 * time.Millisecond
)
