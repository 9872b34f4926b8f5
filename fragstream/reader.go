package fragstream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aeroframe/vstream/internal/ackbitmap"
	"github.com/aeroframe/vstream/wire"
)

// dataReadTimeout bounds each ReadDataWithTimeout call, matching the
// original 1-second timeout; it also bounds worst-case shutdown latency
// for the data worker.
const dataReadTimeout = 1 * time.Second

// ackSendPeriod is the sleep between ack packet sends, giving roughly a
// 1kHz ack loop.
const ackSendPeriod = 1 * time.Millisecond

// maxResizeAttempts bounds how many times a single fragment arrival will
// re-invoke the FrameTooSmall callback before giving up on this fragment.
const maxResizeAttempts = 4

// noPreviousFrame is the sentinel "previous completed frame number" used
// before any frame has completed, kept from the original reader instead of
// a separate valid flag. With wrapping uint16 arithmetic,
// F - 0xFFFF - 1 equals F, so the very first completed frame F reports
// MissedFrames = F (0 when the first frame is 0). See SPEC_FULL.md.
const noPreviousFrame uint16 = 0xFFFF

// Reader reassembles fixed-size fragments into frames, acknowledging
// receipt back to the sender via a continuously updated bitmap. A Reader
// must be driven by launching RunDataWorker and RunAckWorker as goroutines;
// Stop requests both to exit, and Close only succeeds once they have.
type Reader struct {
	manager     NetworkManager
	dataBufID   int
	ackBufID    int
	callback    Callback
	log         *slog.Logger

	// state mutated only by the data worker.
	buf                 []byte
	size                int
	skipCurrentFrame    bool
	previousFrameNumber uint16

	// ackMu guards ackNumFrame/bitmap, written by the data worker and read
	// by the ack worker.
	ackMu       sync.Mutex
	ackNumFrame uint16
	bitmap      ackbitmap.Bitmap

	// stateMu guards stop/started flags, per the single locking discipline
	// described for both engines: never held together with ackMu.
	stateMu       sync.Mutex
	stopRequested bool
	dataStarted   bool
	ackStarted    bool
}

// New validates configuration and constructs a Reader. buf is the initial
// reassembly buffer; ownership is not transferred — the reader treats it as
// on loan until a FrameComplete/FrameTooSmall/Cancel callback hands back
// control of it.
func New(manager NetworkManager, dataBufferID, ackBufferID int, callback Callback, buf []byte, log *slog.Logger) (*Reader, error) {
	if manager == nil || callback == nil || len(buf) == 0 {
		return nil, ErrBadParameters
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reader{
		manager:             manager,
		dataBufID:           dataBufferID,
		ackBufID:            ackBufferID,
		callback:            callback,
		log:                 log.With("component", "fragstream"),
		buf:                 buf,
		previousFrameNumber: noPreviousFrame,
	}, nil
}

// Stop requests both workers to exit at their next loop iteration. It is
// idempotent and safe to call more than once or before either worker has
// started.
func (r *Reader) Stop() {
	r.stateMu.Lock()
	r.stopRequested = true
	r.stateMu.Unlock()
}

// Close tears the reader down. It returns ErrBusy if either worker has not
// yet observed Stop and exited; the caller must call Stop and wait (e.g. by
// joining the goroutines running RunDataWorker/RunAckWorker) before
// retrying.
func (r *Reader) Close() error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.dataStarted || r.ackStarted {
		return ErrBusy
	}
	return nil
}

func (r *Reader) shouldStop() bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.stopRequested
}

// RunDataWorker reads fragments from the network manager and reassembles
// them into frames, upcalling the buffer-handoff callback at
// frame-complete boundaries. It returns when Stop has been observed.
func (r *Reader) RunDataWorker(ctx context.Context) error {
	r.stateMu.Lock()
	r.dataStarted = true
	r.stateMu.Unlock()
	defer func() {
		r.stateMu.Lock()
		r.dataStarted = false
		r.stateMu.Unlock()
	}()

	recvLen := wire.FragmentSize + wire.FragHeaderSize
	recvBuf := make([]byte, recvLen)

	r.log.Debug("data worker running")
	for !r.shouldStop() {
		n, err := r.manager.ReadDataWithTimeout(ctx, r.dataBufID, recvBuf, dataReadTimeout)
		if err != nil {
			r.log.Debug("read error, continuing", "error", err)
			continue
		}
		if n < wire.FragHeaderSize {
			r.log.Debug("short datagram, dropping", "size", n)
			continue
		}
		r.handleFragment(recvBuf[:n])
	}

	r.callback(Event{Cause: CauseCancel, Buffer: r.buf, Size: r.size})
	r.log.Debug("data worker exiting")
	return nil
}

func (r *Reader) handleFragment(datagram []byte) {
	header, err := wire.UnmarshalFragHeader(datagram)
	if err != nil {
		r.log.Debug("malformed fragment header", "error", err)
		return
	}
	payload := datagram[wire.FragHeaderSize:]

	r.ackMu.Lock()
	if header.FrameNumber != r.ackNumFrame {
		r.skipCurrentFrame = false
		r.size = 0
		r.ackNumFrame = header.FrameNumber
		r.bitmap.Reset()
	}
	r.bitmap.SetFlag(int(header.FragmentNumber))
	r.ackMu.Unlock()

	cpIndex := int(header.FragmentNumber) * wire.FragmentSize
	endIndex := cpIndex + len(payload)

	// Bounded resize retries: a well-behaved callback satisfies
	// RequestedCapacity on the first attempt, but the contract allows it
	// to under-grow. The bound exists so a callback that keeps refusing
	// (returns nil/short buffers forever) makes the worker drop this
	// fragment and move on instead of spinning forever — the "stall until
	// the next buffer grant" behavior required of a null-buffer consumer.
	for attempt := 0; (endIndex > len(r.buf) || r.skipCurrentFrame) && attempt < maxResizeAttempts; attempt++ {
		r.growBuffer(endIndex)
	}

	if !r.skipCurrentFrame && endIndex <= len(r.buf) {
		copy(r.buf[cpIndex:endIndex], payload)
		if endIndex > r.size {
			r.size = endIndex
		}

		r.ackMu.Lock()
		complete := r.bitmap.AllSet(int(header.FragmentsPerFrame)) && header.FrameNumber != r.previousFrameNumber
		r.ackMu.Unlock()

		if complete {
			missed := header.FrameNumber - r.previousFrameNumber - 1
			r.previousFrameNumber = header.FrameNumber
			res := r.callback(Event{
				Cause:        CauseFrameComplete,
				Buffer:       r.buf,
				Size:         r.size,
				MissedFrames: missed,
			})
			r.adoptBuffer(res.Buffer)
		}
	}
}

// growBuffer requests a replacement buffer able to hold at least
// neededCapacity bytes, copying the accumulated prefix across if the
// replacement is large enough, or marking the current frame to be skipped
// otherwise. It always relinquishes the old buffer via CauseCopyComplete.
func (r *Reader) growBuffer(neededCapacity int) {
	old := r.buf
	oldSize := r.size

	req := r.callback(Event{
		Cause:             CauseFrameTooSmall,
		Buffer:            old,
		Size:              oldSize,
		RequestedCapacity: neededCapacity,
	})

	// old may already be smaller than oldSize if a prior resize attempt in
	// the same retry loop shrank it, so clamp the copied region to old's
	// actual length rather than slicing old[:oldSize] directly.
	copyable := oldSize
	if copyable > len(old) {
		copyable = len(old)
	}
	if len(req.Buffer) >= oldSize {
		copy(req.Buffer, old[:copyable])
		r.skipCurrentFrame = false
	} else {
		r.skipCurrentFrame = true
	}

	r.callback(Event{Cause: CauseCopyComplete, Buffer: old, Size: oldSize})
	r.buf = req.Buffer
}

// adoptBuffer swaps in a callback-returned buffer for the next frame, if
// one was returned; a nil buffer means "keep writing into the same one",
// so a consumer that declines to hand back a buffer does not crash the
// engine.
func (r *Reader) adoptBuffer(next []byte) {
	if next != nil {
		r.buf = next
	}
	r.size = 0
}

// RunAckWorker sends the current fragment bitmap back to the sender at
// roughly 1kHz. It returns when Stop has been observed.
func (r *Reader) RunAckWorker(ctx context.Context) error {
	r.stateMu.Lock()
	r.ackStarted = true
	r.stateMu.Unlock()
	defer func() {
		r.stateMu.Lock()
		r.ackStarted = false
		r.stateMu.Unlock()
	}()

	r.log.Debug("ack worker running")
	ticker := time.NewTicker(ackSendPeriod)
	defer ticker.Stop()

	var ackSeq uint64
	for !r.shouldStop() {
		select {
		case <-ctx.Done():
			r.log.Debug("ack worker context done")
			return nil
		case <-ticker.C:
		}

		r.ackMu.Lock()
		pkt := wire.AckPacket{
			NumFrame:       uint32(r.ackNumFrame),
			HighPacketsAck: r.bitmap.High,
			LowPacketsAck:  r.bitmap.Low,
		}
		r.ackMu.Unlock()

		ackSeq++
		if err := r.manager.SendData(r.ackBufID, pkt.Marshal(), ackSeq, 1); err != nil {
			r.log.Debug("ack send error", "error", err)
		}
	}

	r.log.Debug("ack worker exiting")
	return nil
}
