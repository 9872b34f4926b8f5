package rtpstream

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/aeroframe/vstream/internal/ringmonitor"
	"github.com/aeroframe/vstream/wire"
)

// nalTypeMask isolates the low 5 bits of a NAL header byte, per RFC 6184.
const nalTypeMask = 0x1F

// NAL unit types recognized by the depacketizer (RFC 6184 §5.2).
const (
	nalTypeSTAPA = 24
	nalTypeFUA   = 28
)

const fuStartBit = 0x80
const fuEndBit = 0x40

// annexBStartCode is the 4-byte Annex B sentinel prepended to NAL units when
// Config.InsertStartCodes is set.
var annexBStartCode = [4]byte{0x00, 0x00, 0x00, 0x01}

// pollInterval bounds how long a single receive-socket read blocks, so Stop
// is observed promptly regardless of RecvTimeoutSec.
const pollInterval = 500 * time.Millisecond

// maxResizeAttempts bounds how many times a single datagram's processing
// will re-invoke the BufferTooSmall callback before dropping the write.
const maxResizeAttempts = 4

// noSeqNum marks previousSeq as unset, so the first datagram is always
// treated as in-order.
const noSeqNum = -1

// Reader reassembles an H.264 elementary stream from an RTP-like UDP flow.
// A Reader must be driven by launching RunRecvWorker and RunSendWorker as
// goroutines; Stop requests both to exit, and Close only succeeds once they
// have.
type Reader struct {
	cfg        Config
	log        *slog.Logger
	userToken  any
	conn       net.PacketConn

	// state mutated only by the recv worker.
	buf               []byte
	size              int
	fuPending         bool
	previousSeq       int32
	startSeqNum       uint16
	expectNewAU       bool
	gapsInSeqNum      int32
	previousTimestamp uint32
	haveTimestamp     bool

	// monMu guards the monitoring ring and firstTimestamp, written by the
	// recv worker and read by GetMonitoring from any goroutine.
	monMu             sync.Mutex
	ring              ringmonitor.Ring
	firstTimestamp    uint32
	firstTimestampSet bool

	// stateMu guards stop/started flags, never held together with monMu.
	stateMu       sync.Mutex
	stopRequested bool
	recvStarted   bool
	sendStarted   bool
}

// New validates cfg, binds the receive socket, and constructs a Reader. buf
// is the initial NAL-unit reassembly buffer, on loan the same way
// fragstream.Reader's is. userToken is opaque data returned unmodified by
// GetCustom.
func New(cfg Config, buf []byte, userToken any, log *slog.Logger) (*Reader, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, ErrBadParameters
	}
	conn, err := bindSocket(cfg)
	if err != nil {
		return nil, errors.Join(ErrAlloc, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reader{
		cfg:         cfg,
		log:         log.With("component", "rtpstream"),
		userToken:   userToken,
		conn:        conn,
		buf:         buf,
		previousSeq: noSeqNum,
		expectNewAU: true,
	}, nil
}

// GetCustom returns the opaque token passed to New.
func (r *Reader) GetCustom() any {
	return r.userToken
}

// Stop requests both workers to exit at their next loop iteration. It is
// idempotent and safe to call before either worker has started.
func (r *Reader) Stop() {
	r.stateMu.Lock()
	r.stopRequested = true
	r.stateMu.Unlock()
}

func (r *Reader) shouldStop() bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.stopRequested
}

// Close tears the reader down, closing the socket. It returns ErrBusy if
// either worker has not yet observed Stop and exited.
func (r *Reader) Close() error {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.recvStarted || r.sendStarted {
		return ErrBusy
	}
	return r.conn.Close()
}

// GetMonitoring reports reception statistics over the most recent
// timeIntervalUs of real time. wantJitter/wantStdDev control whether the
// (more expensive) variance pass runs.
func (r *Reader) GetMonitoring(timeIntervalUs uint64, wantJitter, wantStdDev bool) (ringmonitor.Stats, error) {
	r.monMu.Lock()
	defer r.monMu.Unlock()
	return r.ring.Query(timeIntervalUs, r.firstTimestamp, wantJitter, wantStdDev)
}

// RunRecvWorker reads datagrams from the socket and drives the NAL-unit
// assembly state machine, upcalling the buffer-handoff callback at NAL-unit
// boundaries. It returns when Stop has been observed.
func (r *Reader) RunRecvWorker(ctx context.Context) error {
	r.stateMu.Lock()
	r.recvStarted = true
	r.stateMu.Unlock()
	defer func() {
		r.stateMu.Lock()
		r.recvStarted = false
		r.stateMu.Unlock()
	}()

	recvBuf := make([]byte, r.cfg.maxPacketSize())
	lastDatagram := time.Now()
	stallTimeout := time.Duration(r.cfg.RecvTimeoutSec) * time.Second

	r.log.Debug("recv worker running")
	for !r.shouldStop() && ctx.Err() == nil {
		if err := r.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			r.log.Debug("set read deadline failed", "error", err)
		}
		n, _, err := r.conn.ReadFrom(recvBuf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if time.Since(lastDatagram) > stallTimeout {
					r.log.Warn("no datagrams received", "since", lastDatagram)
				}
				continue
			}
			r.log.Debug("read error, continuing", "error", err)
			continue
		}
		lastDatagram = time.Now()
		if n < wire.RTPHeaderSize {
			continue
		}
		r.handleDatagram(recvBuf[:n])
	}

	r.callback(Event{Cause: CauseCancel, Buffer: r.buf, Size: r.size})
	r.log.Debug("recv worker exiting")
	return nil
}

// RunSendWorker is reserved for future RTCP-like feedback; the reader has
// nothing to send today. It only tracks its started flag so Close's ErrBusy
// contract holds symmetrically with the recv worker.
func (r *Reader) RunSendWorker(ctx context.Context) error {
	r.stateMu.Lock()
	r.sendStarted = true
	r.stateMu.Unlock()
	defer func() {
		r.stateMu.Lock()
		r.sendStarted = false
		r.stateMu.Unlock()
	}()

	for !r.shouldStop() && ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case <-time.After(pollInterval):
		}
	}
	return nil
}

func (r *Reader) callback(ev Event) Result {
	return r.cfg.NaluCallback(ev)
}

func (r *Reader) handleDatagram(datagram []byte) {
	header, err := wire.UnmarshalRTPHeader(datagram)
	if err != nil {
		return
	}
	payload := datagram[wire.RTPHeaderSize:]

	r.monMu.Lock()
	if !r.firstTimestampSet {
		r.firstTimestamp = header.Timestamp
		r.firstTimestampSet = true
	}
	r.ring.Add(ringmonitor.Point{
		RecvTimestampUs: uint64(time.Now().UnixMicro()),
		MediaTimestamp:  header.Timestamp,
		SeqNum:          header.SeqNum,
		Marker:          header.Marker(),
		Bytes:           uint32(len(datagram)),
	})
	r.monMu.Unlock()

	delta := int32(1)
	if r.previousSeq != noSeqNum {
		delta = int32(signed16Delta(uint16(r.previousSeq), header.SeqNum))
		if delta <= 0 {
			r.log.Debug("out of order packet dropped", "seqNum", header.SeqNum, "previousSeq", r.previousSeq)
			return
		}
	}
	r.previousSeq = int32(header.SeqNum)
	r.gapsInSeqNum += delta - 1

	// A changed media timestamp marks a new access unit exactly like a
	// marker-bit packet does, independent of whether one was ever seen:
	// this is how a lost marker packet does not stall AU-boundary
	// detection forever, mirroring ARSTREAM_Reader2.c's
	// currentTimestamp != previousTimestamp check.
	timestampChanged := r.haveTimestamp && header.Timestamp != r.previousTimestamp
	r.previousTimestamp = header.Timestamp
	r.haveTimestamp = true

	if r.expectNewAU || timestampChanged {
		if r.gapsInSeqNum != 0 {
			r.callback(Event{Cause: CauseAUIncomplete})
		}
		r.startSeqNum = header.SeqNum
		r.expectNewAU = false
		r.gapsInSeqNum = 0
	}
	isFirstOfAU := header.SeqNum == r.startSeqNum

	if len(payload) == 0 {
		return
	}
	nalType := payload[0] & nalTypeMask

	switch nalType {
	case nalTypeFUA:
		r.handleFUA(payload, header, isFirstOfAU)
	case nalTypeSTAPA:
		r.fuPending = false
		r.handleSTAPA(payload, header, isFirstOfAU)
	default:
		r.fuPending = false
		r.resetNAL()
		r.appendPayload(payload)
		r.completeNAL(header, isFirstOfAU)
	}

	if header.Marker() {
		r.expectNewAU = true
	}
}

func (r *Reader) handleFUA(payload []byte, header wire.RTPHeader, isFirstOfAU bool) {
	if len(payload) < 2 {
		return
	}
	fuIndicator := payload[0]
	fuHeader := payload[1]
	start := fuHeader&fuStartBit != 0
	end := fuHeader&fuEndBit != 0

	if start {
		r.resetNAL()
		nalHeader := (fuIndicator & 0xE0) | (fuHeader & nalTypeMask)
		r.appendPayload([]byte{nalHeader})
		r.fuPending = true
	}
	if !r.fuPending {
		return
	}
	r.appendPayload(payload[2:])
	if end {
		r.fuPending = false
		r.completeNAL(header, isFirstOfAU)
	}
}

func (r *Reader) handleSTAPA(payload []byte, header wire.RTPHeader, isFirstOfAU bool) {
	if len(payload) < 3 {
		return
	}
	offset := 1
	for offset+2 <= len(payload) {
		nalSize := int(payload[offset])<<8 | int(payload[offset+1])
		offset += 2
		if offset+nalSize > len(payload) {
			return
		}
		r.resetNAL()
		r.appendPayload(payload[offset : offset+nalSize])
		r.completeNAL(header, isFirstOfAU)
		offset += nalSize
	}
}

func (r *Reader) resetNAL() {
	r.size = 0
	if r.cfg.InsertStartCodes {
		r.appendBytes(annexBStartCode[:])
	}
}

func (r *Reader) appendPayload(data []byte) {
	r.appendBytes(data)
}

// appendBytes writes data at the current write position, growing the buffer
// via the callback when needed, bounded by maxResizeAttempts. Bytes that
// cannot be accommodated are silently dropped, matching the "stall until
// next buffer grant" tolerance required of the callback contract.
func (r *Reader) appendBytes(data []byte) {
	needed := r.size + len(data)
	for attempt := 0; needed > len(r.buf) && attempt < maxResizeAttempts; attempt++ {
		r.growBuffer(needed)
	}
	if needed > len(r.buf) {
		return
	}
	copy(r.buf[r.size:needed], data)
	r.size = needed
}

// growBuffer requests a replacement buffer able to hold at least
// neededCapacity bytes and always adopts whatever the callback returns,
// even when it is still too small, matching
// ARSTREAM_Reader2_CheckBufferSize's unconditional
// reader->currentNaluBuffer = nextNaluBuffer assignment. The copied region
// is clamped to old's actual length, not just oldSize, since a prior
// resize attempt in the same retry loop may already have shrunk old below
// oldSize; copy itself further truncates when the replacement is
// undersized, so this never overruns either buffer. A caller that keeps
// refusing to grow just keeps losing this datagram's write until
// maxResizeAttempts gives up.
func (r *Reader) growBuffer(neededCapacity int) {
	old := r.buf
	oldSize := r.size

	req := r.callback(Event{
		Cause:             CauseNALUBufferTooSmall,
		Buffer:            old,
		Size:              oldSize,
		RequestedCapacity: neededCapacity,
	})

	copyable := oldSize
	if copyable > len(old) {
		copyable = len(old)
	}
	copy(req.Buffer, old[:copyable])
	r.callback(Event{Cause: CauseNALUCopyComplete, Buffer: old, Size: oldSize})
	r.buf = req.Buffer
}

func (r *Reader) completeNAL(header wire.RTPHeader, isFirstOfAU bool) {
	res := r.callback(Event{
		Cause:            CauseNALUComplete,
		Buffer:           r.buf,
		Size:             r.size,
		MediaTimestampUs: header.TimestampMicros(),
		IsFirstOfAU:      isFirstOfAU,
		IsLastOfAU:       header.Marker(),
		GapsInSeqNum:     r.gapsInSeqNum,
	})
	if res.Buffer != nil {
		r.buf = res.Buffer
	}
	r.size = 0
}

// signed16Delta returns (to - from) interpreted as a signed delta over a
// 16-bit wrapping sequence space, in [-32768, 32767].
func signed16Delta(from, to uint16) int {
	delta := int(to) - int(from)
	if delta < -32768 {
		delta += 65536
	} else if delta > 32767 {
		delta -= 65536
	}
	return delta
}
