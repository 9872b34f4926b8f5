package fragstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aeroframe/vstream/wire"
)

// fakeManager is an in-memory NetworkManager: ReadDataWithTimeout drains a
// channel of pre-built datagrams, SendData records what was sent.
type fakeManager struct {
	mu   sync.Mutex
	in   chan []byte
	sent []wire.AckPacket
}

func newFakeManager(datagrams ...[]byte) *fakeManager {
	ch := make(chan []byte, len(datagrams)+1)
	for _, d := range datagrams {
		ch <- d
	}
	return &fakeManager{in: ch}
}

func (m *fakeManager) ReadDataWithTimeout(ctx context.Context, bufferID int, buf []byte, timeout time.Duration) (int, error) {
	select {
	case d, ok := <-m.in:
		if !ok {
			return 0, errors.New("fakeManager: closed")
		}
		return copy(buf, d), nil
	case <-time.After(10 * time.Millisecond):
		return 0, errors.New("fakeManager: no data")
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (m *fakeManager) SendData(bufferID int, payload []byte, ackID uint64, maxAttempts int) error {
	pkt, err := wire.UnmarshalAckPacket(payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sent = append(m.sent, pkt)
	m.mu.Unlock()
	return nil
}

func (m *fakeManager) lastAck() (wire.AckPacket, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return wire.AckPacket{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// buildFrame produces the fragment datagrams for a frame split into
// fragmentsPerFrame pieces of wire.FragmentSize bytes each (last one
// possibly short), delivered in the given fragment order.
func buildFrame(frameNumber uint16, totalSize int, order []int) [][]byte {
	fragmentsPerFrame := (totalSize + wire.FragmentSize - 1) / wire.FragmentSize
	if fragmentsPerFrame == 0 {
		fragmentsPerFrame = 1
	}
	out := make([][]byte, 0, len(order))
	for _, fragNum := range order {
		start := fragNum * wire.FragmentSize
		end := start + wire.FragmentSize
		if end > totalSize {
			end = totalSize
		}
		payload := make([]byte, end-start)
		for i := range payload {
			payload[i] = byte(frameNumber + uint16(i))
		}
		hdr := wire.FragHeader{
			FrameNumber:       frameNumber,
			FragmentNumber:    uint8(fragNum),
			FragmentsPerFrame: uint8(fragmentsPerFrame),
		}
		datagram := make([]byte, wire.FragHeaderSize+len(payload))
		hdr.MarshalTo(datagram)
		copy(datagram[wire.FragHeaderSize:], payload)
		out = append(out, datagram)
	}
	return out
}

func inOrder(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// recordingCallback accumulates FrameComplete events and always grants
// growth requests with a plain make([]byte, n) buffer.
type recordingCallback struct {
	mu        sync.Mutex
	completed []Event
	cancelled []Event
}

func (r *recordingCallback) fn(ev Event) Result {
	switch ev.Cause {
	case CauseFrameComplete:
		r.mu.Lock()
		r.completed = append(r.completed, ev)
		r.mu.Unlock()
		buf := make([]byte, 8192)
		return Result{Buffer: buf}
	case CauseFrameTooSmall:
		return Result{Buffer: make([]byte, ev.RequestedCapacity)}
	case CauseCopyComplete:
		return Result{}
	case CauseCancel:
		r.mu.Lock()
		r.cancelled = append(r.cancelled, ev)
		r.mu.Unlock()
		return Result{}
	}
	return Result{}
}

func (r *recordingCallback) events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.completed))
	copy(out, r.completed)
	return out
}

func runDataWorkerUntilIdle(t *testing.T, reader *Reader, mgr *fakeManager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reader.RunDataWorker(ctx)
		close(done)
	}()

	deadline := time.After(500 * time.Millisecond)
	for len(mgr.in) > 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for datagrams to drain")
		case <-time.After(time.Millisecond):
		}
	}
	// give the worker one more read cycle to process the last datagram.
	time.Sleep(20 * time.Millisecond)

	reader.Stop()
	cancel()
	<-done
}

// TestScenarioS1 is the spec's happy path: three frames of three fragments
// each, delivered in order, no drops.
func TestScenarioS1(t *testing.T) {
	const frameSize = 2500
	var datagrams [][]byte
	for f := uint16(0); f < 3; f++ {
		datagrams = append(datagrams, buildFrame(f, frameSize, inOrder(3))...)
	}
	mgr := newFakeManager(datagrams...)
	cb := &recordingCallback{}

	reader, err := New(mgr, 1, 2, cb.fn, make([]byte, 8192), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	runDataWorkerUntilIdle(t, reader, mgr)

	events := cb.events()
	if len(events) != 3 {
		t.Fatalf("got %d FrameComplete events, want 3", len(events))
	}
	for i, ev := range events {
		if ev.Size != frameSize {
			t.Errorf("frame %d: size = %d, want %d", i, ev.Size, frameSize)
		}
		if ev.MissedFrames != 0 {
			t.Errorf("frame %d: missed = %d, want 0", i, ev.MissedFrames)
		}
	}
}

// TestScenarioS2 delivers one frame's fragments out of order and expects a
// single FrameComplete with no gap reported.
func TestScenarioS2(t *testing.T) {
	const frameSize = 2500
	datagrams := buildFrame(0, frameSize, []int{0, 2, 1})
	mgr := newFakeManager(datagrams...)
	cb := &recordingCallback{}

	reader, err := New(mgr, 1, 2, cb.fn, make([]byte, 8192), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	runDataWorkerUntilIdle(t, reader, mgr)

	events := cb.events()
	if len(events) != 1 {
		t.Fatalf("got %d FrameComplete events, want 1", len(events))
	}
	if events[0].MissedFrames != 0 {
		t.Errorf("missed = %d, want 0", events[0].MissedFrames)
	}
	if events[0].Size != frameSize {
		t.Errorf("size = %d, want %d", events[0].Size, frameSize)
	}
}

// TestScenarioS3 drops frame 1 entirely: frame 0 completes normally, then
// frame 2 completes reporting one missed frame.
func TestScenarioS3(t *testing.T) {
	const frameSize = 2500
	var datagrams [][]byte
	datagrams = append(datagrams, buildFrame(0, frameSize, inOrder(3))...)
	datagrams = append(datagrams, buildFrame(2, frameSize, inOrder(3))...)
	mgr := newFakeManager(datagrams...)
	cb := &recordingCallback{}

	reader, err := New(mgr, 1, 2, cb.fn, make([]byte, 8192), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	runDataWorkerUntilIdle(t, reader, mgr)

	events := cb.events()
	if len(events) != 2 {
		t.Fatalf("got %d FrameComplete events, want 2", len(events))
	}
	if events[0].MissedFrames != 0 {
		t.Errorf("frame 0: missed = %d, want 0", events[0].MissedFrames)
	}
	if events[1].MissedFrames != 1 {
		t.Errorf("frame 2: missed = %d, want 1", events[1].MissedFrames)
	}
}

// TestFrameCompletesAtMostOnce covers invariant 2: redundant fragments
// (duplicate deliveries of a fragment already accounted for) must not
// trigger a second FrameComplete for the same frame number.
func TestFrameCompletesAtMostOnce(t *testing.T) {
	const frameSize = 2500
	datagrams := buildFrame(0, frameSize, []int{0, 1, 2, 2, 1, 0})
	mgr := newFakeManager(datagrams...)
	cb := &recordingCallback{}

	reader, err := New(mgr, 1, 2, cb.fn, make([]byte, 8192), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	runDataWorkerUntilIdle(t, reader, mgr)

	if got := len(cb.events()); got != 1 {
		t.Fatalf("got %d FrameComplete events, want 1", got)
	}
}

// TestNullBufferCallbackDoesNotHang exercises the FrameTooSmall path with a
// callback that refuses (returns a nil buffer) every request larger than
// tinyBufSize: the worker must skip the oversized frame and keep making
// progress on subsequent frames, once a later request is granted, instead
// of hanging or panicking.
func TestNullBufferCallbackDoesNotHang(t *testing.T) {
	const tinyBufSize = 512
	const frameSize = 2500

	var datagrams [][]byte
	datagrams = append(datagrams, buildFrame(0, frameSize, inOrder(3))...) // too big, always refused
	datagrams = append(datagrams, buildFrame(1, 400, inOrder(1))...)       // fits within tinyBufSize, granted

	mgr := newFakeManager(datagrams...)

	var completed []Event
	var mu sync.Mutex
	cbFn := func(ev Event) Result {
		switch ev.Cause {
		case CauseFrameTooSmall:
			if ev.RequestedCapacity > tinyBufSize {
				return Result{Buffer: nil} // refuse the oversized frame
			}
			return Result{Buffer: make([]byte, ev.RequestedCapacity)}
		case CauseFrameComplete:
			mu.Lock()
			completed = append(completed, ev)
			mu.Unlock()
			return Result{Buffer: make([]byte, tinyBufSize)}
		default:
			return Result{}
		}
	}

	reader, err := New(mgr, 1, 2, cbFn, make([]byte, tinyBufSize), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	runDataWorkerUntilIdle(t, reader, mgr)

	mu.Lock()
	defer mu.Unlock()
	if len(completed) != 1 {
		t.Fatalf("got %d FrameComplete events, want 1 (frame 0 should have been skipped)", len(completed))
	}
	if completed[0].Size != 400 {
		t.Errorf("size = %d, want 400", completed[0].Size)
	}
}

// TestCancelOnShutdown covers the data worker's exit-path callback.
func TestCancelOnShutdown(t *testing.T) {
	mgr := newFakeManager()
	cb := &recordingCallback{}

	reader, err := New(mgr, 1, 2, cb.fn, make([]byte, 8192), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reader.RunDataWorker(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	reader.Stop()
	cancel()
	<-done

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if len(cb.cancelled) != 1 {
		t.Fatalf("got %d Cancel events, want 1", len(cb.cancelled))
	}
}

// TestCloseBusyUntilWorkersExit covers Close's ErrBusy contract.
func TestCloseBusyUntilWorkersExit(t *testing.T) {
	mgr := newFakeManager()
	cb := &recordingCallback{}

	reader, err := New(mgr, 1, 2, cb.fn, make([]byte, 8192), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := reader.Close(); err != nil {
		t.Fatalf("Close on unstarted reader: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		reader.RunDataWorker(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	if err := reader.Close(); !errors.Is(err, ErrBusy) {
		t.Fatalf("Close while running: got %v, want ErrBusy", err)
	}

	reader.Stop()
	<-done

	if err := reader.Close(); err != nil {
		t.Fatalf("Close after Stop observed: %v", err)
	}
}

// TestNewRejectsBadParameters covers the ERROR_BAD_PARAMETERS constructor
// contract.
func TestNewRejectsBadParameters(t *testing.T) {
	cb := &recordingCallback{}
	cases := []struct {
		name    string
		manager NetworkManager
		cbFn    Callback
		buf     []byte
	}{
		{"nil manager", nil, cb.fn, make([]byte, 8)},
		{"nil callback", newFakeManager(), nil, make([]byte, 8)},
		{"empty buffer", newFakeManager(), cb.fn, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.manager, 1, 2, tc.cbFn, tc.buf, nil)
			if !errors.Is(err, ErrBadParameters) {
				t.Fatalf("got %v, want ErrBadParameters", err)
			}
		})
	}
}

// TestAckWorkerReflectsBitmap confirms the ack worker reports the current
// frame number and bitmap state, using little-endian wire encoding.
func TestAckWorkerReflectsBitmap(t *testing.T) {
	const frameSize = 2500
	datagrams := buildFrame(5, frameSize, []int{0, 1})
	mgr := newFakeManager(datagrams...)
	cb := &recordingCallback{}

	reader, err := New(mgr, 1, 2, cb.fn, make([]byte, 8192), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	dataDone := make(chan struct{})
	ackDone := make(chan struct{})
	go func() {
		reader.RunDataWorker(ctx)
		close(dataDone)
	}()
	go func() {
		reader.RunAckWorker(ctx)
		close(ackDone)
	}()

	deadline := time.After(500 * time.Millisecond)
	for {
		if pkt, ok := mgr.lastAck(); ok && pkt.NumFrame == 5 {
			if pkt.LowPacketsAck&0b11 != 0b11 {
				t.Fatalf("ack bitmap low = %b, want bits 0,1 set", pkt.LowPacketsAck)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for ack reflecting frame 5")
		case <-time.After(time.Millisecond):
		}
	}

	reader.Stop()
	cancel()
	<-dataDone
	<-ackDone
}
