package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aeroframe/vstream/internal/ringmonitor"
)

type fakeSource struct {
	stats ringmonitor.Stats
	err   error
}

func (f fakeSource) GetMonitoring(timeIntervalUs uint64, wantJitter, wantStdDev bool) (ringmonitor.Stats, error) {
	return f.stats, f.err
}

func TestBridgePollOnceUpdatesGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := NewBridge(reg, nil)

	b.Track("session-1", fakeSource{stats: ringmonitor.Stats{
		BytesReceived:   4096,
		PacketsReceived: 100,
		PacketsMissed:   2,
	}})

	b.pollOnce(uint64(time.Second / time.Microsecond))

	if got := testutil.ToFloat64(b.bytesReceived.WithLabelValues("session-1")); got != 4096 {
		t.Errorf("bytesReceived = %v, want 4096", got)
	}
	if got := testutil.ToFloat64(b.packetsMissed.WithLabelValues("session-1")); got != 2 {
		t.Errorf("packetsMissed = %v, want 2", got)
	}
}

func TestBridgePollOnceSkipsErroringSource(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := NewBridge(reg, nil)

	b.Track("session-1", fakeSource{err: errors.New("no points recorded")})
	// Should not panic; the erroring source is simply skipped this tick.
	b.pollOnce(uint64(time.Second / time.Microsecond))
}

func TestBridgeUntrackClearsSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := NewBridge(reg, nil)

	b.Track("session-1", fakeSource{})
	b.pollOnce(uint64(time.Second / time.Microsecond))
	b.Untrack("session-1")

	b.mu.Lock()
	_, ok := b.sources["session-1"]
	b.mu.Unlock()
	if ok {
		t.Error("session-1 should have been removed from the poll set")
	}
	if n := testutil.CollectAndCount(b.bytesReceived); n != 0 {
		t.Errorf("bytesReceived series after Untrack = %d, want 0", n)
	}
}
