// Package metrics polls Engine B's per-session reception statistics
// (internal/ringmonitor, surfaced by rtpstream.Reader.GetMonitoring) into
// Prometheus gauges, labeled by session key, for scraping by an external
// collector.
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aeroframe/vstream/internal/ringmonitor"
)

// Source is the subset of rtpstream.Reader's surface the bridge polls. It
// is an interface so tests can substitute a fake without a live socket.
type Source interface {
	GetMonitoring(timeIntervalUs uint64, wantJitter, wantStdDev bool) (ringmonitor.Stats, error)
}

// Bridge periodically samples a set of tracked Sources and republishes
// their reception statistics as Prometheus gauges labeled by session key.
type Bridge struct {
	log *slog.Logger

	bytesReceived    *prometheus.GaugeVec
	packetsReceived  *prometheus.GaugeVec
	packetsMissed    *prometheus.GaugeVec
	receptionJitter  *prometheus.GaugeVec
	packetSizeStdDev *prometheus.GaugeVec

	mu      sync.Mutex
	sources map[string]Source
}

// NewBridge constructs a Bridge and registers its gauge vectors with reg. If
// log is nil, slog.Default() is used.
func NewBridge(reg prometheus.Registerer, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	labels := []string{"session"}
	b := &Bridge{
		log: log.With("component", "metrics-bridge"),
		bytesReceived: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vstream",
			Subsystem: "rtpstream",
			Name:      "bytes_received",
			Help:      "Bytes received over the last polling interval.",
		}, labels),
		packetsReceived: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vstream",
			Subsystem: "rtpstream",
			Name:      "packets_received",
			Help:      "Packets received over the last polling interval.",
		}, labels),
		packetsMissed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vstream",
			Subsystem: "rtpstream",
			Name:      "packets_missed",
			Help:      "Sequence-number gaps observed over the last polling interval.",
		}, labels),
		receptionJitter: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vstream",
			Subsystem: "rtpstream",
			Name:      "reception_jitter_us",
			Help:      "Standard deviation of per-packet reception delay, in microseconds.",
		}, labels),
		packetSizeStdDev: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vstream",
			Subsystem: "rtpstream",
			Name:      "packet_size_stddev",
			Help:      "Standard deviation of received packet size.",
		}, labels),
		sources: make(map[string]Source),
	}
	reg.MustRegister(b.bytesReceived, b.packetsReceived, b.packetsMissed, b.receptionJitter, b.packetSizeStdDev)
	return b
}

// Track adds src to the poll set under key, replacing any prior source
// tracked under the same key.
func (b *Bridge) Track(key string, src Source) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sources[key] = src
}

// Untrack removes key from the poll set and clears its gauge series.
func (b *Bridge) Untrack(key string) {
	b.mu.Lock()
	delete(b.sources, key)
	b.mu.Unlock()

	b.bytesReceived.DeleteLabelValues(key)
	b.packetsReceived.DeleteLabelValues(key)
	b.packetsMissed.DeleteLabelValues(key)
	b.receptionJitter.DeleteLabelValues(key)
	b.packetSizeStdDev.DeleteLabelValues(key)
}

// Run polls every tracked source once per interval until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	intervalUs := uint64(interval / time.Microsecond)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.pollOnce(intervalUs)
		}
	}
}

func (b *Bridge) pollOnce(intervalUs uint64) {
	b.mu.Lock()
	snapshot := make(map[string]Source, len(b.sources))
	for k, v := range b.sources {
		snapshot[k] = v
	}
	b.mu.Unlock()

	for key, src := range snapshot {
		stats, err := src.GetMonitoring(intervalUs, true, true)
		if err != nil {
			b.log.Debug("monitoring query failed", "session", key, "error", err)
			continue
		}
		b.bytesReceived.WithLabelValues(key).Set(float64(stats.BytesReceived))
		b.packetsReceived.WithLabelValues(key).Set(float64(stats.PacketsReceived))
		b.packetsMissed.WithLabelValues(key).Set(float64(stats.PacketsMissed))
		b.receptionJitter.WithLabelValues(key).Set(float64(stats.ReceptionTimeJitter))
		b.packetSizeStdDev.WithLabelValues(key).Set(float64(stats.PacketSizeStdDev))
	}
}
