// Package ringmonitor implements the fixed-capacity circular buffer of
// per-packet reception observations used by Engine B to compute rolling
// loss and jitter statistics.
package ringmonitor

import (
	"errors"
	"math"
)

// Capacity is the fixed number of points the ring holds.
const Capacity = 2048

// ErrEmpty is returned by Query when no points have been recorded yet.
var ErrEmpty = errors.New("ringmonitor: no points recorded")

// ErrZeroInterval is returned by Query when the requested lookback window
// is zero.
var ErrZeroInterval = errors.New("ringmonitor: interval must be non-zero")

// Point is a single per-packet observation.
type Point struct {
	RecvTimestampUs uint64 // wall-clock time of arrival, microseconds
	MediaTimestamp  uint32 // raw 90kHz media clock reading
	SeqNum          uint16
	Marker          bool
	Bytes           uint32
}

// Ring is a fixed-capacity circular buffer of Points. It has no internal
// locking; callers serialize access under their own mutex, such as
// Engine B's monitoring mutex.
type Ring struct {
	points [Capacity]Point
	index  int // slot most recently written
	count  int // number of valid points, 0..Capacity
}

// Add records a new observation, overwriting the oldest point once the ring
// is full.
func (r *Ring) Add(p Point) {
	if r.count < Capacity {
		r.count++
	}
	r.index = (r.index + 1) % Capacity
	r.points[r.index] = p
}

// Count returns the number of valid points currently stored.
func (r *Ring) Count() int {
	return r.count
}

// Stats is the result of a Query over a lookback window.
type Stats struct {
	RealIntervalUs      uint64
	ReceptionTimeJitter uint32
	BytesReceived       uint32
	MeanPacketSize      uint32
	PacketSizeStdDev    uint32
	PacketsReceived      uint32
	PacketsMissed       uint32
}

// Query walks backward from the most recently added point, accumulating
// statistics over at most timeIntervalUs of real time or the whole ring,
// whichever is reached first. firstTimestamp anchors the raw media clock to
// zero, the way the reader's "first timestamp" field does, so per-packet
// reception delay can be computed as recvTs - mediaTsInMicros.
//
// wantJitter and wantStdDev control whether the second, variance-computing
// pass runs; skip both when the caller only needs counts and byte totals.
func (r *Ring) Query(timeIntervalUs uint64, firstTimestamp uint32, wantJitter, wantStdDev bool) (Stats, error) {
	if r.count == 0 {
		return Stats{}, ErrEmpty
	}
	if timeIntervalUs == 0 {
		return Stats{}, ErrZeroInterval
	}

	idx := r.index
	startTime := r.points[idx].RecvTimestampUs
	curTime := startTime

	var bytesSum uint64
	var receptionTimeSum int64
	gapsInSeqNum := 0
	points := 0

	auMicros := func(p Point) int64 {
		return int64((uint64(p.MediaTimestamp-firstTimestamp)*1000 + 45) / 90)
	}

	first := r.points[idx]
	bytesSum += uint64(first.Bytes)
	receptionTimeSum += int64(first.RecvTimestampUs) - auMicros(first)
	previousSeq := first.SeqNum
	points++

	for startTime-curTime < timeIntervalUs && points < r.count {
		idx = prevIndex(idx)
		p := r.points[idx]
		curTime = p.RecvTimestampUs
		bytesSum += uint64(p.Bytes)
		receptionTimeSum += int64(p.RecvTimestampUs) - auMicros(p)

		// Walking backward in time: previousSeq is the more recent point
		// already processed, p.SeqNum is the older point being added now.
		seqDelta := signed16Delta(p.SeqNum, previousSeq)
		gapsInSeqNum += seqDelta - 1
		previousSeq = p.SeqNum
		points++
	}

	endTime := curTime
	meanPacketSize := uint32(bytesSum / uint64(points))
	meanReceptionTime := receptionTimeSum / int64(points)

	stats := Stats{
		RealIntervalUs: startTime - endTime,
		BytesReceived:  uint32(bytesSum),
		MeanPacketSize: meanPacketSize,
		PacketsReceived: uint32(points),
		PacketsMissed:  uint32(gapsInSeqNum),
	}

	if wantJitter || wantStdDev {
		var receptionVarSum, sizeVarSum float64
		idx = r.index
		for i := 0; i < points; i++ {
			if i > 0 {
				idx = prevIndex(idx)
			}
			p := r.points[idx]
			receptionTime := int64(p.RecvTimestampUs) - auMicros(p)
			dr := float64(receptionTime - meanReceptionTime)
			receptionVarSum += dr * dr
			ds := float64(int64(p.Bytes) - int64(meanPacketSize))
			sizeVarSum += ds * ds
		}
		if wantJitter {
			stats.ReceptionTimeJitter = uint32(math.Sqrt(receptionVarSum / float64(points)))
		}
		if wantStdDev {
			stats.PacketSizeStdDev = uint32(math.Sqrt(sizeVarSum / float64(points)))
		}
	}

	return stats, nil
}

func prevIndex(idx int) int {
	if idx == 0 {
		return Capacity - 1
	}
	return idx - 1
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
