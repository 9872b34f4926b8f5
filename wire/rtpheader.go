package wire

import (
	"encoding/binary"
	"fmt"
)

// RTPHeaderSize is the on-wire size of RTPHeader, in bytes.
const RTPHeaderSize = 12

// MarkerBit is the position, within the low byte of Flags, of the
// "last packet of access unit" marker.
const MarkerBit = 1 << 7

// RTPHeader is the Engine B per-packet header: big-endian, 12 bytes, laid
// out like a real RTP header (version/padding/extension/CC byte followed by
// marker/payload-type byte, sequence number, timestamp, SSRC) so that a
// standard RTP-aware sniffer can still make sense of the flow. Only Flags,
// SeqNum, and Timestamp carry semantics this reader interprets; SSRC is
// present to complete the 12-byte layout and is round-tripped but ignored.
type RTPHeader struct {
	Flags     uint16
	SeqNum    uint16
	Timestamp uint32
	SSRC      uint32
}

// Marker reports whether the marker bit (bit 7 of the low byte of Flags) is
// set, i.e. this packet is the last of its access unit.
func (h RTPHeader) Marker() bool {
	return h.Flags&MarkerBit != 0
}

// TimestampMicros converts the 90 kHz RTP clock reading to microseconds,
// using the same rounding as the sender: (ts*1000+45)/90. Wraparound of the
// 32-bit clock is not handled, per spec.
func (h RTPHeader) TimestampMicros() uint64 {
	return (uint64(h.Timestamp)*1000 + 45) / 90
}

// Marshal encodes h into a new RTPHeaderSize-byte big-endian buffer.
func (h RTPHeader) Marshal() []byte {
	buf := make([]byte, RTPHeaderSize)
	h.MarshalTo(buf)
	return buf
}

// MarshalTo encodes h into buf, which must be at least RTPHeaderSize bytes.
func (h RTPHeader) MarshalTo(buf []byte) {
	_ = buf[RTPHeaderSize-1]
	binary.BigEndian.PutUint16(buf[0:2], h.Flags)
	binary.BigEndian.PutUint16(buf[2:4], h.SeqNum)
	binary.BigEndian.PutUint32(buf[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], h.SSRC)
}

// UnmarshalRTPHeader decodes an RTPHeader from the front of buf.
func UnmarshalRTPHeader(buf []byte) (RTPHeader, error) {
	if len(buf) < RTPHeaderSize {
		return RTPHeader{}, fmt.Errorf("wire: rtp header needs %d bytes, got %d", RTPHeaderSize, len(buf))
	}
	return RTPHeader{
		Flags:     binary.BigEndian.Uint16(buf[0:2]),
		SeqNum:    binary.BigEndian.Uint16(buf[2:4]),
		Timestamp: binary.BigEndian.Uint32(buf[4:8]),
		SSRC:      binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}
