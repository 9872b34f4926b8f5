package wire

import (
	"encoding/binary"
	"fmt"
)

// FragHeaderSize is the on-wire size of FragHeader, in bytes.
const FragHeaderSize = 4

// FragmentSize is the fixed payload length carried by every fragment except
// the last one in a frame, which may be shorter.
const FragmentSize = 1024

// FragHeader is the Engine A per-fragment data header: big-endian on the
// wire, 4 bytes.
type FragHeader struct {
	FrameNumber       uint16
	FragmentNumber    uint8
	FragmentsPerFrame uint8
}

// Marshal encodes h into a new FragHeaderSize-byte big-endian buffer.
func (h FragHeader) Marshal() []byte {
	buf := make([]byte, FragHeaderSize)
	h.MarshalTo(buf)
	return buf
}

// MarshalTo encodes h into buf, which must be at least FragHeaderSize bytes.
func (h FragHeader) MarshalTo(buf []byte) {
	_ = buf[FragHeaderSize-1]
	binary.BigEndian.PutUint16(buf[0:2], h.FrameNumber)
	buf[2] = h.FragmentNumber
	buf[3] = h.FragmentsPerFrame
}

// UnmarshalFragHeader decodes a FragHeader from the front of buf.
func UnmarshalFragHeader(buf []byte) (FragHeader, error) {
	if len(buf) < FragHeaderSize {
		return FragHeader{}, fmt.Errorf("wire: frag header needs %d bytes, got %d", FragHeaderSize, len(buf))
	}
	return FragHeader{
		FrameNumber:       binary.BigEndian.Uint16(buf[0:2]),
		FragmentNumber:    buf[2],
		FragmentsPerFrame: buf[3],
	}, nil
}
