package wire

import (
	"encoding/binary"
	"fmt"
)

// AckPacketSize is the on-wire size of AckPacket, in bytes.
const AckPacketSize = 20

// AckPacket is the Engine A acknowledgement packet. Unlike the fragment data
// header, it is little-endian on the wire — a quirk of the original sender,
// preserved here rather than "fixed", since the sender side is a fixed
// external collaborator this reader must interoperate with.
type AckPacket struct {
	NumFrame       uint32
	HighPacketsAck uint64
	LowPacketsAck  uint64
}

// Marshal encodes p into a new AckPacketSize-byte little-endian buffer,
// ready to hand to the network manager's send call.
func (p AckPacket) Marshal() []byte {
	buf := make([]byte, AckPacketSize)
	p.MarshalTo(buf)
	return buf
}

// MarshalTo encodes p into buf, which must be at least AckPacketSize bytes.
func (p AckPacket) MarshalTo(buf []byte) {
	_ = buf[AckPacketSize-1]
	binary.LittleEndian.PutUint32(buf[0:4], p.NumFrame)
	binary.LittleEndian.PutUint64(buf[4:12], p.HighPacketsAck)
	binary.LittleEndian.PutUint64(buf[12:20], p.LowPacketsAck)
}

// UnmarshalAckPacket decodes an AckPacket from the front of buf. It exists
// for symmetry and testing; the reader itself only ever marshals ack
// packets, never parses them back.
func UnmarshalAckPacket(buf []byte) (AckPacket, error) {
	if len(buf) < AckPacketSize {
		return AckPacket{}, fmt.Errorf("wire: ack packet needs %d bytes, got %d", AckPacketSize, len(buf))
	}
	return AckPacket{
		NumFrame:       binary.LittleEndian.Uint32(buf[0:4]),
		HighPacketsAck: binary.LittleEndian.Uint64(buf[4:12]),
		LowPacketsAck:  binary.LittleEndian.Uint64(buf[12:20]),
	}, nil
}
