package rtpstream

// defaultMaxPacketSize matches a conservative 1500-byte Ethernet MTU minus
// typical IP/UDP overhead, used when Config.MaxPacketSize is left at 0.
const defaultMaxPacketSize = 1500 - 20 - 8 // IPv4 header, UDP header

// Config configures a Reader's socket bind and depacketization behavior.
type Config struct {
	// RecvAddr, if non-empty and a multicast address (net.IP.IsMulticast),
	// causes the reader to join that group; otherwise the bind is
	// unicast.
	RecvAddr string

	// IfaceAddr selects the local interface to bind/join on, by one of
	// its addresses. Empty means "any interface".
	IfaceAddr string

	// RecvPort is the UDP port to bind. Required, must be > 0.
	RecvPort int

	// RecvTimeoutSec configures the receive socket's SO_RCVTIMEO at bind
	// time and bounds how long the reader tolerates receiving no
	// datagrams before logging a stall warning; it does not, by itself,
	// stop the worker. Required, must be > 0.
	RecvTimeoutSec int

	// MaxPacketSize bounds the per-recvfrom buffer size. 0 selects
	// defaultMaxPacketSize.
	MaxPacketSize int

	// InsertStartCodes, when true, prefixes each reassembled NAL unit
	// with the 4-byte Annex B start code 00 00 00 01.
	InsertStartCodes bool

	// NaluCallback is the consumer's buffer-handoff function. Required.
	NaluCallback Callback
}

func (c Config) validate() error {
	if c.RecvPort <= 0 || c.RecvTimeoutSec <= 0 || c.NaluCallback == nil {
		return ErrBadParameters
	}
	return nil
}

func (c Config) maxPacketSize() int {
	if c.MaxPacketSize > 0 {
		return c.MaxPacketSize
	}
	return defaultMaxPacketSize
}
