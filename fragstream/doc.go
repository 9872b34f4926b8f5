// Package fragstream implements Engine A: a reassembler for frames that
// arrive as fixed-size fragments over an externally provided datagram
// manager, acknowledged back to the sender via a continuously updated
// fragment bitmap. See rtpstream for the real-time RTP-like sibling engine.
package fragstream
