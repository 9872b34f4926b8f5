// Package rtpstream implements Engine B: reassembly of an H.264 elementary
// stream delivered as an RTP-like unicast or multicast UDP flow, supporting
// single-NAL, FU-A, and STAP-A payload modes (RFC 6184), plus per-interval
// reception statistics via internal/ringmonitor. See fragstream for the
// bitmap-acknowledged sibling engine.
package rtpstream
