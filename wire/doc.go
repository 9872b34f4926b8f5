// Package wire encodes and decodes the fixed-layout headers used by the two
// receive engines: the Engine A fragment data header and acknowledgement
// packet, and the Engine B RTP-like header. All layouts are byte-exact with
// the on-wire formats described by the reassembler's sender counterpart;
// nothing here allocates except the byte slice returned by each Marshal.
package wire
