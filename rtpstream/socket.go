package rtpstream

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// recvBufferBytes is the requested socket receive buffer size; the kernel
// typically doubles whatever is requested.
const recvBufferBytes = 600 * 1024

// bindSocket creates and configures the receive socket per cfg: SO_REUSEADDR,
// a SO_RCVTIMEO derived from cfg.RecvTimeoutSec, a best-effort receive-buffer
// size, and — when RecvAddr is a multicast address — group membership on the
// selected interface. On any failure the partially-constructed socket is
// closed before returning.
func bindSocket(cfg Config) (net.PacketConn, error) {
	multicast := cfg.RecvAddr != "" && net.ParseIP(cfg.RecvAddr).IsMulticast()

	bindAddr := cfg.IfaceAddr
	if multicast {
		// Group membership, not the local bind address, selects which
		// datagrams are delivered; bind to the wildcard address the way
		// the original falls back to INADDR_ANY.
		bindAddr = ""
	}

	lc := net.ListenConfig{Control: socketOptions(cfg.RecvTimeoutSec)}
	pc, err := lc.ListenPacket(context.Background(), "udp4", net.JoinHostPort(bindAddr, strconv.Itoa(cfg.RecvPort)))
	if err != nil {
		return nil, fmt.Errorf("rtpstream: bind: %w", err)
	}

	if udpConn, ok := pc.(*net.UDPConn); ok {
		_ = udpConn.SetReadBuffer(recvBufferBytes)
	}

	if !multicast {
		return pc, nil
	}

	iface, err := findInterfaceByAddr(cfg.IfaceAddr)
	if err != nil {
		pc.Close()
		return nil, err
	}
	p := ipv4.NewPacketConn(pc)
	if err := p.JoinGroup(iface, &net.UDPAddr{IP: net.ParseIP(cfg.RecvAddr)}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("rtpstream: join multicast group: %w", err)
	}
	return pc, nil
}

// findInterfaceByAddr returns the interface owning addr, or nil (meaning
// "any interface", i.e. INADDR_ANY) when addr is empty.
func findInterfaceByAddr(addr string) (*net.Interface, error) {
	if addr == "" {
		return nil, nil
	}
	want := net.ParseIP(addr)
	if want == nil {
		return nil, fmt.Errorf("%w: invalid interface address %q", ErrBadParameters, addr)
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("rtpstream: enumerate interfaces: %w", err)
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if ok && ipNet.IP.Equal(want) {
				return &ifaces[i], nil
			}
		}
	}
	return nil, fmt.Errorf("rtpstream: no interface owns address %q", addr)
}

// socketOptions returns a net.ListenConfig.Control function that sets
// SO_REUSEADDR and, mirroring ARSTREAM_Reader2.c's setsockopt(SO_RCVTIMEO),
// a receive timeout derived from recvTimeoutSec. This is a socket-level
// property distinct from RunRecvWorker's 500ms poll deadline: the poll
// deadline bounds a single ReadFrom so Stop is observed promptly, while
// SO_RCVTIMEO is the bind-time configuration the spec calls for.
func socketOptions(recvTimeoutSec int) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		if err := c.Control(func(fd uintptr) {
			if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
				return
			}
			tv := unix.Timeval{Sec: int64(recvTimeoutSec)}
			sockErr = unix.SetsockoptTimeval(int(fd), unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
		}); err != nil {
			return err
		}
		return sockErr
	}
}
