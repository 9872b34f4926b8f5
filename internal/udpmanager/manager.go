// Package udpmanager is a concrete fragstream.NetworkManager: a pair of
// plain UDP sockets, one for reading fragment datagrams and one for sending
// ack packets back to a fixed peer address. It plays the role the
// specification calls the "external datagram manager" — fragstream itself
// never opens a socket.
package udpmanager

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Manager implements fragstream.NetworkManager over two UDP sockets.
type Manager struct {
	dataConn *net.UDPConn
	ackConn  *net.UDPConn
}

// New binds a UDP socket on dataAddr for reading fragments and dials
// ackAddr for sending ack packets back to the sender.
func New(dataAddr, ackAddr string) (*Manager, error) {
	dataUDPAddr, err := net.ResolveUDPAddr("udp", dataAddr)
	if err != nil {
		return nil, fmt.Errorf("udpmanager: resolve data addr: %w", err)
	}
	dataConn, err := net.ListenUDP("udp", dataUDPAddr)
	if err != nil {
		return nil, fmt.Errorf("udpmanager: listen data: %w", err)
	}

	ackUDPAddr, err := net.ResolveUDPAddr("udp", ackAddr)
	if err != nil {
		dataConn.Close()
		return nil, fmt.Errorf("udpmanager: resolve ack addr: %w", err)
	}
	ackConn, err := net.DialUDP("udp", nil, ackUDPAddr)
	if err != nil {
		dataConn.Close()
		return nil, fmt.Errorf("udpmanager: dial ack: %w", err)
	}

	return &Manager{dataConn: dataConn, ackConn: ackConn}, nil
}

// Close closes both underlying sockets.
func (m *Manager) Close() error {
	dataErr := m.dataConn.Close()
	ackErr := m.ackConn.Close()
	if dataErr != nil {
		return dataErr
	}
	return ackErr
}

// ReadDataWithTimeout implements fragstream.NetworkManager. bufferID is
// ignored: this Manager dedicates one socket per role rather than
// multiplexing several logical buffers over one.
func (m *Manager) ReadDataWithTimeout(ctx context.Context, bufferID int, buf []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := m.dataConn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	n, _, err := m.dataConn.ReadFromUDP(buf)
	return n, err
}

// SendData implements fragstream.NetworkManager. ackID and maxAttempts are
// unused: a plain UDP socket has no per-send acknowledgement or retry
// facility of its own to configure.
func (m *Manager) SendData(bufferID int, payload []byte, ackID uint64, maxAttempts int) error {
	_, err := m.ackConn.Write(payload)
	return err
}
