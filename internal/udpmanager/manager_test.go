package udpmanager

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestReadDataWithTimeoutReceivesDatagram(t *testing.T) {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen peer: %v", err)
	}
	defer peer.Close()

	mgr, err := New("127.0.0.1:0", peer.LocalAddr().String())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mgr.Close()

	sender, err := net.DialUDP("udp", nil, mgr.dataConn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial sender: %v", err)
	}
	defer sender.Close()

	want := []byte("fragment payload")
	if _, err := sender.Write(want); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 64)
	n, err := mgr.ReadDataWithTimeout(context.Background(), 0, buf, time.Second)
	if err != nil {
		t.Fatalf("ReadDataWithTimeout: %v", err)
	}
	if string(buf[:n]) != string(want) {
		t.Errorf("got %q, want %q", buf[:n], want)
	}
}

func TestReadDataWithTimeoutExpires(t *testing.T) {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen peer: %v", err)
	}
	defer peer.Close()

	mgr, err := New("127.0.0.1:0", peer.LocalAddr().String())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mgr.Close()

	buf := make([]byte, 64)
	_, err = mgr.ReadDataWithTimeout(context.Background(), 0, buf, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestSendDataDeliversToPeer(t *testing.T) {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen peer: %v", err)
	}
	defer peer.Close()

	mgr, err := New("127.0.0.1:0", peer.LocalAddr().String())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer mgr.Close()

	if err := mgr.SendData(0, []byte("ack packet"), 1, 1); err != nil {
		t.Fatalf("SendData: %v", err)
	}

	peer.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 64)
	n, _, err := peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	if string(buf[:n]) != "ack packet" {
		t.Errorf("got %q, want %q", buf[:n], "ack packet")
	}
}
