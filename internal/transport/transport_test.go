package transport

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/danmuck/handsign/internal/protocol"
	"github.com/danmuck/handsign/internal/testutil/testlog"
)

func TestDefaultIdentity(t *testing.T) {
	id := DefaultIdentity()
	if id.UUID.String() != DefaultServiceUUID {
		t.Fatalf("unexpected uuid: %s", id.UUID)
	}
	if id.Name != "MyGestureAppService" {
		t.Fatalf("unexpected name: %q", id.Name)
	}
}

func TestParseIdentity(t *testing.T) {
	id, err := ParseIdentity(" b22ab232-47c3-499d-acb5-85dcb714dd32 ", " Gestures ")
	if err != nil {
		t.Fatalf("parse identity: %v", err)
	}
	if id.Name != "Gestures" {
		t.Fatalf("unexpected name: %q", id.Name)
	}
	if _, err := ParseIdentity("not-a-uuid", "x"); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity, got %v", err)
	}
	if _, err := ParseIdentity(DefaultServiceUUID, "  "); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("expected ErrInvalidIdentity for empty name, got %v", err)
	}
}

func TestTCPListenerAcceptAndClose(t *testing.T) {
	testlog.Start(t)

	ln, err := ListenTCP("127.0.0.1:0")(DefaultIdentity())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	accepted := make(chan Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- c
	}()

	client, err := net.Dial("tcp", ln.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	var server Conn
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatalf("accept timed out")
	}
	if server == nil {
		t.Fatalf("accept failed")
	}
	defer server.Close()
	if server.RemoteAddr() != client.LocalAddr().String() {
		t.Fatalf("unexpected remote addr: %q", server.RemoteAddr())
	}

	if _, err := fmt.Fprint(client, "ping\n"); err != nil {
		t.Fatalf("client write: %v", err)
	}
	line, err := bufio.NewReader(server).ReadString('\n')
	if err != nil || line != "ping\n" {
		t.Fatalf("server read: line=%q err=%v", line, err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := ln.Accept()
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	if err := ln.Close(); err != nil {
		t.Fatalf("close listener: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrListenerClosed) {
			t.Fatalf("expected ErrListenerClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("close did not unblock accept")
	}
	if err := ln.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
}

func TestPermissionErrorClassification(t *testing.T) {
	err := permissionError("bind", &net.OpError{Op: "listen", Err: os.NewSyscallError("bind", syscall.EACCES)})
	if !errors.Is(err, protocol.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if errors.Is(permissionError("bind", errors.New("other")), protocol.ErrPermissionDenied) {
		t.Fatalf("unexpected permission classification")
	}
}

func TestFormatBDAddr(t *testing.T) {
	got := formatBDAddr([6]uint8{0x66, 0x55, 0x44, 0x33, 0x22, 0x11})
	if got != "11:22:33:44:55:66" {
		t.Fatalf("unexpected bdaddr: %q", got)
	}
}
