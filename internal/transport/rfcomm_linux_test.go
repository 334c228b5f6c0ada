//go:build linux

package transport

import (
	"errors"
	"os"
	"testing"

	"github.com/danmuck/handsign/internal/testutil/testlog"
)

func TestRFCOMMListenerAcceptAfterClose(t *testing.T) {
	testlog.Start(t)
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer w.Close()
	rc, err := r.SyscallConn()
	if err != nil {
		t.Fatalf("raw conn: %v", err)
	}
	ln := &rfcommListener{f: r, rc: rc, channel: 3}

	if err := ln.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := ln.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := ln.Accept(); !errors.Is(err, ErrListenerClosed) {
		t.Fatalf("expected ErrListenerClosed, got %v", err)
	}
	if ln.Addr() != "rfcomm:3" {
		t.Fatalf("unexpected addr %q", ln.Addr())
	}
}
