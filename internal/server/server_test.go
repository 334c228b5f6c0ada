package server

import (
	"bufio"
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/handsign/internal/classify"
	"github.com/danmuck/handsign/internal/protocol"
	"github.com/danmuck/handsign/internal/protocol/frame"
	"github.com/danmuck/handsign/internal/protocol/session"
	"github.com/danmuck/handsign/internal/testutil/testlog"
	"github.com/danmuck/handsign/internal/transport"
)

type imageSink struct {
	ch chan session.Image
}

func (s imageSink) OnImageReceived(img session.Image)           { s.ch <- img }
func (s imageSink) OnClassification(res session.Classification) {}

func testPayload(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 3, 3))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return append(buf.Bytes(), frame.Terminator...)
}

func newTCPSupervisor(t *testing.T, obs session.Observer) *Supervisor {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Listen = transport.ListenTCP("127.0.0.1:0")
	cfg.Observer = obs
	sup := New(cfg)
	if err := sup.Start(transport.DefaultIdentity()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = sup.Stop() })
	return sup
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSupervisorServesSequentialConnections(t *testing.T) {
	testlog.Start(t)
	sink := imageSink{ch: make(chan session.Image, 4)}
	sup := newTCPSupervisor(t, sink)

	st := sup.Status()
	if st.Phase != PhaseListening || st.Service != transport.DefaultServiceName {
		t.Fatalf("unexpected status: %+v", st)
	}

	for i := 0; i < 2; i++ {
		conn, err := net.Dial("tcp", st.Addr)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		if _, err := conn.Write(testPayload(t)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		select {
		case img := <-sink.ch:
			if img.SessionID != uint64(i+1) || img.Canonical.NRGBAAt(2, 2).R != 255 {
				t.Fatalf("unexpected image %d: session=%d", i, img.SessionID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("image %d not delivered", i)
		}
		_ = conn.Close()
		waitFor(t, "session close", func() bool { return sup.Status().ActiveSession == 0 })
	}

	if err := sup.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := sup.Status(); got.Phase != PhaseStopped || got.Accepted != 2 {
		t.Fatalf("unexpected final status: %+v", got)
	}
}

func TestSupervisorStartDeniedNeverListens(t *testing.T) {
	testlog.Start(t)
	opened := false
	cfg := DefaultConfig()
	cfg.Listen = func(transport.ServiceIdentity) (transport.Listener, error) {
		opened = true
		return nil, errors.New("unreachable")
	}
	cfg.Authorize = func(transport.ServiceIdentity) error { return errors.New("bluetooth connect not granted") }
	sup := New(cfg)

	err := sup.Start(transport.DefaultIdentity())
	if !errors.Is(err, protocol.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if opened || sup.Status().Phase != PhaseIdle {
		t.Fatalf("listener opened=%v phase=%s", opened, sup.Status().Phase)
	}
}

func TestSupervisorListenPermissionErrorPropagates(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.Listen = func(transport.ServiceIdentity) (transport.Listener, error) {
		return nil, protocol.ErrPermissionDenied
	}
	sup := New(cfg)
	if err := sup.Start(transport.DefaultIdentity()); !errors.Is(err, protocol.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if sup.Status().Phase != PhaseIdle {
		t.Fatalf("phase=%s", sup.Status().Phase)
	}
}

func TestSupervisorLifecycleOrder(t *testing.T) {
	testlog.Start(t)
	sup := newTCPSupervisor(t, nil)
	if err := sup.Start(transport.DefaultIdentity()); !errors.Is(err, ErrLifecycleOrder) {
		t.Fatalf("expected ErrLifecycleOrder, got %v", err)
	}
	if err := sup.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := sup.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if err := sup.Start(transport.DefaultIdentity()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if sup.Status().Phase != PhaseListening {
		t.Fatalf("phase after restart=%s", sup.Status().Phase)
	}
}

func TestSupervisorSendResult(t *testing.T) {
	testlog.Start(t)
	sup := newTCPSupervisor(t, nil)
	if err := sup.SendResult("A", 0.5); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}

	conn, err := net.Dial("tcp", sup.Status().Addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, "active session", func() bool { return sup.Status().ActiveSession != 0 })

	if err := sup.SendResult("space", 1); err != nil {
		t.Fatalf("send: %v", err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "Result: space, Confidence: 1.0\n" {
		t.Fatalf("unexpected line %q", line)
	}
}

func TestSupervisorStopUnblocksSilentPeer(t *testing.T) {
	testlog.Start(t)
	sup := newTCPSupervisor(t, nil)
	conn, err := net.Dial("tcp", sup.Status().Addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, "active session", func() bool { return sup.Status().ActiveSession != 0 })

	stopped := make(chan error, 1)
	go func() { stopped <- sup.Stop() }()
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stop blocked on silent peer")
	}
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expected peer connection closed")
	}
}

type flakyListener struct {
	mu     sync.Mutex
	fails  int
	calls  int
	closed chan struct{}
	once   sync.Once
}

func (l *flakyListener) Accept() (transport.Conn, error) {
	l.mu.Lock()
	l.calls++
	fail := l.calls <= l.fails
	l.mu.Unlock()
	if fail {
		return nil, errors.New("transient accept failure")
	}
	<-l.closed
	return nil, transport.ErrListenerClosed
}

func (l *flakyListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *flakyListener) Addr() string { return "flaky" }

func TestSupervisorRetriesTransientAcceptErrors(t *testing.T) {
	testlog.Start(t)
	ln := &flakyListener{fails: 3, closed: make(chan struct{})}
	cfg := DefaultConfig()
	cfg.Listen = func(transport.ServiceIdentity) (transport.Listener, error) { return ln, nil }
	cfg.Backoff = session.BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 4 * time.Millisecond}
	sup := New(cfg)
	if err := sup.Start(transport.DefaultIdentity()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "accept retries", func() bool {
		ln.mu.Lock()
		defer ln.mu.Unlock()
		return ln.calls > ln.fails
	})
	if sup.Status().Phase != PhaseListening {
		t.Fatalf("supervisor left listening after transient errors")
	}
	if err := sup.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestSupervisorReapsWorkerAfterListenerFailure(t *testing.T) {
	testlog.Start(t)
	ln := &flakyListener{closed: make(chan struct{})}
	cfg := DefaultConfig()
	cfg.Listen = func(transport.ServiceIdentity) (transport.Listener, error) { return ln, nil }
	sup := New(cfg)
	if err := sup.Start(transport.DefaultIdentity()); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := sup.Done()
	_ = ln.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not exit")
	}
	if sup.Status().Phase != PhaseStopped {
		t.Fatalf("phase=%s", sup.Status().Phase)
	}
}

type pipeConn struct {
	net.Conn
}

func (p pipeConn) RemoteAddr() string { return "pipe" }

// oneShotListener hands out a single conn, then reports the handle closed.
type oneShotListener struct {
	conn transport.Conn
	once sync.Once
}

func (l *oneShotListener) Accept() (transport.Conn, error) {
	var conn transport.Conn
	l.once.Do(func() { conn = l.conn })
	if conn == nil {
		return nil, transport.ErrListenerClosed
	}
	return conn, nil
}

func (l *oneShotListener) Close() error { return nil }
func (l *oneShotListener) Addr() string { return "one-shot" }

// gatedReplier answers each image through the supervisor once the gate opens.
type gatedReplier struct {
	sup  *Supervisor
	gate chan struct{}
	sent chan error
}

func (g *gatedReplier) OnImageReceived(img session.Image) {
	<-g.gate
	g.sent <- g.sup.SendResult("A", 0.5)
}

func (g *gatedReplier) OnClassification(res session.Classification) {}

func TestSupervisorReapDoesNotHoldLockWhileDraining(t *testing.T) {
	testlog.Start(t)
	local, client := net.Pipe()
	defer client.Close()

	obs := &gatedReplier{gate: make(chan struct{}), sent: make(chan error, 1)}
	cfg := DefaultConfig()
	cfg.Listen = func(transport.ServiceIdentity) (transport.Listener, error) {
		return &oneShotListener{conn: pipeConn{local}}, nil
	}
	cfg.Observer = obs
	sup := New(cfg)
	obs.sup = sup
	if err := sup.Start(transport.DefaultIdentity()); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := sup.Done()

	payload := testPayload(t)
	go func() {
		_, _ = client.Write(payload)
		_ = client.Close()
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not exit")
	}

	statusDone := make(chan Status, 1)
	go func() { statusDone <- sup.Status() }()
	waitFor(t, "run detached", func() bool {
		sup.mu.Lock()
		defer sup.mu.Unlock()
		return sup.run == nil
	})
	close(obs.gate)

	select {
	case err := <-obs.sent:
		if !errors.Is(err, ErrNoActiveSession) {
			t.Fatalf("expected ErrNoActiveSession, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("observer blocked calling back into supervisor")
	}
	select {
	case st := <-statusDone:
		if st.Phase != PhaseStopped {
			t.Fatalf("phase=%s", st.Phase)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("status blocked while draining observers")
	}
	if err := sup.Start(transport.DefaultIdentity()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	_ = sup.Stop()
}

func TestSupervisorLabelsFollowClassifier(t *testing.T) {
	testlog.Start(t)
	if got := New(DefaultConfig()).Labels(); len(got) != len(classify.Labels()) {
		t.Fatalf("default labels len=%d", len(got))
	}

	clf, err := classify.New(classify.ModelFunc(func([]float32) ([]float32, error) {
		return []float32{1, 0}, nil
	}), []string{"space", "nothing"})
	if err != nil {
		t.Fatalf("classifier: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Classifier = clf
	got := New(cfg).Labels()
	if len(got) != 2 || got[0] != "space" || got[1] != "nothing" {
		t.Fatalf("unexpected labels %v", got)
	}
}
