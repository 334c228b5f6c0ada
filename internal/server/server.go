package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/handsign/internal/classify"
	"github.com/danmuck/handsign/internal/imageproc"
	"github.com/danmuck/handsign/internal/observability"
	"github.com/danmuck/handsign/internal/protocol"
	"github.com/danmuck/handsign/internal/protocol/session"
	"github.com/danmuck/handsign/internal/transport"
	"github.com/rs/zerolog/log"
)

var (
	ErrLifecycleOrder  = errors.New("server: invalid lifecycle transition")
	ErrNoActiveSession = errors.New("server: no active session")
	ErrNoListenFunc    = errors.New("server: no listen func configured")
)

// Phase describes the supervisor lifecycle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseListening Phase = "listening"
	PhaseStopping  Phase = "stopping"
	PhaseStopped   Phase = "stopped"
)

// Authorizer reports whether the process may open the listening handle for id.
// A non-nil error makes Start fail with protocol.ErrPermissionDenied.
type Authorizer func(id transport.ServiceIdentity) error

// Config wires the supervisor's collaborators.
type Config struct {
	Listen         transport.ListenFunc
	Authorize      Authorizer
	Session        session.Config
	Decoder        *imageproc.Decoder
	Classifier     *classify.Classifier
	Observer       session.Observer
	ObserverBuffer int
	Backoff        session.BackoffConfig
}

// DefaultConfig listens on the default RFCOMM channel and only delivers images.
func DefaultConfig() Config {
	return Config{
		Listen:         transport.ListenRFCOMM(transport.DefaultRFCOMMChannel),
		Session:        session.DefaultConfig(),
		ObserverBuffer: session.DefaultDispatchBuffer,
		Backoff:        session.DefaultBackoff(),
	}
}

// Status is a point-in-time supervisor snapshot.
type Status struct {
	Phase          Phase     `json:"phase"`
	Service        string    `json:"service,omitempty"`
	UUID           string    `json:"uuid,omitempty"`
	Addr           string    `json:"addr,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	Accepted       uint64    `json:"accepted"`
	ActiveSession  uint64    `json:"active_session,omitempty"`
	ActiveRemote   string    `json:"active_remote,omitempty"`
	SessionState   string    `json:"session_state,omitempty"`
	LastSessionErr string    `json:"last_session_error,omitempty"`
}

type run struct {
	id      transport.ServiceIdentity
	ln      transport.Listener
	cancel  context.CancelFunc
	done    chan struct{}
	events  *session.Dispatcher
	started time.Time
}

// Supervisor runs at most one session at a time on one owned worker.
type Supervisor struct {
	cfg Config

	mu      sync.Mutex
	phase   Phase
	run     *run
	active  *session.Session
	lastErr error

	accepted atomic.Uint64
}

func New(cfg Config) *Supervisor {
	cfg.Session = cfg.Session.WithDefaults()
	if cfg.Decoder == nil {
		cfg.Decoder = imageproc.NewDecoder(nil)
	}
	if cfg.Backoff == (session.BackoffConfig{}) {
		cfg.Backoff = session.DefaultBackoff()
	}
	return &Supervisor{cfg: cfg, phase: PhaseIdle}
}

// Start opens the listening handle and returns once the worker is running.
// Unauthorized callers get protocol.ErrPermissionDenied and the supervisor
// stays out of the listening phase.
func (s *Supervisor) Start(id transport.ServiceIdentity) error {
	s.mu.Lock()
	reaped := s.reapLocked()
	defer func() {
		s.mu.Unlock()
		reaped.drain()
	}()

	if s.phase != PhaseIdle && s.phase != PhaseStopped {
		return transitionError(s.phase, PhaseListening)
	}
	if s.cfg.Listen == nil {
		return ErrNoListenFunc
	}
	if s.cfg.Authorize != nil {
		if err := s.cfg.Authorize(id); err != nil {
			log.Warn().Err(err).Str("service", id.Name).Msg("server: start not authorized")
			return fmt.Errorf("server: start: %w: %w", protocol.ErrPermissionDenied, err)
		}
	}

	ln, err := s.cfg.Listen(id)
	if err != nil {
		return fmt.Errorf("server: start: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:      id,
		ln:      ln,
		cancel:  cancel,
		done:    make(chan struct{}),
		events:  session.NewDispatcher(s.cfg.Observer, s.cfg.ObserverBuffer),
		started: time.Now(),
	}
	s.run = r
	s.phase = PhaseListening
	s.lastErr = nil

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go s.acceptLoop(ctx, r)

	log.Info().
		Str("service", id.Name).
		Str("uuid", id.UUID.String()).
		Str("addr", ln.Addr()).
		Msg("server: listening")
	return nil
}

// Stop closes the listening handle and the active connection, then waits for
// the worker. An in-flight classification finishes first. Safe to call when
// not running.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	r := s.run
	if r == nil {
		s.mu.Unlock()
		return nil
	}
	s.phase = PhaseStopping
	active := s.active
	s.mu.Unlock()

	r.cancel()
	if active != nil {
		_ = active.Close()
	}
	<-r.done
	r.events.Close()

	s.mu.Lock()
	if s.run == r {
		s.run = nil
	}
	s.phase = PhaseStopped
	s.mu.Unlock()

	log.Info().Str("service", r.id.Name).Msg("server: stopped")
	return nil
}

// SendResult writes one result line to the active connection.
func (s *Supervisor) SendResult(label string, confidence float32) error {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active == nil {
		return ErrNoActiveSession
	}
	err := active.Send(label, confidence)
	observability.RecordResultSent("external", err == nil)
	if err != nil {
		log.Warn().Err(err).Uint64("session", active.ID()).Msg("server: send result failed")
		return err
	}
	log.Debug().Uint64("session", active.ID()).Str("label", label).Msg("server: result sent")
	return nil
}

// Labels is the vocabulary results are drawn from: the configured
// classifier's, or the default set when classification is off.
func (s *Supervisor) Labels() []string {
	if s.cfg.Classifier != nil {
		return s.cfg.Classifier.Labels()
	}
	return classify.Labels()
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	reaped := s.reapLocked()
	defer func() {
		s.mu.Unlock()
		reaped.drain()
	}()

	st := Status{Phase: s.phase, Accepted: s.accepted.Load()}
	if s.lastErr != nil {
		st.LastSessionErr = s.lastErr.Error()
	}
	if s.run != nil {
		st.Service = s.run.id.Name
		st.UUID = s.run.id.UUID.String()
		st.Addr = s.run.ln.Addr()
		st.StartedAt = s.run.started
	}
	if s.active != nil {
		st.ActiveSession = s.active.ID()
		st.ActiveRemote = s.active.Remote()
		st.SessionState = string(s.active.State())
	}
	return st
}

// Done is closed when the current worker exits; nil when not running.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return nil
	}
	return s.run.done
}

func (s *Supervisor) acceptLoop(ctx context.Context, r *run) {
	defer close(r.done)
	attempt := 0
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrListenerClosed) {
				log.Debug().Str("addr", r.ln.Addr()).Msg("server: accept loop finished")
				return
			}
			attempt++
			log.Warn().Err(err).Int("attempt", attempt).Msg("server: accept failed")
			if !s.waitBackoff(ctx, attempt) {
				return
			}
			continue
		}
		attempt = 0

		id := s.accepted.Add(1)
		sess := session.New(id, conn, session.Deps{
			Decoder:    s.cfg.Decoder,
			Classifier: s.cfg.Classifier,
			Events:     r.events,
		}, s.cfg.Session)
		if !s.setActive(sess) {
			_ = sess.Close()
			return
		}
		err = sess.Run(ctx)
		s.clearActive(sess, err)
	}
}

func (s *Supervisor) waitBackoff(ctx context.Context, attempt int) bool {
	delay := session.NextBackoffDelay(s.cfg.Backoff, attempt, nil)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// setActive publishes sess unless Stop has begun.
func (s *Supervisor) setActive(sess *session.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseListening {
		return false
	}
	s.active = sess
	return true
}

func (s *Supervisor) clearActive(sess *session.Session, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == sess {
		s.active = nil
	}
	if err != nil && !errors.Is(err, protocol.ErrTransportClosed) {
		s.lastErr = err
	}
}

// reapLocked detaches a worker that exited on its own, e.g. after the listening
// handle failed underneath it. The caller drains the returned run after
// releasing s.mu; observers may call back into the supervisor.
func (s *Supervisor) reapLocked() *run {
	r := s.run
	if r == nil || s.phase != PhaseListening {
		return nil
	}
	select {
	case <-r.done:
	default:
		return nil
	}
	r.cancel()
	s.run = nil
	s.phase = PhaseStopped
	log.Warn().Str("service", r.id.Name).Msg("server: worker exited without stop")
	return r
}

// drain delivers the run's queued events. Nil-safe.
func (r *run) drain() {
	if r == nil {
		return
	}
	r.events.Close()
}

func transitionError(from, to Phase) error {
	return fmt.Errorf("%w: %s -> %s", ErrLifecycleOrder, from, to)
}
