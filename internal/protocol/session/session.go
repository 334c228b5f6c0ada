package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/handsign/internal/classify"
	"github.com/danmuck/handsign/internal/imageproc"
	"github.com/danmuck/handsign/internal/observability"
	"github.com/danmuck/handsign/internal/protocol"
	"github.com/danmuck/handsign/internal/protocol/frame"
	"github.com/danmuck/handsign/internal/transport"
	"github.com/rs/zerolog/log"
)

// Deps are the collaborators a session loop borrows from its owner.
type Deps struct {
	Decoder    *imageproc.Decoder
	Classifier *classify.Classifier
	Events     *Dispatcher
}

// Session owns one accepted connection from Connected to Closed.
type Session struct {
	id   uint64
	conn *Conn
	deps Deps
	cfg  Config

	ownsEvents bool

	mu    sync.Mutex
	state State
	seq   uint64

	closeOnce sync.Once
	closeErr  error
}

// New wraps an accepted connection. A nil Events dispatcher is replaced by a
// private one that discards events.
func New(id uint64, conn transport.Conn, deps Deps, cfg Config) *Session {
	s := &Session{
		id:    id,
		conn:  NewConn(conn),
		deps:  deps,
		cfg:   cfg.WithDefaults(),
		state: StateListening,
	}
	if s.deps.Decoder == nil {
		s.deps.Decoder = imageproc.NewDecoder(nil)
	}
	if s.deps.Events == nil {
		s.deps.Events = NewDispatcher(nil, 0)
		s.ownsEvents = true
	}
	return s
}

func (s *Session) ID() uint64 { return s.id }

func (s *Session) Remote() string { return s.conn.RemoteAddr() }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run reads payloads until the connection ends and returns the terminating
// error. A peer close yields frame.ErrEndOfStream. Payload-scoped failures
// are reported to observers and never end the loop.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()
	if s.ownsEvents {
		defer s.deps.Events.Close()
	}

	remote := s.Remote()
	log.Info().Uint64("session", s.id).Str("remote", remote).Msg("session: connected")
	s.transition(StateConnected)

	acc := frame.NewAccumulator(s.conn, s.cfg.Limits)
	var runErr error
	for {
		s.transition(StateReceiving)
		payload, err := acc.Next()
		if err != nil {
			runErr = err
			break
		}
		s.transition(StateProcessing)
		s.process(payload)
	}

	_ = s.Close()
	if errors.Is(runErr, protocol.ErrPayloadTooLarge) {
		s.deps.Events.PayloadError(PayloadError{SessionID: s.id, Seq: s.nextSeq(), Remote: remote, Err: runErr})
	}
	s.transition(StateClosed)

	cause := closeCause(ctx, runErr)
	observability.RecordSessionClosed(cause)
	event := log.Info()
	if cause == "transport_error" || cause == "payload_too_large" {
		event = log.Warn().Err(runErr)
	}
	event.Uint64("session", s.id).Str("remote", remote).Str("cause", cause).Msg("session: closed")
	return runErr
}

// Send writes one result line to the peer. Safe to call concurrently with Run.
func (s *Session) Send(label string, confidence float32) error {
	if s.State() == StateClosed {
		return fmt.Errorf("session: send: %w", protocol.ErrTransportClosed)
	}
	return s.conn.SendResult(label, confidence)
}

// Close closes the connection, which unblocks a pending read. Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *Session) process(payload []byte) {
	seq := s.nextSeq()
	remote := s.Remote()
	start := time.Now()

	dec, err := s.deps.Decoder.Decode(payload)
	if err != nil {
		observability.RecordPayload("decode_failed", len(payload), time.Since(start))
		log.Warn().Err(err).Uint64("session", s.id).Uint64("seq", seq).Int("bytes", len(payload)).Msg("session: payload dropped")
		s.deps.Events.PayloadError(PayloadError{SessionID: s.id, Seq: seq, Remote: remote, Err: err})
		return
	}
	observability.RecordPayload("decoded", len(payload), time.Since(start))
	log.Debug().Uint64("session", s.id).Uint64("seq", seq).Str("format", dec.Format).
		Int("width", dec.Image.Rect.Dx()).Int("height", dec.Image.Rect.Dy()).Msg("session: image decoded")

	// The observer owns dec.Image once delivered, so the classifier input is
	// derived first.
	input := dec.Image
	classifying := s.cfg.Classify && s.deps.Classifier != nil
	if classifying {
		input = imageproc.Fit(dec.Image, classify.InputSize)
	}

	s.deps.Events.Image(Image{
		SessionID:       s.id,
		Seq:             seq,
		Remote:          remote,
		Canonical:       dec.Image,
		Format:          dec.Format,
		PayloadBytes:    dec.PayloadBytes,
		DiagnosticsPath: dec.DiagnosticsPath,
		ReceivedAt:      dec.DecodedAt,
	})
	if !classifying {
		return
	}

	start = time.Now()
	res, err := s.deps.Classifier.Classify(input)
	if err != nil {
		observability.RecordClassification("error", time.Since(start))
		log.Warn().Err(err).Uint64("session", s.id).Uint64("seq", seq).Msg("session: classification failed")
		s.deps.Events.PayloadError(PayloadError{SessionID: s.id, Seq: seq, Remote: remote, Err: err})
		return
	}
	observability.RecordClassification(res.Label, time.Since(start))
	s.deps.Events.Classification(Classification{SessionID: s.id, Seq: seq, Remote: remote, Result: res})

	if s.cfg.AutoReply {
		err := s.conn.SendResult(res.Label, res.Confidence)
		observability.RecordResultSent("auto", err == nil)
		if err != nil {
			log.Warn().Err(err).Uint64("session", s.id).Msg("session: auto reply failed")
		}
	}
}

func (s *Session) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	if from == to {
		return
	}
	log.Trace().Uint64("session", s.id).Str("from", string(from)).Str("to", string(to)).Msg("session: state")
	s.deps.Events.State(Transition{SessionID: s.id, From: from, To: to})
}

func closeCause(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return "stopped"
	case errors.Is(err, protocol.ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, protocol.ErrTransportClosed):
		return "end_of_stream"
	default:
		return "transport_error"
	}
}
