package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/handsign/internal/auth"
	"github.com/danmuck/handsign/internal/classify"
	"github.com/danmuck/handsign/internal/diagnostics"
	"github.com/danmuck/handsign/internal/emitter"
	"github.com/danmuck/handsign/internal/imageproc"
	"github.com/danmuck/handsign/internal/protocol/session"
	"github.com/danmuck/handsign/internal/render"
	"github.com/danmuck/handsign/internal/server"
	"github.com/danmuck/handsign/internal/status"
	"github.com/danmuck/handsign/internal/tools"
	"github.com/danmuck/handsign/internal/transport"
	"github.com/rs/zerolog/log"
)

var errListenerLost = errors.New("handsignd: listener closed unexpectedly")

// run wires the daemon and blocks until ctx is done or a component fails.
func run(ctx context.Context, cfg daemonConfig) error {
	var persist imageproc.Persister
	if cfg.DiagnosticsDir != "" {
		persist = diagnostics.NewSink(cfg.DiagnosticsDir)
	}

	observers := session.Observers{logObserver{}, render.NewSnapshot(cfg.SnapshotPath)}
	if cfg.MQTT.Broker != "" {
		pub, err := emitter.Connect(ctx, cfg.MQTT)
		if err != nil {
			return err
		}
		defer pub.Close()
		em, err := emitter.New(cfg.MQTT, pub)
		if err != nil {
			return err
		}
		observers = append(observers, em)
	}

	var clf *classify.Classifier
	if cfg.Session.Classify {
		model, err := classify.NewONNXModel(classify.ONNXConfig{
			ModelPath:    cfg.ModelPath,
			MetadataPath: cfg.ModelMetadata,
			LibraryPath:  cfg.ONNXLibrary,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := model.Close(); err != nil {
				log.Warn().Err(err).Msg("handsignd: model close")
			}
		}()
		clf, err = classify.New(model, model.Labels())
		if err != nil {
			return err
		}
	}

	var authorize server.Authorizer
	if cfg.CheckAdapter && cfg.Transport == transportRFCOMM {
		authorize = func(transport.ServiceIdentity) error {
			return tools.RequirePowered(tools.ExecRunner{})
		}
	}

	sup := server.New(server.Config{
		Listen:         cfg.listenFunc(),
		Authorize:      authorize,
		Session:        cfg.Session,
		Decoder:        imageproc.NewDecoder(persist),
		Classifier:     clf,
		Observer:       observers,
		ObserverBuffer: cfg.ObserverBuffer,
		Backoff:        session.DefaultBackoff(),
	})
	if err := sup.Start(cfg.Identity); err != nil {
		return fmt.Errorf("handsignd: %w", err)
	}
	defer func() { _ = sup.Stop() }()

	statusErr := make(chan error, 1)
	if cfg.StatusAddr != "" {
		opts := status.Options{CORSOrigins: cfg.CORSOrigins}
		if cfg.StatusToken != "" {
			opts.ResultGuard = auth.StaticToken{Token: cfg.StatusToken}
		}
		rt := status.New("handsignd", sup, opts)
		go func() { statusErr <- rt.Serve(ctx, cfg.StatusAddr) }()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("handsignd: shutdown")
		return nil
	case err := <-statusErr:
		if err != nil {
			return fmt.Errorf("handsignd: status server: %w", err)
		}
		<-ctx.Done()
		return nil
	case <-sup.Done():
		return errListenerLost
	}
}

// logObserver is the default app-side observer.
type logObserver struct{}

func (logObserver) OnImageReceived(img session.Image) {
	log.Info().
		Uint64("session", img.SessionID).
		Uint64("seq", img.Seq).
		Str("format", img.Format).
		Int("bytes", img.PayloadBytes).
		Str("saved", img.DiagnosticsPath).
		Msg("image received")
}

func (logObserver) OnClassification(res session.Classification) {
	log.Info().
		Uint64("session", res.SessionID).
		Uint64("seq", res.Seq).
		Str("label", res.Label).
		Float32("confidence", res.Confidence).
		Msg("classified")
}

func (logObserver) OnPayloadError(e session.PayloadError) {
	log.Warn().Err(e.Err).Uint64("session", e.SessionID).Uint64("seq", e.Seq).Msg("payload dropped")
}
