package session

import (
	"image"
	"time"

	"github.com/danmuck/handsign/internal/classify"
	"github.com/rs/zerolog/log"
)

// Image is one canonical image handed to observers. Observers own it; the
// session keeps no reference after delivery.
type Image struct {
	SessionID       uint64
	Seq             uint64
	Remote          string
	Canonical       *image.NRGBA
	Format          string
	PayloadBytes    int
	DiagnosticsPath string
	ReceivedAt      time.Time
}

// Classification is one classifier outcome for the image with the same Seq.
type Classification struct {
	SessionID uint64
	Seq       uint64
	Remote    string
	classify.Result
}

// PayloadError reports a dropped payload. Err wraps a protocol taxonomy error.
type PayloadError struct {
	SessionID uint64
	Seq       uint64
	Remote    string
	Err       error
}

// Observer receives images and classifications in arrival order.
type Observer interface {
	OnImageReceived(img Image)
	OnClassification(res Classification)
}

// StateObserver is optionally implemented by observers that track session state.
type StateObserver interface {
	OnStateChange(t Transition)
}

// PayloadErrorObserver is optionally implemented by observers that track drops.
type PayloadErrorObserver interface {
	OnPayloadError(e PayloadError)
}

// ObserverFuncs adapts plain functions; nil fields are skipped.
type ObserverFuncs struct {
	Image          func(Image)
	Classification func(Classification)
	State          func(Transition)
	PayloadError   func(PayloadError)
}

func (f ObserverFuncs) OnImageReceived(img Image) {
	if f.Image != nil {
		f.Image(img)
	}
}

func (f ObserverFuncs) OnClassification(res Classification) {
	if f.Classification != nil {
		f.Classification(res)
	}
}

func (f ObserverFuncs) OnStateChange(t Transition) {
	if f.State != nil {
		f.State(t)
	}
}

func (f ObserverFuncs) OnPayloadError(e PayloadError) {
	if f.PayloadError != nil {
		f.PayloadError(e)
	}
}

// Observers fans each callback out in slice order. A panicking observer is
// logged and skipped; the rest still see the event.
type Observers []Observer

func (o Observers) OnImageReceived(img Image) {
	for i, obs := range o {
		guard(i, "image", func() { obs.OnImageReceived(img) })
	}
}

func (o Observers) OnClassification(res Classification) {
	for i, obs := range o {
		guard(i, "classification", func() { obs.OnClassification(res) })
	}
}

func (o Observers) OnStateChange(t Transition) {
	for i, obs := range o {
		if so, ok := obs.(StateObserver); ok {
			guard(i, "state", func() { so.OnStateChange(t) })
		}
	}
}

func (o Observers) OnPayloadError(e PayloadError) {
	for i, obs := range o {
		if eo, ok := obs.(PayloadErrorObserver); ok {
			guard(i, "payload_error", func() { eo.OnPayloadError(e) })
		}
	}
}

func guard(index int, callback string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Int("observer", index).
				Str("callback", callback).
				Msg("session: observer panicked")
		}
	}()
	fn()
}
