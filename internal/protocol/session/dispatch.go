package session

import (
	"sync"

	"github.com/rs/zerolog/log"
)

const DefaultDispatchBuffer = 16

type eventKind int

const (
	eventImage eventKind = iota
	eventClassification
	eventState
	eventPayloadError
)

type event struct {
	kind  eventKind
	image Image
	class Classification
	state Transition
	perr  PayloadError
}

// Dispatcher delivers session events to one Observer on its own goroutine.
// Events are never coalesced or dropped; a full buffer blocks the producer.
type Dispatcher struct {
	obs Observer

	mu     sync.RWMutex
	closed bool
	events chan event
	done   chan struct{}
}

func NewDispatcher(obs Observer, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultDispatchBuffer
	}
	d := &Dispatcher{
		obs:    obs,
		events: make(chan event, buffer),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Image(img Image) {
	d.send(event{kind: eventImage, image: img})
}

func (d *Dispatcher) Classification(res Classification) {
	d.send(event{kind: eventClassification, class: res})
}

func (d *Dispatcher) State(t Transition) {
	d.send(event{kind: eventState, state: t})
}

func (d *Dispatcher) PayloadError(e PayloadError) {
	d.send(event{kind: eventPayloadError, perr: e})
}

// Close stops intake and waits until every queued event has been delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) send(ev event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		log.Warn().Int("kind", int(ev.kind)).Msg("session: event after dispatcher close dropped")
		return
	}
	d.events <- ev
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.events {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev event) {
	if d.obs == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Int("kind", int(ev.kind)).Msg("session: observer panicked")
		}
	}()
	switch ev.kind {
	case eventImage:
		d.obs.OnImageReceived(ev.image)
	case eventClassification:
		d.obs.OnClassification(ev.class)
	case eventState:
		if so, ok := d.obs.(StateObserver); ok {
			so.OnStateChange(ev.state)
		}
	case eventPayloadError:
		if eo, ok := d.obs.(PayloadErrorObserver); ok {
			eo.OnPayloadError(ev.perr)
		}
	}
}
