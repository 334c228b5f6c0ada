// Package emitter publishes session events to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/handsign/internal/protocol/session"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

var (
	ErrUnknownEncoding = errors.New("emitter: unknown encoding")
	ErrNotConnected    = errors.New("emitter: mqtt not connected")
	ErrPublishTimeout  = errors.New("emitter: publish timeout")
	ErrNoBroker        = errors.New("emitter: broker address required")
)

type Config struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	Encoding string
}

func DefaultConfig() Config {
	return Config{
		ClientID: "handsignd-" + uuid.NewString()[:8],
		Topic:    "handsign",
		QoS:      0,
		Encoding: EncodingJSON,
	}
}

// Publisher is the broker surface the emitter needs.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

// ResultMessage is published on <topic>/results for every classification.
type ResultMessage struct {
	SessionID  uint64    `json:"session_id" msgpack:"session_id"`
	Seq        uint64    `json:"seq" msgpack:"seq"`
	Remote     string    `json:"remote" msgpack:"remote"`
	Label      string    `json:"label" msgpack:"label"`
	Confidence float32   `json:"confidence" msgpack:"confidence"`
	Index      int       `json:"index" msgpack:"index"`
	At         time.Time `json:"at" msgpack:"at"`
}

// ImageMessage is published on <topic>/images for every decoded payload.
type ImageMessage struct {
	SessionID    uint64    `json:"session_id" msgpack:"session_id"`
	Seq          uint64    `json:"seq" msgpack:"seq"`
	Remote       string    `json:"remote" msgpack:"remote"`
	Format       string    `json:"format" msgpack:"format"`
	Width        int       `json:"width" msgpack:"width"`
	Height       int       `json:"height" msgpack:"height"`
	PayloadBytes int       `json:"payload_bytes" msgpack:"payload_bytes"`
	At           time.Time `json:"at" msgpack:"at"`
}

type Stats struct {
	Published map[string]uint64
	Errors    uint64
}

// Emitter is a session observer. Publish failures are logged and counted; they
// never reach the session.
type Emitter struct {
	topic    string
	qos      byte
	encoding string
	pub      Publisher

	mu        sync.Mutex
	published map[string]uint64
	errors    uint64
}

func New(cfg Config, pub Publisher) (*Emitter, error) {
	enc := strings.ToLower(strings.TrimSpace(cfg.Encoding))
	if enc == "" {
		enc = EncodingJSON
	}
	if enc != EncodingJSON && enc != EncodingMsgpack {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, cfg.Encoding)
	}
	topic := strings.TrimRight(strings.TrimSpace(cfg.Topic), "/")
	if topic == "" {
		topic = DefaultConfig().Topic
	}
	return &Emitter{
		topic:     topic,
		qos:       cfg.QoS,
		encoding:  enc,
		pub:       pub,
		published: make(map[string]uint64),
	}, nil
}

func (e *Emitter) OnImageReceived(img session.Image) {
	msg := ImageMessage{
		SessionID:    img.SessionID,
		Seq:          img.Seq,
		Remote:       img.Remote,
		Format:       img.Format,
		PayloadBytes: img.PayloadBytes,
		At:           img.ReceivedAt,
	}
	if img.Canonical != nil {
		msg.Width = img.Canonical.Rect.Dx()
		msg.Height = img.Canonical.Rect.Dy()
	}
	e.publish(e.topic+"/images", msg)
}

func (e *Emitter) OnClassification(res session.Classification) {
	e.publish(e.topic+"/results", ResultMessage{
		SessionID:  res.SessionID,
		Seq:        res.Seq,
		Remote:     res.Remote,
		Label:      res.Label,
		Confidence: res.Confidence,
		Index:      res.Index,
		At:         time.Now().UTC(),
	})
}

func (e *Emitter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Published: published, Errors: e.errors}
}

func (e *Emitter) publish(topic string, v any) {
	payload, err := Encode(e.encoding, v)
	if err == nil {
		err = e.pub.Publish(topic, e.qos, payload)
	}
	e.mu.Lock()
	if err != nil {
		e.errors++
	} else {
		e.published[topic]++
	}
	e.mu.Unlock()
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("emitter: publish failed")
		return
	}
	log.Debug().Str("topic", topic).Int("size", len(payload)).Msg("emitter: published")
}

// Encode marshals v with the named encoding.
func Encode(encoding string, v any) ([]byte, error) {
	switch encoding {
	case EncodingJSON:
		return json.Marshal(v)
	case EncodingMsgpack:
		return msgpack.Marshal(v)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, encoding)
	}
}

// Decode is the inverse of Encode, for subscribers.
func Decode(encoding string, data []byte, v any) error {
	switch encoding {
	case EncodingJSON:
		return json.Unmarshal(data, v)
	case EncodingMsgpack:
		return msgpack.Unmarshal(data, v)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEncoding, encoding)
	}
}

// MQTTPublisher publishes through a paho client with automatic reconnect.
type MQTTPublisher struct {
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
}

// Connect dials the broker; a bare host:port gets the tcp:// scheme.
func Connect(ctx context.Context, cfg Config) (*MQTTPublisher, error) {
	broker := strings.TrimSpace(cfg.Broker)
	if broker == "" {
		return nil, ErrNoBroker
	}
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	p := &MQTTPublisher{}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		p.setConnected(true)
		log.Info().Str("broker", broker).Str("client_id", cfg.ClientID).Msg("emitter: mqtt connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.setConnected(false)
		log.Warn().Err(err).Str("broker", broker).Msg("emitter: mqtt connection lost, reconnecting")
	}
	p.client = mqtt.NewClient(opts)

	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		p.client.Disconnect(0)
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		p.client.Disconnect(0)
		return nil, fmt.Errorf("emitter: mqtt connect %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("emitter: mqtt connect %s: %w", broker, err)
	}
	p.setConnected(true)
	return p, nil
}

func (p *MQTTPublisher) Publish(topic string, qos byte, payload []byte) error {
	if !p.isConnected() {
		return ErrNotConnected
	}
	token := p.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return ErrPublishTimeout
	}
	return token.Error()
}

func (p *MQTTPublisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		log.Info().Msg("emitter: mqtt disconnected")
	}
	p.setConnected(false)
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *MQTTPublisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}
