package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/handsign/internal/emitter"
	"github.com/danmuck/handsign/internal/protocol/session"
	"github.com/danmuck/handsign/internal/transport"
)

const (
	transportTCP    = "tcp"
	transportRFCOMM = "rfcomm"
)

var ErrInvalidConfig = errors.New("handsignd: invalid config")

type mqttFileConfig struct {
	Broker   string `toml:"broker"`
	ClientID string `toml:"client_id"`
	Topic    string `toml:"topic"`
	QoS      int    `toml:"qos"`
	Encoding string `toml:"encoding"`
}

type fileConfig struct {
	ServiceUUID     string         `toml:"service_uuid"`
	ServiceName     string         `toml:"service_name"`
	Transport       string         `toml:"transport"`
	ListenAddr      string         `toml:"listen_addr"`
	RFCOMMChannel   int            `toml:"rfcomm_channel"`
	ChunkSize       int            `toml:"chunk_size"`
	MaxPayloadBytes int            `toml:"max_payload_bytes"`
	DiagnosticsDir  string         `toml:"diagnostics_dir"`
	Classify        bool           `toml:"classify"`
	AutoReply       bool           `toml:"auto_reply"`
	ModelPath       string         `toml:"model_path"`
	ONNXLibrary     string         `toml:"onnx_library"`
	ModelMetadata   string         `toml:"model_metadata"`
	StatusAddr      string         `toml:"status_addr"`
	StatusToken     string         `toml:"status_token"`
	CheckAdapter    bool           `toml:"check_adapter"`
	CORSOrigins     []string       `toml:"cors_origins"`
	ObserverBuffer  int            `toml:"observer_buffer"`
	SnapshotPath    string         `toml:"snapshot_path"`
	MQTT            mqttFileConfig `toml:"mqtt"`
}

type daemonConfig struct {
	Identity       transport.ServiceIdentity
	Transport      string
	ListenAddr     string
	RFCOMMChannel  uint8
	Session        session.Config
	DiagnosticsDir string
	ModelPath      string
	ONNXLibrary    string
	ModelMetadata  string
	StatusAddr     string
	StatusToken    string
	CheckAdapter   bool
	CORSOrigins    []string
	ObserverBuffer int
	SnapshotPath   string
	MQTT           emitter.Config
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{
		Identity:       transport.DefaultIdentity(),
		Transport:      transportRFCOMM,
		ListenAddr:     transport.DefaultTCPAddr,
		RFCOMMChannel:  transport.DefaultRFCOMMChannel,
		Session:        session.DefaultConfig(),
		DiagnosticsDir: filepath.Join("local", "diagnostics"),
		StatusAddr:     "127.0.0.1:7421",
		ObserverBuffer: session.DefaultDispatchBuffer,
		MQTT:           emitter.DefaultConfig(),
	}
}

func loadDaemonConfig(path string) (daemonConfig, error) {
	cfg := defaultDaemonConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return daemonConfig{}, fmt.Errorf("load handsignd config: %w", err)
	}

	if meta.IsDefined("service_uuid") || meta.IsDefined("service_name") {
		rawUUID := cfg.Identity.UUID.String()
		if meta.IsDefined("service_uuid") {
			rawUUID = raw.ServiceUUID
		}
		name := cfg.Identity.Name
		if meta.IsDefined("service_name") {
			name = raw.ServiceName
		}
		id, err := transport.ParseIdentity(rawUUID, name)
		if err != nil {
			return daemonConfig{}, err
		}
		cfg.Identity = id
	}

	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("rfcomm_channel") {
		if raw.RFCOMMChannel < 1 || raw.RFCOMMChannel > 30 {
			return daemonConfig{}, fmt.Errorf("%w: rfcomm_channel %d outside 1..30", ErrInvalidConfig, raw.RFCOMMChannel)
		}
		cfg.RFCOMMChannel = uint8(raw.RFCOMMChannel)
	}
	if meta.IsDefined("chunk_size") {
		cfg.Session.Limits.ChunkSize = raw.ChunkSize
	}
	if meta.IsDefined("max_payload_bytes") {
		cfg.Session.Limits.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("diagnostics_dir") {
		cfg.DiagnosticsDir = strings.TrimSpace(raw.DiagnosticsDir)
	}
	if meta.IsDefined("classify") {
		cfg.Session.Classify = raw.Classify
	}
	if meta.IsDefined("auto_reply") {
		cfg.Session.AutoReply = raw.AutoReply
	}
	if meta.IsDefined("model_path") {
		cfg.ModelPath = strings.TrimSpace(raw.ModelPath)
	}
	if meta.IsDefined("onnx_library") {
		cfg.ONNXLibrary = strings.TrimSpace(raw.ONNXLibrary)
	}
	if meta.IsDefined("model_metadata") {
		cfg.ModelMetadata = strings.TrimSpace(raw.ModelMetadata)
	}
	if meta.IsDefined("status_addr") {
		cfg.StatusAddr = strings.TrimSpace(raw.StatusAddr)
	}
	if meta.IsDefined("status_token") {
		cfg.StatusToken = strings.TrimSpace(raw.StatusToken)
	}
	if meta.IsDefined("check_adapter") {
		cfg.CheckAdapter = raw.CheckAdapter
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("observer_buffer") {
		cfg.ObserverBuffer = raw.ObserverBuffer
	}
	if meta.IsDefined("snapshot_path") {
		cfg.SnapshotPath = strings.TrimSpace(raw.SnapshotPath)
	}

	if meta.IsDefined("mqtt", "broker") {
		cfg.MQTT.Broker = strings.TrimSpace(raw.MQTT.Broker)
	}
	if meta.IsDefined("mqtt", "client_id") {
		cfg.MQTT.ClientID = strings.TrimSpace(raw.MQTT.ClientID)
	}
	if meta.IsDefined("mqtt", "topic") {
		cfg.MQTT.Topic = strings.TrimSpace(raw.MQTT.Topic)
	}
	if meta.IsDefined("mqtt", "qos") {
		if raw.MQTT.QoS < 0 || raw.MQTT.QoS > 2 {
			return daemonConfig{}, fmt.Errorf("%w: mqtt.qos %d", ErrInvalidConfig, raw.MQTT.QoS)
		}
		cfg.MQTT.QoS = byte(raw.MQTT.QoS)
	}
	if meta.IsDefined("mqtt", "encoding") {
		cfg.MQTT.Encoding = strings.ToLower(strings.TrimSpace(raw.MQTT.Encoding))
	}

	return cfg, cfg.validate()
}

func (c daemonConfig) validate() error {
	switch c.Transport {
	case transportTCP:
		if c.ListenAddr == "" {
			return fmt.Errorf("%w: listen_addr required for tcp transport", ErrInvalidConfig)
		}
	case transportRFCOMM:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}
	if c.Session.Limits.ChunkSize < 0 || c.Session.Limits.MaxPayloadBytes < 0 {
		return fmt.Errorf("%w: negative chunk_size or max_payload_bytes", ErrInvalidConfig)
	}
	if c.Session.AutoReply && !c.Session.Classify {
		return fmt.Errorf("%w: auto_reply requires classify", ErrInvalidConfig)
	}
	if c.Session.Classify && c.ModelPath == "" {
		return fmt.Errorf("%w: classify requires model_path", ErrInvalidConfig)
	}
	return nil
}

func (c daemonConfig) listenFunc() transport.ListenFunc {
	if c.Transport == transportTCP {
		return transport.ListenTCP(c.ListenAddr)
	}
	return transport.ListenRFCOMM(c.RFCOMMChannel)
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
