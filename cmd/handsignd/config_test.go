package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/handsign/internal/protocol/frame"
	"github.com/danmuck/handsign/internal/testutil/testlog"
	"github.com/danmuck/handsign/internal/transport"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDaemonConfigExample(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadDaemonConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Identity.UUID.String() != transport.DefaultServiceUUID || cfg.Identity.Name != transport.DefaultServiceName {
		t.Fatalf("unexpected identity: %s", cfg.Identity)
	}
	if cfg.Transport != transportTCP || cfg.ListenAddr != "127.0.0.1:7420" {
		t.Fatalf("unexpected transport: %s %s", cfg.Transport, cfg.ListenAddr)
	}
	if cfg.Session.Limits.ChunkSize != frame.DefaultChunkSize || cfg.Session.Limits.MaxPayloadBytes != 8<<20 {
		t.Fatalf("unexpected limits: %+v", cfg.Session.Limits)
	}
	if !cfg.Session.Classify || !cfg.Session.AutoReply {
		t.Fatalf("expected classify and auto_reply enabled")
	}
	if cfg.ObserverBuffer != 32 || cfg.SnapshotPath != "local/snapshots/last.png" {
		t.Fatalf("unexpected observer settings: %d %q", cfg.ObserverBuffer, cfg.SnapshotPath)
	}
	if cfg.MQTT.Broker != "" || cfg.MQTT.QoS != 1 || cfg.MQTT.Encoding != "msgpack" || cfg.MQTT.ClientID != "handsignd-local" {
		t.Fatalf("unexpected mqtt: %+v", cfg.MQTT)
	}
	if len(cfg.CORSOrigins) != 1 {
		t.Fatalf("unexpected cors origins: %v", cfg.CORSOrigins)
	}
}

func TestLoadDaemonConfigEmptyFileKeepsDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadDaemonConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	def := defaultDaemonConfig()
	if cfg.Transport != transportRFCOMM || cfg.RFCOMMChannel != transport.DefaultRFCOMMChannel {
		t.Fatalf("unexpected transport defaults: %s %d", cfg.Transport, cfg.RFCOMMChannel)
	}
	if cfg.Session.Classify || cfg.Session.AutoReply {
		t.Fatalf("classification must be opt-in")
	}
	if cfg.DiagnosticsDir != def.DiagnosticsDir || cfg.StatusAddr != def.StatusAddr {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadDaemonConfigPartialIdentity(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadDaemonConfig(writeConfig(t, `service_name = "Bench"`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Identity.Name != "Bench" || cfg.Identity.UUID.String() != transport.DefaultServiceUUID {
		t.Fatalf("unexpected identity: %s", cfg.Identity)
	}
}

func TestLoadDaemonConfigRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	cases := map[string]struct {
		body string
		want error
	}{
		"transport":   {body: `transport = "udp"`, want: ErrInvalidConfig},
		"channel":     {body: `rfcomm_channel = 40`, want: ErrInvalidConfig},
		"reply":       {body: `auto_reply = true`, want: ErrInvalidConfig},
		"model":       {body: `classify = true`, want: ErrInvalidConfig},
		"qos":         {body: "[mqtt]\nqos = 3", want: ErrInvalidConfig},
		"identity":    {body: `service_uuid = "nope"`, want: transport.ErrInvalidIdentity},
		"tcp addr":    {body: "transport = \"tcp\"\nlisten_addr = \"\"", want: ErrInvalidConfig},
		"neg payload": {body: `max_payload_bytes = -1`, want: ErrInvalidConfig},
	}
	for name, tc := range cases {
		if _, err := loadDaemonConfig(writeConfig(t, tc.body)); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", name, tc.want, err)
		}
	}
}
