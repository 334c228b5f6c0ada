package session

import "github.com/danmuck/handsign/internal/protocol/frame"

// Config defines per-connection processing behavior.
type Config struct {
	Limits    frame.Limits
	Classify  bool
	AutoReply bool
}

// DefaultConfig matches the reference server: images are delivered to the
// observer, classification and reply are opt-in.
func DefaultConfig() Config {
	return Config{
		Limits:    frame.DefaultLimits(),
		Classify:  false,
		AutoReply: false,
	}
}

// WithDefaults fills zero-valued limits.
func (c Config) WithDefaults() Config {
	if c.Limits.ChunkSize <= 0 {
		c.Limits.ChunkSize = frame.DefaultChunkSize
	}
	if c.Limits.MaxPayloadBytes < 0 {
		c.Limits.MaxPayloadBytes = 0
	}
	return c
}
