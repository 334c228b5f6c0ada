package imageproc

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/danmuck/handsign/internal/protocol"
	"github.com/danmuck/handsign/internal/protocol/frame"
	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp"
)

// Persister is the diagnostics side channel for raw payloads.
type Persister interface {
	Save(payload []byte) (string, error)
}

// Decoded is one canonical image plus decode bookkeeping.
type Decoded struct {
	Image           *image.NRGBA
	Format          string
	PayloadBytes    int
	DiagnosticsPath string
	DecodedAt       time.Time
}

// Decoder converts payloads into canonical images. It holds no per-payload state.
type Decoder struct {
	persist Persister
}

// NewDecoder constructs a decoder. A nil persister disables diagnostics.
func NewDecoder(persist Persister) *Decoder {
	return &Decoder{persist: persist}
}

func (d *Decoder) Decode(payload []byte) (Decoded, error) {
	out := Decoded{PayloadBytes: len(payload)}
	if d.persist != nil {
		p, err := d.persist.Save(payload)
		if err != nil {
			log.Warn().Err(err).Int("bytes", len(payload)).Msg("imageproc: diagnostics save failed")
		} else {
			out.DiagnosticsPath = p
			log.Debug().Str("path", p).Int("bytes", len(payload)).Msg("imageproc: payload saved")
		}
	}

	img, format, err := image.Decode(bytes.NewReader(frame.StripTerminator(payload)))
	if err != nil {
		return Decoded{}, fmt.Errorf("imageproc: %w: %w", protocol.ErrDecodeFailure, err)
	}
	out.Image = Normalize(img)
	out.Format = format
	out.DecodedAt = time.Now()
	return out, nil
}

// Normalize copies img into NRGBA and rotates it 180 degrees.
func Normalize(img image.Image) *image.NRGBA {
	return Rotate180(imaging.Clone(img))
}

// Rotate180 returns a new image; the input is not modified.
func Rotate180(img image.Image) *image.NRGBA {
	return imaging.Rotate180(img)
}
