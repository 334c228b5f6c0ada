package imageproc

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/danmuck/handsign/internal/protocol"
	"github.com/danmuck/handsign/internal/testutil/testlog"
)

type recordingPersister struct {
	saved [][]byte
	err   error
}

func (p *recordingPersister) Save(payload []byte) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.saved = append(p.saved, append([]byte(nil), payload...))
	return "mem://payload", nil
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 4), B: uint8((x + y) % 256), A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeRotatesAndKeepsDimensions(t *testing.T) {
	testlog.Start(t)

	src := gradient(40, 20)
	payload := append(encodePNG(t, src), "END"...)

	p := &recordingPersister{}
	out, err := NewDecoder(p).Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Format != "png" {
		t.Fatalf("unexpected format: %q", out.Format)
	}
	b := out.Image.Bounds()
	if b.Dx() != 40 || b.Dy() != 20 {
		t.Fatalf("unexpected bounds: %v", b)
	}
	if got, want := out.Image.NRGBAAt(0, 0), src.NRGBAAt(39, 19); got != want {
		t.Fatalf("expected rotated corner got=%v want=%v", got, want)
	}
	if got, want := out.Image.NRGBAAt(39, 0), src.NRGBAAt(0, 19); got != want {
		t.Fatalf("expected rotated corner got=%v want=%v", got, want)
	}
	if len(p.saved) != 1 || !bytes.Equal(p.saved[0], payload) {
		t.Fatalf("expected raw payload persisted with marker")
	}
	if out.DiagnosticsPath != "mem://payload" {
		t.Fatalf("unexpected diagnostics path: %q", out.DiagnosticsPath)
	}
}

func TestDecodeJPEGWithTrailingMarker(t *testing.T) {
	testlog.Start(t)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gradient(16, 16), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	buf.WriteString("END")
	out, err := NewDecoder(nil).Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Format != "jpeg" || out.Image.Bounds().Dx() != 16 {
		t.Fatalf("unexpected decode: format=%q bounds=%v", out.Format, out.Image.Bounds())
	}
}

func TestDecodeMalformedPayload(t *testing.T) {
	testlog.Start(t)

	junk := make([]byte, 256)
	rand.New(rand.NewSource(7)).Read(junk)
	junk[0] = 'x'
	_, err := NewDecoder(nil).Decode(append(junk, "END"...))
	if !errors.Is(err, protocol.ErrDecodeFailure) {
		t.Fatalf("expected ErrDecodeFailure, got %v", err)
	}
}

func TestDecodePersistFailureIsNotFatal(t *testing.T) {
	testlog.Start(t)

	p := &recordingPersister{err: protocol.ErrPersistFailure}
	out, err := NewDecoder(p).Decode(encodePNG(t, gradient(8, 8)))
	if err != nil {
		t.Fatalf("decode should survive persist failure: %v", err)
	}
	if out.DiagnosticsPath != "" {
		t.Fatalf("expected empty diagnostics path, got %q", out.DiagnosticsPath)
	}
}

func TestRotate180RoundTrip(t *testing.T) {
	src := gradient(64, 64)
	back := Rotate180(Rotate180(src))
	if !bytes.Equal(back.Pix, src.Pix) {
		t.Fatalf("double rotation did not restore pixel order")
	}
	if bytes.Equal(Rotate180(src).Pix, src.Pix) {
		t.Fatalf("single rotation should change pixel order")
	}
}

func TestFitProducesModelSize(t *testing.T) {
	out := Fit(gradient(200, 120), 64)
	if b := out.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Fatalf("unexpected fit bounds: %v", b)
	}

	src := gradient(64, 64)
	same := Fit(src, 64)
	if !bytes.Equal(same.Pix, src.Pix) {
		t.Fatalf("fit at model size should copy pixels unchanged")
	}
}
