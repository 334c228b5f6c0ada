// Package render keeps the most recent canonical image and writes an
// annotated PNG snapshot for display.
package render

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"

	"github.com/danmuck/handsign/internal/protocol/frame"
	"github.com/danmuck/handsign/internal/protocol/session"
	"github.com/fogleman/gg"
	"github.com/rs/zerolog/log"
)

const bannerHeight = 18

var (
	bannerColor = color.NRGBA{R: 0, G: 0, B: 0, A: 180}
	borderColor = color.RGBA{R: 50, G: 205, B: 50, A: 255}
)

// Caption formats a classification the way it is drawn on the snapshot.
func Caption(label string, confidence float32) string {
	return fmt.Sprintf("%s  %s", label, frame.FormatConfidence(confidence))
}

// Annotate draws a caption banner and border over a copy of img.
func Annotate(img image.Image, caption string) image.Image {
	dc := gg.NewContextForImage(img)
	w := float64(dc.Width())
	h := float64(dc.Height())

	dc.SetColor(bannerColor)
	dc.DrawRectangle(0, 0, w, bannerHeight)
	dc.Fill()

	dc.SetColor(color.White)
	dc.DrawStringAnchored(caption, 4, bannerHeight/2, 0, 0.35)

	dc.SetStrokeStyle(gg.NewSolidPattern(borderColor))
	dc.SetLineWidth(2)
	dc.DrawRectangle(1, 1, w-2, h-2)
	dc.Stroke()
	return dc.Image()
}

// Snapshot is a session observer. An empty path keeps the snapshot in memory only.
type Snapshot struct {
	path string

	mu      sync.Mutex
	seq     uint64
	session uint64
	last    image.Image
	caption string
}

func NewSnapshot(path string) *Snapshot {
	return &Snapshot{path: path}
}

func (s *Snapshot) OnImageReceived(img session.Image) {
	if img.Canonical == nil {
		return
	}
	s.mu.Lock()
	s.session = img.SessionID
	s.seq = img.Seq
	s.last = img.Canonical
	s.caption = ""
	out := img.Canonical
	s.mu.Unlock()
	s.write(out)
}

// OnClassification annotates the image with the same session and sequence.
func (s *Snapshot) OnClassification(res session.Classification) {
	s.mu.Lock()
	if s.last == nil || s.session != res.SessionID || s.seq != res.Seq {
		s.mu.Unlock()
		log.Debug().Uint64("seq", res.Seq).Msg("render: classification for stale image ignored")
		return
	}
	s.caption = Caption(res.Label, res.Confidence)
	out := Annotate(s.last, s.caption)
	s.mu.Unlock()
	s.write(out)
}

// Last returns the latest image as displayed, annotated when classified.
func (s *Snapshot) Last() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil, false
	}
	if s.caption == "" {
		return s.last, true
	}
	return Annotate(s.last, s.caption), true
}

func (s *Snapshot) write(img image.Image) {
	if s.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("render: snapshot dir")
		return
	}
	tmp := s.path + ".tmp"
	if err := gg.SavePNG(tmp, img); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("render: snapshot write failed")
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("render: snapshot rename failed")
	}
}
