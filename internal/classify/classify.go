// Package classify reduces canonical images to a single label/confidence pair
// using a fixed-shape (1x64x64x3) inference model.
package classify

import (
	"errors"
	"fmt"
	"image"
	"math"
)

const (
	InputSize = 64
	Channels  = 3
	TensorLen = InputSize * InputSize * Channels
)

var labels = [...]string{
	"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L", "M",
	"N", "O", "P", "Q", "R", "S", "T", "U", "V", "W", "X", "Y", "Z",
	"del", "nothing", "space",
}

var (
	ErrInputShape  = errors.New("classify: input image must be 64x64")
	ErrOutputShape = errors.New("classify: model output does not match label vocabulary")
	ErrNoModel     = errors.New("classify: no model configured")
)

// Labels returns a copy of the closed 29-class vocabulary in model output order.
func Labels() []string {
	out := make([]string, len(labels))
	copy(out, labels[:])
	return out
}

// Model is the opaque inference function. Output length must equal the vocabulary size.
type Model interface {
	Infer(tensor []float32) ([]float32, error)
}

// ModelFunc adapts a plain function to Model.
type ModelFunc func(tensor []float32) ([]float32, error)

func (f ModelFunc) Infer(tensor []float32) ([]float32, error) {
	return f(tensor)
}

// Result is one classification outcome. Confidence is the raw model score.
type Result struct {
	Label      string  `json:"label" msgpack:"label"`
	Confidence float32 `json:"confidence" msgpack:"confidence"`
	Index      int     `json:"index" msgpack:"index"`
}

// Classifier is stateless apart from the model handle and safe for concurrent
// use when the model is.
type Classifier struct {
	model  Model
	labels []string
}

// New binds a model to a label vocabulary. Nil labels select the default vocabulary.
func New(model Model, vocab []string) (*Classifier, error) {
	if model == nil {
		return nil, ErrNoModel
	}
	if len(vocab) == 0 {
		vocab = Labels()
	}
	return &Classifier{model: model, labels: append([]string(nil), vocab...)}, nil
}

func (c *Classifier) Labels() []string {
	return append([]string(nil), c.labels...)
}

// Classify requires a 64x64 image; callers resize with imageproc.Fit first.
func (c *Classifier) Classify(img *image.NRGBA) (Result, error) {
	tensor, err := BuildTensor(img)
	if err != nil {
		return Result{}, err
	}
	scores, err := c.model.Infer(tensor)
	if err != nil {
		return Result{}, fmt.Errorf("classify: inference: %w", err)
	}
	if len(scores) != len(c.labels) {
		return Result{}, fmt.Errorf("%w: got %d scores for %d labels", ErrOutputShape, len(scores), len(c.labels))
	}
	idx, conf := Argmax(scores)
	return Result{Label: c.labels[idx], Confidence: conf, Index: idx}, nil
}

// BuildTensor flattens img row-major as R,G,B per pixel. Values are the raw
// 0..255 channel bytes widened to float32; alpha is dropped.
func BuildTensor(img *image.NRGBA) ([]float32, error) {
	if img == nil {
		return nil, ErrInputShape
	}
	b := img.Bounds()
	if b.Dx() != InputSize || b.Dy() != InputSize {
		return nil, fmt.Errorf("%w: got %dx%d", ErrInputShape, b.Dx(), b.Dy())
	}
	tensor := make([]float32, 0, TensorLen)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			off := img.PixOffset(x, y)
			px := img.Pix[off : off+4 : off+4]
			tensor = append(tensor, float32(px[0]), float32(px[1]), float32(px[2]))
		}
	}
	return tensor, nil
}

// Argmax returns the first index holding the maximum value. NaN never wins.
// An empty slice yields (-1, 0).
func Argmax(values []float32) (int, float32) {
	best := -1
	bestVal := float32(math.Inf(-1))
	for i, v := range values {
		if math.IsNaN(float64(v)) {
			continue
		}
		if best < 0 || v > bestVal {
			best = i
			bestVal = v
		}
	}
	if best < 0 {
		if len(values) == 0 {
			return -1, 0
		}
		return 0, values[0]
	}
	return best, bestVal
}
