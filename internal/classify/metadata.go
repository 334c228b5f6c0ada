package classify

import (
	"encoding/json"
	"fmt"
	"os"
)

// Metadata describes an exported model: tensor shapes and class order.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	InputName   string   `json:"input_name,omitempty"`
	OutputName  string   `json:"output_name,omitempty"`
}

func DefaultMetadata() Metadata {
	return Metadata{
		InputShape:  []int64{1, InputSize, InputSize, Channels},
		OutputShape: []int64{1, int64(len(labels))},
		Classes:     Labels(),
		ImageSize:   InputSize,
		InputName:   "input",
		OutputName:  "output",
	}
}

// LoadMetadata reads a metadata JSON file over the defaults. An empty path returns defaults.
func LoadMetadata(path string) (Metadata, error) {
	meta := DefaultMetadata()
	if path == "" {
		return meta, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("classify: read metadata: %w", err)
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("classify: parse metadata: %w", err)
	}
	if err := meta.Validate(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// Validate checks the model shapes against the fixed tensor layout.
func (m Metadata) Validate() error {
	if product(m.InputShape) != TensorLen {
		return fmt.Errorf("%w: input shape %v", ErrInputShape, m.InputShape)
	}
	if m.ImageSize != 0 && m.ImageSize != InputSize {
		return fmt.Errorf("%w: image size %d", ErrInputShape, m.ImageSize)
	}
	if len(m.Classes) == 0 || product(m.OutputShape) != int64(len(m.Classes)) {
		return fmt.Errorf("%w: output shape %v for %d classes", ErrOutputShape, m.OutputShape, len(m.Classes))
	}
	return nil
}

func product(dims []int64) int64 {
	if len(dims) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}
