package classify

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig locates the model, its metadata and the onnxruntime shared library.
type ONNXConfig struct {
	ModelPath    string
	MetadataPath string
	LibraryPath  string
}

// ONNXModel runs a fixed-shape session with pre-allocated tensors.
// Infer calls are serialized because the tensors are reused.
type ONNXModel struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	Metadata     Metadata
}

var _ Model = (*ONNXModel)(nil)

func NewONNXModel(cfg ONNXConfig) (*ONNXModel, error) {
	if strings.TrimSpace(cfg.ModelPath) == "" {
		return nil, fmt.Errorf("%w: empty model path", ErrNoModel)
	}
	meta, err := LoadMetadata(strings.TrimSpace(cfg.MetadataPath))
	if err != nil {
		return nil, err
	}
	if err := initializeEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("classify: create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		_ = inputTensor.Destroy()
		return nil, fmt.Errorf("classify: create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		_ = inputTensor.Destroy()
		_ = outputTensor.Destroy()
		return nil, fmt.Errorf("classify: create onnx session: %w", err)
	}

	log.Info().
		Str("model", cfg.ModelPath).
		Ints64("input_shape", meta.InputShape).
		Int("classes", len(meta.Classes)).
		Msg("classify: onnx model loaded")

	return &ONNXModel{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		Metadata:     meta,
	}, nil
}

func (m *ONNXModel) Infer(tensor []float32) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	in := m.inputTensor.GetData()
	if len(tensor) != len(in) {
		return nil, fmt.Errorf("%w: tensor len %d, model expects %d", ErrInputShape, len(tensor), len(in))
	}
	copy(in, tensor)
	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("classify: onnx run: %w", err)
	}
	out := m.outputTensor.GetData()
	return append([]float32(nil), out...), nil
}

// Labels returns the class order declared by the model metadata.
func (m *ONNXModel) Labels() []string {
	return append([]string(nil), m.Metadata.Classes...)
}

func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inputTensor != nil {
		_ = m.inputTensor.Destroy()
		m.inputTensor = nil
	}
	if m.outputTensor != nil {
		_ = m.outputTensor.Destroy()
		m.outputTensor = nil
	}
	if m.session != nil {
		_ = m.session.Destroy()
		m.session = nil
	}
	return ort.DestroyEnvironment()
}

func initializeEnvironment(libraryPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if p := strings.TrimSpace(libraryPath); p != "" {
		ort.SetSharedLibraryPath(p)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("classify: initialize onnx environment: %w", err)
	}
	return nil
}
