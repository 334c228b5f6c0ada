// Package diagnostics persists raw inbound payloads for offline inspection.
package diagnostics

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/danmuck/handsign/internal/protocol"
)

const (
	filePrefix = "image_"
	fileExt    = ".jpeg"
)

// Sink writes each payload to image_<unix millis>.jpeg under root.
type Sink struct {
	root string
	now  func() time.Time
}

// NewSink constructs a sink rooted at root. An empty root resolves to local/diagnostics.
func NewSink(root string) *Sink {
	resolved := strings.TrimSpace(root)
	if resolved == "" {
		resolved = filepath.Join("local", "diagnostics")
	}
	return &Sink{root: resolved, now: time.Now}
}

func (s *Sink) Root() string {
	return s.root
}

// Save writes payload as received and returns the file path.
func (s *Sink) Save(payload []byte) (string, error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", fmt.Errorf("diagnostics: %w: %w", protocol.ErrPersistFailure, err)
	}
	name := fmt.Sprintf("%s%d%s", filePrefix, s.now().UnixMilli(), fileExt)
	p := filepath.Join(s.root, name)
	if err := os.WriteFile(p, payload, 0o644); err != nil {
		return "", fmt.Errorf("diagnostics: %w: %w", protocol.ErrPersistFailure, err)
	}
	return p, nil
}

// List returns saved payload file names in write order.
func (s *Sink) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), filePrefix) && strings.HasSuffix(e.Name(), fileExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
