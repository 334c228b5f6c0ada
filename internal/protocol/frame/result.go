package frame

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	resultPrefix    = "Result: "
	confidenceField = ", Confidence: "
)

var ErrMalformedResult = errors.New("frame: malformed result line")

type flusher interface {
	Flush() error
}

// FormatConfidence renders the shortest float32 decimal, never in exponent
// form. Integral values keep a ".0" suffix.
func FormatConfidence(confidence float32) string {
	s := strconv.FormatFloat(float64(confidence), 'f', -1, 32)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}

// EncodeResult builds one outbound result line including the trailing newline.
func EncodeResult(label string, confidence float32) []byte {
	line := make([]byte, 0, len(resultPrefix)+len(label)+len(confidenceField)+16)
	line = append(line, resultPrefix...)
	line = append(line, label...)
	line = append(line, confidenceField...)
	line = append(line, FormatConfidence(confidence)...)
	return append(line, '\n')
}

// WriteResult writes one result line and flushes w when it buffers.
func WriteResult(w io.Writer, label string, confidence float32) error {
	line := EncodeResult(label, confidence)
	n, err := w.Write(line)
	if err != nil {
		return err
	}
	if n != len(line) {
		return io.ErrShortWrite
	}
	return flush(w)
}

// ParseResult decodes one result line. The trailing newline is optional.
func ParseResult(line string) (string, float32, error) {
	line = strings.TrimRight(line, "\r\n")
	rest, ok := strings.CutPrefix(line, resultPrefix)
	if !ok {
		return "", 0, fmt.Errorf("%w: missing prefix in %q", ErrMalformedResult, line)
	}
	idx := strings.LastIndex(rest, confidenceField)
	if idx < 0 {
		return "", 0, fmt.Errorf("%w: missing confidence in %q", ErrMalformedResult, line)
	}
	label := rest[:idx]
	v, err := strconv.ParseFloat(rest[idx+len(confidenceField):], 32)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	return label, float32(v), nil
}

func flush(w io.Writer) error {
	if f, ok := w.(flusher); ok {
		return f.Flush()
	}
	return nil
}
