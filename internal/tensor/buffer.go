// Package tensor holds the tensor descriptors, byte buffers and numeric
// codecs shared by the harness and the engines it drives.
package tensor

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrEmptyShape  = errors.New("tensor: empty shape")
	ErrInvalidDim  = errors.New("tensor: invalid dimension")
	ErrTooLarge    = errors.New("tensor: tensor too large")
	ErrShortBuffer = errors.New("tensor: buffer too short")
)

// Spec describes one named tensor.
type Spec struct {
	Name     string
	Shape    []int64
	Encoding Encoding
	Layout   Layout
}

// ElementCount returns the product of the shape dimensions.
func ElementCount(shape []int64) (int, error) {
	if len(shape) == 0 {
		return 0, ErrEmptyShape
	}
	n := 1
	maxInt := int(^uint(0) >> 1)
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("%w %d", ErrInvalidDim, d)
		}
		if d == 0 {
			return 0, nil
		}
		if int64(n) > int64(maxInt)/d {
			return 0, ErrTooLarge
		}
		n *= int(d)
	}
	return n, nil
}

// Elements returns the element count of the spec's shape.
func (s Spec) Elements() (int, error) {
	n, err := ElementCount(s.Shape)
	if err != nil {
		return 0, fmt.Errorf("tensor %s: %w", s.Name, err)
	}
	return n, nil
}

// ByteSize returns the in-memory size of the tensor in its own encoding.
func (s Spec) ByteSize() (int, error) {
	n, err := s.Elements()
	if err != nil {
		return 0, err
	}
	return n * s.Encoding.Width(), nil
}

// Buffer is a contiguous byte region paired with the spec it holds.
type Buffer struct {
	Spec Spec
	Data []byte
}

// NewBuffer allocates a zeroed buffer sized for spec.
func NewBuffer(spec Spec) (*Buffer, error) {
	size, err := spec.ByteSize()
	if err != nil {
		return nil, err
	}
	spec.Shape = slices.Clone(spec.Shape)
	return &Buffer{Spec: spec, Data: make([]byte, size)}, nil
}

// Len returns the number of elements the buffer holds.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Data) / b.Spec.Encoding.Width()
}
